package report

import (
	"time"

	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// JobCounts sums the job state transitions observed in a bucket.
type JobCounts struct {
	Submitted float64 `json:"submitted"`
	Completed float64 `json:"completed"`
	Failed    float64 `json:"failed"`
}

// ActivityPoint is one plotted sample of cluster-wide usage.
type ActivityPoint struct {
	Timestamp int64     `json:"timestamp"`
	Cores     float64   `json:"cores"`
	Memory    float64   `json:"memory"`
	Jobs      JobCounts `json:"jobs"`
}

// UsagePoint is a sample without job counts, used by the per-user and
// per-team activity series.
type UsagePoint struct {
	Timestamp int64   `json:"timestamp"`
	Cores     float64 `json:"cores"`
	Memory    float64 `json:"memory"`
}

// EventSet carries the surviving usage-step annotations per metric.
type EventSet struct {
	Cores  []Event `json:"cores"`
	Memory []Event `json:"memory"`
}

// ActivityResult is the payload of the overall activity query.
type ActivityResult struct {
	Activity []ActivityPoint `json:"activity"`
	Events   EventSet        `json:"events"`
	CO2e     float64         `json:"co2e"`
	Cost     float64         `json:"cost"`
	CPUTime  float64         `json:"cputime"`
}

// ActivityRollup folds buckets into the cluster-wide activity series
// and its range totals. With a detector attached it also feeds every
// bucket through event detection; a nil detector disables events and
// leaves the annotation lists empty.
type ActivityRollup struct {
	points      []ActivityPoint
	co2e        float64
	cost        float64
	cpuTime     float64
	detector    *EventDetector
	minInterval time.Duration
}

func NewActivityRollup(detector *EventDetector, minInterval time.Duration) *ActivityRollup {
	return &ActivityRollup{
		points:      []ActivityPoint{},
		detector:    detector,
		minInterval: minInterval,
	}
}

// Add folds one bucket into the series and totals.
func (r *ActivityRollup) Add(b snapshot.Bucket) {
	point := ActivityPoint{Timestamp: b.TimestampMs}
	userCores := make(map[string]float64, len(b.Users))
	userMemory := make(map[string]float64, len(b.Users))

	for login, m := range b.Users {
		userCores[login] = m.Cores
		userMemory[login] = m.Memory

		point.Cores += m.Cores
		point.Memory += m.Memory
		point.Jobs.Submitted += m.Submitted
		point.Jobs.Completed += m.Done
		point.Jobs.Failed += m.Failed

		r.co2e += m.CO2e
		r.cost += m.Cost
		r.cpuTime += m.CPUTime
	}

	r.points = append(r.points, point)

	if r.detector != nil {
		r.detector.Observe(b.TimestampMs, userCores, userMemory)
	}
}

// Result finalizes the rollup. Event lists are always present, empty
// when detection is off, so the response shape never changes.
func (r *ActivityRollup) Result() ActivityResult {
	events := EventSet{Cores: []Event{}, Memory: []Event{}}
	if r.detector != nil {
		events.Cores, events.Memory = r.detector.Events(r.minInterval)
	}
	return ActivityResult{
		Activity: r.points,
		Events:   events,
		CO2e:     r.co2e,
		Cost:     r.cost,
		CPUTime:  r.cpuTime,
	}
}
