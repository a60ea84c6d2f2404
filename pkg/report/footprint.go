package report

import (
	"math"

	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// FootprintResult is the payload of the per-user footprint query.
type FootprintResult struct {
	Jobs     float64      `json:"jobs"`
	Done     float64      `json:"done"`
	Exit     float64      `json:"exit"`
	CO2e     float64      `json:"co2e"`
	Cost     float64      `json:"cost"`
	Activity []UsagePoint `json:"activity"`
	Memory   [5]float64   `json:"memory"`
}

// UserFootprintRollup builds one user's usage series and range totals.
// Buckets where the user ran nothing still contribute a zero point, so
// the series stays aligned with the overall activity plot.
type UserFootprintRollup struct {
	login  string
	result FootprintResult
}

func NewUserFootprintRollup(login string) *UserFootprintRollup {
	return &UserFootprintRollup{
		login:  login,
		result: FootprintResult{Activity: []UsagePoint{}},
	}
}

// Add folds one bucket.
func (r *UserFootprintRollup) Add(b snapshot.Bucket) {
	point := UsagePoint{Timestamp: b.TimestampMs}
	if m, ok := b.Users[r.login]; ok {
		point.Cores = m.Cores
		point.Memory = m.Memory

		r.result.Jobs += m.Jobs
		r.result.Done += m.Done
		r.result.Exit += m.Failed
		r.result.CO2e += m.CO2e
		r.result.Cost += m.Cost
		for i, v := range m.MemEff {
			r.result.Memory[i] += v
		}
	}
	r.result.Activity = append(r.result.Activity, point)
}

// Result returns the payload. The jobs total is a gauge sampled every
// bucket, so it is rounded to the nearest whole job for display.
func (r *UserFootprintRollup) Result() FootprintResult {
	out := r.result
	out.Jobs = math.Round(out.Jobs)
	return out
}
