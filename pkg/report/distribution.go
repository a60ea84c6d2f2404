package report

import (
	"encoding/json"

	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// runtimeLabels are the display names of the job runtime buckets, in
// bucket order. The frontend renders them as-is, HTML entities
// included.
var runtimeLabels = [11]string{
	"&le; 1 min",
	"1 - 10 min",
	"10 min - 1 h",
	"1 - 3 h",
	"3 - 6 h",
	"6 - 12 h",
	"12 h - 1 d",
	"1 - 2 d",
	"2 - 3 d",
	"3 - 7 d",
	"&gt; 7 d",
}

// RuntimeBucket is one labeled runtime histogram bar, serialized as a
// two-element [label, count] array.
type RuntimeBucket struct {
	Label string
	Count int64
}

func (b RuntimeBucket) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{b.Label, b.Count})
}

// Wasted is the footprint lost to inefficiency or failure.
type Wasted struct {
	CO2e float64 `json:"co2e"`
	Cost float64 `json:"cost"`
}

// CPUDist is the payload of the CPU efficiency distribution query.
type CPUDist struct {
	Dist [100]int64 `json:"dist"`
}

// MemoryDist is the payload of the memory efficiency distribution
// query, with the footprint wasted by over-requested memory.
type MemoryDist struct {
	Dist   [100]int64 `json:"dist"`
	Wasted Wasted     `json:"wasted"`
}

// RuntimeDist is the payload of the runtime distribution query.
type RuntimeDist struct {
	Dist []RuntimeBucket `json:"dist"`
}

// StatusJobs counts finished jobs by outcome.
type StatusJobs struct {
	Done int64 `json:"done"`
	Exit int64 `json:"exit"`
}

// StatusesResult is the payload of the job statuses query.
type StatusesResult struct {
	Jobs   StatusJobs `json:"jobs"`
	Wasted Wasted     `json:"wasted"`
}

// DistributionRollup sums the cluster-wide histograms and outcome
// counters over a range. One rollup serves all four distribution
// queries; each Result method projects the slice that query needs.
type DistributionRollup struct {
	cpu      [100]int64
	mem      [100]int64
	memCO2e  float64
	memCost  float64
	runtimes [11]int64
	done     int64
	failed   snapshot.FailedJobs
}

func NewDistributionRollup() *DistributionRollup {
	return &DistributionRollup{}
}

// Add folds one bucket's cluster-wide counters.
func (r *DistributionRollup) Add(b snapshot.Bucket) {
	for i, v := range b.Cluster.CPUEff {
		r.cpu[i] += v
	}
	for i, v := range b.Cluster.MemEff.Dist {
		r.mem[i] += v
	}
	r.memCO2e += b.Cluster.MemEff.WastedCO2e
	r.memCost += b.Cluster.MemEff.WastedCost
	for i, v := range b.Cluster.Runtimes {
		r.runtimes[i] += v
	}
	r.done += b.Cluster.Done
	r.failed.Count += b.Cluster.Failed.Count
	r.failed.CO2e += b.Cluster.Failed.CO2e
	r.failed.Cost += b.Cluster.Failed.Cost
	r.failed.MemLimit += b.Cluster.Failed.MemLimit
	r.failed.OverAnHour += b.Cluster.Failed.OverAnHour
}

func (r *DistributionRollup) CPU() CPUDist {
	return CPUDist{Dist: r.cpu}
}

func (r *DistributionRollup) Memory() MemoryDist {
	return MemoryDist{
		Dist:   r.mem,
		Wasted: Wasted{CO2e: r.memCO2e, Cost: r.memCost},
	}
}

func (r *DistributionRollup) Runtimes() RuntimeDist {
	dist := make([]RuntimeBucket, len(runtimeLabels))
	for i, label := range runtimeLabels {
		dist[i] = RuntimeBucket{Label: label, Count: r.runtimes[i]}
	}
	return RuntimeDist{Dist: dist}
}

func (r *DistributionRollup) Statuses() StatusesResult {
	return StatusesResult{
		Jobs:   StatusJobs{Done: r.done, Exit: r.failed.Count},
		Wasted: Wasted{CO2e: r.failed.CO2e, Cost: r.failed.Cost},
	}
}
