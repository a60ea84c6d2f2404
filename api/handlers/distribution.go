package handlers

import (
	"net/http"

	"github.com/greenboard/hpcboard/pkg/report"
)

// distribution resolves the interval, folds the cluster histograms
// and writes whichever projection the endpoint selects.
func (a *API) distribution(w http.ResponseWriter, r *http.Request, project func(*report.DistributionRollup) any) {
	iv, days, ok := a.resolveInterval(w, r)
	if !ok {
		return
	}
	iv.Start = report.FloorHour(iv.Start)
	iv.Stop = report.FloorHour(iv.Stop)

	rollup := report.NewDistributionRollup()
	if err := a.collect(r, iv, rollup.Add); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeData(w, project(rollup), newRangeMeta(days, iv))
}

// GetCPUDistribution serves the CPU efficiency histogram.
func (a *API) GetCPUDistribution(w http.ResponseWriter, r *http.Request) {
	a.distribution(w, r, func(d *report.DistributionRollup) any { return d.CPU() })
}

// GetMemoryDistribution serves the memory efficiency histogram with
// the wasted footprint.
func (a *API) GetMemoryDistribution(w http.ResponseWriter, r *http.Request) {
	a.distribution(w, r, func(d *report.DistributionRollup) any { return d.Memory() })
}

// GetRuntimeDistribution serves the labeled job runtime histogram.
func (a *API) GetRuntimeDistribution(w http.ResponseWriter, r *http.Request) {
	a.distribution(w, r, func(d *report.DistributionRollup) any { return d.Runtimes() })
}

// GetJobStatuses serves finished job counts by outcome and the
// footprint wasted on failures.
func (a *API) GetJobStatuses(w http.ResponseWriter, r *http.Request) {
	a.distribution(w, r, func(d *report.DistributionRollup) any { return d.Statuses() })
}
