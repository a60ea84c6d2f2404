package handlers

import (
	"net/http"

	"github.com/greenboard/hpcboard/pkg/report"
)

// GetActivity serves the cluster-wide activity series with range
// totals and, when enabled, usage step annotations.
func (a *API) GetActivity(w http.ResponseWriter, r *http.Request) {
	iv, days, ok := a.resolveInterval(w, r)
	if !ok {
		return
	}
	iv.Start = report.FloorHour(iv.Start)
	iv.Stop = report.FloorHour(iv.Stop)

	rollup := report.NewActivityRollup(a.detector(), a.cfg.EventMinInterval)
	if err := a.collect(r, iv, rollup.Add); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeData(w, rollup.Result(), newRangeMeta(days, iv))
}
