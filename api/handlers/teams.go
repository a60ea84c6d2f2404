package handlers

import (
	"net/http"
	"time"

	"github.com/greenboard/hpcboard/api/metrics"
	"github.com/greenboard/hpcboard/pkg/report"
)

// GetTeamsFootprint serves the daily CO2e per team plus range totals.
// Days are calendar days, so the start marker floors to midnight.
func (a *API) GetTeamsFootprint(w http.ResponseWriter, r *http.Request) {
	iv, days, ok := a.resolveInterval(w, r)
	if !ok {
		return
	}
	iv.Start = report.FloorDay(iv.Start)
	iv.Stop = report.FloorHour(iv.Stop)

	start := time.Now()
	users, err := a.store.Users(r.Context())
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	rollup := report.NewTeamDailyRollup(users)
	if err := a.collect(r, iv, rollup.Add); err != nil {
		a.writeStoreError(w, err)
		return
	}

	a.writeData(w, rollup.Result(), newRangeMeta(days, iv))
}
