package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Readyz probes database connectivity and snapshot freshness. The
// service is not ready when the newest bucket is older than the
// configured staleness threshold.
func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database connection failed: " + err.Error()))
		return
	}
	updated, err := a.store.LastUpdate(ctx)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("last update unavailable: " + err.Error()))
		return
	}
	if age := a.clock.Since(updated); age > a.cfg.StaleAfter {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(fmt.Sprintf("snapshots stale: last update %s ago", age.Truncate(time.Minute))))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
