// Package metrics exposes the prometheus instruments of the API
// server. Collectors are registered at init via promauto and served by
// the separate metrics listener in main.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildInfo is set once at startup from the LDFLAGS build metadata.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hpcboard_build_info",
		Help: "Build metadata of the running binary",
	}, []string{"version", "commit", "date"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hpcboard_http_request_duration_seconds",
		Help:    "HTTP request duration by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	storeQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hpcboard_store_query_duration_seconds",
		Help:    "Snapshot store query duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)

// Middleware records request durations labeled by the chi route
// pattern, so parameterized paths collapse into one series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// RecordStoreQuery observes one snapshot store query.
func RecordStoreQuery(duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeQueryDuration.WithLabelValues(status).Observe(duration.Seconds())
}
