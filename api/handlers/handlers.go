// Package handlers implements the HTTP surface of the usage and
// carbon footprint API. Every report endpoint resolves a time
// interval, streams the matching snapshot buckets through one or more
// rollups and writes a {"data","meta"} envelope.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/greenboard/hpcboard/api/config"
	"github.com/greenboard/hpcboard/api/metrics"
	"github.com/greenboard/hpcboard/pkg/notify"
	"github.com/greenboard/hpcboard/pkg/report"
	"github.com/greenboard/hpcboard/pkg/snapshot"
)

// Mailer sends the signup UUID reminder.
type Mailer interface {
	SendUUIDReminder(login, recipient, toEmail, uuid string) error
}

// API holds the dependencies of the HTTP handlers. All of them are
// injected; handlers keep no package-level state.
type API struct {
	log    *slog.Logger
	cfg    config.Config
	store  *snapshot.Store
	clock  clockwork.Clock
	mailer Mailer
	slack  *notify.SlackNotifier
}

type APIConfig struct {
	Logger *slog.Logger
	Config config.Config
	Store  *snapshot.Store

	// Clock drives the snapshot staleness check; nil means wall clock.
	Clock clockwork.Clock

	// Mailer and Slack are optional; signup mail returns an error to
	// the client when no mailer is configured.
	Mailer Mailer
	Slack  *notify.SlackNotifier
}

func (cfg *APIConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

func New(cfg APIConfig) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &API{
		log:    cfg.Logger,
		cfg:    cfg.Config,
		store:  cfg.Store,
		clock:  clock,
		mailer: cfg.Mailer,
		slack:  cfg.Slack,
	}, nil
}

// Routes returns the API router. Team names may contain slashes, so
// the team activity route captures the rest of the path.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", a.Root)
	r.Get("/activity/", a.GetActivity)
	r.Get("/footprint/teams/", a.GetTeamsFootprint)
	r.Get("/distribution/cpu/", a.GetCPUDistribution)
	r.Get("/distribution/memory/", a.GetMemoryDistribution)
	r.Get("/distribution/runtime/", a.GetRuntimeDistribution)
	r.Get("/statuses/", a.GetJobStatuses)

	r.Post("/user/", a.SignUp)
	r.Get("/user/{uuid}/", a.SignIn)
	r.Get("/user/{uuid}/footprint/", a.GetUserFootprint)
	r.Get("/user/{uuid}/report/{month}/", a.GetUserReport)
	r.Get("/user/{uuid}/team/*", a.GetTeamActivity)

	return r
}

// resolveInterval resolves the start/stop/days query parameters into
// a concrete interval, writing the error response itself on failure.
func (a *API) resolveInterval(w http.ResponseWriter, r *http.Request) (report.Interval, int, bool) {
	days := a.cfg.Days
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			a.writeError(w, http.StatusBadRequest, "Bad Request",
				"'days' query parameter must be a positive integer")
			return report.Interval{}, 0, false
		}
		days = v
	}

	start := time.Now()
	iv, err := report.Resolve(r.Context(),
		a.store, r.URL.Query().Get("start"), r.URL.Query().Get("stop"), days)
	metrics.RecordStoreQuery(time.Since(start), err)
	if err != nil {
		var timeErr *report.InvalidTimeError
		if errors.As(err, &timeErr) {
			a.writeError(w, http.StatusBadRequest, "Bad Request", timeErr.Error())
		} else {
			a.log.Error("handlers: failed to resolve interval", "error", err)
			a.writeError(w, http.StatusInternalServerError, "Internal Server Error",
				"Could not determine the report interval")
		}
		return report.Interval{}, 0, false
	}
	return iv, days, true
}

// collect streams the buckets of iv through the given rollups.
func (a *API) collect(r *http.Request, iv report.Interval, add ...func(snapshot.Bucket)) error {
	start := time.Now()
	stream, err := a.store.StreamBuckets(r.Context(), iv.Start, iv.Stop)
	if err != nil {
		metrics.RecordStoreQuery(time.Since(start), err)
		return err
	}
	defer stream.Close()

	for stream.Next() {
		b := stream.Bucket()
		for _, fn := range add {
			fn(b)
		}
	}
	err = stream.Err()
	metrics.RecordStoreQuery(time.Since(start), err)
	return err
}

// detector returns a configured event detector, or nil when event
// detection is disabled.
func (a *API) detector() *report.EventDetector {
	if !a.cfg.EventsEnable {
		return nil
	}
	return report.NewEventDetector(a.cfg.EventWindow, a.cfg.EventMinGrowth)
}
