package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/greenboard/hpcboard/api/config"
	"github.com/greenboard/hpcboard/api/handlers"
	"github.com/greenboard/hpcboard/api/metrics"
	"github.com/greenboard/hpcboard/pkg/logger"
	"github.com/greenboard/hpcboard/pkg/notify"
	"github.com/greenboard/hpcboard/pkg/snapshot"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// shuttingDown flips when the shutdown signal arrives so the
	// readiness probe fails before the listener closes.
	shuttingDown atomic.Bool
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		verbose          = pflag.BoolP("verbose", "v", false, "Enable verbose logging")
		listenAddr       = pflag.String("listen-addr", "0.0.0.0:8000", "Address to listen on")
		metricsAddr      = pflag.String("metrics-addr", "0.0.0.0:0", "Address to listen on for prometheus metrics")
		migrationsEnable = pflag.Bool("migrations-enable", true, "Run schema migrations on startup")
	)
	pflag.Parse()

	// godotenv doesn't override existing env vars.
	_ = godotenv.Load()
	_ = godotenv.Load("api/.env")

	log := logger.New(*verbose)
	log.Info("starting hpcboard-api", "version", version, "commit", commit, "date", date)

	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         sentryDSN,
			Environment: sentryEnv,
			Release:     release,
		}); err != nil {
			log.Warn("sentry initialization failed", "error", err)
		} else {
			log.Info("sentry initialized", "env", sentryEnv, "release", release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := snapshot.NewStore(snapshot.StoreConfig{
		Logger: log,
		Path:   cfg.Database,
	})
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer store.Close()

	if *migrationsEnable {
		if err := snapshot.RunMigrations(ctx, log, store.DB()); err != nil {
			return err
		}
	}

	var mailer handlers.Mailer
	if cfg.MailEnabled() {
		m, err := notify.NewMailer(notify.MailerConfig{
			Logger:         log,
			Host:           cfg.SMTPHost,
			Port:           cfg.SMTPPort,
			From:           cfg.AdminEmail(),
			Password:       cfg.AdminPassword,
			NotifyOnSignup: cfg.NotifyOnSignup,
		})
		if err != nil {
			return fmt.Errorf("failed to configure mailer: %w", err)
		}
		mailer = m
	} else {
		log.Warn("mail not configured, signup requests will fail")
	}

	var slackNotifier *notify.SlackNotifier
	if cfg.SlackEnabled() {
		slackNotifier, err = notify.NewSlackNotifier(notify.SlackNotifierConfig{
			Logger:   log,
			BotToken: cfg.SlackBotToken,
			Channel:  cfg.SlackChannel,
		})
		if err != nil {
			return fmt.Errorf("failed to configure slack notifier: %w", err)
		}
	}

	api, err := handlers.New(handlers.APIConfig{
		Logger: log,
		Config: cfg,
		Store:  store,
		Clock:  clockwork.NewRealClock(),
		Mailer: mailer,
		Slack:  slackNotifier,
	})
	if err != nil {
		return fmt.Errorf("failed to build api: %w", err)
	}

	// Metrics listener, separate from the API listener.
	var metricsServer *http.Server
	if *metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			log.Warn("failed to start metrics listener", "error", err)
		} else {
			log.Info("metrics listening", "addr", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			go func() {
				if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	if sentryDSN != "" {
		// Repanic so Recoverer still handles the panic after capture.
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shutting down"))
			return
		}
		api.Readyz(w, r)
	})

	r.Mount("/", api.Routes())

	server := &http.Server{
		Addr:              *listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", "addr", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		log.Info("shutting down")
		shuttingDown.Store(true)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error("metrics server shutdown failed", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
