// Command heimdall-server runs the control-plane: the REST+WebSocket API,
// the five background schedulers, and the SQLite-backed policy store.
// Startup parses flags, loads config, constructs the dependency graph by
// hand, starts an HTTP server in a goroutine, and waits on a signal
// channel for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"heimdall/internal/api"
	"heimdall/internal/api/middleware"
	"heimdall/internal/config"
	"heimdall/internal/holiday"
	"heimdall/internal/logging"
	"heimdall/internal/metrics"
	"heimdall/internal/policy"
	"heimdall/internal/push"
	"heimdall/internal/questengine"
	"heimdall/internal/scheduler"
	"heimdall/internal/storage/sqlite"
	"heimdall/internal/tan"
	"heimdall/internal/wsregistry"
)

const (
	shutdownTimeout    = 10 * time.Second
	defaultConfigPath  = "heimdall.json"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	useEnv := flag.Bool("env", false, "load configuration from environment variables")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("initializing storage", "path", cfg.Database.Path)
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	metricsReg := prometheus.NewRegistry()
	m := metrics.New(metricsReg)

	resolver := policy.NewResolver(store, nil)
	registry := wsregistry.New()
	pushOrch := push.New(store, resolver, registry, logger)
	tanEngine := tan.NewEngine(store, nil)
	questEngine := questengine.New(store, tanEngine, nil)
	tokenIssuer := middleware.NewTokenIssuer([]byte(cfg.Security.JWTSecret), cfg.AccessTTL())
	holidayProvider := holiday.NewHTTPProvider(cfg.Holiday.ProviderBaseURL)

	sched := scheduler.New(logger)
	jobs := []scheduler.Job{
		scheduler.QuestSchedulerJob(store, questEngine),
		scheduler.UsageRewardSchedulerJob(store, tanEngine),
		scheduler.TanSchedulerJob(store, tanEngine),
		scheduler.HolidaySyncJob(store, holidayProvider),
		scheduler.RetentionSweepJob(store),
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
	}

	// Holiday sync fires once at startup then yearly; the cron spec alone
	// only covers the yearly half.
	for _, job := range jobs {
		if job.Name == "holiday_sync" {
			go func(j scheduler.Job) {
				if err := j.Run(context.Background()); err != nil {
					logger.Error("startup holiday sync failed", "error", err)
				}
			}(job)
		}
	}
	sched.Start()
	defer sched.Stop()

	router := api.NewRouter(api.RouterConfig{
		Storage:     store,
		Resolver:    resolver,
		Registry:    registry,
		TokenIssuer: tokenIssuer,
		Tans:        tanEngine,
		Quests:      questEngine,
		Push:        pushOrch,
		Logger:      logger,
		Metrics:     m,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Info("heimdall-server stopped")
	return nil
}
