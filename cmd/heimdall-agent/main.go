// Command heimdall-agent runs the device-side enforcement process:
// foreground-app monitoring, app blocking, the REST/WebSocket
// communication clients, the offline cache, and the orchestrator that
// ties them together. Flags override the on-disk config, logging is set
// up first, then components are constructed and the orchestrator runs
// until a signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"heimdall/internal/agent/blocker"
	"heimdall/internal/agent/comm"
	"heimdall/internal/agent/monitor"
	"heimdall/internal/agent/offlinecache"
	"heimdall/internal/agent/orchestrator"
	"heimdall/internal/agentconfig"
	"heimdall/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "heimdall-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := flag.String("url", "", "server base URL, overrides the stored config")
	deviceToken := flag.String("token", "", "device token, overrides the stored config")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json or text")
	flag.Parse()

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: *logFormat,
		Level:  logging.ParseLevel(*logLevel),
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	cfgPath, err := agentconfig.Path()
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := agentconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load agent config: %w", err)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *deviceToken != "" {
		cfg.DeviceToken = *deviceToken
	}
	if err := agentconfig.Save(cfgPath, cfg); err != nil {
		logger.Warn("failed to persist agent config", "error", err)
	}

	if !cfg.IsRegistered() {
		return fmt.Errorf("agent is not registered: no device token configured at %s", cfgPath)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid agent configuration: %w", err)
	}

	cacheDir, err := agentconfig.Dir()
	if err != nil {
		return fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	cache, err := offlinecache.Open(filepath.Join(cacheDir, "offline-cache.db"))
	if err != nil {
		return fmt.Errorf("failed to open offline cache: %w", err)
	}
	defer cache.Close()

	restClient := comm.NewRESTClient(cfg.ServerURL, cfg.APIPrefix, cfg.DeviceToken)
	blk := blocker.New(func(executable, groupID string) {
		logger.Info("application blocked", "executable", executable, "app_group_id", groupID)
	}, logger)

	plat := monitor.NewPlatform()
	mon := monitor.New(plat, cfg.MonitorInterval.Duration(), cfg.GroupForExecutable, nil, logger)

	wsClient, err := comm.NewWSClient(cfg.ServerURL, cfg.DeviceToken, cfg.HeartbeatInterval.Duration(), nil, logger)
	if err != nil {
		return fmt.Errorf("failed to build websocket client: %w", err)
	}

	orch := orchestrator.New(cfg, mon, blk, restClient, wsClient, cache, logger)
	mon.SetOnAppChange(orch.OnAppChange)
	wsClient.SetOnMessage(orch.OnWSMessage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- orch.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			return fmt.Errorf("orchestrator stopped: %w", err)
		}
	}

	logger.Info("heimdall-agent stopped")
	return nil
}
