package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dedimark/source-query-proxy/internal/config"
	"github.com/dedimark/source-query-proxy/internal/metrics"
	"github.com/dedimark/source-query-proxy/internal/proxy"
	"github.com/dedimark/source-query-proxy/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "source-query-proxy"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Network.BindAddr()),
		slog.String("server_address", cfg.Network.ServerAddr()),
		slog.Duration("connection_lifetime", cfg.Query.GetConnectionLifetime()),
		slog.Duration("info_cache_lifetime", cfg.Query.GetInfoCacheLifetime()),
		slog.Duration("players_cache_lifetime", cfg.Query.GetPlayersCacheLifetime()),
		slog.Duration("rules_cache_lifetime", cfg.Query.GetRulesCacheLifetime()),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	p := proxy.New(cfg, logger, appMetrics)
	logger.Info("Query proxy initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, p)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- p.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("listen_address", cfg.Network.BindAddr()),
	)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Proxy stopped with error", slog.String("error", err.Error()))
			exitCode = 1
		}
	case err := <-runErr:
		// Any unrecovered error from a proxy unit is fatal to the service.
		logger.Error("Proxy terminated", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	stats := p.Statistics()
	logger.Info("Final listener statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("responses_sent", stats.ResponsesSent),
		slog.Uint64("decode_errors", stats.DecodeErrors),
		slog.Uint64("requests_dropped", stats.RequestsDropped),
	)

	logger.Info("Service stopped")
	os.Exit(exitCode)
}

// initLogger creates the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
