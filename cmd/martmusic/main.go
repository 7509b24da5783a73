package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"martmusic/internal/cache"
	"martmusic/internal/client"
	"martmusic/internal/config"
	"martmusic/internal/library"
	"martmusic/internal/logger"
	"martmusic/internal/models"
	"martmusic/internal/observability"
	"martmusic/internal/ratelimit"
	"martmusic/internal/storage"
	"martmusic/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Path to a dotenv file loaded before the environment is read")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	ver := version.GetInfo()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Println(ver.String())
			return 0
		case "init-config":
			if len(args) != 2 {
				flag.Usage()
				return 2
			}
			if err := config.SaveExample(args[1]); err != nil {
				slog.Error("Failed to write example configuration", "error", err)
				return 1
			}
			fmt.Printf("Example configuration written to %s\n", args[1])
			return 0
		}
	}

	// An explicitly named env file must exist
	envRequired := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "env-file" {
			envRequired = true
		}
	})
	if err := config.LoadEnvFile(*envFile, envRequired); err != nil {
		slog.Error("Failed to load env file", "error", err)
		return 1
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the download catalog
	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		return 1
	}
	defer store.Close()

	// Wrap storage with instrumentation if metrics are enabled
	activeStorage := store
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(store)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			return 1
		}
		activeStorage = instrumented
	}

	searchCache, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("Failed to initialize search cache", "error", err)
		return 1
	}
	if searchCache != nil {
		defer searchCache.Close()
	}

	musicClient, err := newClient(cfg, ver, searchCache)
	if err != nil {
		slog.Error("Failed to create music client", "error", err)
		return 1
	}
	slog.Debug("Music client ready", "base_url", musicClient.BaseURL(), "tier", string(musicClient.Tier()))

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		metricsServer := observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider, activeStorage.Ping)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server forced to shutdown", "error", err)
			}
		}()
	}

	a := &app{
		svc:         library.NewService(musicClient, activeStorage, cfg.Download.Directory, log),
		out:         os.Stdout,
		concurrency: cfg.Download.Concurrency,
	}
	if err := a.run(ctx, args); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			return 2
		}
		if errors.Is(err, context.Canceled) {
			slog.Info("Interrupted")
			return 130
		}
		slog.Error("Command failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

// newClient builds the music client with instrumented per-route gates.
func newClient(cfg *models.Config, ver version.Info, searchCache cache.Cache) (*client.Client, error) {
	userAgent := cfg.API.UserAgent
	if userAgent == "" {
		userAgent = ver.UserAgent()
	}

	opts := []client.Option{
		client.WithBaseURL(cfg.API.BaseURL),
		client.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		client.WithUserAgent(userAgent),
		client.WithMaxBytesPerSecond(cfg.Download.MaxBytesPerSecond),
		client.WithLogger(slog.Default()),
	}
	if searchCache != nil {
		opts = append(opts, client.WithCache(searchCache, cfg.Cache.TTL))
	}

	if cfg.Metrics.Enabled {
		search, err := instrumentedGate(cfg.API.Token, client.RouteSearch)
		if err != nil {
			return nil, err
		}
		download, err := instrumentedGate(cfg.API.Token, client.RouteDownload)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithLimiters(search, download))
	}

	return client.New(cfg.API.Token, opts...)
}

func instrumentedGate(token, route string) (ratelimit.Limiter, error) {
	gate, err := ratelimit.NewGateForToken(token, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid API token: %w", err)
	}
	return observability.NewInstrumentedGate(gate, route)
}
