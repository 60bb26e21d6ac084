package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/respkv/respkv-go/internal/cache"
	"github.com/respkv/respkv-go/internal/command"
	"github.com/respkv/respkv-go/internal/config"
	"github.com/respkv/respkv-go/internal/infra/confloader"
	"github.com/respkv/respkv-go/internal/infra/shutdown"
	"github.com/respkv/respkv-go/internal/persist"
	"github.com/respkv/respkv-go/internal/reactor"
	"github.com/respkv/respkv-go/internal/store"
	"github.com/respkv/respkv-go/internal/telemetry/logger"
	"github.com/respkv/respkv-go/internal/telemetry/metric"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:      "respkv-server",
		Usage:     "RESP-protocol-compatible in-memory key/value server",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		ArgsUsage: "[config_path]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Address to serve Prometheus metrics on",
				Value: ":9121",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the App's Action: config_path defaults to "config.yaml" per
// spec's "default config.ini" (renamed for the YAML format this server
// actually loads), and is overridden by the first positional argument or
// the --config flag.
func run(cliCtx *cli.Context) error {
	configFile := "config.yaml"
	if cliCtx.Args().First() != "" {
		configFile = cliCtx.Args().First()
	}
	if cliCtx.String("config") != "" {
		configFile = cliCtx.String("config")
	}
	metricsAddr := cliCtx.String("metrics-addr")

	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, slogLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log.Info("starting respkv-server",
		"version", version,
		"commit", commit,
		"config", configFile)

	c := cache.New(cache.Config{
		Policy:             cfg.Store.CachePolicy,
		ShardCount:         cfg.Store.ShardCount,
		Capacity:           cfg.Store.CacheSize,
		MinCapacity:        cfg.Cache.MinCapacity,
		MaxCapacity:        cfg.Cache.MaxCapacity,
		CleanupThreshold:   cfg.Cache.CleanupThreshold,
		CleanupTarget:      cfg.Cache.CleanupTarget,
		AdaptiveSizing:     cfg.Store.AdaptiveSizing,
		AdjustmentInterval: cfg.Cache.AdjustmentInterval(),
	})

	cacheWatcher, err := watchCacheTunables(c, configFile, log, slogLogger)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	st := store.New(store.Config{
		ShardCount:        cfg.Store.ShardCount,
		BucketsPerShard:   cfg.Store.BucketPerShard,
		EnableCompression: cfg.Store.EnableCompression,
		Cache:             c,
	})

	syncer := persist.New(st, persist.Config{
		Dir:          cfg.Store.PersistPath,
		SyncInterval: cfg.Store.SyncInterval(),
		Logger:       slogLogger,
	})
	if err := syncer.LoadAll(); err != nil {
		return fmt.Errorf("load persisted shards: %w", err)
	}

	metrics := metric.NewRegistry()
	metrics.RegisterCache("main", c)

	dispatcher := command.New(st, metrics)

	srv, err := reactor.New(reactor.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		MaxConnections: cfg.Server.MaxConnections,
		ReadThreads:    cfg.Pool.ReadThreads,
		MaxBufferSize:  cfg.Server.MaxBufferSize,
	}, dispatcher, slogLogger)
	if err != nil {
		return fmt.Errorf("init reactor: %w", err)
	}

	metrics.RegisterPools(srv.BufPool(), srv.ConnPool())
	metrics.SetWorkersActive(srv.WorkerCount())
	metrics.Start(0)
	syncer.Start()

	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: metrics.Handler(),
	}

	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping config watcher")
		return cacheWatcher.Stop()
	})

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping metrics server")
		return metricsServer.Shutdown(ctx)
	})

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping persistence syncer")
		syncer.Stop()
		return nil
	})

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping metrics registry")
		metrics.Stop()
		return nil
	})

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping reactor server")
		srv.Stop()
		return nil
	})

	go func() {
		log.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	go reportServerStats(srv, metrics, shutdownHandler.Done())

	go func() {
		log.Info("reactor listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := srv.Run(); err != nil {
			log.Error("reactor server error", "error", err)
		}
	}()

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// reportServerStats periodically feeds the reactor's connection count into
// the metrics registry until shutdown begins.
func reportServerStats(srv *reactor.Server, metrics *metric.Registry, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := srv.Stats()
			metrics.SetConnectionsActive(int(stats.CurrentConnections))
		case <-done:
			return
		}
	}
}

// watchCacheTunables starts a confloader.Watcher on configFile's directory
// and re-applies the cache's whitelisted tunables (min/max capacity,
// cleanup threshold/target, adjustment interval) whenever the file
// changes. store.cache_policy, store.adaptive_cache_sizing and every
// pool.* setting are left static, per the hot-reload scope; only the
// cache section is re-read here.
func watchCacheTunables(c *cache.Cache, configFile string, log logger.Logger, slogLogger *slog.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogLogger))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(configFile); err != nil {
		return nil, err
	}

	watcher.OnChange(func(path string) {
		if filepath.Base(path) != filepath.Base(configFile) {
			return
		}

		cfg, err := loadConfig(configFile)
		if err != nil {
			log.Warn("config hot-reload failed, keeping previous cache tunables", "error", err)
			return
		}

		c.ApplyTunables(
			cfg.Cache.MinCapacity,
			cfg.Cache.MaxCapacity,
			cfg.Cache.CleanupThreshold,
			cfg.Cache.CleanupTarget,
			cfg.Cache.AdjustmentInterval(),
		)
		log.Info("applied hot-reloaded cache tunables",
			"min_capacity", cfg.Cache.MinCapacity,
			"max_capacity", cfg.Cache.MaxCapacity,
			"cleanup_threshold", cfg.Cache.CleanupThreshold,
			"cleanup_target", cfg.Cache.CleanupTarget)
	})

	watcher.StartAsync()
	return watcher, nil
}

// loadConfig loads configuration from file, environment, and defaults.
func loadConfig(configFile string) (*config.Spec, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// initLogger initializes the structured logger. It returns both the
// logger.Logger interface and a *slog.Logger for components (reactor,
// persist) that take slog directly.
func initLogger(cfg *config.Spec) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.SetDefault(log)

	return log, slog.Default(), nil
}
