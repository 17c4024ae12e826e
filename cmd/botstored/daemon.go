package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/cache"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/config"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/logging"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/metrics"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/observability"
	"github.com/wgtechlabs/unthread-telegram-bot-sub005/internal/server"
)

func daemonCmd() *cobra.Command {
	var (
		listenAddr string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the storage daemon",
		Long:  "Serve the tiered KV and ticket storage API over HTTP, degrading to fewer tiers when Redis or Postgres are not configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("redis-addr") || redisAddr != "" {
				cfg.Redis.Addr = redisAddr
			}
			if cmd.Flags().Changed("pg-dsn") || pgDSN != "" {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.HTTPAddr = listenAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Daemon.LogLevel)

			ctx := context.Background()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			tiers, err := buildTiers(ctx, cfg)
			if err != nil {
				return err
			}

			tieredCfg := cache.TieredConfig{
				Hot:     tiers.hot,
				Warm:    tiers.warm,
				HotTTL:  cfg.Storage.HotTTL,
				WarmTTL: cfg.Storage.WarmTTL,
			}
			if tiers.cold != nil {
				tieredCfg.Cold = tiers.cold
			}
			kv, err := cache.NewTieredCache(tieredCfg)
			if err != nil {
				return err
			}
			defer kv.Close()

			if tiers.cold != nil && cfg.Storage.PurgeInterval > 0 {
				stopPurge := startPurgeLoop(tiers.cold, cfg.Storage.PurgeInterval)
				defer stopPurge()
			}

			srv := server.New(kv)
			httpServer := &http.Server{
				Addr:    cfg.Daemon.HTTPAddr,
				Handler: observability.HTTPMiddleware(srv.Handler()),
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("storage daemon started",
					"addr", cfg.Daemon.HTTPAddr,
					"warm", tiers.warm != nil,
					"cold", tiers.cold != nil)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logging.Op().Info("shutdown signal received", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown http server: %w", err)
				}
				return nil
			case err := <-errCh:
				return fmt.Errorf("http server error: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

type tierSet struct {
	hot  *cache.MemoryCache
	warm cache.Cache
	cold *cache.PostgresCache
}

// buildTiers constructs whichever tiers are configured. The hot tier
// always exists; Redis and Postgres are optional and their absence
// degrades the store rather than failing startup. A configured tier
// that cannot connect is a fatal configuration error. Once assembled,
// TieredCache.Close owns tier shutdown.
func buildTiers(ctx context.Context, cfg *config.Config) (tierSet, error) {
	tiers := tierSet{hot: cache.NewMemoryCache()}

	if cfg.Redis.Addr != "" {
		warm, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			tiers.hot.Close()
			return tierSet{}, fmt.Errorf("connect warm tier: %w", err)
		}
		tiers.warm = warm
		logging.Op().Info("warm tier connected", "addr", cfg.Redis.Addr)
	} else {
		logging.Op().Info("warm tier not configured, skipping")
	}

	if cfg.Postgres.DSN != "" {
		cold, err := cache.NewPostgresCache(ctx, cfg.Postgres.DSN)
		if err != nil {
			if tiers.warm != nil {
				tiers.warm.Close()
			}
			tiers.hot.Close()
			return tierSet{}, fmt.Errorf("connect cold tier: %w", err)
		}
		tiers.cold = cold
		logging.Op().Info("cold tier connected")
	} else {
		logging.Op().Info("cold tier not configured, writes are not durable")
	}

	return tiers, nil
}

// startPurgeLoop removes expired rows from the durable tier on a
// ticker. Returns a stop function for shutdown.
func startPurgeLoop(cold *cache.PostgresCache, interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				n, err := cold.PurgeExpired(ctx)
				cancel()
				if err != nil {
					logging.Op().Warn("purge expired entries failed", "error", err)
					continue
				}
				if n > 0 {
					metrics.RecordPurgedEntries(n)
					logging.Op().Debug("purged expired entries", "count", n)
				}
			}
		}
	}()
	return func() { close(stop) }
}
