package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"safe-code-gate/internal/api"
	"safe-code-gate/internal/cache"
	"safe-code-gate/internal/config"
	"safe-code-gate/internal/gate"
	"safe-code-gate/internal/monitor"
	"safe-code-gate/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	configFound := false
	if _, statErr := os.Stat(configPath); statErr == nil {
		configFound = true
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := monitor.SetupTracing(ctx, monitor.TracingOptions{
			ServiceName: cfg.Tracing.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.Sample,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("tracing unavailable, continuing without spans")
		} else {
			defer func() {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				if err := shutdownTracing(flushCtx); err != nil {
					log.Error().Err(err).Msg("tracer shutdown error")
				}
			}()
		}
	}

	g, err := newGate(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid gate policy")
	}
	log.Info().Str("policy", g.Fingerprint()).Msg("gate policy loaded")

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN, storage.PoolOptions{
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, cfg.Database.AuditBuffer)
		auditWriter.OnDrop = func(*storage.VerdictRecord) { metrics.AuditDropped.Inc() }
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	var verdictCache *cache.VerdictCache
	if cfg.Cache.Address != "" {
		verdictCache, err = cache.New(ctx, cache.Options{
			Address:   cfg.Cache.Address,
			Password:  cfg.Cache.Password,
			DB:        cfg.Cache.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL,
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.Address).Msg("verdict cache unavailable, validating every request")
			verdictCache = nil
		} else {
			defer verdictCache.Close()
		}
	}

	server := api.NewServer(cfg, api.Deps{
		Gate:    g,
		DB:      db,
		Audit:   auditWriter,
		Cache:   verdictCache,
		Metrics: metrics,
		Tracer:  monitor.NewTracer(),
	})

	if configFound && cfg.Gate.ReloadOnChange {
		go watchPolicy(ctx, configPath, server, metrics)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("cache_enabled", verdictCache != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

func newGate(cfg *config.Config) (*gate.Gate, error) {
	policy, err := cfg.Gate.Policy()
	if err != nil {
		return nil, err
	}
	return gate.New(policy)
}

// watchPolicy swaps in a new gate whenever the config file changes. Only
// the gate section is hot; other sections need a restart.
func watchPolicy(ctx context.Context, path string, server *api.Server, metrics *monitor.Metrics) {
	err := config.Watch(ctx, path, func(cfg *config.Config) {
		g, err := newGate(cfg)
		if err != nil {
			log.Error().Err(err).Msg("reloaded policy rejected")
			metrics.RecordReload(false)
			return
		}
		if g.Fingerprint() == server.Gate().Fingerprint() {
			return
		}
		server.SwapGate(g)
		metrics.RecordReload(true)
	}, func(error) {
		metrics.RecordReload(false)
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("policy watcher stopped")
	}
}
