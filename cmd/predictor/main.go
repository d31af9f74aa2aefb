// Command predictor serves climate-health predictions over HTTP from the
// currently published artifact set, refreshing it on artifact update events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/climate-health-engine/internal/adapter/csvsource"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/filestore"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/historycache"
	httpadapter "github.com/couchcryptid/climate-health-engine/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/climate-health-engine/internal/adapter/kafka"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/memory"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/postgres"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/redisstore"
	"github.com/couchcryptid/climate-health-engine/internal/config"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/prediction"
	"github.com/couchcryptid/climate-health-engine/internal/refresh"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := filestore.New(cfg.ArtifactDir, cfg.ArtifactLockTTL, cfg.ArtifactKeepVersions, clock, logger)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}
	reg := registry.New(store, logger, metrics, clock)
	if err := reg.Refresh(ctx); err != nil {
		logger.Warn("initial artifact load failed, serving rule-based estimates", "error", err)
	}

	checks := readiness{reg}

	// Observation history: Postgres when DATABASE_URL is set, otherwise a CSV
	// loaded into memory.
	var history historycache.History
	var repo *postgres.Repository
	switch {
	case cfg.DatabaseURL != "":
		repo, err = postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		if err := repo.Migrate(ctx); err != nil {
			logger.Error("failed to migrate postgres schema", "error", err)
			os.Exit(1)
		}
		history = repo
		checks = append(checks, repo)
		logger.Info("history backed by postgres")
	case cfg.HistoryCSV != "":
		observations, err := csvsource.ReadFile(cfg.HistoryCSV)
		if err != nil {
			logger.Error("failed to load history csv", "path", cfg.HistoryCSV, "error", err)
			os.Exit(1)
		}
		history = memory.NewHistory(observations)
		logger.Info("history loaded from csv", "path", cfg.HistoryCSV, "observations", len(observations))
	default:
		history = memory.NewHistory(nil)
		logger.Warn("no DATABASE_URL or HISTORY_CSV set, predictions require caller readings")
	}
	cached := historycache.New(history, cfg.HistoryCacheSize)

	// Capacity and feedback state (feature-flagged via REDIS_ADDR).
	var state domain.StateStore
	var redisClose func() error
	if cfg.RedisAddr != "" {
		rs, client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		state = rs
		redisClose = client.Close
		checks = append(checks, rs)
		logger.Info("state store backed by redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	} else {
		state = memory.NewStateStore()
		logger.Info("state store in memory, capacity and feedback are not persisted")
	}

	rules := prediction.NewRules(orDefault(cfg.HighRiskRegions, prediction.DefaultHighRiskRegions),
		orDefault(cfg.MediumRiskRegions, prediction.DefaultMediumRiskRegions))
	svc := prediction.NewService(cached, reg, rules, state, clock, logger, metrics)

	// Artifact refresh (event-driven via KAFKA_ENABLED, polled via REGISTRY_REFRESH_INTERVAL).
	var listener *kafkaadapter.Listener
	var source refresh.EventSource
	if cfg.KafkaEnabled {
		listener = kafkaadapter.NewListener(cfg, logger)
		source = listener
		logger.Info("artifact events enabled", "topic", cfg.KafkaArtifactTopic, "group_id", cfg.KafkaGroupID)
	} else {
		logger.Info("artifact events disabled")
	}
	loop := refresh.New(source, reg, cfg.RefreshInterval, clock, logger, metrics)

	api := httpadapter.API{Predictor: svc, Models: reg, State: state, Clock: clock}
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, checks, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start artifact refresh loop.
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil {
			logger.Error("refresh loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Error("kafka listener close error", "error", err)
		}
	}
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.Warn("refresh loop did not stop before shutdown timeout")
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			logger.Error("postgres close error", "error", err)
		}
	}
	if redisClose != nil {
		if err := redisClose(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// readiness is ready when every dependency is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return fmt.Errorf("not ready: %w", err)
		}
	}
	return nil
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
