// Command trainer fits the per-target models over the labelled history and
// publishes the artifact set. It runs once with -once, imports a CSV into
// Postgres with -import, and otherwise trains on TRAIN_SCHEDULE.
//
// Usage:
//
//	go run ./cmd/trainer -once -csv data/climate_health.csv
//	go run ./cmd/trainer -import -csv data/climate_health.csv
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

	"github.com/couchcryptid/climate-health-engine/internal/adapter/csvsource"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/filestore"
	kafkaadapter "github.com/couchcryptid/climate-health-engine/internal/adapter/kafka"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/postgres"
	"github.com/couchcryptid/climate-health-engine/internal/config"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/couchcryptid/climate-health-engine/internal/training"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

func main() {
	once := flag.Bool("once", false, "train once and exit")
	importCSV := flag.Bool("import", false, "import the CSV into Postgres and exit")
	csvPath := flag.String("csv", "", "labelled history CSV (defaults to HISTORY_CSV)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *csvPath == "" {
		*csvPath = cfg.HistoryCSV
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo *postgres.Repository
	if cfg.DatabaseURL != "" {
		repo, err = postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.Migrate(ctx); err != nil {
			logger.Error("failed to migrate postgres schema", "error", err)
			os.Exit(1)
		}
	}

	if *importCSV {
		if err := runImport(ctx, repo, *csvPath, cfg.ImportBatchSize, logger); err != nil {
			logger.Error("import failed", "error", err)
			os.Exit(1)
		}
		return
	}

	store, err := filestore.New(cfg.ArtifactDir, cfg.ArtifactLockTTL, cfg.ArtifactKeepVersions, clock, logger)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}
	reg := registry.New(store, logger, metrics, clock)

	// Artifact update events (feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS).
	var notifier training.Notifier
	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg, logger, metrics)
		defer publisher.Close()
		notifier = publisher
		logger.Info("artifact events enabled", "topic", cfg.KafkaArtifactTopic)
	} else {
		logger.Info("artifact events disabled")
	}

	opts := training.DefaultOptions
	opts.TrainRatio = cfg.TrainRatio
	opts.Seed = cfg.TrainSeed
	trainer := training.New(reg, opts, notifier, clock, logger, metrics)

	job := func(ctx context.Context) error {
		observations, err := loadObservations(ctx, repo, *csvPath)
		if err != nil {
			return err
		}
		report, err := trainer.Train(ctx, observations)
		if err != nil {
			return err
		}
		logger.Info("training run complete",
			"run_id", report.RunID,
			"trained", len(report.Trained()),
			"skipped", len(report.Skipped()),
			"failed", len(report.Failed()),
			"duration", report.Duration,
		)
		return nil
	}

	if *once {
		if err := job(ctx); err != nil {
			logger.Error("training failed", "error", err)
			os.Exit(1)
		}
		return
	}

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(cfg.TrainSchedule, func() {
		if err := job(ctx); err != nil {
			logger.Error("scheduled training failed", "error", err)
		}
	}); err != nil {
		logger.Error("invalid TRAIN_SCHEDULE", "schedule", cfg.TrainSchedule, "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("training scheduler started", "schedule", cfg.TrainSchedule)

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop returns a context that is done once running jobs finish; the
	// cancelled ctx makes an in-flight run abort between targets.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("training run did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
}

// loadObservations reads the labelled history from the CSV when one is given,
// otherwise from Postgres.
func loadObservations(ctx context.Context, repo *postgres.Repository, csvPath string) ([]domain.Observation, error) {
	if csvPath != "" {
		return csvsource.ReadFile(csvPath)
	}
	if repo == nil {
		return nil, errors.New("no history source: set -csv, HISTORY_CSV or DATABASE_URL")
	}
	return repo.Observations(ctx)
}

func runImport(ctx context.Context, repo *postgres.Repository, csvPath string, batchSize int, logger *slog.Logger) error {
	if repo == nil {
		return errors.New("import requires DATABASE_URL")
	}
	if csvPath == "" {
		return errors.New("import requires -csv or HISTORY_CSV")
	}
	observations, err := csvsource.ReadFile(csvPath)
	if err != nil {
		return err
	}

	start := time.Now()
	for i := 0; i < len(observations); i += batchSize {
		end := min(i+batchSize, len(observations))
		if err := repo.Insert(ctx, observations[i:end]); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", i+1, end, err)
		}
		logger.Debug("import batch written", "from", i+1, "to", end)
	}
	logger.Info("import complete", "path", csvPath, "observations", len(observations), "duration", time.Since(start))
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
