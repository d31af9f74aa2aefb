// Package training fits one model per target over a labelled historical
// dataset and publishes the resulting artifact set through the registry.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"github.com/couchcryptid/climate-health-engine/internal/model"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/peak"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/jonboulle/clockwork"
)

// Notifier announces a committed artifact set to serving processes.
type Notifier interface {
	PublishArtifactsUpdated(ctx context.Context, event domain.ArtifactsUpdated) error
}

// Options controls the holdout split and fitting.
type Options struct {
	TrainRatio float64
	Seed       uint64
	Fit        model.FitOptions
}

// DefaultOptions is an 80/20 split seeded with 42.
var DefaultOptions = Options{TrainRatio: 0.8, Seed: 42}

// Trainer runs training jobs. Each Train call is independent and replaces the
// previously published artifact set wholesale.
type Trainer struct {
	registry *registry.Registry
	opts     Options
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	notifier Notifier
}

// New creates a Trainer. notifier may be nil.
func New(reg *registry.Registry, opts Options, notifier Notifier, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Trainer {
	if opts.TrainRatio <= 0 || opts.TrainRatio >= 1 {
		opts.TrainRatio = DefaultOptions.TrainRatio
	}
	return &Trainer{
		registry: reg,
		opts:     opts,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
	}
}

// Train fits every target it can, runs peak analysis, and commits the set.
// Per-target failures are recorded in the report and do not stop the run.
// Cancellation is honoured between targets and leaves the previous set live.
func (t *Trainer) Train(ctx context.Context, observations []domain.Observation) (Report, error) {
	start := t.clock.Now()
	report, err := t.train(ctx, observations)
	report.Duration = t.clock.Since(start)

	switch {
	case err == nil:
		t.metrics.TrainingRuns.WithLabelValues("success").Inc()
		t.metrics.TrainingDuration.Observe(report.Duration.Seconds())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		t.metrics.TrainingRuns.WithLabelValues("cancelled").Inc()
	default:
		t.metrics.TrainingRuns.WithLabelValues("failed").Inc()
	}
	return report, err
}

func (t *Trainer) train(ctx context.Context, observations []domain.Observation) (Report, error) {
	if len(observations) == 0 {
		return Report{}, fmt.Errorf("train: %w: empty dataset", domain.ErrNoData)
	}

	schema := features.SchemaFrom(observations)
	vectors, err := features.NewBuilder(schema).BuildAll(observations, schema.Version)
	if err != nil {
		return Report{}, fmt.Errorf("train: build features: %w", err)
	}
	trainIdx, testIdx := model.Split(len(observations), t.opts.TrainRatio, t.opts.Seed)

	batch, err := t.registry.Begin(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("train: %w", err)
	}
	defer batch.Abort(ctx)

	report := Report{
		RunID:         batch.Version(),
		TrainedAt:     t.clock.Now().UTC(),
		DatasetSize:   len(observations),
		SchemaVersion: schema.Version,
	}
	t.logger.Info("training run started",
		"run_id", report.RunID,
		"rows", len(observations),
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
		"schema_version", schema.Version,
	)

	if err := batch.SaveSchema(schema); err != nil {
		return report, fmt.Errorf("train: %w", err)
	}

	for _, family := range domain.Families {
		scaler, err := model.FitScaler(family, pick(vectors, trainIdx))
		if err != nil {
			return report, fmt.Errorf("train: %s scaler: %w", family, err)
		}
		if err := batch.SaveScaler(scaler); err != nil {
			return report, fmt.Errorf("train: %w", err)
		}
		scaled, err := scaler.TransformAll(vectors)
		if err != nil {
			return report, fmt.Errorf("train: %s scaler: %w", family, err)
		}

		for _, target := range domain.TargetsOf(family) {
			if err := ctx.Err(); err != nil {
				t.logger.Warn("training run cancelled", "run_id", report.RunID, "next_target", target)
				return report, fmt.Errorf("train: %w", err)
			}
			res := t.fitTarget(target, schema.Version, observations, scaled, trainIdx, testIdx, batch)
			t.metrics.TrainingTargets.WithLabelValues(string(res.Status)).Inc()
			report.Results = append(report.Results, res)
		}
	}

	if err := batch.SaveProfile(peak.Analyze(observations)); err != nil {
		return report, fmt.Errorf("train: %w", err)
	}
	if err := batch.SaveMetadata(report.metadata(schema)); err != nil {
		return report, fmt.Errorf("train: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return report, fmt.Errorf("train: %w", err)
	}

	t.logger.Info("training run committed",
		"run_id", report.RunID,
		"trained", len(report.Trained()),
		"skipped", len(report.Skipped()),
		"failed", len(report.Failed()),
	)
	t.notify(ctx, report)
	return report, nil
}

func (t *Trainer) fitTarget(
	target domain.Target,
	schemaVersion string,
	observations []domain.Observation,
	scaled [][]float64,
	trainIdx, testIdx []int,
	batch *registry.Batch,
) TargetResult {
	kind := model.KindFor(target)
	res := TargetResult{Target: target}

	xTrain, yTrain := labelled(target, kind, observations, scaled, trainIdx)
	xTest, yTest := labelled(target, kind, observations, scaled, testIdx)
	res.TrainRows, res.TestRows = len(xTrain), len(xTest)

	if len(xTrain) == 0 {
		return t.skip(res, "no labelled rows")
	}
	if model.DistinctCount(append(append([]float64(nil), yTrain...), yTest...), 2) < 2 {
		return t.skip(res, "label has a single value")
	}

	var (
		intercept float64
		weights   []float64
		err       error
	)
	if kind == model.KindClassifier {
		intercept, weights, err = model.FitClassifier(xTrain, yTrain, t.opts.Fit)
	} else {
		intercept, weights, err = model.FitRegressor(xTrain, yTrain, t.opts.Fit)
	}
	if err != nil {
		return t.fail(res, err)
	}

	m := &model.Model{
		Target:        target,
		Kind:          kind,
		Group:         target.Family(),
		SchemaVersion: schemaVersion,
		Intercept:     intercept,
		Weights:       weights,
		TrainedAt:     t.clock.Now().UTC(),
	}

	// Score on the holdout, or on the training rows when the split left none.
	xEval, yEval := xTest, yTest
	if len(xEval) == 0 {
		xEval, yEval = xTrain, yTrain
	}
	preds := make([]float64, len(xEval))
	for i, x := range xEval {
		if preds[i], err = m.Predict(x); err != nil {
			return t.fail(res, err)
		}
	}
	if kind == model.KindClassifier {
		m.Metric, m.Score = model.MetricAccuracy, model.Accuracy(preds, yEval)
	} else {
		m.Metric, m.Score = model.MetricR2, model.R2(preds, yEval)
	}

	if err := batch.SaveModel(target, m, target.Family()); err != nil {
		return t.fail(res, err)
	}
	res.Status, res.Metric, res.Score = StatusTrained, m.Metric, m.Score
	t.logger.Debug("target trained", "target", target, "metric", m.Metric, "score", m.Score, "train_rows", res.TrainRows)
	return res
}

func (t *Trainer) skip(res TargetResult, reason string) TargetResult {
	res.Status, res.Reason = StatusSkipped, reason
	t.logger.Info("target skipped", "target", res.Target, "reason", reason, "error", domain.ErrTrainingSkipped)
	return res
}

func (t *Trainer) fail(res TargetResult, err error) TargetResult {
	res.Status, res.Reason = StatusFailed, err.Error()
	t.logger.Warn("target training failed", "target", res.Target, "error", err)
	return res
}

func (t *Trainer) notify(ctx context.Context, report Report) {
	if t.notifier == nil {
		return
	}
	event := domain.ArtifactsUpdated{
		RunID:     report.RunID,
		TrainedAt: report.TrainedAt,
		Trained:   report.Trained(),
		Skipped:   report.Skipped(),
	}
	if err := t.notifier.PublishArtifactsUpdated(ctx, event); err != nil {
		t.logger.Warn("publish artifacts updated failed", "run_id", report.RunID, "error", err)
	}
}

// labelled returns the scaled rows at idx that carry a label for target.
// Classifier labels are mapped to 0/1.
func labelled(target domain.Target, kind model.Kind, observations []domain.Observation, scaled [][]float64, idx []int) ([][]float64, []float64) {
	x := make([][]float64, 0, len(idx))
	y := make([]float64, 0, len(idx))
	for _, i := range idx {
		v, ok := observations[i].Label(target)
		if !ok {
			continue
		}
		if kind == model.KindClassifier {
			if v > 0.5 {
				v = 1
			} else {
				v = 0
			}
		}
		x = append(x, scaled[i])
		y = append(y, v)
	}
	return x, y
}

func pick(vs []features.Vector, idx []int) []features.Vector {
	out := make([]features.Vector, len(idx))
	for i, j := range idx {
		out[i] = vs[j]
	}
	return out
}
