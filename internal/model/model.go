// Package model holds the fitted artifacts used for inference: linear models
// (logistic classifiers and least-squares regressors) and the z-score scalers
// that prepare their inputs.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// Kind distinguishes classifiers from regressors.
type Kind string

const (
	KindClassifier Kind = "classifier"
	KindRegressor  Kind = "regressor"
)

// Metric names recorded with a fitted model.
const (
	MetricAccuracy = "accuracy"
	MetricR2       = "r2"
)

// KindFor returns the model kind used for a target's family.
func KindFor(t domain.Target) Kind {
	if t.Family() == domain.FamilyRisk {
		return KindClassifier
	}
	return KindRegressor
}

// Model is a fitted linear model over scaled feature vectors. Classifiers
// return the positive-class probability; regressors return the raw estimate.
type Model struct {
	Target        domain.Target `json:"target"`
	Kind          Kind          `json:"kind"`
	Group         domain.Family `json:"group"`
	SchemaVersion string        `json:"schema_version"`
	Intercept     float64       `json:"intercept"`
	Weights       []float64     `json:"weights"`
	TrainedAt     time.Time     `json:"trained_at"`
	Metric        string        `json:"metric"`
	Score         float64       `json:"score"`
}

// Predict evaluates the model on a scaled feature vector.
func (m *Model) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("%w: %s expects %d features, got %d", domain.ErrInference, m.Target, len(m.Weights), len(x))
	}
	z := m.Intercept + floats.Dot(m.Weights, x)
	if m.Kind == KindClassifier {
		z = sigmoid(z)
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, fmt.Errorf("%w: %s produced a non-finite value", domain.ErrInference, m.Target)
	}
	return z, nil
}

// Validate checks that a decoded model is usable.
func (m *Model) Validate() error {
	switch {
	case !m.Target.Valid():
		return fmt.Errorf("unknown target %q", m.Target)
	case m.Kind != KindClassifier && m.Kind != KindRegressor:
		return fmt.Errorf("unknown model kind %q", m.Kind)
	case m.SchemaVersion == "":
		return fmt.Errorf("model %s has no schema version", m.Target)
	case len(m.Weights) == 0:
		return fmt.Errorf("model %s has no weights", m.Target)
	}
	if !finite(m.Intercept) || !allFinite(m.Weights) {
		return fmt.Errorf("model %s has non-finite parameters", m.Target)
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}
