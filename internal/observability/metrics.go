package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for training and serving.
type Metrics struct {
	// Serving metrics.
	PredictionRequests *prometheus.CounterVec // labels: outcome={ok,no_data,bad_request,error}
	PredictionFields   *prometheus.CounterVec // labels: family, method={model,rule-based,fallback}
	PredictionDuration prometheus.Histogram

	// Training metrics.
	TrainingRuns     *prometheus.CounterVec // labels: outcome={success,failed,cancelled}
	TrainingTargets  *prometheus.CounterVec // labels: outcome={trained,skipped,failed}
	TrainingDuration prometheus.Histogram

	// Registry metrics.
	RegistryRefreshes *prometheus.CounterVec // labels: outcome={loaded,unchanged,empty,error}
	ArtifactsLoaded   prometheus.Gauge
	ArtifactsCorrupt  prometheus.Gauge

	// Artifact event metrics.
	ArtifactEventsPublished prometheus.Counter
	ArtifactEventsConsumed  prometheus.Counter
	RefreshLoopRunning      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		PredictionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "prediction_requests_total",
			Help:      "Prediction requests by outcome.",
		}, []string{"outcome"}),
		PredictionFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "prediction_fields_total",
			Help:      "Predicted fields by target family and the method that produced them.",
		}, []string{"family", "method"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_health",
			Name:      "prediction_duration_seconds",
			Help:      "Duration of a complete prediction request.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "training_runs_total",
			Help:      "Training runs by outcome.",
		}, []string{"outcome"}),
		TrainingTargets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "training_targets_total",
			Help:      "Per-target training results by outcome.",
		}, []string{"outcome"}),
		TrainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_health",
			Name:      "training_duration_seconds",
			Help:      "Duration of a complete training run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		RegistryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "registry_refreshes_total",
			Help:      "Artifact registry refreshes by outcome.",
		}, []string{"outcome"}),
		ArtifactsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_health",
			Name:      "artifacts_loaded",
			Help:      "Number of usable model artifacts in the serving snapshot.",
		}),
		ArtifactsCorrupt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_health",
			Name:      "artifacts_corrupt",
			Help:      "Number of unreadable model artifacts in the serving snapshot.",
		}),
		ArtifactEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "artifact_events_published_total",
			Help:      "Artifact update events written to Kafka.",
		}),
		ArtifactEventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "climate_health",
			Name:      "artifact_events_consumed_total",
			Help:      "Artifact update events read from Kafka.",
		}),
		RefreshLoopRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_health",
			Name:      "refresh_loop_running",
			Help:      "1 when the artifact refresh loop is active, 0 when shut down.",
		}),
	}

	prometheus.MustRegister(
		m.PredictionRequests,
		m.PredictionFields,
		m.PredictionDuration,
		m.TrainingRuns,
		m.TrainingTargets,
		m.TrainingDuration,
		m.RegistryRefreshes,
		m.ArtifactsLoaded,
		m.ArtifactsCorrupt,
		m.ArtifactEventsPublished,
		m.ArtifactEventsConsumed,
		m.RefreshLoopRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		PredictionRequests:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_health", Name: "prediction_requests_total"}, []string{"outcome"}),
		PredictionFields:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_health", Name: "prediction_fields_total"}, []string{"family", "method"}),
		PredictionDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "climate_health", Name: "prediction_duration_seconds"}),
		TrainingRuns:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_health", Name: "training_runs_total"}, []string{"outcome"}),
		TrainingTargets:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_health", Name: "training_targets_total"}, []string{"outcome"}),
		TrainingDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "climate_health", Name: "training_duration_seconds"}),
		RegistryRefreshes:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "climate_health", Name: "registry_refreshes_total"}, []string{"outcome"}),
		ArtifactsLoaded:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_health", Name: "artifacts_loaded"}),
		ArtifactsCorrupt:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_health", Name: "artifacts_corrupt"}),
		ArtifactEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_health", Name: "artifact_events_published_total"}),
		ArtifactEventsConsumed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "climate_health", Name: "artifact_events_consumed_total"}),
		RefreshLoopRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "climate_health", Name: "refresh_loop_running"}),
	}
}
