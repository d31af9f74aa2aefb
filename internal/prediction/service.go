// Package prediction assembles a prediction for one region and date: a
// rule-based floor for every target, overwritten per target by the current
// artifact set where a usable model exists.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/jonboulle/clockwork"
)

// RecentWindow is how many stored days feed the rule-based risk scores.
const RecentWindow = 7

// maxEstimate bounds disease and capacity outputs so they stay exact integers
// after rounding.
const maxEstimate = 1 << 53

// ErrInvalidRequest means the request itself cannot be served.
var ErrInvalidRequest = errors.New("invalid prediction request")

// History reads stored observations for a region.
type History interface {
	// Latest returns the most recent observation at or before asOf. A zero
	// asOf means no upper bound. Absence is domain.ErrNotFound.
	Latest(ctx context.Context, region string, asOf time.Time) (domain.Observation, error)
	// Recent returns up to n observations at or before asOf, newest first.
	Recent(ctx context.Context, region string, asOf time.Time, n int) ([]domain.Observation, error)
}

// ModelSource yields the current artifact snapshot.
type ModelSource interface {
	Snapshot() *registry.Snapshot
}

// Request selects what to score. Without Readings the latest stored
// observation at or before Date is used.
type Request struct {
	Region   string
	Date     *time.Time
	Readings *domain.Readings
}

// Service serves predictions. It is safe for concurrent use.
type Service struct {
	history  History
	models   ModelSource
	rules    *Rules
	capacity domain.StateStore
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService creates a Service. capacity may be nil, in which case no
// shortfall is reported.
func NewService(history History, models ModelSource, rules *Rules, capacity domain.StateStore, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		history:  history,
		models:   models,
		rules:    rules,
		capacity: capacity,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Predict scores one region and date. Only missing data and store failures
// fail the request; per-target problems degrade that target to its rule value.
func (s *Service) Predict(ctx context.Context, req Request) (domain.PredictionResult, error) {
	start := s.clock.Now()
	result, err := s.predict(ctx, req)
	s.metrics.PredictionDuration.Observe(s.clock.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.PredictionRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrNoData):
		s.metrics.PredictionRequests.WithLabelValues("no_data").Inc()
	case errors.Is(err, ErrInvalidRequest):
		s.metrics.PredictionRequests.WithLabelValues("bad_request").Inc()
	default:
		s.metrics.PredictionRequests.WithLabelValues("error").Inc()
	}
	return result, err
}

func (s *Service) predict(ctx context.Context, req Request) (domain.PredictionResult, error) {
	region := strings.TrimSpace(req.Region)
	if region == "" {
		return domain.PredictionResult{}, fmt.Errorf("%w: region is required", ErrInvalidRequest)
	}

	obs, err := s.resolve(ctx, region, req)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	asOf := obs.Date

	recent, err := s.history.Recent(ctx, region, asOf, RecentWindow)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.PredictionResult{}, fmt.Errorf("read recent history: %w", err)
	}

	risks := s.rules.Risks(obs, recent)
	diseases := s.rules.Diseases(obs)
	capacity := s.rules.Capacity(region, asOf.Month(), obs, diseases)

	methods := make(map[domain.Target]domain.Method, len(domain.AllTargets()))
	for _, t := range domain.AllTargets() {
		methods[t] = domain.MethodRuleBased
	}

	snap := s.models.Snapshot()
	for _, t := range snap.AvailableTargets() {
		v, err := s.infer(snap, t, obs)
		if err != nil {
			methods[t] = domain.MethodFallback
			s.logger.Warn("model inference failed, using rule-based estimate",
				"target", t, "region", region, "version", snap.Version(), "error", err)
			continue
		}
		methods[t] = domain.MethodModel
		switch t.Family() {
		case domain.FamilyRisk:
			risks[t] = v
		case domain.FamilyDisease:
			diseases[t] = v
		case domain.FamilyCapacity:
			capacity[t] = v
		}
	}

	result := domain.PredictionResult{
		Region:            region,
		AsOf:              asOf,
		CurrentConditions: domain.ConditionsOf(obs),
		Risks:             make(map[string]float64, len(risks)),
		DiseaseEstimates:  make(map[domain.Target]float64, len(diseases)),
		CapacityEstimates: make(map[domain.Target]int, len(capacity)),
		PeakTimes:         make(map[string]domain.PeakContext),
		Trends:            domain.TrendsOf(recent),
		MethodUsed:        methods,
		ModelRunID:        snap.Version(),
	}
	for t, v := range risks {
		result.Risks[t.RiskKey()] = clamp(v, 0, 1)
	}
	for t, v := range diseases {
		result.DiseaseEstimates[t] = roundTo(clamp(finiteOr(v, 0), 0, maxEstimate), 1)
	}
	for t, v := range capacity {
		result.CapacityEstimates[t] = int(math.Round(clamp(finiteOr(v, 0), 0, maxEstimate)))
	}
	for t, pc := range snap.Profile().Context(asOf) {
		result.PeakTimes[t.RiskKey()] = pc
	}
	result.CapacityShortfall = s.shortfall(ctx, result.CapacityEstimates)

	for t, m := range methods {
		s.metrics.PredictionFields.WithLabelValues(string(t.Family()), string(m)).Inc()
	}
	return result, nil
}

// resolve returns the observation to score, with its lagged temperature
// taken from stored history when the caller supplied readings.
func (s *Service) resolve(ctx context.Context, region string, req Request) (domain.Observation, error) {
	if req.Readings == nil {
		var upTo time.Time
		if req.Date != nil {
			upTo = *req.Date
		}
		obs, err := s.history.Latest(ctx, region, upTo)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Observation{}, fmt.Errorf("%w for region %q", domain.ErrNoData, region)
		}
		if err != nil {
			return domain.Observation{}, fmt.Errorf("read latest observation: %w", err)
		}
		if obs.LaggedTemperature == nil {
			lag, err := s.laggedTemperature(ctx, region, obs.Date)
			if err != nil {
				return domain.Observation{}, err
			}
			obs.LaggedTemperature = lag
		}
		return obs, nil
	}

	asOf := s.clock.Now().UTC()
	if req.Date != nil {
		asOf = *req.Date
	}
	r := req.Readings
	lag, err := s.laggedTemperature(ctx, region, asOf)
	if err != nil {
		return domain.Observation{}, err
	}
	return domain.Observation{
		RegionID:          region,
		Date:              asOf,
		Temperature:       r.Temperature,
		Precipitation:     r.Precipitation,
		Humidity:          r.Humidity,
		Wind:              r.Wind,
		PM25:              r.PM25,
		Event:             r.Event,
		LaggedTemperature: lag,
	}, nil
}

// laggedTemperature is the temperature of the latest stored observation at
// or before asOf minus the lag, or nil when there is none.
func (s *Service) laggedTemperature(ctx context.Context, region string, asOf time.Time) (*float64, error) {
	prior, err := s.history.Latest(ctx, region, asOf.AddDate(0, 0, -domain.LagDays))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lagged observation: %w", err)
	}
	t := prior.Temperature
	return &t, nil
}

// infer runs one target's model against obs using the model's own schema
// version and its group scaler.
func (s *Service) infer(snap *registry.Snapshot, target domain.Target, obs domain.Observation) (float64, error) {
	m, scaler, err := snap.Load(target)
	if err != nil {
		return 0, err
	}
	if scaler == nil {
		return 0, fmt.Errorf("model %s: no %s scaler: %w", target, m.Group, domain.ErrNotFound)
	}
	if m.SchemaVersion != scaler.SchemaVersion {
		return 0, fmt.Errorf("model %s: %w: model %s, scaler %s", target, domain.ErrSchemaMismatch, m.SchemaVersion, scaler.SchemaVersion)
	}
	vec, err := snap.Builder().Build(obs, m.SchemaVersion)
	if err != nil {
		return 0, err
	}
	x, err := scaler.Transform(vec)
	if err != nil {
		return 0, err
	}
	return m.Predict(x)
}

// shortfall compares needed capacity against the stored on-hand capacity.
// Failures are logged and leave the shortfall out of the response.
func (s *Service) shortfall(ctx context.Context, needed map[domain.Target]int) map[domain.Target]int {
	if s.capacity == nil {
		return nil
	}
	have, err := domain.LoadCapacity(ctx, s.capacity)
	if err != nil {
		s.logger.Warn("load capacity settings failed", "error", err)
		return nil
	}
	out := make(map[domain.Target]int, len(domain.CapacityTargets))
	for _, t := range domain.CapacityTargets {
		avail, ok := have.Available(t)
		if !ok {
			continue
		}
		out[t] = max(0, needed[t]-avail)
	}
	return out
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func finiteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
