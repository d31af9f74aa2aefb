// Command validate checks the integrity of a published artifact set: that the
// set loads, that every model agrees with its scaler and the stored schema,
// that run metadata matches what was written, and optionally that predictions
// over a historical CSV stay within their documented bounds.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -artifacts ./artifacts \
//	  -csv data/climate_health.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/adapter/csvsource"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/filestore"
	"github.com/couchcryptid/climate-health-engine/internal/adapter/memory"
	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/observability"
	"github.com/couchcryptid/climate-health-engine/internal/prediction"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	artifactDir := flag.String("artifacts", "./artifacts", "artifact directory to validate")
	csvPath := flag.String("csv", "", "optional historical CSV to score against the artifact set")
	flag.Parse()

	if *artifactDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*artifactDir, *csvPath); code != 0 {
		os.Exit(code)
	}
}

func run(artifactDir, csvPath string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Println("=== Artifact Integrity Validation ===")
	fmt.Println()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewRealClock()
	metrics := observability.NewMetricsForTesting()

	store, err := filestore.New(artifactDir, time.Hour, 0, clock, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open artifact store: %v\n", err)
		return 1
	}
	reg := registry.New(store, logger, metrics, clock)
	if err := reg.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load artifact set: %v\n", err)
		return 1
	}
	snap := reg.Snapshot()

	phases := []*phase{
		validateArtifactSet(snap),
		validateModels(snap),
		validateMetadata(snap),
		validateProfile(snap),
	}

	var observations []domain.Observation
	if csvPath != "" {
		observations, err = csvsource.ReadFile(csvPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load CSV: %v\n", err)
			return 1
		}
		phases = append(phases, validatePredictions(ctx, reg, observations, clock, logger, metrics))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Run %s: %d targets with artifacts, %d observations scored\n",
		snap.Version(), len(snap.AvailableTargets()), len(observations))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Artifact set ──

func validateArtifactSet(snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 1: Published artifact set"}
	if snap.Version() == "" {
		p.errorf("no artifact set is published")
		return p
	}
	schema := snap.Schema()
	if !schema.Valid() {
		p.errorf("schema %q does not match its vocabulary", schema.Version)
	}
	if _, ok := snap.Builder().Schema(schema.Version); !ok {
		p.errorf("schema %q is not registered with the feature builder", schema.Version)
	}
	if len(snap.AvailableTargets()) == 0 {
		p.errorf("artifact set %s has no models", snap.Version())
	}
	return p
}

// ── Models and scalers ──

func validateModels(snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 2: Models and scalers"}
	schema := snap.Schema()
	for _, t := range snap.AvailableTargets() {
		m, scaler, err := snap.Load(t)
		if err != nil {
			p.errorf("%s: %v", t, err)
			continue
		}
		if m.Group != t.Family() {
			p.errorf("%s: model group %s, want %s", t, m.Group, t.Family())
		}
		if m.SchemaVersion != schema.Version {
			p.errorf("%s: model schema %s, set schema %s", t, m.SchemaVersion, schema.Version)
		}
		if scaler == nil {
			p.errorf("%s: no %s scaler", t, m.Group)
			continue
		}
		if scaler.SchemaVersion != m.SchemaVersion {
			p.errorf("%s: scaler schema %s, model schema %s", t, scaler.SchemaVersion, m.SchemaVersion)
		}
		if !slices.Equal(scaler.Columns, schema.Columns()) {
			p.errorf("%s: scaler columns do not match the schema", t)
		}
		if len(m.Weights) != schema.Width() {
			p.errorf("%s: %d weights for %d columns", t, len(m.Weights), schema.Width())
		}
	}
	return p
}

// ── Run metadata ──

func validateMetadata(snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 3: Run metadata"}
	md := snap.Metadata()
	if md.RunID != snap.Version() {
		p.errorf("metadata run_id %q, published version %q", md.RunID, snap.Version())
	}
	if md.TrainedAt.IsZero() {
		p.errorf("metadata has no trained_at")
	}
	if md.DatasetSize <= 0 {
		p.errorf("metadata dataset_size %d", md.DatasetSize)
	}

	available := snap.AvailableTargets()
	for _, t := range available {
		if _, ok := md.Scores[t]; !ok {
			p.errorf("%s: model has no recorded score", t)
		}
		if reason, ok := md.Skipped[t]; ok {
			p.errorf("%s: model present but marked skipped (%s)", t, reason)
		}
	}
	for t := range md.Scores {
		if !slices.Contains(available, t) {
			p.errorf("%s: score recorded without a model", t)
		}
	}
	return p
}

// ── Peak profile ──

func validateProfile(snap *registry.Snapshot) *phase {
	p := &phase{name: "Phase 4: Peak profile"}
	profile := snap.Profile()
	for t, m := range profile.PeakMonths {
		if t.Family() != domain.FamilyRisk {
			p.errorf("%s: peak month recorded for a non-risk target", t)
		}
		if m < time.January || m > time.December {
			p.errorf("%s: peak month %d out of range", t, m)
		}
		monthly := profile.MonthlyAverages[t]
		if _, ok := monthly[m]; !ok {
			p.errorf("%s: peak month %s has no monthly average", t, m)
			continue
		}
		for other, v := range monthly {
			if v > monthly[m] || (v == monthly[m] && other < m) {
				p.errorf("%s: %s average %.3f beats peak %s", t, other, v, m)
			}
		}
	}
	return p
}

// ── Predictions ──

func validatePredictions(ctx context.Context, reg *registry.Registry, observations []domain.Observation, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *phase {
	p := &phase{name: "Phase 5: Prediction bounds over history"}
	history := memory.NewHistory(observations)
	rules := prediction.NewRules(prediction.DefaultHighRiskRegions, prediction.DefaultMediumRiskRegions)
	svc := prediction.NewService(history, reg, rules, nil, clock, logger, metrics)

	for _, o := range observations {
		date := o.Date
		res, err := svc.Predict(ctx, prediction.Request{Region: o.RegionID, Date: &date})
		if err != nil {
			p.errorf("%s %s: %v", o.RegionID, o.Date.Format(time.DateOnly), err)
			continue
		}
		checkResult(p, o, res)
	}
	return p
}

func checkResult(p *phase, o domain.Observation, res domain.PredictionResult) {
	at := fmt.Sprintf("%s %s", o.RegionID, o.Date.Format(time.DateOnly))
	for k, v := range res.Risks {
		if v < 0 || v > 1 {
			p.errorf("%s: risk %s = %v outside [0,1]", at, k, v)
		}
	}
	for t, v := range res.DiseaseEstimates {
		if v < 0 {
			p.errorf("%s: %s = %v is negative", at, t, v)
		}
	}
	for t, v := range res.CapacityEstimates {
		if v < 0 {
			p.errorf("%s: %s = %d is negative", at, t, v)
		}
	}
	for _, t := range domain.AllTargets() {
		switch res.MethodUsed[t] {
		case "":
			p.errorf("%s: no method recorded for %s", at, t)
		case domain.MethodFallback:
			p.errorf("%s: %s fell back from its published model", at, t)
		}
	}
}
