package training

import (
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
)

// Status is the outcome of training one target.
type Status string

const (
	StatusTrained Status = "trained"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// TargetResult records what happened to one target during a run.
type TargetResult struct {
	Target    domain.Target `json:"target"`
	Status    Status        `json:"status"`
	Metric    string        `json:"metric,omitempty"`
	Score     float64       `json:"score,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	TrainRows int           `json:"train_rows"`
	TestRows  int           `json:"test_rows"`
}

// Report summarizes a training run.
type Report struct {
	RunID         string         `json:"run_id"`
	TrainedAt     time.Time      `json:"trained_at"`
	DatasetSize   int            `json:"dataset_size"`
	SchemaVersion string         `json:"schema_version"`
	Results       []TargetResult `json:"results"`
	Duration      time.Duration  `json:"duration"`
}

// Trained lists the targets that produced a model.
func (r Report) Trained() []domain.Target { return r.withStatus(StatusTrained) }

// Skipped lists the targets whose labels could not be trained on.
func (r Report) Skipped() []domain.Target { return r.withStatus(StatusSkipped) }

// Failed lists the targets whose fit or evaluation errored.
func (r Report) Failed() []domain.Target { return r.withStatus(StatusFailed) }

// Result returns the result for target, if it was attempted.
func (r Report) Result(target domain.Target) (TargetResult, bool) {
	for _, res := range r.Results {
		if res.Target == target {
			return res, true
		}
	}
	return TargetResult{}, false
}

func (r Report) withStatus(s Status) []domain.Target {
	var out []domain.Target
	for _, res := range r.Results {
		if res.Status == s {
			out = append(out, res.Target)
		}
	}
	return out
}

func (r Report) metadata(schema features.Schema) registry.RunMetadata {
	md := registry.RunMetadata{
		RunID:       r.RunID,
		TrainedAt:   r.TrainedAt,
		DatasetSize: r.DatasetSize,
		Regions:     schema.Regions,
		Scores:      make(map[domain.Target]registry.Score),
		Skipped:     make(map[domain.Target]string),
	}
	for _, res := range r.Results {
		switch res.Status {
		case StatusTrained:
			md.Scores[res.Target] = registry.Score{Metric: res.Metric, Value: res.Score}
		case StatusSkipped, StatusFailed:
			md.Skipped[res.Target] = string(res.Status) + ": " + res.Reason
		}
	}
	return md
}
