package model

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/features"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature vectors to zero mean and unit variance using
// parameters fit on one target family's training rows.
type Scaler struct {
	Group         domain.Family `json:"group"`
	SchemaVersion string        `json:"schema_version"`
	Columns       []string      `json:"columns"`
	Means         []float64     `json:"means"`
	Scales        []float64     `json:"scales"`
}

// FitScaler computes per-column population mean and standard deviation.
// Constant columns get a scale of 1 so they transform to 0.
func FitScaler(group domain.Family, rows []features.Vector) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("fit scaler: no rows")
	}
	first := rows[0]
	for i, r := range rows {
		if r.SchemaVersion != first.SchemaVersion {
			return nil, fmt.Errorf("fit scaler: row %d: %w", i, domain.ErrSchemaMismatch)
		}
	}

	width := len(first.Values)
	s := &Scaler{
		Group:         group,
		SchemaVersion: first.SchemaVersion,
		Columns:       append([]string(nil), first.Columns...),
		Means:         make([]float64, width),
		Scales:        make([]float64, width),
	}

	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, r := range rows {
			col[i] = r.Values[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || !finite(std) {
			std = 1
		}
		s.Means[j] = mean
		s.Scales[j] = std
	}
	return s, nil
}

// Transform returns the standardized values of v. The vector must carry the
// exact schema version and column order the scaler was fit on.
func (s *Scaler) Transform(v features.Vector) ([]float64, error) {
	if v.SchemaVersion != s.SchemaVersion {
		return nil, fmt.Errorf("%w: scaler %s fit on %s, vector built for %s",
			domain.ErrSchemaMismatch, s.Group, s.SchemaVersion, v.SchemaVersion)
	}
	if err := features.CheckColumns(s.Columns, v.Columns); err != nil {
		return nil, err
	}
	out := make([]float64, len(v.Values))
	for i, x := range v.Values {
		out[i] = (x - s.Means[i]) / s.Scales[i]
	}
	return out, nil
}

// TransformAll standardizes every vector.
func (s *Scaler) TransformAll(vs []features.Vector) ([][]float64, error) {
	out := make([][]float64, len(vs))
	for i, v := range vs {
		x, err := s.Transform(v)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// Validate checks that a decoded scaler is internally consistent.
func (s *Scaler) Validate() error {
	n := len(s.Columns)
	if n == 0 || len(s.Means) != n || len(s.Scales) != n {
		return fmt.Errorf("scaler %s: inconsistent widths", s.Group)
	}
	if s.SchemaVersion == "" {
		return fmt.Errorf("scaler %s has no schema version", s.Group)
	}
	for _, sc := range s.Scales {
		if sc == 0 || !finite(sc) {
			return fmt.Errorf("scaler %s has an invalid scale", s.Group)
		}
	}
	if !allFinite(s.Means) {
		return fmt.Errorf("scaler %s has non-finite means", s.Group)
	}
	return nil
}
