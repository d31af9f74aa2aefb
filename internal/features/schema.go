package features

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// Continuous and calendar columns, in vector order. One-hot region and event
// indicators follow them.
const (
	ColTemperature       = "temperature"
	ColPrecipitation     = "precipitation"
	ColHumidity          = "humidity"
	ColWind              = "wind"
	ColPM25              = "pm25"
	ColLaggedTemperature = "lagged_temperature"
	ColMonth             = "month"

	regionPrefix = "region="
	eventPrefix  = "event="
)

var baseColumns = []string{
	ColTemperature, ColPrecipitation, ColHumidity, ColWind, ColPM25, ColLaggedTemperature, ColMonth,
}

// Schema is the fixed one-hot vocabulary a scaler/model pair was fit against.
// Version is derived from the vocabulary, so equal vocabularies always share
// a version.
type Schema struct {
	Version string   `json:"version"`
	Regions []string `json:"regions"`
	Events  []string `json:"events"`
}

// NewSchema builds a schema from the given vocabularies. Values are trimmed,
// de-duplicated and sorted; empty values are dropped.
func NewSchema(regions, events []string) Schema {
	s := Schema{
		Regions: normalizeVocabulary(regions),
		Events:  normalizeVocabulary(events),
	}
	s.Version = s.computeVersion()
	return s
}

// SchemaFrom captures the region and event vocabulary of a training set.
func SchemaFrom(observations []domain.Observation) Schema {
	regions := make([]string, 0, len(observations))
	events := make([]string, 0, len(observations))
	for _, o := range observations {
		regions = append(regions, o.RegionID)
		events = append(events, o.Event)
	}
	return NewSchema(regions, events)
}

// Columns returns the ordered column names of vectors built for s.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(baseColumns)+len(s.Regions)+len(s.Events))
	cols = append(cols, baseColumns...)
	for _, r := range s.Regions {
		cols = append(cols, regionPrefix+r)
	}
	for _, e := range s.Events {
		cols = append(cols, eventPrefix+e)
	}
	return cols
}

// Width is the number of columns in vectors built for s.
func (s Schema) Width() int {
	return len(baseColumns) + len(s.Regions) + len(s.Events)
}

// Valid reports whether the stored version matches the vocabulary.
func (s Schema) Valid() bool {
	return s.Version != "" && s.Version == s.computeVersion()
}

func (s Schema) computeVersion() string {
	h := sha256.New()
	h.Write([]byte(strings.Join(baseColumns, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(s.Regions, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(s.Events, "\x1f")))
	return "v1-" + hex.EncodeToString(h.Sum(nil)[:6])
}

// normalizeVocabulary treats "None" as the absence of an event, matching how
// the historical tables encode it. Names differing only in case collapse to
// the first in byte order.
func normalizeVocabulary(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, "none") {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return slices.CompactFunc(out, strings.EqualFold)
}
