package domain

import (
	"context"
	"strings"
	"time"
)

// LagDays is the distance between an observation and its lagged temperature.
const LagDays = 7

// Observation is one region-day of climate readings. Labels is populated only
// for historical rows used in training or as recent context for heuristics.
type Observation struct {
	RegionID      string    `json:"region"`
	Date          time.Time `json:"date"`
	Temperature   float64   `json:"temp"`
	Precipitation float64   `json:"rain"`
	Humidity      float64   `json:"humidity"`
	Wind          float64   `json:"wind"`
	PM25          float64   `json:"pm25"`
	Event         string    `json:"event,omitempty"`

	// LaggedTemperature is the temperature LagDays earlier for the same region.
	// Nil when no such history exists.
	LaggedTemperature *float64 `json:"lagged_temp,omitempty"`

	Labels map[Target]float64 `json:"labels,omitempty"`
}

// Label returns the labelled value for t, if present.
func (o Observation) Label(t Target) (float64, bool) {
	if o.Labels == nil {
		return 0, false
	}
	v, ok := o.Labels[t]
	return v, ok
}

// AttachLaggedTemperature sets LaggedTemperature on every observation that
// lacks one, using the same region's temperature exactly LagDays earlier.
// Observations without such a row keep a nil lag.
func AttachLaggedTemperature(observations []Observation) {
	type key struct {
		region string
		date   string
	}
	temps := make(map[key]float64, len(observations))
	for _, o := range observations {
		temps[key{strings.ToLower(o.RegionID), o.Date.Format(time.DateOnly)}] = o.Temperature
	}
	for i := range observations {
		o := &observations[i]
		if o.LaggedTemperature != nil {
			continue
		}
		k := key{strings.ToLower(o.RegionID), o.Date.AddDate(0, 0, -LagDays).Format(time.DateOnly)}
		if t, ok := temps[k]; ok {
			o.LaggedTemperature = &t
		}
	}
}

// Readings are caller-supplied environmental values that replace the stored
// observation for a prediction.
type Readings struct {
	Temperature   float64 `json:"temp"`
	Precipitation float64 `json:"rain"`
	Humidity      float64 `json:"humidity"`
	Wind          float64 `json:"wind"`
	PM25          float64 `json:"pm25"`
	Event         string  `json:"event,omitempty"`
}

// Conditions echoes the readings a prediction was scored against.
type Conditions struct {
	Temperature   float64 `json:"temp"`
	Precipitation float64 `json:"rain"`
	Humidity      float64 `json:"humidity"`
	Wind          float64 `json:"wind"`
	PM25          float64 `json:"pm25"`
	Event         string  `json:"event"`
}

// ConditionsOf extracts the current conditions from an observation.
func ConditionsOf(o Observation) Conditions {
	event := o.Event
	if event == "" {
		event = "None"
	}
	return Conditions{
		Temperature:   o.Temperature,
		Precipitation: o.Precipitation,
		Humidity:      o.Humidity,
		Wind:          o.Wind,
		PM25:          o.PM25,
		Event:         event,
	}
}

// ArtifactsUpdated announces a newly committed artifact set.
type ArtifactsUpdated struct {
	RunID     string    `json:"run_id"`
	TrainedAt time.Time `json:"trained_at"`
	Trained   []Target  `json:"trained"`
	Skipped   []Target  `json:"skipped,omitempty"`
}

// ArtifactEvent is an ArtifactsUpdated message received from the event bus.
// Commit acknowledges it and may be nil when the source does not track offsets.
type ArtifactEvent struct {
	Update    ArtifactsUpdated
	Topic     string
	Partition int
	Offset    int64
	Commit    func(ctx context.Context) error
}
