package domain

import "time"

// Method records how an estimate was produced.
type Method string

const (
	MethodModel     Method = "model"
	MethodRuleBased Method = "rule-based"
	MethodFallback  Method = "fallback"
)

// PeakStatus places a risk's historical peak month relative to the as-of month.
type PeakStatus string

const (
	PeakCurrent  PeakStatus = "current"
	PeakUpcoming PeakStatus = "upcoming"
	PeakDistant  PeakStatus = "distant"
)

// PeakContext is the seasonal context for one risk type.
type PeakContext struct {
	PeakMonth  string     `json:"peak_month"`
	MonthsAway int        `json:"months_away"`
	Status     PeakStatus `json:"status"`
}

// Trends is the recent stored series for a region, oldest first.
type Trends struct {
	Dates         []string  `json:"dates"`
	Temperature   []float64 `json:"temp"`
	Precipitation []float64 `json:"rain"`
}

// TrendsOf builds a series from observations ordered newest first.
func TrendsOf(recent []Observation) Trends {
	t := Trends{
		Dates:         make([]string, 0, len(recent)),
		Temperature:   make([]float64, 0, len(recent)),
		Precipitation: make([]float64, 0, len(recent)),
	}
	for i := len(recent) - 1; i >= 0; i-- {
		o := recent[i]
		t.Dates = append(t.Dates, o.Date.Format(time.DateOnly))
		t.Temperature = append(t.Temperature, o.Temperature)
		t.Precipitation = append(t.Precipitation, o.Precipitation)
	}
	return t
}

// PredictionResult is assembled fresh for each request and never persisted.
type PredictionResult struct {
	Region            string                 `json:"region"`
	AsOf              time.Time              `json:"date"`
	CurrentConditions Conditions             `json:"current_conditions"`
	Risks             map[string]float64     `json:"risks"`
	DiseaseEstimates  map[Target]float64     `json:"disease_estimates"`
	CapacityEstimates map[Target]int         `json:"capacity_estimates"`
	CapacityShortfall map[Target]int         `json:"capacity_shortfall,omitempty"`
	PeakTimes         map[string]PeakContext `json:"peak_times"`
	Trends            Trends                 `json:"trends"`
	MethodUsed        map[Target]Method      `json:"method_used"`
	ModelRunID        string                 `json:"model_run_id,omitempty"`
}
