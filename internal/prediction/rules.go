package prediction

import (
	"math"
	"strings"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// Rule constants. The risk divisor turns a mean daily case count into a 0..1
// score; capacity bases are the beds and staff a region needs with every
// factor at 1.
const (
	riskCaseDivisor = 15.0
	baseBeds        = 50.0
	baseStaff       = 20.0

	highRiskFactor   = 0.8
	mediumRiskFactor = 0.5
	lowRiskFactor    = 0.3
	monsoonFactor    = 1.2
)

// DefaultHighRiskRegions and DefaultMediumRiskRegions seed the region factor.
var (
	DefaultHighRiskRegions   = []string{"Delhi", "Kolkata", "Mumbai", "Kanpur", "Lucknow", "Patna"}
	DefaultMediumRiskRegions = []string{"Chennai", "Bangalore", "Hyderabad", "Ahmedabad", "Pune"}
)

// eventMultipliers scale rule-based disease estimates during an extreme event.
// The emergencyKey entry scales the emergency load used for ambulances.
var eventMultipliers = map[string]map[domain.Target]float64{
	"Cyclone": {
		domain.FloodInjuries:     3,
		emergencyKey:             5,
		domain.MentalHealthCases: 2,
	},
	"Heatwave": {
		domain.HeatStressCases:   4,
		domain.MentalHealthCases: 1.5,
	},
	"Severe Air Pollution": {
		domain.RespIssues:        5,
		domain.MentalHealthCases: 1.2,
	},
	"Drought": {
		domain.WaterborneDiseases: 0.5,
		domain.MentalHealthCases:  2,
	},
	"Urban Flooding": {
		domain.FloodInjuries:      4,
		domain.WaterborneDiseases: 3,
		emergencyKey:              3,
	},
}

const emergencyKey domain.Target = "emergency"

// economicWeights are thousands of currency units per case.
var economicWeights = map[domain.Target]float64{
	domain.HeatStressCases:    5,
	domain.FloodInjuries:      8,
	domain.RespIssues:         6,
	domain.VectorDiseases:     10,
	domain.WaterborneDiseases: 4,
	domain.MentalHealthCases:  2,
}

// Rules produces deterministic estimates for every target without a model.
type Rules struct {
	high   map[string]struct{}
	medium map[string]struct{}
}

// NewRules creates rule heuristics with the given region risk lists.
func NewRules(highRisk, mediumRisk []string) *Rules {
	return &Rules{high: regionSet(highRisk), medium: regionSet(mediumRisk)}
}

func regionSet(regions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

// Risks scores each risk type from the mean of its linked case count over the
// recent history. With no labelled history the labelling threshold on the
// current conditions decides 0 or 1.
func (r *Rules) Risks(current domain.Observation, recent []domain.Observation) map[domain.Target]float64 {
	out := make(map[domain.Target]float64, len(domain.RiskTargets))
	for _, t := range domain.RiskTargets {
		disease, _ := t.LinkedDisease()
		var sum float64
		var n int
		for _, o := range recent {
			if v, ok := o.Label(disease); ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			out[t] = clamp(sum/float64(n)/riskCaseDivisor, 0, 1)
			continue
		}
		if exceedsThreshold(t, current) {
			out[t] = 1
		} else {
			out[t] = 0
		}
	}
	return out
}

// exceedsThreshold applies the rule that labels a day as high risk.
func exceedsThreshold(t domain.Target, o domain.Observation) bool {
	switch t {
	case domain.HighHeatRisk:
		return o.Temperature > 35
	case domain.HighFloodRisk:
		return o.Precipitation > 100
	case domain.HighRespRisk:
		return o.PM25 > 100
	case domain.HighVectorRisk:
		return o.Temperature > 30 && o.Humidity > 70
	case domain.HighWaterborneRisk:
		return o.Precipitation > 80
	default:
		return false
	}
}

// Diseases applies the health-impact formulas and event multipliers.
func (r *Rules) Diseases(o domain.Observation) map[domain.Target]float64 {
	t, rain, hum, pm := o.Temperature, o.Precipitation, o.Humidity, o.PM25

	out := map[domain.Target]float64{
		domain.HeatStressCases:    0,
		domain.FloodInjuries:      0,
		domain.RespIssues:         pm * 0.02,
		domain.VectorDiseases:     t*0.1 + rain*0.02 + hum*0.01,
		domain.WaterborneDiseases: 0,
		domain.MentalHealthCases:  0,
	}
	if t > 30 {
		out[domain.HeatStressCases] = (t - 30) * 0.3
	}
	if rain > 50 {
		out[domain.FloodInjuries] = (rain - 50) * 0.05
	}
	if rain > 30 {
		out[domain.WaterborneDiseases] = rain * 0.04
	}
	if t > 35 {
		out[domain.MentalHealthCases] += 10
	}
	if rain > 100 {
		out[domain.MentalHealthCases] += 15
	}

	for target, m := range eventMultipliers[strings.TrimSpace(o.Event)] {
		if _, ok := out[target]; ok {
			out[target] *= m
		}
	}
	for target, v := range out {
		out[target] = math.Max(0, v)
	}
	return out
}

// Emergency is the emergency caseload implied by disease estimates.
func (r *Rules) Emergency(diseases map[domain.Target]float64, event string) float64 {
	var sum float64
	for _, t := range []domain.Target{
		domain.HeatStressCases, domain.FloodInjuries, domain.RespIssues,
		domain.VectorDiseases, domain.WaterborneDiseases,
	} {
		sum += diseases[t]
	}
	e := 0.3 * sum
	if m, ok := eventMultipliers[strings.TrimSpace(event)][emergencyKey]; ok {
		e *= m
	}
	return e
}

// RegionFactor is 0.8 for high-risk regions, 0.5 for medium-risk regions or
// an unknown region, and 0.3 otherwise.
func (r *Rules) RegionFactor(region string) float64 {
	key := strings.ToLower(strings.TrimSpace(region))
	if key == "" {
		return mediumRiskFactor
	}
	if _, ok := r.high[key]; ok {
		return highRiskFactor
	}
	if _, ok := r.medium[key]; ok {
		return mediumRiskFactor
	}
	return lowRiskFactor
}

// SeasonFactor is 1.2 during the June to September monsoon.
func SeasonFactor(m time.Month) float64 {
	if m >= time.June && m <= time.September {
		return monsoonFactor
	}
	return 1
}

// PollutionFactor is pm25/30 bounded to [0.5, 1.5].
func PollutionFactor(pm25 float64) float64 {
	return clamp(pm25/30, 0.5, 1.5)
}

// Capacity estimates resources from region, season, pollution and the
// disease load.
func (r *Rules) Capacity(region string, month time.Month, o domain.Observation, diseases map[domain.Target]float64) map[domain.Target]float64 {
	factor := r.RegionFactor(region) * SeasonFactor(month) * PollutionFactor(o.PM25)
	beds := math.Round(baseBeds * factor)
	staff := math.Round(baseStaff * factor)

	var economic float64
	for _, t := range domain.DiseaseTargets {
		economic += economicWeights[t] * diseases[t]
	}

	return map[domain.Target]float64{
		domain.BedsNeeded:        beds,
		domain.StaffNeeded:       staff,
		domain.ICUNeeded:         math.Max(2, math.Round(beds*0.15)),
		domain.VentilatorsNeeded: math.Max(1, math.Round(beds*0.08)),
		domain.AmbulancesNeeded:  math.Max(1, math.Round(r.Emergency(diseases, o.Event)*0.1)),
		domain.EconomicCost:      1000 * economic,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
