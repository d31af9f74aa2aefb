package domain

// Family groups targets that share a feature scaler.
type Family string

const (
	FamilyRisk     Family = "risk"
	FamilyDisease  Family = "disease"
	FamilyCapacity Family = "capacity"
)

// Families lists the target families in training order.
var Families = []Family{FamilyRisk, FamilyDisease, FamilyCapacity}

// Target is one predicted quantity with its own trained model.
type Target string

const (
	HighHeatRisk       Target = "high_heat_risk"
	HighFloodRisk      Target = "high_flood_risk"
	HighRespRisk       Target = "high_resp_risk"
	HighVectorRisk     Target = "high_vector_risk"
	HighWaterborneRisk Target = "high_waterborne_risk"

	HeatStressCases    Target = "heat_stress_cases"
	FloodInjuries      Target = "flood_injuries"
	RespIssues         Target = "resp_issues"
	VectorDiseases     Target = "vector_diseases"
	WaterborneDiseases Target = "waterborne_diseases"
	MentalHealthCases  Target = "mental_health_cases"

	BedsNeeded        Target = "beds_needed"
	StaffNeeded       Target = "staff_needed"
	ICUNeeded         Target = "icu_needed"
	VentilatorsNeeded Target = "ventilators_needed"
	AmbulancesNeeded  Target = "ambulances_needed"
	EconomicCost      Target = "economic_cost"
)

var (
	RiskTargets = []Target{
		HighHeatRisk, HighFloodRisk, HighRespRisk, HighVectorRisk, HighWaterborneRisk,
	}
	DiseaseTargets = []Target{
		HeatStressCases, FloodInjuries, RespIssues, VectorDiseases, WaterborneDiseases, MentalHealthCases,
	}
	CapacityTargets = []Target{
		BedsNeeded, StaffNeeded, ICUNeeded, VentilatorsNeeded, AmbulancesNeeded, EconomicCost,
	}
)

// riskKeys maps risk targets to the short keys used in responses.
var riskKeys = map[Target]string{
	HighHeatRisk:       "heat",
	HighFloodRisk:      "flood",
	HighRespRisk:       "resp",
	HighVectorRisk:     "vector",
	HighWaterborneRisk: "waterborne",
}

// linkedDisease is the case count whose recent level drives a risk's rule-based score.
var linkedDisease = map[Target]Target{
	HighHeatRisk:       HeatStressCases,
	HighFloodRisk:      FloodInjuries,
	HighRespRisk:       RespIssues,
	HighVectorRisk:     VectorDiseases,
	HighWaterborneRisk: WaterborneDiseases,
}

// TargetsOf returns the targets belonging to f.
func TargetsOf(f Family) []Target {
	switch f {
	case FamilyRisk:
		return RiskTargets
	case FamilyDisease:
		return DiseaseTargets
	case FamilyCapacity:
		return CapacityTargets
	default:
		return nil
	}
}

// AllTargets returns every known target in family order.
func AllTargets() []Target {
	out := make([]Target, 0, len(RiskTargets)+len(DiseaseTargets)+len(CapacityTargets))
	out = append(out, RiskTargets...)
	out = append(out, DiseaseTargets...)
	return append(out, CapacityTargets...)
}

// Family reports which family t belongs to, or "" if t is unknown.
func (t Target) Family() Family {
	for _, f := range Families {
		for _, candidate := range TargetsOf(f) {
			if candidate == t {
				return f
			}
		}
	}
	return ""
}

// Valid reports whether t is a known target.
func (t Target) Valid() bool { return t.Family() != "" }

// RiskKey returns the short response key for a risk target ("heat", "flood", ...).
func (t Target) RiskKey() string { return riskKeys[t] }

// LinkedDisease returns the disease count tied to a risk target.
func (t Target) LinkedDisease() (Target, bool) {
	d, ok := linkedDisease[t]
	return d, ok
}
