// Package domain models climate observations, prediction targets, and the
// prediction result returned to callers.
//
// # Observations
//
// One observation is one region-day: the continuous climate readings
// (temperature °C, precipitation mm, relative humidity %, wind km/h, PM2.5
// µg/m³), an optional named event ("Heatwave", "Cyclone", ...), and the
// temperature observed LagDays earlier for the same region. Historical rows
// also carry labels for every target.
//
// # Targets
//
// Targets fall into three families, each with its own feature scaler:
//
//	risk      binary flags    high_heat_risk, high_flood_risk, high_resp_risk,
//	                          high_vector_risk, high_waterborne_risk
//	disease   case counts     heat_stress_cases, flood_injuries, resp_issues,
//	                          vector_diseases, waterborne_diseases, mental_health_cases
//	capacity  resource needs  beds_needed, staff_needed, icu_needed,
//	                          ventilators_needed, ambulances_needed, economic_cost
//
// Risk flags were labelled upstream with fixed thresholds on the day's
// readings:
//
//	heat:       temperature > 35
//	flood:      precipitation > 100
//	resp:       pm25 > 100
//	vector:     temperature > 30 and humidity > 70
//	waterborne: precipitation > 80
//
// # Methods
//
// Every estimate in a PredictionResult records how it was produced:
// "model" (trained artifact), "rule-based" (no artifact available), or
// "fallback" (an artifact exists but could not be used for this request).
package domain
