// Package postgres reads and writes historical region-day observations in the
// climate, health, capacity and risk tables.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Schema creates the history tables when they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS climate (
	city        TEXT NOT NULL,
	date        DATE NOT NULL,
	temp        DOUBLE PRECISION NOT NULL,
	rain        DOUBLE PRECISION NOT NULL,
	humidity    DOUBLE PRECISION NOT NULL,
	wind        DOUBLE PRECISION NOT NULL,
	pm25        DOUBLE PRECISION NOT NULL,
	event       TEXT NOT NULL DEFAULT '',
	lagged_temp DOUBLE PRECISION,
	PRIMARY KEY (city, date)
);
CREATE TABLE IF NOT EXISTS health (
	city                TEXT NOT NULL,
	date                DATE NOT NULL,
	heat_stress_cases   DOUBLE PRECISION,
	flood_injuries      DOUBLE PRECISION,
	resp_issues         DOUBLE PRECISION,
	vector_diseases     DOUBLE PRECISION,
	waterborne_diseases DOUBLE PRECISION,
	mental_health_cases DOUBLE PRECISION,
	PRIMARY KEY (city, date)
);
CREATE TABLE IF NOT EXISTS capacity (
	city               TEXT NOT NULL,
	date               DATE NOT NULL,
	beds_needed        DOUBLE PRECISION,
	staff_needed       DOUBLE PRECISION,
	icu_needed         DOUBLE PRECISION,
	ventilators_needed DOUBLE PRECISION,
	ambulances_needed  DOUBLE PRECISION,
	economic_cost      DOUBLE PRECISION,
	PRIMARY KEY (city, date)
);
CREATE TABLE IF NOT EXISTS risk (
	city                 TEXT NOT NULL,
	date                 DATE NOT NULL,
	high_heat_risk       BOOLEAN,
	high_flood_risk      BOOLEAN,
	high_resp_risk       BOOLEAN,
	high_vector_risk     BOOLEAN,
	high_waterborne_risk BOOLEAN,
	PRIMARY KEY (city, date)
);
CREATE INDEX IF NOT EXISTS climate_city_lower_date ON climate (lower(city), date DESC);
`

const selectObservations = `
	SELECT
		c.city, c.date, c.temp, c.rain, c.humidity, c.wind, c.pm25, c.event, c.lagged_temp,
		h.heat_stress_cases, h.flood_injuries, h.resp_issues,
		h.vector_diseases, h.waterborne_diseases, h.mental_health_cases,
		cap.beds_needed, cap.staff_needed, cap.icu_needed,
		cap.ventilators_needed, cap.ambulances_needed, cap.economic_cost,
		r.high_heat_risk, r.high_flood_risk, r.high_resp_risk,
		r.high_vector_risk, r.high_waterborne_risk
	FROM climate c
	LEFT JOIN health h ON h.city = c.city AND h.date = c.date
	LEFT JOIN capacity cap ON cap.city = c.city AND cap.date = c.date
	LEFT JOIN risk r ON r.city = c.city AND r.date = c.date`

// row is one joined region-day. Label columns are nullable because the
// health, capacity and risk rows are optional.
type row struct {
	City       string    `db:"city"`
	Date       time.Time `db:"date"`
	Temp       float64   `db:"temp"`
	Rain       float64   `db:"rain"`
	Humidity   float64   `db:"humidity"`
	Wind       float64   `db:"wind"`
	PM25       float64   `db:"pm25"`
	Event      string    `db:"event"`
	LaggedTemp *float64  `db:"lagged_temp"`

	HeatStressCases    *float64 `db:"heat_stress_cases"`
	FloodInjuries      *float64 `db:"flood_injuries"`
	RespIssues         *float64 `db:"resp_issues"`
	VectorDiseases     *float64 `db:"vector_diseases"`
	WaterborneDiseases *float64 `db:"waterborne_diseases"`
	MentalHealthCases  *float64 `db:"mental_health_cases"`

	BedsNeeded        *float64 `db:"beds_needed"`
	StaffNeeded       *float64 `db:"staff_needed"`
	ICUNeeded         *float64 `db:"icu_needed"`
	VentilatorsNeeded *float64 `db:"ventilators_needed"`
	AmbulancesNeeded  *float64 `db:"ambulances_needed"`
	EconomicCost      *float64 `db:"economic_cost"`

	HighHeatRisk       *bool `db:"high_heat_risk"`
	HighFloodRisk      *bool `db:"high_flood_risk"`
	HighRespRisk       *bool `db:"high_resp_risk"`
	HighVectorRisk     *bool `db:"high_vector_risk"`
	HighWaterborneRisk *bool `db:"high_waterborne_risk"`
}

func (r row) observation() domain.Observation {
	y, m, d := r.Date.Date()
	obs := domain.Observation{
		RegionID:          r.City,
		Date:              time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Temperature:       r.Temp,
		Precipitation:     r.Rain,
		Humidity:          r.Humidity,
		Wind:              r.Wind,
		PM25:              r.PM25,
		Event:             r.Event,
		LaggedTemperature: r.LaggedTemp,
	}
	labels := make(map[domain.Target]float64)
	for t, v := range map[domain.Target]*float64{
		domain.HeatStressCases:    r.HeatStressCases,
		domain.FloodInjuries:      r.FloodInjuries,
		domain.RespIssues:         r.RespIssues,
		domain.VectorDiseases:     r.VectorDiseases,
		domain.WaterborneDiseases: r.WaterborneDiseases,
		domain.MentalHealthCases:  r.MentalHealthCases,
		domain.BedsNeeded:         r.BedsNeeded,
		domain.StaffNeeded:        r.StaffNeeded,
		domain.ICUNeeded:          r.ICUNeeded,
		domain.VentilatorsNeeded:  r.VentilatorsNeeded,
		domain.AmbulancesNeeded:   r.AmbulancesNeeded,
		domain.EconomicCost:       r.EconomicCost,
	} {
		if v != nil {
			labels[t] = *v
		}
	}
	for t, v := range map[domain.Target]*bool{
		domain.HighHeatRisk:       r.HighHeatRisk,
		domain.HighFloodRisk:      r.HighFloodRisk,
		domain.HighRespRisk:       r.HighRespRisk,
		domain.HighVectorRisk:     r.HighVectorRisk,
		domain.HighWaterborneRisk: r.HighWaterborneRisk,
	} {
		if v == nil {
			continue
		}
		labels[t] = 0
		if *v {
			labels[t] = 1
		}
	}
	if len(labels) > 0 {
		obs.Labels = labels
	}
	return obs
}

// Repository is the Postgres-backed observation history.
type Repository struct {
	db *sqlx.DB
}

// Connect opens and pings a Postgres connection.
func Connect(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewRepository(db), nil
}

// NewRepository wraps an open connection.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the history tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (r *Repository) CheckReadiness(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Observations returns every stored region-day with its labels, ordered by
// region and date, with missing lagged temperatures filled from history.
func (r *Repository) Observations(ctx context.Context) ([]domain.Observation, error) {
	const query = selectObservations + `
	ORDER BY c.city, c.date`

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	out := make([]domain.Observation, len(rows))
	for i, rw := range rows {
		out[i] = rw.observation()
	}
	domain.AttachLaggedTemperature(out)
	return out, nil
}

// Latest returns the newest observation for region at or before asOf. A zero
// asOf is unbounded.
func (r *Repository) Latest(ctx context.Context, region string, asOf time.Time) (domain.Observation, error) {
	rows, err := r.recent(ctx, region, asOf, 1)
	if err != nil {
		return domain.Observation{}, err
	}
	if len(rows) == 0 {
		return domain.Observation{}, fmt.Errorf("observation for %q: %w", region, domain.ErrNotFound)
	}
	return rows[0], nil
}

// Recent returns up to n observations for region at or before asOf, newest first.
func (r *Repository) Recent(ctx context.Context, region string, asOf time.Time, n int) ([]domain.Observation, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.recent(ctx, region, asOf, n)
}

func (r *Repository) recent(ctx context.Context, region string, asOf time.Time, n int) ([]domain.Observation, error) {
	const query = selectObservations + `
	WHERE lower(c.city) = lower($1) AND ($2::date IS NULL OR c.date <= $2::date)
	ORDER BY c.date DESC
	LIMIT $3`

	var bound *string
	if !asOf.IsZero() {
		s := asOf.UTC().Format(time.DateOnly)
		bound = &s
	}

	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, region, bound, n); err != nil {
		return nil, fmt.Errorf("failed to query recent observations: %w", err)
	}
	out := make([]domain.Observation, len(rows))
	for i, rw := range rows {
		out[i] = rw.observation()
	}
	return out, nil
}

// Insert upserts observations and their labels in one transaction.
func (r *Repository) Insert(ctx context.Context, observations []domain.Observation) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, o := range observations {
		if err = insertObservation(ctx, tx, o); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observations: %w", err)
	}
	return nil
}

func insertObservation(ctx context.Context, tx *sqlx.Tx, o domain.Observation) error {
	const climate = `
		INSERT INTO climate (city, date, temp, rain, humidity, wind, pm25, event, lagged_temp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (city, date) DO UPDATE SET
			temp = EXCLUDED.temp, rain = EXCLUDED.rain, humidity = EXCLUDED.humidity,
			wind = EXCLUDED.wind, pm25 = EXCLUDED.pm25, event = EXCLUDED.event,
			lagged_temp = EXCLUDED.lagged_temp`
	const health = `
		INSERT INTO health (city, date, heat_stress_cases, flood_injuries, resp_issues,
			vector_diseases, waterborne_diseases, mental_health_cases)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (city, date) DO UPDATE SET
			heat_stress_cases = EXCLUDED.heat_stress_cases, flood_injuries = EXCLUDED.flood_injuries,
			resp_issues = EXCLUDED.resp_issues, vector_diseases = EXCLUDED.vector_diseases,
			waterborne_diseases = EXCLUDED.waterborne_diseases, mental_health_cases = EXCLUDED.mental_health_cases`
	const capacity = `
		INSERT INTO capacity (city, date, beds_needed, staff_needed, icu_needed,
			ventilators_needed, ambulances_needed, economic_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (city, date) DO UPDATE SET
			beds_needed = EXCLUDED.beds_needed, staff_needed = EXCLUDED.staff_needed,
			icu_needed = EXCLUDED.icu_needed, ventilators_needed = EXCLUDED.ventilators_needed,
			ambulances_needed = EXCLUDED.ambulances_needed, economic_cost = EXCLUDED.economic_cost`
	const risk = `
		INSERT INTO risk (city, date, high_heat_risk, high_flood_risk, high_resp_risk,
			high_vector_risk, high_waterborne_risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (city, date) DO UPDATE SET
			high_heat_risk = EXCLUDED.high_heat_risk, high_flood_risk = EXCLUDED.high_flood_risk,
			high_resp_risk = EXCLUDED.high_resp_risk, high_vector_risk = EXCLUDED.high_vector_risk,
			high_waterborne_risk = EXCLUDED.high_waterborne_risk`

	date := o.Date.UTC().Format(time.DateOnly)
	if _, err := tx.ExecContext(ctx, climate,
		o.RegionID, date, o.Temperature, o.Precipitation, o.Humidity, o.Wind, o.PM25, o.Event, o.LaggedTemperature,
	); err != nil {
		return fmt.Errorf("failed to insert climate row: %w", err)
	}

	if hasAny(o, domain.DiseaseTargets) {
		if _, err := tx.ExecContext(ctx, health, append([]any{o.RegionID, date}, labelArgs(o, domain.DiseaseTargets)...)...); err != nil {
			return fmt.Errorf("failed to insert health row: %w", err)
		}
	}
	if hasAny(o, domain.CapacityTargets) {
		if _, err := tx.ExecContext(ctx, capacity, append([]any{o.RegionID, date}, labelArgs(o, domain.CapacityTargets)...)...); err != nil {
			return fmt.Errorf("failed to insert capacity row: %w", err)
		}
	}
	if hasAny(o, domain.RiskTargets) {
		args := []any{o.RegionID, date}
		for _, t := range domain.RiskTargets {
			if v, ok := o.Label(t); ok {
				args = append(args, v >= 0.5)
			} else {
				args = append(args, nil)
			}
		}
		if _, err := tx.ExecContext(ctx, risk, args...); err != nil {
			return fmt.Errorf("failed to insert risk row: %w", err)
		}
	}
	return nil
}

func hasAny(o domain.Observation, targets []domain.Target) bool {
	for _, t := range targets {
		if _, ok := o.Label(t); ok {
			return true
		}
	}
	return false
}

func labelArgs(o domain.Observation, targets []domain.Target) []any {
	args := make([]any, 0, len(targets))
	for _, t := range targets {
		if v, ok := o.Label(t); ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	return args
}
