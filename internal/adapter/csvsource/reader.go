// Package csvsource reads historical observations from a CSV export with a
// header row. Column order is free; unknown columns are ignored.
package csvsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// Required columns. Label columns are the target names and are optional.
const (
	colDate          = "date"
	colCity          = "city"
	colTemperature   = "temp"
	colPrecipitation = "rain"
	colHumidity      = "humidity"
	colWind          = "wind"
	colPM25          = "pm25"
	colEvent         = "event"
	colLaggedTemp    = "lagged_temp"
)

var requiredColumns = []string{colDate, colCity, colTemperature, colPrecipitation, colHumidity, colWind, colPM25}

var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04:05"}

// ParseError locates a malformed value.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %q: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReadFile opens path and reads every observation from it.
func ReadFile(path string) ([]domain.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses observations from r. Rows missing a lagged temperature get one
// from the same region seven days earlier when that row is present.
func Read(r io.Reader) ([]domain.Observation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", c)
		}
	}

	var out []domain.Observation
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		obs, err := parseRecord(record, index, line)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}

	domain.AttachLaggedTemperature(out)
	return out, nil
}

func parseRecord(record []string, index map[string]int, line int) (domain.Observation, error) {
	field := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	number := func(col string) (float64, error) {
		v, err := parseNumber(field(col))
		if err != nil {
			return 0, &ParseError{Line: line, Column: col, Err: err}
		}
		return v, nil
	}

	date, err := parseDate(field(colDate))
	if err != nil {
		return domain.Observation{}, &ParseError{Line: line, Column: colDate, Err: err}
	}
	obs := domain.Observation{
		RegionID: field(colCity),
		Date:     date,
		Event:    normalizeEvent(field(colEvent)),
	}
	if obs.RegionID == "" {
		return domain.Observation{}, &ParseError{Line: line, Column: colCity, Err: errors.New("empty value")}
	}

	for col, dst := range map[string]*float64{
		colTemperature:   &obs.Temperature,
		colPrecipitation: &obs.Precipitation,
		colHumidity:      &obs.Humidity,
		colWind:          &obs.Wind,
		colPM25:          &obs.PM25,
	} {
		if *dst, err = number(col); err != nil {
			return domain.Observation{}, err
		}
	}

	if raw := field(colLaggedTemp); raw != "" {
		v, err := number(colLaggedTemp)
		if err != nil {
			return domain.Observation{}, err
		}
		obs.LaggedTemperature = &v
	}

	for _, t := range domain.AllTargets() {
		raw := field(string(t))
		if raw == "" {
			continue
		}
		v, err := parseLabel(raw)
		if err != nil {
			return domain.Observation{}, &ParseError{Line: line, Column: string(t), Err: err}
		}
		if obs.Labels == nil {
			obs.Labels = make(map[domain.Target]float64)
		}
		obs.Labels[t] = v
	}
	return obs, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// parseNumber treats an empty cell as zero.
func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseLabel accepts numbers and the boolean spellings used for risk flags.
func parseLabel(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func normalizeEvent(s string) string {
	if strings.EqualFold(s, "none") {
		return ""
	}
	return s
}
