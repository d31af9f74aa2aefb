package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StateStore holds small pieces of mutable operational state (current
// capacity settings, community feedback, team notes). Implementations must be safe for
// concurrent use.
type StateStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Append adds value to the list stored under key and returns the new length.
	Append(ctx context.Context, key string, value []byte) (int64, error)
	// List returns every value appended under key, oldest first.
	List(ctx context.Context, key string) ([][]byte, error)
}

const (
	capacityKey = "capacity"
	feedbackKey = "feedback"
	notesKey    = "notes"
)

// CapacitySettings is the capacity a facility currently has on hand.
type CapacitySettings struct {
	Beds        int `json:"beds"`
	Staff       int `json:"staff"`
	ICU         int `json:"icu"`
	Ventilators int `json:"ventilators"`
	Ambulances  int `json:"ambulances"`
}

// DefaultCapacity is reported until an operator stores real settings.
var DefaultCapacity = CapacitySettings{Beds: 50, Staff: 20, ICU: 5, Ventilators: 3, Ambulances: 2}

// Available returns the on-hand amount for a capacity target.
func (c CapacitySettings) Available(t Target) (int, bool) {
	switch t {
	case BedsNeeded:
		return c.Beds, true
	case StaffNeeded:
		return c.Staff, true
	case ICUNeeded:
		return c.ICU, true
	case VentilatorsNeeded:
		return c.Ventilators, true
	case AmbulancesNeeded:
		return c.Ambulances, true
	default:
		return 0, false
	}
}

// Feedback is a community incident report.
type Feedback struct {
	ID           int64     `json:"id"`
	Region       string    `json:"city"`
	IncidentType string    `json:"incident_type"`
	Description  string    `json:"description"`
	Severity     int       `json:"severity"`
	Contact      string    `json:"contact,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Note is a free-text note left by the response team about a region.
type Note struct {
	ID        int64     `json:"id"`
	Region    string    `json:"city"`
	Text      string    `json:"note"`
	Author    string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LoadCapacity reads the stored capacity settings, returning DefaultCapacity
// when none have been saved.
func LoadCapacity(ctx context.Context, store StateStore) (CapacitySettings, error) {
	raw, err := store.Get(ctx, capacityKey)
	if errors.Is(err, ErrNotFound) {
		return DefaultCapacity, nil
	}
	if err != nil {
		return CapacitySettings{}, fmt.Errorf("load capacity: %w", err)
	}
	var c CapacitySettings
	if err := json.Unmarshal(raw, &c); err != nil {
		return CapacitySettings{}, fmt.Errorf("decode capacity: %w", err)
	}
	return c, nil
}

// SaveCapacity replaces the stored capacity settings.
func SaveCapacity(ctx context.Context, store StateStore, c CapacitySettings) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode capacity: %w", err)
	}
	return store.Set(ctx, capacityKey, raw)
}

// AppendFeedback stores a feedback report and returns it with its assigned ID.
// IDs are list positions, so concurrent appends never share one.
func AppendFeedback(ctx context.Context, store StateStore, f Feedback) (Feedback, error) {
	f.ID = 0
	raw, err := json.Marshal(f)
	if err != nil {
		return Feedback{}, fmt.Errorf("encode feedback: %w", err)
	}
	n, err := store.Append(ctx, feedbackKey, raw)
	if err != nil {
		return Feedback{}, fmt.Errorf("append feedback: %w", err)
	}
	f.ID = n
	return f, nil
}

// ListFeedback returns every stored feedback report, oldest first.
func ListFeedback(ctx context.Context, store StateStore) ([]Feedback, error) {
	raws, err := store.List(ctx, feedbackKey)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	out := make([]Feedback, 0, len(raws))
	for i, raw := range raws {
		var f Feedback
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		f.ID = int64(i) + 1
		out = append(out, f)
	}
	return out, nil
}

// AppendNote stores a team note and returns it with its assigned ID.
func AppendNote(ctx context.Context, store StateStore, n Note) (Note, error) {
	n.ID = 0
	raw, err := json.Marshal(n)
	if err != nil {
		return Note{}, fmt.Errorf("encode note: %w", err)
	}
	id, err := store.Append(ctx, notesKey, raw)
	if err != nil {
		return Note{}, fmt.Errorf("append note: %w", err)
	}
	n.ID = id
	return n, nil
}

// ListNotes returns stored team notes oldest first, keeping only those for
// region when it is non-empty. Regions match case-insensitively.
func ListNotes(ctx context.Context, store StateStore, region string) ([]Note, error) {
	raws, err := store.List(ctx, notesKey)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	region = strings.TrimSpace(region)
	out := make([]Note, 0, len(raws))
	for i, raw := range raws {
		var n Note
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decode note: %w", err)
		}
		if region != "" && !strings.EqualFold(n.Region, region) {
			continue
		}
		n.ID = int64(i) + 1
		out = append(out, n)
	}
	return out, nil
}
