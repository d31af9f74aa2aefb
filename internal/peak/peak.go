// Package peak derives the historically worst month for each risk type and
// places a given month relative to it.
package peak

import (
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// Profile is the seasonal summary recomputed on every training run.
type Profile struct {
	PeakMonths      map[domain.Target]time.Month             `json:"peak_months"`
	MonthlyAverages map[domain.Target]map[time.Month]float64 `json:"monthly_averages"`
}

// Analyze groups labelled observations by calendar month and picks, per risk
// type, the month with the highest mean flag. Ties go to the lowest month.
// Risk types with no labelled rows are absent from the profile.
func Analyze(observations []domain.Observation) Profile {
	type acc struct {
		sum   float64
		count int
	}
	buckets := make(map[domain.Target]*[13]acc, len(domain.RiskTargets))

	for _, o := range observations {
		m := o.Date.Month()
		for _, t := range domain.RiskTargets {
			v, ok := o.Label(t)
			if !ok {
				continue
			}
			b := buckets[t]
			if b == nil {
				b = new([13]acc)
				buckets[t] = b
			}
			b[m].sum += v
			b[m].count++
		}
	}

	p := Profile{
		PeakMonths:      make(map[domain.Target]time.Month, len(buckets)),
		MonthlyAverages: make(map[domain.Target]map[time.Month]float64, len(buckets)),
	}
	for t, b := range buckets {
		avgs := make(map[time.Month]float64, 12)
		var best time.Month
		bestMean := 0.0
		for m := time.January; m <= time.December; m++ {
			if b[m].count == 0 {
				continue
			}
			mean := b[m].sum / float64(b[m].count)
			avgs[m] = mean
			// Strict comparison keeps the earliest month on ties.
			if best == 0 || mean > bestMean {
				best, bestMean = m, mean
			}
		}
		p.PeakMonths[t] = best
		p.MonthlyAverages[t] = avgs
	}
	return p
}

// MonthsAway is the forward cyclic distance from now to peak, in 0..11.
func MonthsAway(peak, now time.Month) int {
	return ((int(peak)-int(now))%12 + 12) % 12
}

// Classify places peak relative to the month of now.
func Classify(peak time.Month, now time.Month) domain.PeakContext {
	away := MonthsAway(peak, now)
	status := domain.PeakDistant
	switch {
	case away == 0:
		status = domain.PeakCurrent
	case away <= 3:
		status = domain.PeakUpcoming
	}
	return domain.PeakContext{
		PeakMonth:  peak.String(),
		MonthsAway: away,
		Status:     status,
	}
}

// Context returns the peak context of every risk type in p for the month of asOf.
func (p Profile) Context(asOf time.Time) map[domain.Target]domain.PeakContext {
	out := make(map[domain.Target]domain.PeakContext, len(p.PeakMonths))
	for _, t := range domain.RiskTargets {
		m, ok := p.PeakMonths[t]
		if !ok || m < time.January || m > time.December {
			continue
		}
		out[t] = Classify(m, asOf.Month())
	}
	return out
}

// Empty reports whether the profile holds no peaks.
func (p Profile) Empty() bool { return len(p.PeakMonths) == 0 }
