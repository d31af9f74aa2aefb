package peak

import (
	"testing"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(month time.Month, labels map[domain.Target]float64) domain.Observation {
	return domain.Observation{
		RegionID: "Delhi",
		Date:     time.Date(2023, month, 10, 0, 0, 0, 0, time.UTC),
		Labels:   labels,
	}
}

func TestAnalyze_PicksHighestMonthlyMean(t *testing.T) {
	p := Analyze([]domain.Observation{
		obs(time.May, map[domain.Target]float64{domain.HighHeatRisk: 1, domain.HighFloodRisk: 0}),
		obs(time.May, map[domain.Target]float64{domain.HighHeatRisk: 1, domain.HighFloodRisk: 0}),
		obs(time.June, map[domain.Target]float64{domain.HighHeatRisk: 1, domain.HighFloodRisk: 0}),
		obs(time.June, map[domain.Target]float64{domain.HighHeatRisk: 0, domain.HighFloodRisk: 1}),
		obs(time.August, map[domain.Target]float64{domain.HighHeatRisk: 0, domain.HighFloodRisk: 1}),
	})

	assert.Equal(t, time.May, p.PeakMonths[domain.HighHeatRisk])
	assert.Equal(t, time.August, p.PeakMonths[domain.HighFloodRisk])
	assert.InDelta(t, 0.5, p.MonthlyAverages[domain.HighHeatRisk][time.June], 1e-9)
	assert.NotContains(t, p.PeakMonths, domain.HighRespRisk, "unlabelled risk has no peak")
}

func TestAnalyze_TiesGoToLowestMonth(t *testing.T) {
	p := Analyze([]domain.Observation{
		obs(time.October, map[domain.Target]float64{domain.HighVectorRisk: 1}),
		obs(time.March, map[domain.Target]float64{domain.HighVectorRisk: 1}),
		obs(time.July, map[domain.Target]float64{domain.HighVectorRisk: 1}),
		obs(time.January, map[domain.Target]float64{domain.HighVectorRisk: 0}),
	})
	assert.Equal(t, time.March, p.PeakMonths[domain.HighVectorRisk])

	allZero := Analyze([]domain.Observation{
		obs(time.December, map[domain.Target]float64{domain.HighRespRisk: 0}),
		obs(time.February, map[domain.Target]float64{domain.HighRespRisk: 0}),
	})
	assert.Equal(t, time.February, allZero.PeakMonths[domain.HighRespRisk])
}

func TestAnalyze_Empty(t *testing.T) {
	p := Analyze(nil)
	assert.True(t, p.Empty())
	assert.Empty(t, p.Context(time.Now()))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		peak   time.Month
		now    time.Month
		away   int
		status domain.PeakStatus
	}{
		{"same month", time.July, time.July, 0, domain.PeakCurrent},
		{"next month", time.August, time.July, 1, domain.PeakUpcoming},
		{"three ahead", time.October, time.July, 3, domain.PeakUpcoming},
		{"four ahead", time.November, time.July, 4, domain.PeakDistant},
		{"wraps the year", time.February, time.November, 3, domain.PeakUpcoming},
		{"just passed", time.June, time.July, 11, domain.PeakDistant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.peak, tt.now)
			assert.Equal(t, tt.away, got.MonthsAway)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.peak.String(), got.PeakMonth)
		})
	}
}

func TestProfileContext(t *testing.T) {
	p := Profile{PeakMonths: map[domain.Target]time.Month{
		domain.HighHeatRisk:  time.May,
		domain.HighFloodRisk: time.July,
	}}

	ctx := p.Context(time.Date(2024, time.May, 3, 0, 0, 0, 0, time.UTC))
	require.Len(t, ctx, 2)
	assert.Equal(t, domain.PeakContext{PeakMonth: "May", MonthsAway: 0, Status: domain.PeakCurrent}, ctx[domain.HighHeatRisk])
	assert.Equal(t, domain.PeakContext{PeakMonth: "July", MonthsAway: 2, Status: domain.PeakUpcoming}, ctx[domain.HighFloodRisk])
}
