package features

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/quality"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fullRec(id, date string, sales, spend, adSales float64) domain.CanonicalRecord {
	return domain.CanonicalRecord{
		ProductID:    id,
		Shop:         "us-main",
		Date:         day(date),
		Sales:        sales,
		Spend:        spend,
		AdSales:      adSales,
		Completeness: domain.Full,
	}
}

func newAggregator(t *testing.T, cfg Config) (*Aggregator, *quality.Report) {
	t.Helper()
	diags := quality.NewReport()
	return NewAggregator(cfg, diags, zerolog.Nop()), diags
}

func TestAggregate_MissingDayCountsAsZeroActivity(t *testing.T) {
	agg, diags := newAggregator(t, DefaultConfig())

	// Three observed days with a hole on Jan 3.
	recs := []domain.CanonicalRecord{
		fullRec("B0TEST0001", "2026-01-01", 70, 10, 30),
		fullRec("B0TEST0001", "2026-01-02", 70, 10, 30),
		fullRec("B0TEST0001", "2026-01-04", 70, 10, 30),
	}
	recs[0].Clicks = 12
	series := agg.Aggregate(recs)
	require.Len(t, series, 1)
	require.Len(t, series[0].Days, 4)
	assert.Equal(t, 12.0, series[0].Days[0].Clicks)

	gap := series[0].Days[2]
	assert.False(t, gap.Observed)
	assert.Equal(t, domain.Gap, gap.Completeness)
	assert.Zero(t, gap.Sales)
	assert.Zero(t, gap.Clicks)

	// The gap day pulls the rolling mean down: 3*70 over 4 days.
	last := series[0].Days[3]
	assert.InDelta(t, 210.0/4.0, last.RollSales, 1e-9)
	assert.Equal(t, 1, diags.Count(quality.CodeGapDay))
}

func TestAggregate_RatiosExcludePartialAndGapDays(t *testing.T) {
	agg, _ := newAggregator(t, DefaultConfig())

	partial := fullRec("B0TEST0001", "2026-01-02", 0, 50, 0)
	partial.Completeness = domain.Partial

	recs := []domain.CanonicalRecord{
		fullRec("B0TEST0001", "2026-01-01", 100, 20, 40),
		partial,
		fullRec("B0TEST0001", "2026-01-04", 100, 20, 40),
	}
	series := agg.Aggregate(recs)
	require.Len(t, series, 1)

	last := series[0].Days[len(series[0].Days)-1]
	require.True(t, last.TACOS.Defined)
	// Only the two FULL days contribute: 40 spend over 200 sales.
	assert.InDelta(t, 0.2, last.TACOS.Value, 1e-9)
	require.True(t, last.ACOS.Defined)
	assert.InDelta(t, 0.5, last.ACOS.Value, 1e-9)
}

func TestAggregate_UndefinedRatioOnZeroDenominator(t *testing.T) {
	agg, _ := newAggregator(t, DefaultConfig())

	recs := []domain.CanonicalRecord{
		fullRec("B0TEST0001", "2026-01-01", 0, 25, 0),
	}
	series := agg.Aggregate(recs)
	require.Len(t, series, 1)

	v := series[0].Days[0]
	assert.False(t, v.ACOS.Defined)
	assert.False(t, v.TACOS.Defined)
	assert.False(t, v.OrganicShare.Defined)
	assert.False(t, v.Conversion.Defined)
}

func TestAggregate_SlopeOverWindow(t *testing.T) {
	agg, _ := newAggregator(t, DefaultConfig())

	var recs []domain.CanonicalRecord
	dates := []string{"2026-01-01", "2026-01-02", "2026-01-03", "2026-01-04", "2026-01-05"}
	for i, d := range dates {
		recs = append(recs, fullRec("B0TEST0001", d, float64(10*(i+1)), 0, 0))
	}
	series := agg.Aggregate(recs)
	require.Len(t, series, 1)

	last := series[0].Days[len(series[0].Days)-1]
	assert.InDelta(t, 10.0, last.Slope, 1e-9)
	assert.Greater(t, last.Volatility, 0.0)
}

func TestAggregate_ZeroStreaksFreezeOnGapDays(t *testing.T) {
	agg, _ := newAggregator(t, DefaultConfig())

	inv := func(n float64) *float64 { return &n }
	r1 := fullRec("B0TEST0001", "2026-01-01", 0, 0, 0)
	r1.Inventory = inv(0)
	r3 := fullRec("B0TEST0001", "2026-01-03", 0, 0, 0)
	r3.Inventory = inv(0)

	series := agg.Aggregate([]domain.CanonicalRecord{r1, r3})
	require.Len(t, series, 1)
	require.Len(t, series[0].Days, 3)

	assert.Equal(t, 1, series[0].Days[0].ZeroSalesStreak)
	// Gap day keeps the streak where it was.
	assert.Equal(t, 1, series[0].Days[1].ZeroSalesStreak)
	assert.Equal(t, 2, series[0].Days[2].ZeroSalesStreak)
	assert.Equal(t, 2, series[0].Days[2].ZeroInventoryStreak)
}

func TestAggregate_NewCycleAfterRestock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NewCycleOOSDays = 3
	agg, _ := newAggregator(t, cfg)

	inv := func(n float64) *float64 { return &n }
	var recs []domain.CanonicalRecord

	// In stock and selling for two days.
	for i, d := range []string{"2026-01-01", "2026-01-02"} {
		r := fullRec("B0TEST0001", d, 100+float64(i), 10, 40)
		r.Inventory = inv(50)
		recs = append(recs, r)
	}
	// Out of stock four days.
	for _, d := range []string{"2026-01-03", "2026-01-04", "2026-01-05", "2026-01-06"} {
		r := fullRec("B0TEST0001", d, 0, 0, 0)
		r.Inventory = inv(0)
		recs = append(recs, r)
	}
	// Restock.
	r := fullRec("B0TEST0001", "2026-01-07", 80, 5, 30)
	r.Inventory = inv(40)
	recs = append(recs, r)

	series := agg.Aggregate(recs)
	require.Len(t, series, 1)
	days := series[0].Days

	assert.Equal(t, 1, days[0].CycleID)
	assert.Equal(t, 1, days[5].CycleID)
	assert.Equal(t, 2, days[6].CycleID)
	// Peak ratio resets with the cycle.
	assert.InDelta(t, 1.0, days[6].PeakRatio, 1e-9)
	assert.Equal(t, 0, days[6].DaysSinceFirstSale)
}

func TestAggregate_NewCycleAfterLongInactivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NewCycleInactiveDays = 5
	agg, _ := newAggregator(t, cfg)

	recs := []domain.CanonicalRecord{
		fullRec("B0TEST0001", "2026-01-01", 60, 8, 20),
		// Nothing at all for six days, then activity resumes.
		fullRec("B0TEST0001", "2026-01-08", 90, 0, 0),
	}
	series := agg.Aggregate(recs)
	require.Len(t, series, 1)
	days := series[0].Days

	assert.Equal(t, 1, days[0].CycleID)
	assert.Equal(t, 2, days[len(days)-1].CycleID)
}

func TestAggregate_PeakRatioTracksCyclePeak(t *testing.T) {
	agg, _ := newAggregator(t, DefaultConfig())

	recs := []domain.CanonicalRecord{
		fullRec("B0TEST0001", "2026-01-01", 100, 0, 0),
		fullRec("B0TEST0001", "2026-01-02", 100, 0, 0),
		fullRec("B0TEST0001", "2026-01-03", 40, 0, 0),
	}
	series := agg.Aggregate(recs)
	require.Len(t, series, 1)
	days := series[0].Days

	assert.InDelta(t, 1.0, days[1].PeakRatio, 1e-9)
	assert.Less(t, days[2].PeakRatio, 1.0)
	assert.Greater(t, days[2].PeakRatio, 0.0)
}

func TestAggregate_DeterministicProductOrder(t *testing.T) {
	recs := []domain.CanonicalRecord{
		fullRec("B0ZZZ", "2026-01-01", 10, 0, 0),
		fullRec("B0AAA", "2026-01-01", 10, 0, 0),
		fullRec("B0MMM", "2026-01-01", 10, 0, 0),
	}
	for run := 0; run < 3; run++ {
		agg, _ := newAggregator(t, DefaultConfig())
		series := agg.Aggregate(recs)
		require.Len(t, series, 3)
		assert.Equal(t, "B0AAA", series[0].ProductID)
		assert.Equal(t, "B0MMM", series[1].ProductID)
		assert.Equal(t, "B0ZZZ", series[2].ProductID)
	}
}

func TestSlopeEdgeCases(t *testing.T) {
	assert.Zero(t, slope(nil))
	assert.Zero(t, slope([]float64{5}))
	assert.InDelta(t, 0, slope([]float64{3, 3, 3}), 1e-12)
	assert.True(t, !math.IsNaN(slope([]float64{1, 2, 3})))
}
