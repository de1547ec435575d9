package policy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asinlab/shelfrun/internal/config"
	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/features"
)

var jan1 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newEvaluator() *Evaluator {
	return NewEvaluator(config.GetDefaultPolicy(), zerolog.Nop())
}

func vec(id string, days int, f func(i int, v *features.Vector)) features.Series {
	s := features.Series{ProductID: id, Shop: "us-main"}
	for i := 0; i < days; i++ {
		v := features.Vector{
			ProductID: id, Shop: "us-main",
			Date:     jan1.AddDate(0, 0, i),
			Observed: true, Completeness: domain.Full,
			ObservedDays: i + 1,
		}
		if f != nil {
			f(i, &v)
		}
		s.Days = append(s.Days, v)
	}
	return s
}

func timeline(id string, stage domain.Stage, reasons ...string) domain.StageTimeline {
	return domain.StageTimeline{
		ProductID: id, Shop: "us-main",
		Entries: []domain.TimelineEntry{{
			Date: jan1, Stage: stage, Confidence: 0.9, ReasonCodes: reasons,
		}},
	}
}

func TestEvaluate_DecliningHighACOSGetsBidDown(t *testing.T) {
	e := newEvaluator()

	s := vec("B0DECL0001", 3, func(i int, v *features.Vector) {
		v.Sales = 100
		v.ACOS = domain.DefinedRatio(0.70) // target 0.35
		v.PeakRatio = 0.5
		v.Slope = -3
	})
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{timeline("B0DECL0001", domain.Decline)})

	require.NotEmpty(t, res.Actions)
	a := res.Actions[0]
	assert.Equal(t, domain.ActionBidDown, a.Action)
	assert.Equal(t, domain.P1, a.Priority)
	assert.Contains(t, a.ReasonCodes, "acos_above_target")
	assert.Equal(t, 0.70, a.Evidence["acos"])

	// Declining products land on the watchlist.
	require.Len(t, res.Watchlist, 1)
	assert.Contains(t, res.Watchlist[0].Reasons, WatchDeclining)
}

func TestEvaluate_WasteSpendRule(t *testing.T) {
	e := newEvaluator()

	s := vec("B0WASTE001", 7, func(i int, v *features.Vector) {
		v.Spend = 5  // 35 over the window, above the 10 minimum
		v.Clicks = 4 // 28 over the window, above the 10 minimum
	})
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{timeline("B0WASTE001", domain.Growth)})

	var found *domain.ActionItem
	for i := range res.Actions {
		if res.Actions[i].Action == domain.ActionCutWaste {
			found = &res.Actions[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, domain.P0, found.Priority)
	require.Len(t, res.Watchlist, 1)
	assert.Contains(t, res.Watchlist[0].Reasons, WatchWasteSpend)
}

func TestEvaluate_WasteSpendNeedsClickVolume(t *testing.T) {
	e := newEvaluator()

	s := vec("B0WASTE002", 7, func(i int, v *features.Vector) {
		v.Spend = 5
		v.Clicks = 0.3 // too few clicks for the sample to mean anything
	})
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{timeline("B0WASTE002", domain.Growth)})

	for _, a := range res.Actions {
		assert.NotEqual(t, domain.ActionCutWaste, a.Action)
	}
}

func TestEvaluate_WasteSpendIgnoresClicksOutsideWindow(t *testing.T) {
	e := newEvaluator()

	// 14 days: all 30 clicks land in the first week, the trailing roll
	// window has spend but zero clicks. The evidence gate must look at the
	// same window as the spend sum.
	s := vec("B0WASTE003", 14, func(i int, v *features.Vector) {
		v.Spend = 5
		if i < 7 {
			v.Clicks = 30.0 / 7
		}
	})
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{timeline("B0WASTE003", domain.Growth)})

	for _, a := range res.Actions {
		assert.NotEqual(t, domain.ActionCutWaste, a.Action)
	}
	for _, w := range res.Watchlist {
		assert.NotContains(t, w.Reasons, WatchWasteSpend)
	}
}

func TestEvaluate_PausedStatusSuppressesActions(t *testing.T) {
	e := newEvaluator()

	s := vec("B0PAUSE001", 3, func(i int, v *features.Vector) {
		v.ACOS = domain.DefinedRatio(0.9)
	})
	recs := []domain.CanonicalRecord{{
		ProductID: "B0PAUSE001", Shop: "us-main", Date: jan1,
		Status: "已暂停",
	}}
	res := e.Evaluate(recs, []features.Series{s}, []domain.StageTimeline{timeline("B0PAUSE001", domain.Decline)})

	assert.Empty(t, res.Actions)
	// Watch visibility survives the suppression.
	require.Len(t, res.Watchlist, 1)
}

func TestEvaluate_LowInventoryRestock(t *testing.T) {
	e := newEvaluator()

	inv := 5.0
	s := vec("B0STOCK001", 3, func(i int, v *features.Vector) {
		v.Sales = 200
		v.Inventory = &inv
		v.InventoryKnown = true
	})
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{timeline("B0STOCK001", domain.Mature)})

	require.NotEmpty(t, res.Actions)
	assert.Equal(t, domain.ActionRestock, res.Actions[0].Action)
	assert.Equal(t, domain.P0, res.Actions[0].Priority)
	require.Len(t, res.Watchlist, 1)
	assert.Contains(t, res.Watchlist[0].Reasons, WatchLowInventory)
}

func TestEvaluate_ExitedProductDiscontinues(t *testing.T) {
	e := newEvaluator()

	s := vec("B0EXIT0001", 3, func(i int, v *features.Vector) {
		v.ZeroSalesStreak = 20 + i
	})
	tl := timeline("B0EXIT0001", domain.Exit, "zero_sales_override")
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{tl})

	require.NotEmpty(t, res.Actions)
	assert.Equal(t, domain.ActionDiscontinue, res.Actions[0].Action)
	require.Len(t, res.Watchlist, 1)
	assert.Contains(t, res.Watchlist[0].Reasons, WatchExited)
	assert.Contains(t, res.Watchlist[0].Reasons, WatchHardOverride)
}

func TestEvaluate_EfficientGrowthGetsBudgetUp(t *testing.T) {
	e := newEvaluator()

	s := vec("B0GROW0001", 3, func(i int, v *features.Vector) {
		v.Sales = 150
		v.ACOS = domain.DefinedRatio(0.20)
	})
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{timeline("B0GROW0001", domain.Growth)})

	require.NotEmpty(t, res.Actions)
	assert.Equal(t, domain.ActionBudgetUp, res.Actions[0].Action)
	assert.Equal(t, domain.P1, res.Actions[0].Priority)
}

func TestEvaluate_DeterministicRanking(t *testing.T) {
	build := func() Result {
		e := newEvaluator()
		series := []features.Series{
			vec("B0BBB", 3, func(i int, v *features.Vector) {
				v.Sales = 100
				v.ACOS = domain.DefinedRatio(0.70)
			}),
			vec("B0AAA", 3, func(i int, v *features.Vector) {
				v.Sales = 100
				v.ACOS = domain.DefinedRatio(0.70)
			}),
		}
		tls := []domain.StageTimeline{
			timeline("B0BBB", domain.Decline),
			timeline("B0AAA", domain.Decline),
		}
		return e.Evaluate(nil, series, tls)
	}

	first := build()
	for i := 0; i < 5; i++ {
		again := build()
		assert.Equal(t, first, again)
	}
	// Equal scores break ties on product id.
	require.Len(t, first.Actions, 2)
	assert.Equal(t, "B0AAA", first.Actions[0].ProductID)
	assert.Equal(t, "B0BBB", first.Actions[1].ProductID)
}

func TestEvaluate_InsufficientHistoryEmitsNothing(t *testing.T) {
	e := newEvaluator()

	s := vec("B0NEW00001", 2, nil)
	tl := domain.StageTimeline{
		ProductID: "B0NEW00001", Shop: "us-main",
		Entries: []domain.TimelineEntry{
			{Date: jan1, InsufficientData: true},
			{Date: jan1.AddDate(0, 0, 1), InsufficientData: true},
		},
	}
	res := e.Evaluate(nil, []features.Series{s}, []domain.StageTimeline{tl})
	assert.Empty(t, res.Actions)
}

func TestResultSummary(t *testing.T) {
	r := Result{Actions: []domain.ActionItem{
		{Priority: domain.P0}, {Priority: domain.P1}, {Priority: domain.P1},
	}}
	assert.Equal(t, "3 actions (P0=1 P1=2 P2=0), 0 watched", r.Summary())
}
