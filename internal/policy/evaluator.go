// Package policy turns canonical records, feature series, and stage timelines
// into ranked action items and a watchlist. Evaluation is deterministic:
// no randomness, no wall clock, stable ordering with documented tie-breaks
// (score descending, then product id, then action kind).
package policy

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/asinlab/shelfrun/internal/config"
	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/features"
	"github.com/asinlab/shelfrun/internal/normalize"
)

// Watch reason codes.
const (
	WatchDeclining    = "stage_declining"
	WatchExited       = "stage_exited"
	WatchHardOverride = "hard_override"
	WatchLowInventory = "low_inventory"
	WatchWasteSpend   = "waste_spend"
)

// WatchEntry is one watchlist row.
type WatchEntry struct {
	ProductID string       `json:"product_id"`
	Shop      string       `json:"shop"`
	Stage     domain.Stage `json:"stage"`
	Reasons   []string     `json:"reasons"`
}

// Result is the evaluator output for one run.
type Result struct {
	Actions   []domain.ActionItem `json:"actions"`
	Watchlist []WatchEntry        `json:"watchlist"`
}

// Evaluator applies the run policy to the pipeline outputs.
type Evaluator struct {
	policy *config.Policy
	log    zerolog.Logger
}

func NewEvaluator(policy *config.Policy, log zerolog.Logger) *Evaluator {
	return &Evaluator{policy: policy, log: log.With().Str("component", "policy").Logger()}
}

// product is the per-product latest state the rules read.
type product struct {
	id, shop string
	stage    domain.Stage
	staged   bool
	reasons  []string // latest timeline entry reason codes
	vec      features.Vector
	paused   bool

	// trailing-window sums over the primary roll window
	spend, sales, orders, clicks float64
}

// Evaluate produces ranked actions and the watchlist.
func (e *Evaluator) Evaluate(records []domain.CanonicalRecord, series []features.Series, timelines []domain.StageTimeline) Result {
	products := e.collect(records, series, timelines)

	var res Result
	for _, p := range products {
		res.Watchlist = append(res.Watchlist, e.watch(p)...)
		if p.paused {
			e.log.Debug().Str("product", p.id).Str("shop", p.shop).Msg("paused, actions suppressed")
			continue
		}
		res.Actions = append(res.Actions, e.actions(p)...)
	}

	sort.SliceStable(res.Actions, func(i, j int) bool {
		a, b := res.Actions[i], res.Actions[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.Action < b.Action
	})
	sort.SliceStable(res.Watchlist, func(i, j int) bool {
		a, b := res.Watchlist[i], res.Watchlist[j]
		if a.Shop != b.Shop {
			return a.Shop < b.Shop
		}
		return a.ProductID < b.ProductID
	})

	e.log.Info().Int("actions", len(res.Actions)).Int("watchlist", len(res.Watchlist)).Msg("policy evaluation complete")
	return res
}

// collect assembles per-product latest state, keyed and ordered by
// shop|product for deterministic iteration.
func (e *Evaluator) collect(records []domain.CanonicalRecord, series []features.Series, timelines []domain.StageTimeline) []product {
	byKey := make(map[string]*product)
	var order []string
	get := func(shop, id string) *product {
		k := shop + "|" + id
		p, ok := byKey[k]
		if !ok {
			p = &product{id: id, shop: shop}
			byKey[k] = p
			order = append(order, k)
		}
		return p
	}

	for _, s := range series {
		p := get(s.Shop, s.ProductID)
		n := e.policy.Windows.RollDays
		start := len(s.Days) - n
		if start < 0 {
			start = 0
		}
		for _, d := range s.Days[start:] {
			p.spend += d.Spend
			p.sales += d.Sales
			p.orders += d.Orders
			p.clicks += d.Clicks
		}
		for i := len(s.Days) - 1; i >= 0; i-- {
			if s.Days[i].Observed {
				p.vec = s.Days[i]
				break
			}
		}
	}

	for _, tl := range timelines {
		p := get(tl.Shop, tl.ProductID)
		if latest := tl.Latest(); latest != nil && !latest.InsufficientData {
			p.stage, p.staged = latest.Stage, true
			p.reasons = latest.ReasonCodes
		}
	}

	// Records contribute only listing status; metrics come from the series
	// so every sum covers the same trailing window.
	for _, rec := range records {
		p := get(rec.Shop, rec.ProductID)
		if normalize.IsPausedStatus(rec.Status) {
			p.paused = true
		}
	}

	sort.Strings(order)
	out := make([]product, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// actions applies the stage-driven rules to one product.
func (e *Evaluator) actions(p product) []domain.ActionItem {
	if !p.staged {
		return nil
	}
	var out []domain.ActionItem
	emit := func(kind domain.ActionKind, prio domain.Priority, deviation float64, reasons []string, evidence map[string]float64) {
		out = append(out, domain.ActionItem{
			ProductID:   p.id,
			Shop:        p.shop,
			Action:      kind,
			Priority:    prio,
			Score:       e.score(p.stage, deviation),
			ReasonCodes: reasons,
			Evidence:    evidence,
		})
	}

	acos := p.vec.ACOS
	targetACOS := e.policy.Targets.ACOS

	if e.isWasteSpend(p) {
		emit(domain.ActionCutWaste, domain.P0, 1, []string{WatchWasteSpend}, map[string]float64{
			"window_spend":  p.spend,
			"window_orders": p.orders,
			"window_clicks": p.clicks,
		})
	}

	if e.lowInventory(p) && p.stage != domain.Exit && p.stage != domain.Decline {
		emit(domain.ActionRestock, domain.P0, 1, []string{WatchLowInventory}, map[string]float64{
			"inventory":     inventoryOf(p.vec),
			"low_threshold": e.policy.Targets.LowInventory,
		})
	}

	switch p.stage {
	case domain.Decline:
		if acos.Defined && acos.Value > targetACOS {
			dev := (acos.Value - targetACOS) / targetACOS
			emit(domain.ActionBidDown, domain.P1, dev, []string{"acos_above_target"}, map[string]float64{
				"acos": acos.Value, "target_acos": targetACOS,
			})
		} else {
			emit(domain.ActionReview, domain.P1, 0.5, []string{"declining_sales"}, map[string]float64{
				"peak_ratio": p.vec.PeakRatio, "slope": p.vec.Slope,
			})
		}
	case domain.Exit:
		emit(domain.ActionDiscontinue, domain.P1, 1, []string{"stage_exited"}, map[string]float64{
			"zero_sales_streak": float64(p.vec.ZeroSalesStreak),
		})
	case domain.Launch:
		if acos.Defined && acos.Value <= targetACOS && !e.lowInventory(p) {
			emit(domain.ActionBudgetUp, domain.P2, targetDeviation(acos.Value, targetACOS), []string{"efficient_launch"}, map[string]float64{
				"acos": acos.Value, "target_acos": targetACOS,
			})
		}
	case domain.Growth:
		if acos.Defined && acos.Value <= targetACOS {
			emit(domain.ActionBudgetUp, domain.P1, targetDeviation(acos.Value, targetACOS), []string{"efficient_growth"}, map[string]float64{
				"acos": acos.Value, "target_acos": targetACOS,
			})
		} else if acos.Defined {
			dev := (acos.Value - targetACOS) / targetACOS
			emit(domain.ActionBidDown, domain.P2, dev, []string{"acos_above_target"}, map[string]float64{
				"acos": acos.Value, "target_acos": targetACOS,
			})
		}
	case domain.Mature:
		if acos.Defined && acos.Value > targetACOS {
			dev := (acos.Value - targetACOS) / targetACOS
			emit(domain.ActionBidDown, domain.P2, dev, []string{"acos_above_target"}, map[string]float64{
				"acos": acos.Value, "target_acos": targetACOS,
			})
		}
	}
	return out
}

// watch evaluates the watchlist rules for one product.
func (e *Evaluator) watch(p product) []WatchEntry {
	var reasons []string
	if p.staged {
		switch p.stage {
		case domain.Decline:
			reasons = append(reasons, WatchDeclining)
		case domain.Exit:
			reasons = append(reasons, WatchExited)
		}
	}
	for _, r := range p.reasons {
		if r == "zero_sales_override" || r == "zero_inventory_override" {
			reasons = append(reasons, WatchHardOverride)
			break
		}
	}
	if e.lowInventory(p) {
		reasons = append(reasons, WatchLowInventory)
	}
	if e.isWasteSpend(p) {
		reasons = append(reasons, WatchWasteSpend)
	}
	if len(reasons) == 0 {
		return nil
	}
	return []WatchEntry{{ProductID: p.id, Shop: p.shop, Stage: p.stage, Reasons: reasons}}
}

// isWasteSpend reports spend with nothing to show for it over the window:
// spend at or above the minimum, zero orders, zero sales, and enough clicks
// that the sample is not trivially small.
func (e *Evaluator) isWasteSpend(p product) bool {
	w := e.policy.Watch
	return p.spend >= w.WasteSpendMin && p.orders == 0 && p.sales == 0 && p.clicks >= w.WasteClicksMin
}

func (e *Evaluator) lowInventory(p product) bool {
	return p.vec.InventoryKnown && inventoryOf(p.vec) <= e.policy.Targets.LowInventory
}

func inventoryOf(v features.Vector) float64 {
	if v.Inventory == nil {
		return 0
	}
	return *v.Inventory
}

// score combines the stage's configured urgency with the magnitude of
// deviation from target efficiency.
func (e *Evaluator) score(stage domain.Stage, deviation float64) float64 {
	weight, ok := e.policy.Ranking.StageWeights[stage.String()]
	if !ok {
		e.log.Warn().Str("stage", stage.String()).Msg("no ranking weight for stage, using zero")
	}
	if deviation < 0 {
		deviation = 0
	}
	if deviation > 1 {
		deviation = 1
	}
	return weight + e.policy.Ranking.EfficiencyWeight*deviation
}

// targetDeviation measures how far below target the ratio sits, in [0,1].
func targetDeviation(value, target float64) float64 {
	if target <= 0 {
		return 0
	}
	d := (target - value) / target
	if d < 0 {
		return 0
	}
	return d
}

// Summary renders a one-line count by priority for run logs.
func (r Result) Summary() string {
	var p0, p1, p2 int
	for _, a := range r.Actions {
		switch a.Priority {
		case domain.P0:
			p0++
		case domain.P1:
			p1++
		case domain.P2:
			p2++
		}
	}
	return fmt.Sprintf("%d actions (P0=%d P1=%d P2=%d), %d watched", len(r.Actions), p0, p1, p2, len(r.Watchlist))
}
