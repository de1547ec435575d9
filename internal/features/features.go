// Package features turns each product's canonical day series into the
// rolling-window vectors the lifecycle classifier consumes. Windows slide on
// calendar days: a day with no record at all is a zero-activity gap day, which
// is itself a signal, while PARTIAL/GAP days stay out of ratio denominators.
package features

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/quality"
)

// Config holds the window and cycle parameters, supplied by PolicyConfig.
type Config struct {
	RollDays             int // primary window for ratios, slope, volatility
	MidWindowDays        int
	LongWindowDays       int
	NewCycleInactiveDays int // inactivity streak that starts a new cycle
	NewCycleOOSDays      int // out-of-stock streak that starts a new cycle on restock
}

// DefaultConfig mirrors the documented production defaults.
func DefaultConfig() Config {
	return Config{
		RollDays:             7,
		MidWindowDays:        14,
		LongWindowDays:       28,
		NewCycleInactiveDays: 28,
		NewCycleOOSDays:      14,
	}
}

// Vector is the derived view of one product-day. It never replaces the
// CanonicalRecord; gap days exist only here and in the stage timeline.
type Vector struct {
	ProductID    string              `json:"product_id"`
	Shop         string              `json:"shop"`
	Date         time.Time           `json:"date"`
	Observed     bool                `json:"observed"`
	Completeness domain.Completeness `json:"completeness"`
	CycleID      int                 `json:"cycle_id"`

	Sales     float64  `json:"sales"`
	Spend     float64  `json:"spend"`
	AdSales   float64  `json:"ad_sales"`
	Orders    float64  `json:"orders"`
	Clicks    float64  `json:"clicks"`
	Sessions  float64  `json:"sessions"`
	Inventory *float64 `json:"inventory,omitempty"`

	RollSales     float64 `json:"roll_sales"`      // RollDays mean of daily sales
	RollSalesMid  float64 `json:"roll_sales_mid"`  // MidWindowDays mean
	RollSalesLong float64 `json:"roll_sales_long"` // LongWindowDays mean
	RollSpend     float64 `json:"roll_spend"`

	ACOS         domain.Ratio `json:"acos"`  // window spend / window ad sales
	TACOS        domain.Ratio `json:"tacos"` // window spend / window total sales
	Conversion   domain.Ratio `json:"conversion"`
	OrganicShare domain.Ratio `json:"organic_share"`

	Slope      float64 `json:"slope"`
	Volatility float64 `json:"volatility"`
	PeakRatio  float64 `json:"peak_ratio"` // RollSales vs cycle peak so far

	ZeroSalesStreak     int  `json:"zero_sales_streak"`
	ZeroInventoryStreak int  `json:"zero_inventory_streak"`
	InventoryKnown      bool `json:"inventory_known"`

	DaysSinceFirstSale int `json:"days_since_first_sale"` // -1 before the cycle's first sale
	ObservedDays       int `json:"observed_days"`         // observed days so far, this product
}

// Series is one product's day-ordered vector sequence, gap days included.
type Series struct {
	ProductID string
	Shop      string
	Days      []Vector
}

// Aggregator computes feature series per product.
type Aggregator struct {
	cfg   Config
	diags *quality.Report
	log   zerolog.Logger
}

func NewAggregator(cfg Config, diags *quality.Report, log zerolog.Logger) *Aggregator {
	if cfg.RollDays <= 0 {
		cfg = DefaultConfig()
	}
	return &Aggregator{cfg: cfg, diags: diags, log: log.With().Str("component", "features").Logger()}
}

// Aggregate groups canonical records by product and walks each calendar day
// from the product's first to last record. Output order is deterministic.
func (a *Aggregator) Aggregate(records []domain.CanonicalRecord) []Series {
	grouped := make(map[string][]domain.CanonicalRecord)
	var order []string
	for _, rec := range records {
		id := rec.Shop + "|" + rec.ProductID
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], rec)
	}
	sort.Strings(order)

	series := make([]Series, 0, len(order))
	for _, id := range order {
		s := a.aggregateProduct(grouped[id])
		if len(s.Days) > 0 {
			series = append(series, s)
		}
	}
	a.log.Info().Int("products", len(series)).Msg("feature aggregation complete")
	return series
}

func (a *Aggregator) aggregateProduct(records []domain.CanonicalRecord) Series {
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	byDay := make(map[time.Time]domain.CanonicalRecord, len(records))
	for _, rec := range records {
		byDay[domain.Day(rec.Date)] = rec
	}

	first := domain.Day(records[0].Date)
	last := domain.Day(records[len(records)-1].Date)
	out := Series{ProductID: records[0].ProductID, Shop: records[0].Shop}

	var (
		days          []Vector
		cycleID       = 1
		inactiveRun   int
		oosRun        int
		seenStock     bool
		firstSale     time.Time
		haveFirstSale bool
		cyclePeak     float64
		observedDays  int
	)

	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		rec, observed := byDay[d]

		v := Vector{
			ProductID: out.ProductID,
			Shop:      out.Shop,
			Date:      d,
			Observed:  observed,
		}
		if observed {
			observedDays++
			v.Completeness = rec.Completeness
			v.Sales = rec.Sales
			v.Spend = rec.Spend
			v.AdSales = rec.AdSales
			v.Orders = rec.Orders
			v.Clicks = rec.Clicks
			v.Sessions = rec.Sessions
			v.Inventory = rec.Inventory
			v.InventoryKnown = rec.InventoryKnown()
		} else {
			v.Completeness = domain.Gap
			a.diags.Add(quality.Issue{
				Code:      quality.CodeGapDay,
				Shop:      out.Shop,
				ProductID: out.ProductID,
				Detail:    d.Format("2006-01-02"),
			})
		}
		v.ObservedDays = observedDays

		// Cycle boundaries: a long out-of-stock run ending in restock, or a
		// long inactive run ending in renewed activity, starts a new cycle.
		active := v.Sales > 0 || v.Orders > 0 || v.Sessions > 0 || v.Spend > 0
		inStock := v.InventoryKnown && *v.Inventory > 0
		if inStock {
			if seenStock && oosRun >= a.cfg.NewCycleOOSDays && len(days) > 0 {
				cycleID++
				cyclePeak = 0
				haveFirstSale = false
			}
			seenStock = true
			oosRun = 0
		} else if seenStock {
			oosRun++
		}
		if active {
			if inactiveRun >= a.cfg.NewCycleInactiveDays && len(days) > 0 {
				cycleID++
				cyclePeak = 0
				haveFirstSale = false
			}
			inactiveRun = 0
		} else {
			inactiveRun++
		}
		v.CycleID = cycleID

		if !haveFirstSale && (v.Sales > 0 || v.Orders > 0) {
			firstSale = d
			haveFirstSale = true
		}
		if haveFirstSale {
			v.DaysSinceFirstSale = int(d.Sub(firstSale).Hours() / 24)
		} else {
			v.DaysSinceFirstSale = -1
		}

		days = append(days, v)
		i := len(days) - 1

		a.window(days, i, &days[i])

		if days[i].RollSales > cyclePeak {
			cyclePeak = days[i].RollSales
		}
		if cyclePeak > 0 {
			days[i].PeakRatio = days[i].RollSales / cyclePeak
		}

		// Streaks: gap days freeze rather than extend or reset them, since a
		// missing export says nothing about sales that day.
		if i > 0 {
			days[i].ZeroSalesStreak = days[i-1].ZeroSalesStreak
			days[i].ZeroInventoryStreak = days[i-1].ZeroInventoryStreak
		}
		if observed {
			if v.Sales == 0 && v.Orders == 0 {
				days[i].ZeroSalesStreak++
			} else {
				days[i].ZeroSalesStreak = 0
			}
			if v.InventoryKnown {
				if *v.Inventory == 0 {
					days[i].ZeroInventoryStreak++
				} else {
					days[i].ZeroInventoryStreak = 0
				}
			}
		}
	}

	out.Days = days
	return out
}

// window fills the rolling aggregates for day i using the trailing windows.
func (a *Aggregator) window(days []Vector, i int, v *Vector) {
	v.RollSales = mean(tail(days, i, a.cfg.RollDays, func(d Vector) float64 { return d.Sales }))
	v.RollSalesMid = mean(tail(days, i, a.cfg.MidWindowDays, func(d Vector) float64 { return d.Sales }))
	v.RollSalesLong = mean(tail(days, i, a.cfg.LongWindowDays, func(d Vector) float64 { return d.Sales }))
	v.RollSpend = mean(tail(days, i, a.cfg.RollDays, func(d Vector) float64 { return d.Spend }))

	v.Slope = slope(tail(days, i, a.cfg.RollDays, func(d Vector) float64 { return d.Sales }))
	v.Volatility = stddev(tail(days, i, a.cfg.RollDays, func(d Vector) float64 { return d.Sales }))

	// Ratios only use fully observed days: a PARTIAL or GAP day would deflate
	// the denominator and fabricate efficiency that was never measured.
	var spend, adSales, sales, orders, sessions, organic float64
	for _, d := range fullTail(days, i, a.cfg.RollDays) {
		spend += d.Spend
		adSales += d.AdSales
		sales += d.Sales
		orders += d.Orders
		sessions += d.Sessions
		organic += d.Sales - d.AdSales
	}
	v.ACOS = domain.Div(spend, adSales)
	v.TACOS = domain.Div(spend, sales)
	v.Conversion = domain.Div(orders, sessions)
	v.OrganicShare = domain.Div(organic, sales)
}

// tail collects up to n trailing values ending at index i; every calendar day
// contributes, gap days as zero activity.
func tail(days []Vector, i, n int, pick func(Vector) float64) []float64 {
	start := i - n + 1
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, i-start+1)
	for j := start; j <= i; j++ {
		out = append(out, pick(days[j]))
	}
	return out
}

// fullTail collects the trailing days with FULL completeness only.
func fullTail(days []Vector, i, n int) []Vector {
	start := i - n + 1
	if start < 0 {
		start = 0
	}
	out := make([]Vector, 0, i-start+1)
	for j := start; j <= i; j++ {
		if days[j].Observed && days[j].Completeness == domain.Full {
			out = append(out, days[j])
		}
	}
	return out
}
