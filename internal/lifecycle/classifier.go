// Package lifecycle assigns each product a committed lifecycle stage per day.
// A per-product state machine debounces the raw per-day classification with
// hysteresis so short-horizon noise cannot flip the label back and forth,
// while hard overrides (prolonged zero sales or zero inventory) force exit
// immediately.
package lifecycle

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/asinlab/shelfrun/internal/config"
	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/features"
	"github.com/asinlab/shelfrun/internal/quality"
)

// Reason codes carried on timeline entries for auditability.
const (
	ReasonLaunchWindow      = "within_launch_window"
	ReasonBelowMatureRising = "below_mature_band_rising"
	ReasonAtPeakFlat        = "at_peak_band_flat"
	ReasonBelowDecline      = "below_decline_band_falling"
	ReasonNearestBand       = "nearest_band"
	ReasonColdStart         = "cold_start"
	ReasonConfirming        = "awaiting_confirmation"
	ReasonZeroSales         = "zero_sales_override"
	ReasonZeroInventory     = "zero_inventory_override"
	ReasonRelaunch          = "relaunch_signal"
	ReasonNewCycle          = "new_cycle"
)

const lowConfidence = 0.25

// Classifier runs the per-product stage machine.
type Classifier struct {
	cfg   config.LifecycleConfig
	diags *quality.Report
	log   zerolog.Logger
}

func NewClassifier(cfg config.LifecycleConfig, diags *quality.Report, log zerolog.Logger) *Classifier {
	return &Classifier{cfg: cfg, diags: diags, log: log.With().Str("component", "lifecycle").Logger()}
}

// machine is the per-product FSM state.
type machine struct {
	committed    domain.Stage
	hasCommitted bool
	candidate    domain.Stage
	streak       int
	exited       bool
	exitReason   string
	cycleID      int
}

func (m *machine) reset() {
	*m = machine{cycleID: m.cycleID}
}

// ClassifyAll processes every product series in input order.
func (c *Classifier) ClassifyAll(series []features.Series) []domain.StageTimeline {
	timelines := make([]domain.StageTimeline, 0, len(series))
	for _, s := range series {
		timelines = append(timelines, c.Classify(s))
	}
	c.log.Info().Int("products", len(timelines)).Msg("classification complete")
	return timelines
}

// Classify converts one product's day-ordered feature vectors into its stage
// timeline. Gap days become gap markers and freeze the hysteresis state.
func (c *Classifier) Classify(s features.Series) domain.StageTimeline {
	tl := domain.StageTimeline{ProductID: s.ProductID, Shop: s.Shop}
	m := machine{}

	for _, v := range s.Days {
		if !v.Observed {
			_ = tl.Append(domain.TimelineEntry{Date: v.Date, Gap: true})
			continue
		}
		if v.ObservedDays < c.cfg.MinHistoryDays {
			c.diags.Add(quality.Issue{
				Code:      quality.CodeInsufficientData,
				Shop:      s.Shop,
				ProductID: s.ProductID,
				Detail:    v.Date.Format("2006-01-02"),
			})
			_ = tl.Append(domain.TimelineEntry{Date: v.Date, InsufficientData: true})
			continue
		}
		_ = tl.Append(c.step(&m, v))
	}
	return tl
}

// step advances the machine by one observed day and returns the entry to emit.
func (c *Classifier) step(m *machine, v features.Vector) domain.TimelineEntry {
	// A new cycle (restock after prolonged out-of-stock, or re-emergence
	// after prolonged inactivity) restarts classification from scratch.
	if m.hasCommitted && v.CycleID != m.cycleID {
		m.reset()
		m.cycleID = v.CycleID
		raw, reasons := c.rawCandidate(v, domain.Launch)
		m.committed, m.hasCommitted = raw, true
		return domain.TimelineEntry{
			Date:        v.Date,
			Stage:       raw,
			Confidence:  lowConfidence,
			ReasonCodes: append([]string{ReasonNewCycle}, reasons...),
		}
	}
	m.cycleID = v.CycleID

	// Hard overrides beat both hysteresis and the exit latch. They fire on
	// exactly the day the streak reaches the configured count.
	if over, reason := c.hardOverride(v); over {
		m.committed, m.hasCommitted = domain.Exit, true
		m.exited, m.exitReason = true, reason
		m.candidate, m.streak = domain.Exit, 0
		return domain.TimelineEntry{
			Date:        v.Date,
			Stage:       domain.Exit,
			Confidence:  1,
			ReasonCodes: []string{reason},
		}
	}

	// Exit is terminal until the relaunch signal.
	if m.exited {
		if v.RollSales >= c.cfg.RelaunchSalesMin {
			m.reset()
			m.cycleID = v.CycleID
			m.committed, m.hasCommitted = domain.Launch, true
			return domain.TimelineEntry{
				Date:        v.Date,
				Stage:       domain.Launch,
				Confidence:  lowConfidence,
				ReasonCodes: []string{ReasonRelaunch},
			}
		}
		return domain.TimelineEntry{
			Date:        v.Date,
			Stage:       domain.Exit,
			Confidence:  1,
			ReasonCodes: []string{m.exitReason},
		}
	}

	// Cold start: the first classified day commits the raw candidate
	// immediately, flagged low confidence.
	if !m.hasCommitted {
		raw, reasons := c.rawCandidate(v, domain.Launch)
		m.committed, m.hasCommitted = raw, true
		return domain.TimelineEntry{
			Date:        v.Date,
			Stage:       raw,
			Confidence:  lowConfidence,
			ReasonCodes: append([]string{ReasonColdStart}, reasons...),
		}
	}

	raw, reasons := c.rawCandidate(v, m.committed)

	if raw == m.committed {
		m.candidate, m.streak = raw, 0
		return domain.TimelineEntry{
			Date:        v.Date,
			Stage:       m.committed,
			Confidence:  c.confidence(v, raw, 1, 1),
			ReasonCodes: reasons,
		}
	}

	if raw == m.candidate {
		m.streak++
	} else {
		m.candidate, m.streak = raw, 1
	}

	need := c.cfg.HysteresisFor(m.committed.String(), raw.String())
	if m.streak >= need {
		m.committed = raw
		m.candidate, m.streak = raw, 0
		return domain.TimelineEntry{
			Date:        v.Date,
			Stage:       raw,
			Confidence:  c.confidence(v, raw, need, need),
			ReasonCodes: reasons,
		}
	}

	// Candidate not yet confirmed; the committed stage holds.
	return domain.TimelineEntry{
		Date:        v.Date,
		Stage:       m.committed,
		Confidence:  c.confidence(v, m.committed, need-m.streak, need),
		ReasonCodes: []string{ReasonConfirming},
	}
}

// hardOverride reports whether a forced exit condition holds today.
func (c *Classifier) hardOverride(v features.Vector) (bool, string) {
	if c.cfg.ExitZeroSalesDays > 0 && v.ZeroSalesStreak >= c.cfg.ExitZeroSalesDays {
		return true, ReasonZeroSales
	}
	if c.cfg.ExitZeroInventoryDays > 0 && v.ZeroInventoryStreak >= c.cfg.ExitZeroInventoryDays {
		return true, ReasonZeroInventory
	}
	return false, ""
}

// rawCandidate is the pure per-day classification, before hysteresis. It
// follows the peak-relative band rules; when no band matches cleanly, it
// picks the in-band stage nearest the committed one so a single day can never
// propose a large jump.
func (c *Classifier) rawCandidate(v features.Vector, committed domain.Stage) (domain.Stage, []string) {
	ratio := v.PeakRatio
	slope := v.Slope
	flat := c.flatThreshold(v)

	switch {
	case v.DaysSinceFirstSale >= 0 && v.DaysSinceFirstSale <= c.cfg.LaunchMaxDays && ratio < c.cfg.MatureRatio:
		return domain.Launch, []string{ReasonLaunchWindow}
	case v.DaysSinceFirstSale < 0:
		// No sale yet this cycle.
		return domain.Launch, []string{ReasonLaunchWindow}
	case ratio < c.cfg.MatureRatio && ratio > c.cfg.DeclineRatio && slope >= 0:
		return domain.Growth, []string{ReasonBelowMatureRising}
	case ratio >= c.cfg.MatureRatio && math.Abs(slope) < flat:
		return domain.Mature, []string{ReasonAtPeakFlat}
	case ratio <= c.cfg.DeclineRatio && slope < 0:
		return domain.Decline, []string{ReasonBelowDecline}
	case ratio <= c.cfg.DeclineRatio:
		// Low band but rising: growth and decline are both plausible.
		return nearest(committed, domain.Growth, domain.Decline), []string{ReasonNearestBand}
	case ratio >= c.cfg.MatureRatio:
		// At peak with a meaningful slope either way.
		if slope >= 0 {
			return nearest(committed, domain.Growth, domain.Mature), []string{ReasonNearestBand}
		}
		return nearest(committed, domain.Mature, domain.Decline), []string{ReasonNearestBand}
	default:
		// Between the bands with a falling slope.
		return nearest(committed, domain.Mature, domain.Decline), []string{ReasonNearestBand}
	}
}

// flatThreshold is the |slope| below which sales count as flat, proportional
// to the cycle peak.
func (c *Classifier) flatThreshold(v features.Vector) float64 {
	peak := 0.0
	if v.PeakRatio > 0 {
		peak = v.RollSales / v.PeakRatio
	}
	t := peak * c.cfg.FlatSlopeFrac
	if t < 1e-6 {
		t = 1e-6
	}
	return t
}

// nearest picks from candidates the stage closest to committed in lifecycle
// order; ties go to the earlier stage.
func nearest(committed domain.Stage, candidates ...domain.Stage) domain.Stage {
	best := candidates[0]
	for _, s := range candidates[1:] {
		if s.Distance(committed) < best.Distance(committed) {
			best = s
		}
	}
	return best
}

// confidence blends how far past its band threshold the signal sits with the
// fraction of the required streak supporting the emitted stage.
func (c *Classifier) confidence(v features.Vector, stage domain.Stage, supporting, need int) float64 {
	margin := c.bandMargin(v, stage)
	frac := 1.0
	if need > 0 {
		frac = float64(supporting) / float64(need)
	}
	conf := 0.5*margin + 0.5*frac
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// bandMargin is the normalized distance past the threshold that defines the
// given stage's band, in [0,1].
func (c *Classifier) bandMargin(v features.Vector, stage domain.Stage) float64 {
	switch stage {
	case domain.Mature:
		return clamp01((v.PeakRatio - c.cfg.MatureRatio) / (1 - c.cfg.MatureRatio))
	case domain.Decline:
		if c.cfg.DeclineRatio <= 0 {
			return 0
		}
		return clamp01((c.cfg.DeclineRatio - v.PeakRatio) / c.cfg.DeclineRatio)
	case domain.Growth:
		return clamp01((c.cfg.MatureRatio - v.PeakRatio) / c.cfg.MatureRatio)
	case domain.Launch:
		if c.cfg.LaunchMaxDays <= 0 || v.DaysSinceFirstSale < 0 {
			return 0.5
		}
		return clamp01(1 - float64(v.DaysSinceFirstSale)/float64(c.cfg.LaunchMaxDays))
	case domain.Exit:
		return 1
	default:
		return 0
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
