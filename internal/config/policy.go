// Package config loads and validates the run policy. The policy is read-only
// for a run: thresholds, hysteresis counts, override conditions, ranking
// weights. Missing optional fields fall back to documented defaults with a
// warning; structural breakage is a ConfigError and fatal.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/asinlab/shelfrun/internal/quality"
)

// Policy is the full run policy.
type Policy struct {
	Windows   WindowsConfig   `yaml:"windows"`
	Cycles    CyclesConfig    `yaml:"cycles"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Targets   TargetsConfig   `yaml:"targets"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WindowsConfig sets the rolling-window lengths in calendar days.
type WindowsConfig struct {
	RollDays       int `yaml:"roll_days"`
	MidWindowDays  int `yaml:"mid_window_days"`
	LongWindowDays int `yaml:"long_window_days"`
}

// CyclesConfig controls when a product's history splits into a new cycle.
type CyclesConfig struct {
	NewCycleInactiveDays int `yaml:"new_cycle_inactive_days"`
	NewCycleOOSDays      int `yaml:"new_cycle_oos_days"`
}

// LifecycleConfig holds the classifier thresholds and hysteresis parameters.
type LifecycleConfig struct {
	LaunchMaxDays int     `yaml:"launch_max_days"` // days since first sale still counted as launch
	MatureRatio   float64 `yaml:"mature_ratio"`    // rolling sales vs cycle peak
	DeclineRatio  float64 `yaml:"decline_ratio"`
	FlatSlopeFrac float64 `yaml:"flat_slope_frac"` // |slope| below peak*frac counts as flat

	HysteresisDays int `yaml:"hysteresis_days"`
	// Per-transition-pair overrides, keyed "from>to" e.g. "mature>decline".
	HysteresisOverrides map[string]int `yaml:"hysteresis_overrides"`

	ExitZeroSalesDays     int     `yaml:"exit_zero_sales_days"`
	ExitZeroInventoryDays int     `yaml:"exit_zero_inventory_days"`
	RelaunchSalesMin      float64 `yaml:"relaunch_sales_min"` // rolling sales that reset exit

	MinHistoryDays int `yaml:"min_history_days"`
}

// TargetsConfig holds efficiency targets the evaluator measures deviation from.
type TargetsConfig struct {
	ACOS         float64 `yaml:"acos"`
	TACOS        float64 `yaml:"tacos"`
	LowInventory float64 `yaml:"low_inventory"` // units at/below which restock fires
}

// RankingConfig sets the action-ranking weights.
type RankingConfig struct {
	StageWeights     map[string]float64 `yaml:"stage_weights"`
	EfficiencyWeight float64            `yaml:"efficiency_weight"`
}

// WatchConfig holds the watchlist rules.
type WatchConfig struct {
	WasteSpendMin  float64 `yaml:"waste_spend_min"` // spend with zero orders/sales
	WasteClicksMin float64 `yaml:"waste_clicks_min"`
}

// ConfigError reports a structurally broken policy file.
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("policy config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("policy config %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() error { return e.Err }

// GetDefaultPolicy returns the documented production defaults.
func GetDefaultPolicy() *Policy {
	return &Policy{
		Windows: WindowsConfig{
			RollDays:       7,
			MidWindowDays:  14,
			LongWindowDays: 28,
		},
		Cycles: CyclesConfig{
			NewCycleInactiveDays: 28,
			NewCycleOOSDays:      14,
		},
		Lifecycle: LifecycleConfig{
			LaunchMaxDays:         14,
			MatureRatio:           0.85,
			DeclineRatio:          0.65,
			FlatSlopeFrac:         0.02,
			HysteresisDays:        3,
			HysteresisOverrides:   map[string]int{},
			ExitZeroSalesDays:     21,
			ExitZeroInventoryDays: 14,
			RelaunchSalesMin:      1,
			MinHistoryDays:        3,
		},
		Targets: TargetsConfig{
			ACOS:         0.35,
			TACOS:        0.15,
			LowInventory: 20,
		},
		Ranking: RankingConfig{
			StageWeights: map[string]float64{
				"decline": 1.0,
				"exit":    0.9,
				"launch":  0.7,
				"growth":  0.5,
				"mature":  0.3,
			},
			EfficiencyWeight: 1.0,
		},
		Watch: WatchConfig{
			WasteSpendMin:  10,
			WasteClicksMin: 10,
		},
	}
}

// knownKeys lists the recognized yaml keys per section for unknown-key
// warnings. Top-level section names map to their child keys; nil means the
// section's children are free-form (maps).
var knownKeys = map[string][]string{
	"windows":   {"roll_days", "mid_window_days", "long_window_days"},
	"cycles":    {"new_cycle_inactive_days", "new_cycle_oos_days"},
	"lifecycle": {"launch_max_days", "mature_ratio", "decline_ratio", "flat_slope_frac", "hysteresis_days", "hysteresis_overrides", "exit_zero_sales_days", "exit_zero_inventory_days", "relaunch_sales_min", "min_history_days"},
	"targets":   {"acos", "tacos", "low_inventory"},
	"ranking":   {"stage_weights", "efficiency_weight"},
	"watch":     {"waste_spend_min", "waste_clicks_min"},
}

// freeFormKeys are children whose own keys are data, not schema.
var freeFormKeys = map[string]bool{
	"hysteresis_overrides": true,
	"stage_weights":        true,
}

// LoadPolicy reads a yaml policy file, overlays it on the defaults, warns on
// unknown keys, fills missing optional values with defaults, and validates.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string, diags *quality.Report, log zerolog.Logger) (*Policy, error) {
	policy := GetDefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("read policy: %w", err)}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parse policy yaml: %w", err)}
	}
	warnUnknownKeys(&root, path, diags, log)

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("decode policy: %w", err)}
	}

	applyDefaults(policy, path, diags, log)

	if problems := policy.Validate(); len(problems) > 0 {
		return nil, &ConfigError{Path: path, Problems: problems}
	}
	return policy, nil
}

// warnUnknownKeys walks the document's top two mapping levels and warns once
// for each key that no recognized option matches.
func warnUnknownKeys(root *yaml.Node, path string, diags *quality.Report, log zerolog.Logger) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return
	}
	warn := func(key string) {
		log.Warn().Str("key", key).Str("path", path).Msg("unrecognized policy key ignored")
		diags.Addf(quality.CodePolicyDefault, path, "unrecognized key %q ignored", key)
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		section := doc.Content[i].Value
		children, ok := knownKeys[section]
		if !ok {
			warn(section)
			continue
		}
		val := doc.Content[i+1]
		if val.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(val.Content); j += 2 {
			key := val.Content[j].Value
			if freeFormKeys[key] {
				continue
			}
			if !contains(children, key) {
				warn(section + "." + key)
			}
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// applyDefaults backfills optional fields the file left zero-valued. Each
// substitution is logged as a warning, never an error.
func applyDefaults(p *Policy, path string, diags *quality.Report, log zerolog.Logger) {
	def := GetDefaultPolicy()
	sub := func(field string, defVal interface{}) {
		log.Warn().Str("field", field).Interface("default", defVal).Msg("policy field missing, using default")
		diags.Addf(quality.CodePolicyDefault, path, "field %s defaulted to %v", field, defVal)
	}

	if p.Windows.RollDays <= 0 {
		p.Windows.RollDays = def.Windows.RollDays
		sub("windows.roll_days", def.Windows.RollDays)
	}
	if p.Windows.MidWindowDays <= 0 {
		p.Windows.MidWindowDays = def.Windows.MidWindowDays
		sub("windows.mid_window_days", def.Windows.MidWindowDays)
	}
	if p.Windows.LongWindowDays <= 0 {
		p.Windows.LongWindowDays = def.Windows.LongWindowDays
		sub("windows.long_window_days", def.Windows.LongWindowDays)
	}
	if p.Cycles.NewCycleInactiveDays <= 0 {
		p.Cycles.NewCycleInactiveDays = def.Cycles.NewCycleInactiveDays
		sub("cycles.new_cycle_inactive_days", def.Cycles.NewCycleInactiveDays)
	}
	if p.Cycles.NewCycleOOSDays <= 0 {
		p.Cycles.NewCycleOOSDays = def.Cycles.NewCycleOOSDays
		sub("cycles.new_cycle_oos_days", def.Cycles.NewCycleOOSDays)
	}
	if p.Lifecycle.LaunchMaxDays <= 0 {
		p.Lifecycle.LaunchMaxDays = def.Lifecycle.LaunchMaxDays
		sub("lifecycle.launch_max_days", def.Lifecycle.LaunchMaxDays)
	}
	if p.Lifecycle.MatureRatio <= 0 {
		p.Lifecycle.MatureRatio = def.Lifecycle.MatureRatio
		sub("lifecycle.mature_ratio", def.Lifecycle.MatureRatio)
	}
	if p.Lifecycle.DeclineRatio <= 0 {
		p.Lifecycle.DeclineRatio = def.Lifecycle.DeclineRatio
		sub("lifecycle.decline_ratio", def.Lifecycle.DeclineRatio)
	}
	if p.Lifecycle.FlatSlopeFrac <= 0 {
		p.Lifecycle.FlatSlopeFrac = def.Lifecycle.FlatSlopeFrac
		sub("lifecycle.flat_slope_frac", def.Lifecycle.FlatSlopeFrac)
	}
	if p.Lifecycle.HysteresisDays <= 0 {
		p.Lifecycle.HysteresisDays = def.Lifecycle.HysteresisDays
		sub("lifecycle.hysteresis_days", def.Lifecycle.HysteresisDays)
	}
	if p.Lifecycle.HysteresisOverrides == nil {
		p.Lifecycle.HysteresisOverrides = map[string]int{}
	}
	if p.Lifecycle.ExitZeroSalesDays <= 0 {
		p.Lifecycle.ExitZeroSalesDays = def.Lifecycle.ExitZeroSalesDays
		sub("lifecycle.exit_zero_sales_days", def.Lifecycle.ExitZeroSalesDays)
	}
	if p.Lifecycle.ExitZeroInventoryDays <= 0 {
		p.Lifecycle.ExitZeroInventoryDays = def.Lifecycle.ExitZeroInventoryDays
		sub("lifecycle.exit_zero_inventory_days", def.Lifecycle.ExitZeroInventoryDays)
	}
	if p.Lifecycle.RelaunchSalesMin <= 0 {
		p.Lifecycle.RelaunchSalesMin = def.Lifecycle.RelaunchSalesMin
		sub("lifecycle.relaunch_sales_min", def.Lifecycle.RelaunchSalesMin)
	}
	if p.Lifecycle.MinHistoryDays <= 0 {
		p.Lifecycle.MinHistoryDays = def.Lifecycle.MinHistoryDays
		sub("lifecycle.min_history_days", def.Lifecycle.MinHistoryDays)
	}
	if p.Targets.ACOS <= 0 {
		p.Targets.ACOS = def.Targets.ACOS
		sub("targets.acos", def.Targets.ACOS)
	}
	if p.Targets.TACOS <= 0 {
		p.Targets.TACOS = def.Targets.TACOS
		sub("targets.tacos", def.Targets.TACOS)
	}
	if p.Targets.LowInventory <= 0 {
		p.Targets.LowInventory = def.Targets.LowInventory
		sub("targets.low_inventory", def.Targets.LowInventory)
	}
	if len(p.Ranking.StageWeights) == 0 {
		p.Ranking.StageWeights = def.Ranking.StageWeights
		sub("ranking.stage_weights", "built-in stage weights")
	}
	if p.Ranking.EfficiencyWeight <= 0 {
		p.Ranking.EfficiencyWeight = def.Ranking.EfficiencyWeight
		sub("ranking.efficiency_weight", def.Ranking.EfficiencyWeight)
	}
	if p.Watch.WasteSpendMin <= 0 {
		p.Watch.WasteSpendMin = def.Watch.WasteSpendMin
		sub("watch.waste_spend_min", def.Watch.WasteSpendMin)
	}
	if p.Watch.WasteClicksMin <= 0 {
		p.Watch.WasteClicksMin = def.Watch.WasteClicksMin
		sub("watch.waste_clicks_min", def.Watch.WasteClicksMin)
	}
}

// Validate checks cross-field consistency after defaults are applied.
func (p *Policy) Validate() []string {
	var problems []string

	if p.Lifecycle.MatureRatio <= p.Lifecycle.DeclineRatio {
		problems = append(problems, fmt.Sprintf("mature_ratio %.2f must exceed decline_ratio %.2f", p.Lifecycle.MatureRatio, p.Lifecycle.DeclineRatio))
	}
	if p.Lifecycle.MatureRatio > 1 {
		problems = append(problems, fmt.Sprintf("mature_ratio %.2f must be within (0, 1]", p.Lifecycle.MatureRatio))
	}
	if p.Windows.RollDays > p.Windows.MidWindowDays || p.Windows.MidWindowDays > p.Windows.LongWindowDays {
		problems = append(problems, fmt.Sprintf("window lengths must be ordered: roll %d <= mid %d <= long %d",
			p.Windows.RollDays, p.Windows.MidWindowDays, p.Windows.LongWindowDays))
	}
	for pair, n := range p.Lifecycle.HysteresisOverrides {
		if n <= 0 {
			problems = append(problems, fmt.Sprintf("hysteresis override %q must be positive, got %d", pair, n))
		}
		if !strings.Contains(pair, ">") {
			problems = append(problems, fmt.Sprintf("hysteresis override key %q must be \"from>to\"", pair))
		}
	}
	for stage, w := range p.Ranking.StageWeights {
		if w < 0 {
			problems = append(problems, fmt.Sprintf("stage weight for %q must be non-negative, got %.2f", stage, w))
		}
	}
	return problems
}

// HysteresisFor returns the consecutive-day requirement for a transition,
// honoring per-pair overrides.
func (lc LifecycleConfig) HysteresisFor(from, to string) int {
	if n, ok := lc.HysteresisOverrides[from+">"+to]; ok {
		return n
	}
	return lc.HysteresisDays
}
