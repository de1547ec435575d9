package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asinlab/shelfrun/internal/quality"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPolicy_EmptyPathReturnsDefaults(t *testing.T) {
	diags := quality.NewReport()
	p, err := LoadPolicy("", diags, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 7, p.Windows.RollDays)
	assert.Equal(t, 0.85, p.Lifecycle.MatureRatio)
	assert.Equal(t, 3, p.Lifecycle.HysteresisDays)
	assert.Zero(t, diags.Len())
}

func TestLoadPolicy_MissingOptionalFieldDefaultsWithWarning(t *testing.T) {
	path := writePolicy(t, `
lifecycle:
  hysteresis_days: 5
`)
	diags := quality.NewReport()
	p, err := LoadPolicy(path, diags, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 5, p.Lifecycle.HysteresisDays)
	// Everything else came from the documented defaults and was reported.
	assert.Equal(t, 0.85, p.Lifecycle.MatureRatio)
	assert.Greater(t, diags.Count(quality.CodePolicyDefault), 0)
}

func TestLoadPolicy_UnknownKeysWarnButLoad(t *testing.T) {
	path := writePolicy(t, `
lifecycle:
  hysteresis_days: 4
  turbo_mode: true
legacy_section:
  foo: 1
`)
	diags := quality.NewReport()
	p, err := LoadPolicy(path, diags, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 4, p.Lifecycle.HysteresisDays)

	var unknown int
	for _, iss := range diags.Issues() {
		if iss.Code == quality.CodePolicyDefault {
			unknown++
		}
	}
	assert.GreaterOrEqual(t, unknown, 2)
}

func TestLoadPolicy_StructuralBreakageIsConfigError(t *testing.T) {
	path := writePolicy(t, "lifecycle: [not, a, mapping")
	_, err := LoadPolicy(path, quality.NewReport(), zerolog.Nop())
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, path, cfgErr.Path)
}

func TestLoadPolicy_ValidationFailureIsConfigError(t *testing.T) {
	path := writePolicy(t, `
lifecycle:
  mature_ratio: 0.5
  decline_ratio: 0.8
`)
	_, err := LoadPolicy(path, quality.NewReport(), zerolog.Nop())
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.NotEmpty(t, cfgErr.Problems)
}

func TestHysteresisFor_PerPairOverride(t *testing.T) {
	lc := LifecycleConfig{
		HysteresisDays:      3,
		HysteresisOverrides: map[string]int{"mature>decline": 5},
	}
	assert.Equal(t, 5, lc.HysteresisFor("mature", "decline"))
	assert.Equal(t, 3, lc.HysteresisFor("growth", "mature"))
}

func TestValidate_HysteresisOverrideKeyShape(t *testing.T) {
	p := GetDefaultPolicy()
	p.Lifecycle.HysteresisOverrides = map[string]int{"badkey": 2}
	problems := p.Validate()
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "badkey")
}
