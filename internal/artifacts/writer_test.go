package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/policy"
)

func sampleOutputs() ([]domain.CanonicalRecord, []domain.StageTimeline, policy.Result) {
	date := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	recs := []domain.CanonicalRecord{
		{ProductID: "B0AAA", Shop: "us-main", Date: date, Sales: 120, Spend: 30, Completeness: domain.Full},
		{ProductID: "B0BBB", Shop: "us-main", Date: date, Sales: 50, Completeness: domain.Partial},
	}
	tls := []domain.StageTimeline{{
		ProductID: "B0AAA", Shop: "us-main",
		Entries: []domain.TimelineEntry{
			{Date: date, Stage: domain.Growth, Confidence: 0.8, ReasonCodes: []string{"below_mature_band_rising"}},
			{Date: date.AddDate(0, 0, 1), Gap: true},
		},
	}}
	res := policy.Result{
		Actions: []domain.ActionItem{{
			ProductID: "B0AAA", Shop: "us-main",
			Action: domain.ActionBudgetUp, Priority: domain.P1, Score: 0.9,
		}},
		Watchlist: []policy.WatchEntry{{
			ProductID: "B0BBB", Shop: "us-main", Stage: domain.Decline,
			Reasons: []string{policy.WatchDeclining},
		}},
	}
	return recs, tls, res
}

func TestWriter_FilesAndShapes(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zerolog.Nop())
	recs, tls, res := sampleOutputs()

	require.NoError(t, w.WriteCanonical(recs))
	require.NoError(t, w.WriteTimelines(tls))
	require.NoError(t, w.WriteActions(res))

	canon, err := os.ReadFile(filepath.Join(dir, CanonicalFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(canon)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"completeness":"FULL"`)
	assert.Contains(t, lines[1], `"completeness":"PARTIAL"`)

	timeline, err := os.ReadFile(filepath.Join(dir, TimelineFile))
	require.NoError(t, err)
	tlines := strings.Split(strings.TrimSpace(string(timeline)), "\n")
	require.Len(t, tlines, 2)
	assert.Contains(t, tlines[0], `"stage":"growth"`)
	assert.Contains(t, tlines[1], `"gap":true`)

	actions, err := os.ReadFile(filepath.Join(dir, ActionsFile))
	require.NoError(t, err)
	alines := strings.Split(strings.TrimSpace(string(actions)), "\n")
	require.Len(t, alines, 2)
	assert.Contains(t, alines[0], `"kind":"action"`)
	assert.Contains(t, alines[0], `"priority":"P1"`)
	assert.Contains(t, alines[1], `"kind":"watch"`)
}

func TestWriter_ByteIdenticalAcrossRuns(t *testing.T) {
	recs, tls, res := sampleOutputs()

	render := func() (string, string) {
		dir := t.TempDir()
		w := NewWriter(dir, zerolog.Nop())
		require.NoError(t, w.WriteTimelines(tls))
		require.NoError(t, w.WriteActions(res))
		tb, err := os.ReadFile(filepath.Join(dir, TimelineFile))
		require.NoError(t, err)
		ab, err := os.ReadFile(filepath.Join(dir, ActionsFile))
		require.NoError(t, err)
		return string(tb), string(ab)
	}

	t1, a1 := render()
	t2, a2 := render()
	assert.Equal(t, t1, t2)
	assert.Equal(t, a1, a2)
	_ = recs
}

func TestManifest_InputDigestsAndCounts(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, zerolog.Nop())

	in := filepath.Join(dir, "ad.csv")
	require.NoError(t, os.WriteFile(in, []byte("日期,ASIN\n2026-01-05,B0AAA\n"), 0o644))

	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	m := NewManifest(started)
	require.NoError(t, m.AddInput(in))
	m.SetCount("canonical_records", 2)

	require.NoError(t, w.WriteManifest(m, started.Add(time.Minute)))

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, m.RunID)
	assert.Contains(t, s, `"sha256"`)
	assert.Contains(t, s, `"canonical_records": 2`)
	assert.NotEmpty(t, m.RunID)
}
