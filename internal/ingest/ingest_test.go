package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asinlab/shelfrun/internal/domain"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		kind domain.ReportKind
		ok   bool
	}{
		{"SP广告产品报告-2026-01.xlsx", domain.AdSP, true},
		{"SB投放报告.xlsx", domain.AdSB, true},
		{"SD广告活动报告.xlsx", domain.AdSD, true},
		{"产品分析-ASIN-列表-按日-20260104.xlsx", domain.ProductAnalysis, true},
		{"productListing.xlsx", domain.ProductMap, true},
		{"product_map.csv", domain.ProductMap, true},
		{"random-notes.xlsx", 0, false},
	}
	for _, tc := range cases {
		kind, ok := Detect(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		if ok {
			assert.Equal(t, tc.kind, kind, tc.name)
		}
	}
}

func TestReadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SP_search_terms.csv")
	csv := "日期,ASIN,广告花费\n2026-01-04,B001,10.5\n2026-01-04,B002,3.2\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	r := NewReader(zerolog.Nop())
	records, err := r.Read(File{Path: path, Kind: domain.AdSP, Shop: "shop-a"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "B001", records[0].Fields["ASIN"])
	assert.Equal(t, "10.5", records[0].Fields["广告花费"])
	assert.Equal(t, "shop-a", records[0].Shop)
	assert.Equal(t, 2, records[0].Row)
}

func TestDiscoverSorted(t *testing.T) {
	dir := t.TempDir()
	shop := filepath.Join(dir, "shop-a")
	require.NoError(t, os.MkdirAll(shop, 0o755))
	for _, name := range []string{"SP_b.csv", "SP_a.csv", "ignore.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(shop, name), []byte("x\n"), 0o644))
	}

	files, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "SP_a.csv", filepath.Base(files[0].Path))
	assert.Equal(t, "shop-a", files[0].Shop)
}
