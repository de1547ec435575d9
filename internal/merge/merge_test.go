package merge

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/normalize"
	"github.com/asinlab/shelfrun/internal/quality"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func adRow(asin string, date string, spend float64) normalize.Row {
	return normalize.Row{
		Kind: domain.AdSP, Shop: "shop-a", ASIN: asin, Date: day(date),
		Spend: spend, File: "SP.xlsx", RowNum: 2,
	}
}

func newMerger(rows []normalize.MapRow) (*Merger, *quality.Report) {
	diags := quality.NewReport()
	return New(NewResolver(rows), diags, zerolog.Nop()), diags
}

func TestMerge_DuplicateSpendSums(t *testing.T) {
	m, diags := newMerger(nil)

	a := adRow("B001", "2026-01-04", 10)
	b := adRow("B001", "2026-01-04", 15)
	b.RowNum = 3

	records := m.Merge([]normalize.Row{a, b}, nil)
	require.Len(t, records, 1)
	assert.InDelta(t, 25.0, records[0].Spend, 1e-9, "two ad rows for one product/day must sum")
	assert.Equal(t, 1, diags.Count(quality.CodeDuplicatesSummed))
}

func TestMerge_PartialWhenOneSideMissing(t *testing.T) {
	m, _ := newMerger(nil)

	records := m.Merge([]normalize.Row{adRow("B001", "2026-01-04", 5)}, nil)
	require.Len(t, records, 1)
	assert.Equal(t, domain.Partial, records[0].Completeness)
	assert.True(t, records[0].HasAd)
	assert.False(t, records[0].HasAnalysis)
}

func TestMerge_FullWhenBothSidesPresent(t *testing.T) {
	m, _ := newMerger(nil)

	pa := normalize.Row{
		Kind: domain.ProductAnalysis, Shop: "shop-a", ASIN: "B001", Date: day("2026-01-04"),
		Sales: 100, AdSales: 40, Orders: 5, File: "pa.xlsx", RowNum: 2,
	}
	records := m.Merge([]normalize.Row{adRow("B001", "2026-01-04", 12)}, []normalize.Row{pa})
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, domain.Full, rec.Completeness)
	assert.InDelta(t, 12.0, rec.Spend, 1e-9)
	assert.InDelta(t, 100.0, rec.Sales, 1e-9)
	assert.InDelta(t, 60.0, rec.OrganicSales, 1e-9, "organic derived as sales - ad sales")
}

func TestMerge_FirstNonNullDescriptiveWins(t *testing.T) {
	m, _ := newMerger(nil)

	// Duplicate analysis rows for one product/day: the first (file, row)
	// offers no category or inventory, the later rows fill them in. Metrics
	// sum; descriptive fields take the first non-null value in row order.
	inv1, inv2 := 40.0, 7.0
	a := normalize.Row{
		Kind: domain.ProductAnalysis, Shop: "shop-a", ASIN: "B001", Date: day("2026-01-04"),
		Sales: 50, File: "pa.xlsx", RowNum: 2,
	}
	b := normalize.Row{
		Kind: domain.ProductAnalysis, Shop: "shop-a", ASIN: "B001", Date: day("2026-01-04"),
		Sales: 30, Category: "Home", ProductName: "Widget", Inventory: &inv1,
		File: "pa.xlsx", RowNum: 3,
	}
	c := normalize.Row{
		Kind: domain.ProductAnalysis, Shop: "shop-a", ASIN: "B001", Date: day("2026-01-04"),
		Category: "Garden", Inventory: &inv2, File: "pa.xlsx", RowNum: 4,
	}

	// Input order must not matter; folding sorts by (file, row) first.
	records := m.Merge(nil, []normalize.Row{c, a, b})
	require.Len(t, records, 1)

	rec := records[0]
	assert.InDelta(t, 80.0, rec.Sales, 1e-9)
	assert.Equal(t, "Home", rec.Category, "first non-empty category wins")
	assert.Equal(t, "Widget", rec.ProductName)
	require.NotNil(t, rec.Inventory)
	assert.InDelta(t, 40.0, *rec.Inventory, 1e-9, "first non-null inventory wins")
}

func TestMerge_ParentChildResolution(t *testing.T) {
	m, _ := newMerger([]normalize.MapRow{
		{Shop: "shop-a", ASIN: "B0CHILD1", ParentASIN: "B0PARENT", ProductName: "Widget"},
		{Shop: "shop-a", ASIN: "B0CHILD2", ParentASIN: "B0PARENT"},
	})

	records := m.Merge([]normalize.Row{
		adRow("B0CHILD1", "2026-01-04", 10),
		adRow("B0CHILD2", "2026-01-04", 5),
	}, nil)

	require.Len(t, records, 1, "both children roll up to the parent")
	assert.Equal(t, "B0PARENT", records[0].ProductID)
	assert.InDelta(t, 15.0, records[0].Spend, 1e-9)
	assert.Equal(t, "Widget", records[0].ProductName)
}

func TestMerge_UnresolvableRowExcludedAndReported(t *testing.T) {
	m, diags := newMerger(nil)

	skuOnly := normalize.Row{
		Kind: domain.AdSP, Shop: "shop-a", SKU: "UNKNOWN-SKU", Date: day("2026-01-04"),
		Spend: 9, File: "SP.xlsx", RowNum: 7,
	}
	records := m.Merge([]normalize.Row{skuOnly, adRow("B001", "2026-01-04", 1)}, nil)

	require.Len(t, records, 1, "unresolvable row must be excluded, not merged")
	assert.Equal(t, "B001", records[0].ProductID)
	assert.Equal(t, 1, diags.Count(quality.CodeUnresolvedProduct))
}

func TestMerge_SKUResolvedThroughMapping(t *testing.T) {
	m, _ := newMerger([]normalize.MapRow{
		{Shop: "shop-a", ASIN: "B001", SKU: "SKU-1"},
	})

	skuOnly := normalize.Row{
		Kind: domain.AdSP, Shop: "shop-a", SKU: "SKU-1", Date: day("2026-01-04"),
		Spend: 4, File: "SP.xlsx", RowNum: 2,
	}
	records := m.Merge([]normalize.Row{skuOnly}, nil)
	require.Len(t, records, 1)
	assert.Equal(t, "B001", records[0].ProductID)
}

func TestMerge_DeterministicOrder(t *testing.T) {
	m, _ := newMerger(nil)

	rows := []normalize.Row{
		adRow("B002", "2026-01-05", 1),
		adRow("B001", "2026-01-05", 1),
		adRow("B001", "2026-01-04", 1),
	}
	records := m.Merge(rows, nil)
	require.Len(t, records, 3)
	assert.Equal(t, "B001", records[0].ProductID)
	assert.Equal(t, day("2026-01-04"), records[0].Date)
	assert.Equal(t, "B001", records[1].ProductID)
	assert.Equal(t, "B002", records[2].ProductID)
}
