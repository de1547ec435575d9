package merge

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/normalize"
	"github.com/asinlab/shelfrun/internal/quality"
)

// Merger folds normalized rows from all report kinds into exactly one
// CanonicalRecord per (product, shop, day).
type Merger struct {
	resolver *Resolver
	diags    *quality.Report
	log      zerolog.Logger
}

func New(resolver *Resolver, diags *quality.Report, log zerolog.Logger) *Merger {
	return &Merger{
		resolver: resolver,
		diags:    diags,
		log:      log.With().Str("component", "merge").Logger(),
	}
}

// half accumulates one join side (ad or analysis) for one key.
type half struct {
	rows         int
	spend        float64
	adSales      float64
	sales        float64
	impressions  float64
	clicks       float64
	orders       float64
	adOrders     float64
	units        float64
	sessions     float64
	organicSales float64
	inventory    *float64
	category     string
	productName  string
	status       string
}

// addAdditive sums the metrics where multiple source rows legitimately roll
// up to one product/day (multiple keyword or placement rows). Last-write-wins
// would lose spend; summation is the only correct fold.
func (h *half) addAdditive(row normalize.Row) {
	h.rows++
	h.spend += row.Spend
	h.adSales += row.AdSales
	h.sales += row.Sales
	h.impressions += row.Impressions
	h.clicks += row.Clicks
	h.orders += row.Orders
	h.adOrders += row.AdOrders
	h.units += row.Units
	h.sessions += row.Sessions
	h.organicSales += row.OrganicSales
}

// addDescriptive keeps the first non-empty value deterministically; rows are
// pre-sorted by (file, row) before folding.
func (h *half) addDescriptive(row normalize.Row) {
	if h.category == "" {
		h.category = row.Category
	}
	if h.productName == "" {
		h.productName = row.ProductName
	}
	if h.status == "" {
		h.status = row.Status
	}
	if h.inventory == nil && row.Inventory != nil {
		v := *row.Inventory
		h.inventory = &v
	}
}

// Merge joins ad rows and product-analysis rows. Rows whose product cannot be
// resolved are excluded and reported; a key present on only one side still
// yields a record flagged PARTIAL.
func (m *Merger) Merge(adRows, analysisRows []normalize.Row) []domain.CanonicalRecord {
	adSide := m.fold(adRows)
	paSide := m.fold(analysisRows)

	keys := make(map[domain.Key]struct{}, len(adSide)+len(paSide))
	for k := range adSide {
		keys[k] = struct{}{}
	}
	for k := range paSide {
		keys[k] = struct{}{}
	}

	records := make([]domain.CanonicalRecord, 0, len(keys))
	for key := range keys {
		ad, hasAd := adSide[key]
		pa, hasPA := paSide[key]

		rec := domain.CanonicalRecord{
			ProductID:   key.ProductID,
			Shop:        key.Shop,
			Date:        key.Date,
			HasAd:       hasAd,
			HasAnalysis: hasPA,
		}

		if hasAd {
			rec.Spend += ad.spend
			rec.AdSales += ad.adSales
			rec.Impressions += ad.impressions
			rec.Clicks += ad.clicks
			rec.AdOrders += ad.adOrders
			rec.Units += ad.units
			rec.Status = ad.status
		}
		if hasPA {
			// The analysis export is the authority for whole-product results,
			// including its ad aggregates, which cover all ad formats; the
			// ad-report sums are the fallback when those columns are absent.
			rec.Sales = pa.sales
			rec.Orders = pa.orders
			rec.Sessions = pa.sessions
			rec.OrganicSales = pa.organicSales
			rec.Inventory = pa.inventory
			if pa.units > 0 {
				rec.Units = pa.units
			}
			if pa.spend > 0 {
				rec.Spend = pa.spend
			}
			if pa.adSales > 0 {
				rec.AdSales = pa.adSales
			}
			if pa.adOrders > 0 {
				rec.AdOrders = pa.adOrders
			}
			rec.Category = pa.category
			rec.ProductName = pa.productName
		}

		// Mapping-table metadata fills whatever the reports left blank.
		name, category := m.resolver.Meta(key.Shop, key.ProductID)
		if rec.ProductName == "" {
			rec.ProductName = name
		}
		if rec.Category == "" {
			rec.Category = category
		}

		// Derive organic sales when the export does not carry the column.
		if rec.OrganicSales == 0 && rec.Sales > 0 && rec.AdSales > 0 {
			if organic := rec.Sales - rec.AdSales; organic > 0 {
				rec.OrganicSales = organic
			}
		}

		if hasAd && hasPA {
			rec.Completeness = domain.Full
		} else {
			rec.Completeness = domain.Partial
			m.diags.Add(quality.Issue{
				Code:      quality.CodePartialDay,
				Shop:      key.Shop,
				ProductID: key.ProductID,
				Detail:    "only one source contributed for " + key.Date.Format("2006-01-02"),
			})
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Shop != b.Shop {
			return a.Shop < b.Shop
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.Date.Before(b.Date)
	})

	m.log.Info().Int("ad_rows", len(adRows)).Int("analysis_rows", len(analysisRows)).
		Int("canonical_records", len(records)).Msg("merge complete")
	return records
}

// fold groups one source's rows by resolved key, summing additive metrics.
func (m *Merger) fold(rows []normalize.Row) map[domain.Key]*half {
	sorted := make([]normalize.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}
		return sorted[i].RowNum < sorted[j].RowNum
	})

	out := make(map[domain.Key]*half)
	for _, row := range sorted {
		if row.Date.IsZero() {
			continue
		}
		productID, err := m.resolver.Resolve(row)
		if err != nil {
			m.diags.Add(quality.Issue{
				Code:   quality.CodeUnresolvedProduct,
				File:   row.File,
				Shop:   row.Shop,
				Detail: err.Error(),
			})
			continue
		}
		key := domain.Key{ProductID: productID, Shop: row.Shop, Date: domain.Day(row.Date)}
		h, ok := out[key]
		if !ok {
			h = &half{}
			out[key] = h
		}
		h.addAdditive(row)
		h.addDescriptive(row)
	}

	for key, h := range out {
		if h.rows > 1 {
			m.diags.Add(quality.Issue{
				Code:      quality.CodeDuplicatesSummed,
				Shop:      key.Shop,
				ProductID: key.ProductID,
				Detail:    key.Date.Format("2006-01-02"),
			})
		}
	}
	return out
}
