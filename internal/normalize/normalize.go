package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/quality"
)

// Row is one normalized, typed report row. Which fields are populated depends
// on the report kind; the merger only reads what the kind provides.
type Row struct {
	Kind         domain.ReportKind
	Shop         string
	Date         time.Time
	ASIN         string
	SKU          string
	ProductName  string
	Category     string
	Status       string
	Impressions  float64
	Clicks       float64
	Spend        float64
	AdSales      float64
	Sales        float64
	Orders       float64
	AdOrders     float64
	Units        float64
	Sessions     float64
	OrganicSales float64
	Inventory    *float64
	File         string
	RowNum       int
}

// MapRow is one row of the product/SKU mapping table: marketplace ids and
// aliases resolving to a canonical product.
type MapRow struct {
	Shop        string
	ASIN        string
	SKU         string
	ParentASIN  string
	ProductName string
	Category    string
}

// Normalizer converts raw SourceRecords to typed rows, reporting unmapped
// columns and unparseable cells through the quality report.
type Normalizer struct {
	diags *quality.Report
	log   zerolog.Logger
}

func New(diags *quality.Report, log zerolog.Logger) *Normalizer {
	return &Normalizer{diags: diags, log: log.With().Str("component", "normalize").Logger()}
}

// NormalizeBatch processes all records of one file (one report kind). A
// missing required column fails the whole file with *SchemaError; individual
// bad cells skip only their row and are reported, not silently dropped.
func (n *Normalizer) NormalizeBatch(kind domain.ReportKind, records []domain.SourceRecord) ([]Row, error) {
	if len(records) == 0 {
		return nil, nil
	}

	aliases := aliasTable(kind)
	file := records[0].File

	if err := n.checkRequired(kind, file, records[0], aliases); err != nil {
		return nil, err
	}
	n.reportUnmapped(file, records[0], aliases)

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row, err := n.normalizeRecord(kind, rec, aliases)
		if err != nil {
			n.diags.Add(quality.Issue{
				Code:   quality.CodeBadCell,
				File:   rec.File,
				Shop:   rec.Shop,
				Detail: err.Error(),
			})
			continue
		}
		rows = append(rows, row)
	}

	n.log.Debug().Str("file", file).Str("kind", kind.String()).
		Int("rows_in", len(records)).Int("rows_out", len(rows)).Msg("normalized batch")
	return rows, nil
}

// NormalizeMap processes the product/SKU mapping table.
func (n *Normalizer) NormalizeMap(records []domain.SourceRecord) ([]MapRow, error) {
	if len(records) == 0 {
		return nil, nil
	}
	aliases := aliasTable(domain.ProductMap)
	file := records[0].File

	if err := n.checkRequired(domain.ProductMap, file, records[0], aliases); err != nil {
		return nil, err
	}
	n.reportUnmapped(file, records[0], aliases)

	rows := make([]MapRow, 0, len(records))
	for _, rec := range records {
		fields := canonicalFields(rec, aliases)
		asin := strings.TrimSpace(fields[FieldASIN])
		sku := strings.TrimSpace(fields[FieldSKU])
		if asin == "" && sku == "" {
			continue
		}
		rows = append(rows, MapRow{
			Shop:        pickShop(rec.Shop, fields[FieldShop]),
			ASIN:        asin,
			SKU:         sku,
			ParentASIN:  strings.TrimSpace(fields[FieldParentASIN]),
			ProductName: strings.TrimSpace(fields[FieldProductName]),
			Category:    strings.TrimSpace(fields[FieldCategory]),
		})
	}
	return rows, nil
}

func (n *Normalizer) checkRequired(kind domain.ReportKind, file string, sample domain.SourceRecord, aliases map[string]string) error {
	present := make(map[string]bool, len(sample.Fields))
	for header := range sample.Fields {
		if field, ok := aliases[strings.TrimSpace(header)]; ok {
			present[field] = true
		}
	}
	var missing []string
	for _, field := range requiredFields(kind) {
		if !present[field] {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &SchemaError{File: file, Kind: kind, Missing: missing}
	}
	return nil
}

// reportUnmapped emits one diagnostic per column the alias tables do not
// cover, so operators can see what a file carried that the engine dropped.
func (n *Normalizer) reportUnmapped(file string, sample domain.SourceRecord, aliases map[string]string) {
	var unmapped []string
	for header := range sample.Fields {
		if _, ok := aliases[strings.TrimSpace(header)]; !ok {
			unmapped = append(unmapped, header)
		}
	}
	if len(unmapped) == 0 {
		return
	}
	sort.Strings(unmapped)
	n.diags.Addf(quality.CodeUnmappedColumn, file, "columns not mapped: %s", strings.Join(unmapped, ", "))
}

func (n *Normalizer) normalizeRecord(kind domain.ReportKind, rec domain.SourceRecord, aliases map[string]string) (Row, error) {
	fields := canonicalFields(rec, aliases)

	row := Row{
		Kind:        kind,
		Shop:        pickShop(rec.Shop, fields[FieldShop]),
		ASIN:        strings.TrimSpace(fields[FieldASIN]),
		SKU:         strings.TrimSpace(fields[FieldSKU]),
		ProductName: strings.TrimSpace(fields[FieldProductName]),
		Category:    strings.TrimSpace(fields[FieldCategory]),
		Status:      NormalizeStatus(fields[FieldStatus]),
		File:        rec.File,
		RowNum:      rec.Row,
	}

	if raw, ok := fields[FieldDate]; ok {
		date, err := ParseDate(raw)
		if err != nil {
			return Row{}, &CellError{File: rec.File, Row: rec.Row, Column: FieldDate, Value: raw, Err: err}
		}
		row.Date = date
	}

	numbers := map[string]*float64{
		FieldImpressions:  &row.Impressions,
		FieldClicks:       &row.Clicks,
		FieldSpend:        &row.Spend,
		FieldAdSales:      &row.AdSales,
		FieldSales:        &row.Sales,
		FieldOrders:       &row.Orders,
		FieldAdOrders:     &row.AdOrders,
		FieldUnits:        &row.Units,
		FieldSessions:     &row.Sessions,
		FieldOrganicSales: &row.OrganicSales,
	}
	for field, dst := range numbers {
		raw, ok := fields[field]
		if !ok {
			continue
		}
		v, err := ParseNumber(raw)
		if err != nil {
			return Row{}, &CellError{File: rec.File, Row: rec.Row, Column: field, Value: raw, Err: err}
		}
		*dst = v
	}

	// Inventory stays optional: absence of the column means "unknown", which
	// downstream must distinguish from a known zero.
	if raw, ok := fields[FieldInventory]; ok {
		v, err := ParseNumber(raw)
		if err != nil {
			return Row{}, &CellError{File: rec.File, Row: rec.Row, Column: FieldInventory, Value: raw, Err: err}
		}
		row.Inventory = &v
	}

	return row, nil
}

// canonicalFields resolves each raw header through the alias table. Unknown
// headers are left out; extra columns are never fatal.
func canonicalFields(rec domain.SourceRecord, aliases map[string]string) map[string]string {
	out := make(map[string]string, len(rec.Fields))
	for header, value := range rec.Fields {
		if field, ok := aliases[strings.TrimSpace(header)]; ok {
			out[field] = value
		}
	}
	return out
}

func pickShop(fromFile, fromColumn string) string {
	if s := strings.TrimSpace(fromColumn); s != "" {
		return s
	}
	return strings.TrimSpace(fromFile)
}
