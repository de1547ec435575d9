package domain

// ReportKind discriminates the heterogeneous source exports. Normalization
// dispatches on this tag rather than on per-report types.
type ReportKind int

const (
	AdSP ReportKind = iota
	AdSB
	AdSD
	ProductAnalysis
	ProductMap
)

func (k ReportKind) String() string {
	switch k {
	case AdSP:
		return "ad_sp"
	case AdSB:
		return "ad_sb"
	case AdSD:
		return "ad_sd"
	case ProductAnalysis:
		return "product_analysis"
	case ProductMap:
		return "product_map"
	default:
		return "unknown"
	}
}

// IsAd reports whether the kind is one of the ad-format reports.
func (k ReportKind) IsAd() bool {
	return k == AdSP || k == AdSB || k == AdSD
}

// SourceRecord is one raw row from one report file. Fields maps the original
// column header to the raw cell text; nothing is typed or renamed yet.
// Records are immutable once parsed and owned by the normalizer during its pass.
type SourceRecord struct {
	Kind   ReportKind        `json:"kind"`
	Shop   string            `json:"shop"`
	File   string            `json:"file"`
	Row    int               `json:"row"`
	Fields map[string]string `json:"fields"`
}
