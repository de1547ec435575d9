// Package normalize maps arbitrary source column names, locales, and date
// formats from each report kind onto canonical typed fields. Column handling
// is driven by declarative alias tables so future source-format drift stays in
// one place.
package normalize

import (
	"fmt"
	"strings"

	"github.com/asinlab/shelfrun/internal/domain"
)

// Canonical field names. These are internal identifiers, not output headers.
const (
	FieldShop         = "shop"
	FieldDate         = "date"
	FieldASIN         = "asin"
	FieldSKU          = "sku"
	FieldParentASIN   = "parent_asin"
	FieldProductName  = "product_name"
	FieldCategory     = "category"
	FieldStatus       = "status"
	FieldImpressions  = "impressions"
	FieldClicks       = "clicks"
	FieldSpend        = "spend"
	FieldAdSales      = "ad_sales"
	FieldSales        = "sales"
	FieldOrders       = "orders"
	FieldAdOrders     = "ad_orders"
	FieldUnits        = "units"
	FieldSessions     = "sessions"
	FieldOrganicSales = "organic_sales"
	FieldInventory    = "inventory"
)

// baseAliases accepts the header variants the production exports actually use,
// Chinese and English. Shared across report kinds; kind tables below override
// where the same header means something different per kind.
var baseAliases = map[string][]string{
	FieldShop:        {"店铺", "Shop", "shop", "店铺名称"},
	FieldDate:        {"日期", "Date", "date", "报告日期"},
	FieldASIN:        {"ASIN", "asin", "Asin"},
	FieldSKU:         {"SKU", "sku", "MSKU", "msku"},
	FieldParentASIN:  {"父ASIN", "Parent ASIN", "parent_asin"},
	FieldProductName: {"品名", "商品名称", "Product Name", "Title"},
	FieldCategory:    {"商品分类", "分类", "Category"},
	FieldStatus: {
		"状态", "Status",
		"广告活动运行状态", "广告活动状态", "Campaign Status",
		"广告组运行状态", "广告组状态", "Ad Group Status",
		"广告产品运行状态", "广告产品状态",
		"投放运行状态", "投放状态", "Targeting Status",
	},
	FieldImpressions: {"广告曝光量", "曝光量", "Impressions", "impressions"},
	FieldClicks:      {"广告点击量", "点击量", "Clicks", "clicks"},
	FieldSpend:       {"广告花费", "花费", "Spend", "spend", "Cost"},
}

// adAliases: in ad-format reports "销售额/订单量" are ad-attributed.
var adAliases = map[string][]string{
	FieldAdSales:  {"销售额", "广告销售额", "Sales", "sales", "7天总销售额"},
	FieldAdOrders: {"订单量", "广告订单量", "Orders", "orders", "7天总订单数"},
	FieldUnits:    {"销量", "7天总销售量"},
}

// analysisAliases: the product-analysis export reports whole-product results,
// so "销售额/订单量" are totals and the ad columns are explicit.
var analysisAliases = map[string][]string{
	FieldSales:        {"销售额", "Sales"},
	FieldOrders:       {"订单量", "Orders"},
	FieldUnits:        {"销量", "Units"},
	FieldAdSales:      {"广告销售额", "Ad Sales"},
	FieldAdOrders:     {"广告订单量", "Ad Orders"},
	FieldOrganicSales: {"自然销售额", "Organic Sales"},
	FieldSessions:     {"Sessions", "sessions", "会话次数"},
	FieldInventory:    {"FBA可售", "可售", "FBA Available", "Available Inventory"},
}

// mapAliases: the product/SKU mapping table (online listing base).
var mapAliases = map[string][]string{
	FieldInventory: {"可售", "FBA可售"},
}

// requiredFields lists the identifiers without which a file cannot be joined.
// Missing any of these is a SchemaError for the whole file.
func requiredFields(kind domain.ReportKind) []string {
	switch kind {
	case domain.ProductMap:
		return []string{FieldASIN}
	default:
		return []string{FieldASIN, FieldDate}
	}
}

// aliasTable merges the base table with the kind-specific one into a reverse
// lookup: source header -> canonical field.
func aliasTable(kind domain.ReportKind) map[string]string {
	out := make(map[string]string, 64)
	add := func(m map[string][]string) {
		for field, names := range m {
			for _, name := range names {
				out[name] = field
			}
		}
	}
	add(baseAliases)
	switch {
	case kind.IsAd():
		add(adAliases)
	case kind == domain.ProductAnalysis:
		add(analysisAliases)
	case kind == domain.ProductMap:
		add(mapAliases)
	}
	return out
}

// SchemaError reports required columns a file failed to provide. The file is
// skipped; the run continues with the remaining files.
type SchemaError struct {
	File    string
	Kind    domain.ReportKind
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %s (%s): missing required columns %s",
		e.File, e.Kind, strings.Join(e.Missing, ", "))
}

// CellError reports a cell whose content could not be parsed as its field's
// type. Garbage is rejected, never coerced to zero.
type CellError struct {
	File   string
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("bad cell %s row %d column %q: %q: %v", e.File, e.Row, e.Column, e.Value, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }
