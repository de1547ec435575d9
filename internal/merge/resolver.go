// Package merge joins normalized report rows into canonical per-product
// per-day records, resolving marketplace identifiers through the product/SKU
// mapping table first.
package merge

import (
	"fmt"
	"strings"

	"github.com/asinlab/shelfrun/internal/normalize"
)

// Resolver answers "which canonical product does this row belong to". Built
// once per run from the mapping table; read-only afterwards, safe to share
// across workers.
type Resolver struct {
	// keys are scoped per shop so the same SKU in two shops never collides.
	byASIN map[string]string // shop|asin -> canonical id
	bySKU  map[string]string // shop|sku  -> canonical id
	meta   map[string]productMeta
}

type productMeta struct {
	name     string
	category string
}

// MergeError reports a row whose product identifier cannot be resolved and
// has no fallback. The row is excluded from the canonical set and reported.
type MergeError struct {
	File string
	Row  int
	Shop string
	SKU  string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("unresolvable product in %s row %d (shop %s, sku %q)", e.File, e.Row, e.Shop, e.SKU)
}

// NewResolver indexes the mapping table. A row with a parent ASIN resolves
// the child to the parent: canonical ids are parent-level products.
func NewResolver(rows []normalize.MapRow) *Resolver {
	r := &Resolver{
		byASIN: make(map[string]string, len(rows)),
		bySKU:  make(map[string]string, len(rows)),
		meta:   make(map[string]productMeta, len(rows)),
	}
	for _, row := range rows {
		canonical := row.ASIN
		if row.ParentASIN != "" {
			canonical = row.ParentASIN
		}
		if canonical == "" {
			continue
		}
		if row.ASIN != "" {
			r.byASIN[scoped(row.Shop, row.ASIN)] = canonical
		}
		if row.SKU != "" {
			r.bySKU[scoped(row.Shop, row.SKU)] = canonical
		}
		if _, ok := r.meta[scoped(row.Shop, canonical)]; !ok && (row.ProductName != "" || row.Category != "") {
			r.meta[scoped(row.Shop, canonical)] = productMeta{name: row.ProductName, category: row.Category}
		}
	}
	return r
}

// Resolve maps a normalized row to its canonical product id. A row carrying
// an ASIN unknown to the mapping table falls back to that ASIN verbatim; a
// row with only an unknown SKU has no fallback and fails.
func (r *Resolver) Resolve(row normalize.Row) (string, error) {
	if row.ASIN != "" {
		if id, ok := r.byASIN[scoped(row.Shop, row.ASIN)]; ok {
			return id, nil
		}
		return row.ASIN, nil
	}
	if row.SKU != "" {
		if id, ok := r.bySKU[scoped(row.Shop, row.SKU)]; ok {
			return id, nil
		}
	}
	return "", &MergeError{File: row.File, Row: row.RowNum, Shop: row.Shop, SKU: row.SKU}
}

// Meta returns mapping-table name/category for a canonical product, when known.
func (r *Resolver) Meta(shop, productID string) (name, category string) {
	m := r.meta[scoped(shop, productID)]
	return m.name, m.category
}

func scoped(shop, id string) string {
	return strings.TrimSpace(shop) + "|" + strings.TrimSpace(id)
}
