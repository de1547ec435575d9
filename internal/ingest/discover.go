// Package ingest discovers report exports on disk and reads them into raw
// SourceRecord batches. File naming and column conventions live here, in the
// adapter, not in the core.
package ingest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/asinlab/shelfrun/internal/domain"
)

// File is one discovered report export.
type File struct {
	Path string
	Kind domain.ReportKind
	Shop string // from the parent directory; overridden by an explicit shop column
}

// analysisKeywords mark the per-day product-analysis export.
var analysisKeywords = []string{"产品分析", "product_analysis", "product-analysis"}

// mapKeywords mark the product/SKU mapping table.
var mapKeywords = []string{"productlisting", "product_map", "产品映射", "listing"}

// Detect classifies a file by name: SP/SB/SD prefixes for the ad-format
// reports, keywords for the product-analysis and mapping tables.
func Detect(name string) (domain.ReportKind, bool) {
	base := filepath.Base(name)
	lower := strings.ToLower(base)

	for _, kw := range analysisKeywords {
		if strings.Contains(lower, kw) || strings.Contains(base, kw) {
			return domain.ProductAnalysis, true
		}
	}
	for _, kw := range mapKeywords {
		if strings.Contains(lower, kw) || strings.Contains(base, kw) {
			return domain.ProductMap, true
		}
	}
	switch {
	case strings.HasPrefix(base, "SP"):
		return domain.AdSP, true
	case strings.HasPrefix(base, "SB"):
		return domain.AdSB, true
	case strings.HasPrefix(base, "SD"):
		return domain.AdSD, true
	}
	return 0, false
}

// Discover walks root for xlsx/csv exports it can classify. Unclassifiable
// files are ignored; ordering is deterministic (sorted by path).
func Discover(root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".xlsx" && ext != ".csv" {
			return nil
		}
		kind, ok := Detect(d.Name())
		if !ok {
			return nil
		}
		files = append(files, File{
			Path: path,
			Kind: kind,
			Shop: filepath.Base(filepath.Dir(path)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
