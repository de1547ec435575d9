// Package quality accumulates non-fatal data integrity findings across a run
// so degraded input is reported at the end instead of aborting the pipeline on
// first error.
package quality

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Issue codes. Kept short and enumerable so downstream tooling can group them.
const (
	CodeUnmappedColumn    = "unmapped_column"
	CodeBadCell           = "bad_cell"
	CodeFileSkipped       = "file_skipped"
	CodeUnresolvedProduct = "unresolved_product"
	CodeDuplicatesSummed  = "duplicates_summed"
	CodePartialDay        = "partial_day"
	CodeGapDay            = "gap_day"
	CodeInsufficientData  = "insufficient_data"
	CodePolicyDefault     = "policy_default"
)

// Issue is one recorded data-integrity finding.
type Issue struct {
	Code      string `json:"code"`
	File      string `json:"file,omitempty"`
	Shop      string `json:"shop,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Detail    string `json:"detail"`
}

// Report collects issues from all pipeline stages. Safe for concurrent use:
// parallel workers append through the mutex, reads happen after the run.
type Report struct {
	mu     sync.Mutex
	issues []Issue
	counts map[string]int
}

func NewReport() *Report {
	return &Report{counts: make(map[string]int)}
}

// Add records one issue.
func (r *Report) Add(issue Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues = append(r.issues, issue)
	r.counts[issue.Code]++
}

// Addf records an issue with a formatted detail string.
func (r *Report) Addf(code, file, format string, args ...interface{}) {
	r.Add(Issue{Code: code, File: file, Detail: fmt.Sprintf(format, args...)})
}

// Issues returns a copy of all recorded issues in insertion order.
func (r *Report) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Issue, len(r.issues))
	copy(out, r.issues)
	return out
}

// Count returns how many issues carry the given code.
func (r *Report) Count(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[code]
}

// Len returns the total number of recorded issues.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issues)
}

// Log writes a per-code summary plus each issue at debug level.
func (r *Report) Log(logger zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]string, 0, len(r.counts))
	for code := range r.counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		logger.Warn().Str("code", code).Int("count", r.counts[code]).Msg("data integrity findings")
	}
	for _, issue := range r.issues {
		logger.Debug().
			Str("code", issue.Code).
			Str("file", issue.File).
			Str("product_id", issue.ProductID).
			Msg(issue.Detail)
	}
}
