// Package persistence defines the repository contracts for keeping canonical
// records and stage timelines between runs. Persistence is optional: a run
// without a DSN produces artifacts only.
package persistence

import (
	"context"
	"time"

	"github.com/asinlab/shelfrun/internal/domain"
)

// DateRange bounds a query window, inclusive on both ends.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RecordsRepo stores canonical per-product per-day records.
type RecordsRepo interface {
	// UpsertBatch writes records atomically, replacing rows that share the
	// (product_id, shop, date) natural key.
	UpsertBatch(ctx context.Context, records []domain.CanonicalRecord) error

	// GetRange returns a product's records inside the window, date-ordered.
	GetRange(ctx context.Context, productID, shop string, r DateRange) ([]domain.CanonicalRecord, error)

	// Health verifies connectivity.
	Health(ctx context.Context) error
}

// TimelineRepo stores committed stage timeline entries.
type TimelineRepo interface {
	// UpsertBatch writes one product's entries, replacing rows that share
	// the (product_id, shop, date) natural key.
	UpsertBatch(ctx context.Context, tl domain.StageTimeline) error

	// GetRange returns a product's entries inside the window, date-ordered.
	GetRange(ctx context.Context, productID, shop string, r DateRange) (domain.StageTimeline, error)

	// LatestStages returns the most recent committed stage per product for
	// a shop, for cross-run dashboards.
	LatestStages(ctx context.Context, shop string) (map[string]domain.Stage, error)

	// Health verifies connectivity.
	Health(ctx context.Context) error
}
