package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/persistence"
)

// timelineRepo implements TimelineRepo for PostgreSQL.
type timelineRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTimelineRepo creates a PostgreSQL stage-timeline repository.
func NewTimelineRepo(db *sqlx.DB, timeout time.Duration) persistence.TimelineRepo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &timelineRepo{db: db, timeout: timeout}
}

const upsertTimelineQuery = `
	INSERT INTO stage_timeline
	(product_id, shop, date, stage, confidence, reason_codes, gap, insufficient, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (product_id, shop, date) DO UPDATE SET
		stage = EXCLUDED.stage,
		confidence = EXCLUDED.confidence,
		reason_codes = EXCLUDED.reason_codes,
		gap = EXCLUDED.gap,
		insufficient = EXCLUDED.insufficient,
		updated_at = now()`

// UpsertBatch writes one product's entries in one transaction.
func (r *timelineRepo) UpsertBatch(ctx context.Context, tl domain.StageTimeline) error {
	if len(tl.Entries) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(tl.Entries)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timeline tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, upsertTimelineQuery)
	if err != nil {
		return fmt.Errorf("prepare timeline upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range tl.Entries {
		_, err := stmt.ExecContext(ctx,
			tl.ProductID, tl.Shop, e.Date, e.Stage, e.Confidence,
			pq.Array(e.ReasonCodes), e.Gap, e.InsufficientData)
		if err != nil {
			return fmt.Errorf("upsert timeline %s/%s@%s: %w",
				tl.Shop, tl.ProductID, e.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit timeline tx: %w", err)
	}
	return nil
}

// GetRange returns a product's entries inside the window, date-ordered.
func (r *timelineRepo) GetRange(ctx context.Context, productID, shop string, dr persistence.DateRange) (domain.StageTimeline, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT date, stage, confidence, reason_codes, gap, insufficient
		FROM stage_timeline
		WHERE product_id = $1 AND shop = $2 AND date >= $3 AND date <= $4
		ORDER BY date ASC`

	rows, err := r.db.QueryxContext(ctx, query, productID, shop, dr.From, dr.To)
	if err != nil {
		return domain.StageTimeline{}, fmt.Errorf("select timeline for %s/%s: %w", shop, productID, err)
	}
	defer rows.Close()

	tl := domain.StageTimeline{ProductID: productID, Shop: shop}
	for rows.Next() {
		var e domain.TimelineEntry
		var reasons pq.StringArray
		if err := rows.Scan(&e.Date, &e.Stage, &e.Confidence, &reasons, &e.Gap, &e.InsufficientData); err != nil {
			return domain.StageTimeline{}, fmt.Errorf("scan timeline row: %w", err)
		}
		e.ReasonCodes = []string(reasons)
		tl.Entries = append(tl.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return domain.StageTimeline{}, fmt.Errorf("iterate timeline rows: %w", err)
	}
	return tl, nil
}

// LatestStages returns the newest committed stage per product for a shop,
// skipping gap and insufficient-data entries.
func (r *timelineRepo) LatestStages(ctx context.Context, shop string) (map[string]domain.Stage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (product_id) product_id, stage
		FROM stage_timeline
		WHERE shop = $1 AND NOT gap AND NOT insufficient
		ORDER BY product_id, date DESC`

	rows, err := r.db.QueryxContext(ctx, query, shop)
	if err != nil {
		return nil, fmt.Errorf("select latest stages for %s: %w", shop, err)
	}
	defer rows.Close()

	out := make(map[string]domain.Stage)
	for rows.Next() {
		var id string
		var st domain.Stage
		if err := rows.Scan(&id, &st); err != nil {
			return nil, fmt.Errorf("scan latest stage: %w", err)
		}
		out[id] = st
	}
	return out, rows.Err()
}

func (r *timelineRepo) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("timeline repo unhealthy: %w", err)
	}
	return nil
}
