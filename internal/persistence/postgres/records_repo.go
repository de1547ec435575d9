package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/persistence"
)

// recordsRepo implements RecordsRepo for PostgreSQL.
type recordsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRecordsRepo creates a PostgreSQL canonical-records repository.
func NewRecordsRepo(db *sqlx.DB, timeout time.Duration) persistence.RecordsRepo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &recordsRepo{db: db, timeout: timeout}
}

const upsertRecordQuery = `
	INSERT INTO canonical_records
	(product_id, shop, date, spend, ad_sales, organic_sales, sales, impressions,
	 clicks, orders, ad_orders, units, sessions, inventory, category,
	 product_name, status, completeness, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
	ON CONFLICT (product_id, shop, date) DO UPDATE SET
		spend = EXCLUDED.spend,
		ad_sales = EXCLUDED.ad_sales,
		organic_sales = EXCLUDED.organic_sales,
		sales = EXCLUDED.sales,
		impressions = EXCLUDED.impressions,
		clicks = EXCLUDED.clicks,
		orders = EXCLUDED.orders,
		ad_orders = EXCLUDED.ad_orders,
		units = EXCLUDED.units,
		sessions = EXCLUDED.sessions,
		inventory = EXCLUDED.inventory,
		category = EXCLUDED.category,
		product_name = EXCLUDED.product_name,
		status = EXCLUDED.status,
		completeness = EXCLUDED.completeness,
		updated_at = now()`

// UpsertBatch writes all records in one transaction.
func (r *recordsRepo) UpsertBatch(ctx context.Context, records []domain.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(records)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin records tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, upsertRecordQuery)
	if err != nil {
		return fmt.Errorf("prepare records upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ProductID, rec.Shop, rec.Date,
			rec.Spend, rec.AdSales, rec.OrganicSales, rec.Sales,
			rec.Impressions, rec.Clicks, rec.Orders, rec.AdOrders,
			rec.Units, rec.Sessions, rec.Inventory,
			rec.Category, rec.ProductName, rec.Status, rec.Completeness)
		if err != nil {
			return fmt.Errorf("upsert record %s/%s@%s: %w",
				rec.Shop, rec.ProductID, rec.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records tx: %w", err)
	}
	return nil
}

// GetRange returns a product's records inside the window, date-ordered.
func (r *recordsRepo) GetRange(ctx context.Context, productID, shop string, dr persistence.DateRange) ([]domain.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT product_id, shop, date, spend, ad_sales, organic_sales, sales,
		       impressions, clicks, orders, ad_orders, units, sessions,
		       inventory, category, product_name, status, completeness
		FROM canonical_records
		WHERE product_id = $1 AND shop = $2 AND date >= $3 AND date <= $4
		ORDER BY date ASC`

	var out []domain.CanonicalRecord
	if err := r.db.SelectContext(ctx, &out, query, productID, shop, dr.From, dr.To); err != nil {
		return nil, fmt.Errorf("select records for %s/%s: %w", shop, productID, err)
	}
	return out, nil
}

func (r *recordsRepo) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("records repo unhealthy: %w", err)
	}
	return nil
}
