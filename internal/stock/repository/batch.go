package repository

import (
	"context"
	"math"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/lib/pq"
)

const batchColumns = `id, seller_id, product_id, batch_number, production_date, expiration_date,
	supplier, invoice_number, purchase_price, initial_quantity, freshness_score, status,
	block_reason, notes, created_at, updated_at`

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch. A duplicate batch number for the seller is a Validation error.
func (r *BatchRepository) Create(ctx context.Context, b *domain.Batch) error {
	query := `
		INSERT INTO batches (` + batchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		b.ID, b.SellerID, b.ProductID, b.BatchNumber, b.ProductionDate, b.ExpirationDate,
		b.Supplier, b.InvoiceNumber, b.PurchasePrice, b.InitialQuantity, b.FreshnessScore, b.Status,
		b.BlockReason, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	return database.MapError(err, "create batch")
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var b domain.Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &b, query, id); err != nil {
		return nil, notFoundOr(err, "batch", id)
	}
	return &b, nil
}

// GetByNumber gets a seller's batch by its number
func (r *BatchRepository) GetByNumber(ctx context.Context, sellerID, number string) (*domain.Batch, error) {
	var b domain.Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE seller_id = $1 AND batch_number = $2`
	if err := r.db.Conn(ctx).GetContext(ctx, &b, query, sellerID, number); err != nil {
		return nil, notFoundOr(err, "batch", number)
	}
	return &b, nil
}

// Update writes the mutable provenance fields. The expiration date is never written.
func (r *BatchRepository) Update(ctx context.Context, b *domain.Batch) error {
	query := `
		UPDATE batches SET
			production_date = $2, supplier = $3, invoice_number = $4, purchase_price = $5,
			freshness_score = $6, notes = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		b.ID, b.ProductionDate, b.Supplier, b.InvoiceNumber, b.PurchasePrice,
		b.FreshnessScore, b.Notes, b.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "update batch")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFound("batch", b.ID)
	}
	return nil
}

// UpdateStatus moves the batch to `to` only when its stored status is in from
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus, blockReason *string) (*domain.Batch, error) {
	query := `
		UPDATE batches SET status = $2, block_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + batchColumns

	var b domain.Batch
	err := r.db.Conn(ctx).GetContext(ctx, &b, query, id, to, blockReason, pq.Array(strs(from)))
	if err == nil {
		return &b, nil
	}
	if !database.IsNoRows(err) {
		return nil, database.MapError(err, "update batch status")
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.Invariant("batch status changed concurrently", map[string]string{
		"batch_id": id,
		"status":   string(cur.Status),
		"to":       string(to),
	})
}

// ExpireBefore marks ACTIVE batches whose expiration date has passed as EXPIRED
func (r *BatchRepository) ExpireBefore(ctx context.Context, sellerID *string, now time.Time) (int64, error) {
	query := `UPDATE batches SET status = 'EXPIRED', updated_at = $1 WHERE status = 'ACTIVE' AND expiration_date < $1`
	args := []interface{}{now}
	if sellerID != nil {
		query += ` AND seller_id = $2`
		args = append(args, *sellerID)
	}

	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, database.MapError(err, "expire batches")
	}
	return result.RowsAffected()
}

// List lists a page of batches in expiration order
func (r *BatchRepository) List(ctx context.Context, f domain.BatchFilter, now time.Time) ([]*domain.Batch, int64, error) {
	var c conditions
	if f.SellerID != "" {
		c.add("seller_id = ?", f.SellerID)
	}
	if f.ProductID != "" {
		c.add("product_id = ?", f.ProductID)
	}
	if f.Status != "" {
		c.add("status = ?", f.Status)
	}
	from, to := domain.ExpiryWindow(f.AlertLevel, now)
	if from != nil {
		c.add("expiration_date > ?", *from)
	}
	if to != nil {
		c.add("expiration_date <= ?", *to)
	}
	if f.ExpiringWithinDays > 0 {
		c.add("expiration_date >= ?", now)
		c.add("expiration_date <= ?", now.Add(time.Duration(f.ExpiringWithinDays)*24*time.Hour))
	}

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM batches`+c.where(), c.args...); err != nil {
		return nil, 0, database.MapError(err, "count batches")
	}

	limit, args := c.page(f.Page, f.PerPage)
	batches := []*domain.Batch{}
	query := `SELECT ` + batchColumns + ` FROM batches` + c.where() + ` ORDER BY expiration_date, id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, database.MapError(err, "list batches")
	}
	return batches, total, nil
}

// ListActiveForProduct lists the unexpired ACTIVE batches of a product in FIFO order
func (r *BatchRepository) ListActiveForProduct(ctx context.Context, sellerID, productID string, now time.Time) ([]*domain.Batch, error) {
	batches := []*domain.Batch{}
	query := `
		SELECT ` + batchColumns + ` FROM batches
		WHERE seller_id = $1 AND product_id = $2 AND status = 'ACTIVE' AND expiration_date > $3
		ORDER BY expiration_date, id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &batches, query, sellerID, productID, now); err != nil {
		return nil, database.MapError(err, "list active batches")
	}
	return batches, nil
}

type batchTotals struct {
	Total           int64   `db:"total"`
	ExpiringIn3Days int64   `db:"expiring_in_3_days"`
	ExpiringIn7Days int64   `db:"expiring_in_7_days"`
	AverageLifeDays float64 `db:"average_life_days"`
}

type statusCount struct {
	Status string `db:"status"`
	Count  int64  `db:"count"`
}

// Statistics aggregates a seller's batches. Shelf life runs from the
// production date, or the registration date when there is none.
func (r *BatchRepository) Statistics(ctx context.Context, sellerID string, now time.Time) (*domain.BatchStatistics, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'ACTIVE' AND expiration_date > $2 AND expiration_date <= $3) AS expiring_in_3_days,
			COUNT(*) FILTER (WHERE status = 'ACTIVE' AND expiration_date > $2 AND expiration_date <= $4) AS expiring_in_7_days,
			COALESCE(AVG(EXTRACT(EPOCH FROM expiration_date - COALESCE(production_date, created_at)) / 86400), 0) AS average_life_days
		FROM batches
		WHERE seller_id = $1
	`
	var totals batchTotals
	err := r.db.Conn(ctx).GetContext(ctx, &totals, query, sellerID, now,
		now.Add(domain.CriticalDays*24*time.Hour), now.Add(domain.WarningDays*24*time.Hour))
	if err != nil {
		return nil, database.MapError(err, "batch statistics")
	}

	var counts []statusCount
	if err := r.db.Conn(ctx).SelectContext(ctx, &counts,
		`SELECT status, COUNT(*) AS count FROM batches WHERE seller_id = $1 GROUP BY status`, sellerID); err != nil {
		return nil, database.MapError(err, "batch status counts")
	}

	stats := &domain.BatchStatistics{
		Total:                totals.Total,
		ByStatus:             make(map[string]int64, len(counts)),
		ExpiringIn3Days:      totals.ExpiringIn3Days,
		ExpiringIn7Days:      totals.ExpiringIn7Days,
		AverageShelfLifeDays: math.Round(totals.AverageLifeDays*10) / 10,
	}
	for _, sc := range counts {
		stats.ByStatus[sc.Status] = sc.Count
	}
	return stats, nil
}
