package repository

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

const ledgerColumns = `id, batch_id, seller_id, product_id, location_type, location_id,
	quantity, reserved_quantity, status, created_at, updated_at`

const candidateSelect = `
	SELECT l.id, l.batch_id, l.seller_id, l.product_id, l.location_type, l.location_id,
		l.quantity, l.reserved_quantity, l.status, l.created_at, l.updated_at,
		b.batch_number, b.expiration_date, b.status AS batch_status
	FROM stock_ledger l
	JOIN batches b ON b.id = l.batch_id`

// LedgerRepository handles stock ledger persistence
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts a ledger row. The (batch, location) pair is unique.
func (r *LedgerRepository) Create(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO stock_ledger (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		e.ID, e.BatchID, e.SellerID, e.ProductID, e.Location.Type, e.Location.ID,
		e.Quantity, e.ReservedQuantity, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	return database.MapError(err, "create ledger entry")
}

// GetByID gets a ledger row by ID
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledger WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &e, query, id); err != nil {
		return nil, notFoundOr(err, "ledger entry", id)
	}
	return &e, nil
}

// GetByBatchAndLocation gets the row of a batch at a location
func (r *LedgerRepository) GetByBatchAndLocation(ctx context.Context, batchID string, loc domain.Location) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	query := `
		SELECT ` + ledgerColumns + ` FROM stock_ledger
		WHERE batch_id = $1 AND location_type = $2 AND location_id = $3
	`
	err := r.db.Conn(ctx).GetContext(ctx, &e, query, batchID, loc.Type, loc.ID)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("ledger entry").WithDetails(map[string]string{
			"batch_id": batchID,
			"location": loc.String(),
		})
	}
	if err != nil {
		return nil, database.MapError(err, "get ledger entry")
	}
	return &e, nil
}

// CompareAndAdjust applies both deltas in one guarded UPDATE. The status
// follows the new quantity unless the row is BLOCKED.
func (r *LedgerRepository) CompareAndAdjust(ctx context.Context, id string, dq, dr decimal.Decimal) (*domain.LedgerEntry, error) {
	query := `
		UPDATE stock_ledger SET
			quantity = quantity + $2,
			reserved_quantity = reserved_quantity + $3,
			status = CASE
				WHEN status = 'BLOCKED' THEN status
				WHEN quantity + $2 = 0 THEN 'DEPLETED'
				ELSE 'ACTIVE'
			END,
			updated_at = NOW()
		WHERE id = $1
			AND quantity + $2 >= 0
			AND reserved_quantity + $3 >= 0
			AND reserved_quantity + $3 <= quantity + $2
		RETURNING ` + ledgerColumns

	var e domain.LedgerEntry
	err := r.db.Conn(ctx).GetContext(ctx, &e, query, id, dq, dr)
	if err == nil {
		return &e, nil
	}
	if !database.IsNoRows(err) {
		return nil, database.MapError(err, "adjust ledger entry")
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.Validation(cur.BoundsViolation(dq, dr))
}

// ListByBatch lists the rows of a batch across locations
func (r *LedgerRepository) ListByBatch(ctx context.Context, batchID string) ([]*domain.LedgerEntry, error) {
	entries := []*domain.LedgerEntry{}
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledger WHERE batch_id = $1 ORDER BY created_at, id`
	if err := r.db.Conn(ctx).SelectContext(ctx, &entries, query, batchID); err != nil {
		return nil, database.MapError(err, "list ledger by batch")
	}
	return entries, nil
}

// ListByLocation lists a page of a seller's rows at a location
func (r *LedgerRepository) ListByLocation(ctx context.Context, sellerID string, loc domain.Location, page, perPage int) ([]*domain.LedgerEntry, int64, error) {
	var c conditions
	c.add("seller_id = ?", sellerID)
	c.add("location_type = ?", loc.Type)
	c.add("location_id = ?", loc.ID)

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_ledger`+c.where(), c.args...); err != nil {
		return nil, 0, database.MapError(err, "count ledger by location")
	}

	limit, args := c.page(page, perPage)
	entries := []*domain.LedgerEntry{}
	query := `SELECT ` + ledgerColumns + ` FROM stock_ledger` + c.where() + ` ORDER BY created_at, id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, database.MapError(err, "list ledger by location")
	}
	return entries, total, nil
}

// ListByLocationProduct lists the rows of one product at a location
func (r *LedgerRepository) ListByLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) ([]*domain.LedgerEntry, error) {
	entries := []*domain.LedgerEntry{}
	query := `
		SELECT ` + ledgerColumns + ` FROM stock_ledger
		WHERE seller_id = $1 AND location_type = $2 AND location_id = $3 AND product_id = $4
		ORDER BY created_at, id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &entries, query, sellerID, loc.Type, loc.ID, productID); err != nil {
		return nil, database.MapError(err, "list ledger by product")
	}
	return entries, nil
}

// ListForFifo returns the consumable rows in FIFO order and locks them for
// the rest of the transaction
func (r *LedgerRepository) ListForFifo(ctx context.Context, sellerID string, loc domain.Location, productID string, now time.Time) ([]*domain.FifoCandidate, error) {
	query := candidateSelect + `
		WHERE l.seller_id = $1 AND l.location_type = $2 AND l.location_id = $3 AND l.product_id = $4
			AND l.status = 'ACTIVE' AND l.quantity - l.reserved_quantity > 0
			AND b.status = 'ACTIVE' AND b.expiration_date > $5
		ORDER BY b.expiration_date, l.id
		FOR UPDATE OF l
	`
	rows := []*domain.FifoCandidate{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, sellerID, loc.Type, loc.ID, productID, now); err != nil {
		return nil, database.MapError(err, "list fifo candidates")
	}
	return rows, nil
}

// ListExpiringSoon lists a page of stocked rows whose ACTIVE or BLOCKED batch
// expires by until
func (r *LedgerRepository) ListExpiringSoon(ctx context.Context, sellerID string, now, until time.Time, page, perPage int) ([]*domain.FifoCandidate, int64, error) {
	var c conditions
	c.add("l.seller_id = ?", sellerID)
	c.raw("l.quantity > 0")
	c.raw("b.status IN ('ACTIVE', 'BLOCKED')")
	c.add("b.expiration_date <= ?", until)

	var total int64
	countQuery := `SELECT COUNT(*) FROM stock_ledger l JOIN batches b ON b.id = l.batch_id` + c.where()
	if err := r.db.Conn(ctx).GetContext(ctx, &total, countQuery, c.args...); err != nil {
		return nil, 0, database.MapError(err, "count expiring ledger")
	}

	limit, args := c.page(page, perPage)
	rows := []*domain.FifoCandidate{}
	query := candidateSelect + c.where() + ` ORDER BY b.expiration_date, l.id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, database.MapError(err, "list expiring ledger")
	}
	return rows, total, nil
}

// TotalByBatch sums a batch's quantity across locations
func (r *LedgerRepository) TotalByBatch(ctx context.Context, batchID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(quantity), 0) FROM stock_ledger WHERE batch_id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &total, query, batchID); err != nil {
		return decimal.Zero, database.MapError(err, "sum ledger by batch")
	}
	return total, nil
}

// TotalByLocationProduct sums a product's quantity at a location
func (r *LedgerRepository) TotalByLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_ledger
		WHERE seller_id = $1 AND location_type = $2 AND location_id = $3 AND product_id = $4
	`
	if err := r.db.Conn(ctx).GetContext(ctx, &total, query, sellerID, loc.Type, loc.ID, productID); err != nil {
		return decimal.Zero, database.MapError(err, "sum ledger by product")
	}
	return total, nil
}

// ListProductsAtLocation lists the distinct products with a ledger row at a location
func (r *LedgerRepository) ListProductsAtLocation(ctx context.Context, sellerID string, loc domain.Location) ([]string, error) {
	products := []string{}
	query := `
		SELECT DISTINCT product_id FROM stock_ledger
		WHERE seller_id = $1 AND location_type = $2 AND location_id = $3
		ORDER BY product_id
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &products, query, sellerID, loc.Type, loc.ID); err != nil {
		return nil, database.MapError(err, "list products at location")
	}
	return products, nil
}

// ListBelowThreshold returns unblocked rows of ACTIVE batches holding a
// positive available quantity under the threshold
func (r *LedgerRepository) ListBelowThreshold(ctx context.Context, f domain.CandidateFilter) ([]*domain.FifoCandidate, error) {
	var c conditions
	c.add("l.seller_id = ?", f.SellerID)
	c.raw("l.status <> 'BLOCKED'")
	c.raw("b.status = 'ACTIVE'")
	c.raw("l.quantity - l.reserved_quantity > 0")
	c.add("l.quantity - l.reserved_quantity < ?", f.Threshold)
	if f.Location != nil {
		c.add("l.location_type = ?", f.Location.Type)
		c.add("l.location_id = ?", f.Location.ID)
	}
	if f.ProductID != "" {
		c.add("l.product_id = ?", f.ProductID)
	}

	rows := []*domain.FifoCandidate{}
	query := candidateSelect + c.where() + `
		ORDER BY l.location_type, l.location_id, l.product_id, b.expiration_date, l.id
		FOR UPDATE OF l`
	if err := r.db.Conn(ctx).SelectContext(ctx, &rows, query, c.args...); err != nil {
		return nil, database.MapError(err, "list consolidation candidates")
	}
	return rows, nil
}

const movementColumns = `id, ledger_id, batch_id, movement_type, delta, quantity_before,
	quantity_after, reason, reference, performed_by, created_at`

// MovementRepository appends to the stock movement log
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Record appends a movement
func (r *MovementRepository) Record(ctx context.Context, m *domain.Movement) error {
	query := `
		INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		m.ID, m.LedgerID, m.BatchID, m.Type, m.Delta, m.QuantityBefore,
		m.QuantityAfter, m.Reason, m.Reference, m.PerformedBy, m.CreatedAt,
	)
	return database.MapError(err, "record movement")
}

// ListByLedger lists a page of a row's movements, newest first
func (r *MovementRepository) ListByLedger(ctx context.Context, ledgerID string, page, perPage int) ([]*domain.Movement, int64, error) {
	var c conditions
	c.add("ledger_id = ?", ledgerID)

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_movements`+c.where(), c.args...); err != nil {
		return nil, 0, database.MapError(err, "count movements")
	}

	limit, args := c.page(page, perPage)
	movements := []*domain.Movement{}
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + c.where() + ` ORDER BY created_at DESC, id DESC` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, database.MapError(err, "list movements")
	}
	return movements, total, nil
}
