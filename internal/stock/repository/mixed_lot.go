package repository

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const mixedLotColumns = `id, seller_id, product_id, location_type, location_id, total_quantity,
	effective_expiration_date, effective_freshness, reason, audit_ref, notes, created_by,
	is_active, deactivated_at, created_at`

const componentColumns = `mixed_lot_id, position, batch_id, batch_number, quantity,
	freshness_at_mixing, original_expiration_date`

// MixedLotRepository handles mixed lot persistence. Components live in
// mixed_lot_components and are always loaded with their lot.
type MixedLotRepository struct {
	db *database.DB
}

// NewMixedLotRepository creates a new mixed lot repository
func NewMixedLotRepository(db *database.DB) *MixedLotRepository {
	return &MixedLotRepository{db: db}
}

// Create inserts a lot and its components. Callers run it inside a scope.
func (r *MixedLotRepository) Create(ctx context.Context, lot *domain.MixedLot) error {
	query := `
		INSERT INTO mixed_lots (` + mixedLotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	conn := r.db.Conn(ctx)
	if _, err := conn.ExecContext(ctx, query,
		lot.ID, lot.SellerID, lot.ProductID, lot.Location.Type, lot.Location.ID, lot.TotalQuantity,
		lot.EffectiveExpirationDate, lot.EffectiveFreshness, lot.Reason, lot.AuditRef, lot.Notes, lot.CreatedBy,
		lot.IsActive, lot.DeactivatedAt, lot.CreatedAt,
	); err != nil {
		return database.MapError(err, "create mixed lot")
	}

	if len(lot.Components) == 0 {
		return nil
	}
	for i := range lot.Components {
		lot.Components[i].MixedLotID = lot.ID
	}
	_, err := sqlx.NamedExecContext(ctx, conn, `
		INSERT INTO mixed_lot_components (`+componentColumns+`)
		VALUES (:mixed_lot_id, :position, :batch_id, :batch_number, :quantity,
			:freshness_at_mixing, :original_expiration_date)`, lot.Components)
	return database.MapError(err, "create mixed lot components")
}

// GetByID gets a lot with its components
func (r *MixedLotRepository) GetByID(ctx context.Context, id string) (*domain.MixedLot, error) {
	var lot domain.MixedLot
	query := `SELECT ` + mixedLotColumns + ` FROM mixed_lots WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &lot, query, id); err != nil {
		return nil, notFoundOr(err, "mixed lot", id)
	}
	if err := r.attachComponents(ctx, []*domain.MixedLot{&lot}); err != nil {
		return nil, err
	}
	return &lot, nil
}

// ListByLocation lists the lots at a location, newest first
func (r *MixedLotRepository) ListByLocation(ctx context.Context, sellerID string, loc domain.Location, activeOnly bool) ([]*domain.MixedLot, error) {
	var c conditions
	c.add("seller_id = ?", sellerID)
	c.add("location_type = ?", loc.Type)
	c.add("location_id = ?", loc.ID)
	if activeOnly {
		c.raw("is_active")
	}
	return r.selectLots(ctx, `SELECT `+mixedLotColumns+` FROM mixed_lots`+c.where()+` ORDER BY created_at DESC, id`, c.args...)
}

// ListByComponent lists every lot that absorbed the batch
func (r *MixedLotRepository) ListByComponent(ctx context.Context, batchID string) ([]*domain.MixedLot, error) {
	query := `
		SELECT ` + mixedLotColumns + ` FROM mixed_lots
		WHERE id IN (SELECT mixed_lot_id FROM mixed_lot_components WHERE batch_id = $1)
		ORDER BY created_at DESC, id
	`
	return r.selectLots(ctx, query, batchID)
}

// History lists a page of lots matching f, newest first
func (r *MixedLotRepository) History(ctx context.Context, f domain.MixedLotFilter) ([]*domain.MixedLot, int64, error) {
	var c conditions
	c.add("seller_id = ?", f.SellerID)
	if f.Location != nil {
		c.add("location_type = ?", f.Location.Type)
		c.add("location_id = ?", f.Location.ID)
	}
	if f.ProductID != "" {
		c.add("product_id = ?", f.ProductID)
	}
	if f.Reason != "" {
		c.add("reason = ?", f.Reason)
	}
	if f.ActiveOnly {
		c.raw("is_active")
	}
	if f.From != nil {
		c.add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		c.add("created_at <= ?", *f.To)
	}

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM mixed_lots`+c.where(), c.args...); err != nil {
		return nil, 0, database.MapError(err, "count mixed lots")
	}

	limit, args := c.page(f.Page, f.PerPage)
	lots, err := r.selectLots(ctx, `SELECT `+mixedLotColumns+` FROM mixed_lots`+c.where()+` ORDER BY created_at DESC, id`+limit, args...)
	if err != nil {
		return nil, 0, err
	}
	return lots, total, nil
}

// Deactivate marks an active lot inactive
func (r *MixedLotRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE mixed_lots SET is_active = FALSE, deactivated_at = $2 WHERE id = $1 AND is_active`, id, at)
	if err != nil {
		return database.MapError(err, "deactivate mixed lot")
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return errors.Invariant("mixed lot is already inactive", map[string]string{"mixed_lot_id": id})
}

type lotTotals struct {
	Total             int64           `db:"total"`
	Active            int64           `db:"active"`
	TotalQuantity     decimal.Decimal `db:"total_quantity"`
	AverageFreshness  float64         `db:"average_freshness"`
	AverageComponents float64         `db:"average_components"`
}

type reasonCount struct {
	Reason string `db:"reason"`
	Count  int64  `db:"count"`
}

// Statistics aggregates a seller's consolidation activity
func (r *MixedLotRepository) Statistics(ctx context.Context, sellerID string) (*domain.MixedLotStatistics, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE m.is_active) AS active,
			COALESCE(SUM(m.total_quantity), 0) AS total_quantity,
			COALESCE(AVG(m.effective_freshness), 0) AS average_freshness,
			COALESCE(AVG(c.n), 0) AS average_components
		FROM mixed_lots m
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS n FROM mixed_lot_components WHERE mixed_lot_id = m.id
		) c ON TRUE
		WHERE m.seller_id = $1
	`
	var totals lotTotals
	if err := r.db.Conn(ctx).GetContext(ctx, &totals, query, sellerID); err != nil {
		return nil, database.MapError(err, "mixed lot statistics")
	}

	var counts []reasonCount
	if err := r.db.Conn(ctx).SelectContext(ctx, &counts,
		`SELECT reason, COUNT(*) AS count FROM mixed_lots WHERE seller_id = $1 GROUP BY reason`, sellerID); err != nil {
		return nil, database.MapError(err, "mixed lot reason counts")
	}

	stats := &domain.MixedLotStatistics{
		Total:             totals.Total,
		Active:            totals.Active,
		ByReason:          make(map[string]int64, len(counts)),
		TotalQuantity:     totals.TotalQuantity,
		AverageFreshness:  domain.RoundFreshness(totals.AverageFreshness),
		AverageComponents: domain.RoundFreshness(totals.AverageComponents),
	}
	for _, rc := range counts {
		stats.ByReason[rc.Reason] = rc.Count
	}
	return stats, nil
}

func (r *MixedLotRepository) selectLots(ctx context.Context, query string, args ...interface{}) ([]*domain.MixedLot, error) {
	lots := []*domain.MixedLot{}
	if err := r.db.Conn(ctx).SelectContext(ctx, &lots, query, args...); err != nil {
		return nil, database.MapError(err, "list mixed lots")
	}
	if err := r.attachComponents(ctx, lots); err != nil {
		return nil, err
	}
	return lots, nil
}

// attachComponents loads the components of all lots in one query
func (r *MixedLotRepository) attachComponents(ctx context.Context, lots []*domain.MixedLot) error {
	if len(lots) == 0 {
		return nil
	}
	ids := make([]string, len(lots))
	byID := make(map[string]*domain.MixedLot, len(lots))
	for i, lot := range lots {
		ids[i] = lot.ID
		byID[lot.ID] = lot
		lot.Components = []domain.MixedLotComponent{}
	}

	var components []domain.MixedLotComponent
	query := `
		SELECT ` + componentColumns + ` FROM mixed_lot_components
		WHERE mixed_lot_id = ANY($1)
		ORDER BY mixed_lot_id, position
	`
	if err := r.db.Conn(ctx).SelectContext(ctx, &components, query, pq.Array(ids)); err != nil {
		return database.MapError(err, "list mixed lot components")
	}
	for _, c := range components {
		if lot := byID[c.MixedLotID]; lot != nil {
			lot.Components = append(lot.Components, c)
		}
	}
	return nil
}
