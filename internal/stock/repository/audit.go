package repository

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const auditColumns = `id, document_number, seller_id, shop_id, status, audit_type, total_items,
	counted_items, surplus_count, shortage_count, matched_count, surplus_quantity,
	shortage_quantity, notes, cancel_reason, created_by, started_at, completed_at,
	cancelled_at, created_at, updated_at`

const auditItemColumns = `id, audit_id, product_id, expected_quantity, actual_quantity,
	difference, is_counted, counted_at`

// AuditRepository handles inventory audit persistence. The one-active-audit
// rule per shop is a partial unique index on inventory_audits.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a document and any items it already carries
func (r *AuditRepository) Create(ctx context.Context, doc *domain.AuditDocument) error {
	query := `
		INSERT INTO inventory_audits (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		doc.ID, doc.DocumentNumber, doc.SellerID, doc.ShopID, doc.Status, doc.Type, doc.TotalItems,
		doc.CountedItems, doc.SurplusCount, doc.ShortageCount, doc.MatchedCount, doc.SurplusQuantity,
		doc.ShortageQuantity, doc.Notes, doc.CancelReason, doc.CreatedBy, doc.StartedAt, doc.CompletedAt,
		doc.CancelledAt, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "create inventory audit")
	}
	return r.insertItems(ctx, doc.ID, doc.Items)
}

// GetByID gets a document with its items
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*domain.AuditDocument, error) {
	return r.getOne(ctx, `SELECT `+auditColumns+` FROM inventory_audits WHERE id = $1`, id, id)
}

// LockByID gets a document with its items and holds its row until the scope ends
func (r *AuditRepository) LockByID(ctx context.Context, id string) (*domain.AuditDocument, error) {
	return r.getOne(ctx, `SELECT `+auditColumns+` FROM inventory_audits WHERE id = $1 FOR UPDATE`, id, id)
}

// GetByDocumentNumber gets a seller's document by number
func (r *AuditRepository) GetByDocumentNumber(ctx context.Context, sellerID, number string) (*domain.AuditDocument, error) {
	query := `SELECT ` + auditColumns + ` FROM inventory_audits WHERE seller_id = $2 AND document_number = $1`
	return r.getOne(ctx, query, number, number, sellerID)
}

// GetActiveForShop gets the DRAFT or IN_PROGRESS audit of a shop
func (r *AuditRepository) GetActiveForShop(ctx context.Context, sellerID, shopID string) (*domain.AuditDocument, error) {
	var doc domain.AuditDocument
	query := `
		SELECT ` + auditColumns + ` FROM inventory_audits
		WHERE seller_id = $1 AND shop_id = $2 AND status IN ('DRAFT', 'IN_PROGRESS')
	`
	if err := r.db.Conn(ctx).GetContext(ctx, &doc, query, sellerID, shopID); err != nil {
		return nil, notFoundOr(err, "active inventory audit", shopID)
	}
	if err := r.loadItems(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List lists a page of documents without their items, newest first
func (r *AuditRepository) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditDocument, int64, error) {
	var c conditions
	c.add("seller_id = ?", f.SellerID)
	if f.ShopID != "" {
		c.add("shop_id = ?", f.ShopID)
	}
	if f.Status != "" {
		c.add("status = ?", f.Status)
	}
	if f.Type != "" {
		c.add("audit_type = ?", f.Type)
	}
	if f.From != nil {
		c.add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		c.add("created_at <= ?", *f.To)
	}

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM inventory_audits`+c.where(), c.args...); err != nil {
		return nil, 0, database.MapError(err, "count inventory audits")
	}

	limit, args := c.page(f.Page, f.PerPage)
	docs := []*domain.AuditDocument{}
	query := `SELECT ` + auditColumns + ` FROM inventory_audits` + c.where() + ` ORDER BY created_at DESC, id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, database.MapError(err, "list inventory audits")
	}
	for _, doc := range docs {
		doc.LoadSummary()
	}
	return docs, total, nil
}

// Transition writes the lifecycle fields of doc if the stored status is in from
func (r *AuditRepository) Transition(ctx context.Context, doc *domain.AuditDocument, from []domain.AuditStatus) error {
	query := `
		UPDATE inventory_audits SET
			status = $2, started_at = $3, completed_at = $4, cancelled_at = $5,
			cancel_reason = $6, updated_at = $7,
			surplus_count = COALESCE($8, surplus_count),
			shortage_count = COALESCE($9, shortage_count),
			matched_count = COALESCE($10, matched_count),
			surplus_quantity = COALESCE($11, surplus_quantity),
			shortage_quantity = COALESCE($12, shortage_quantity)
		WHERE id = $1 AND status = ANY($13)
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		doc.ID, doc.Status, doc.StartedAt, doc.CompletedAt, doc.CancelledAt,
		doc.CancelReason, doc.UpdatedAt,
		doc.SurplusCount, doc.ShortageCount, doc.MatchedCount, doc.SurplusQuantity, doc.ShortageQuantity,
		pq.Array(strs(from)),
	)
	if err != nil {
		return database.MapError(err, "transition inventory audit")
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		return nil
	}

	var status string
	err = r.db.Conn(ctx).GetContext(ctx, &status, `SELECT status FROM inventory_audits WHERE id = $1`, doc.ID)
	if err != nil {
		return notFoundOr(err, "inventory audit", doc.ID)
	}
	return errors.Invariant("inventory audit status changed concurrently", map[string]string{
		"audit_id": doc.ID,
		"status":   status,
	})
}

// AddItems appends items and stores the new item total
func (r *AuditRepository) AddItems(ctx context.Context, auditID string, items []domain.AuditItem, totalItems int) error {
	if err := r.insertItems(ctx, auditID, items); err != nil {
		return err
	}
	return r.setCounter(ctx, auditID, "total_items", totalItems)
}

// UpdateCounts writes counted lines and stores the new counted total
func (r *AuditRepository) UpdateCounts(ctx context.Context, auditID string, items []domain.AuditItem, countedItems int) error {
	query := `
		UPDATE inventory_audit_items SET
			actual_quantity = $3, difference = $4, is_counted = $5, counted_at = $6
		WHERE id = $1 AND audit_id = $2
	`
	conn := r.db.Conn(ctx)
	for _, it := range items {
		result, err := conn.ExecContext(ctx, query,
			it.ID, auditID, it.ActualQuantity, it.Difference, it.IsCounted, it.CountedAt)
		if err != nil {
			return database.MapError(err, "update audit item")
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return errors.NotFound("audit item", it.ID)
		}
	}
	return r.setCounter(ctx, auditID, "counted_items", countedItems)
}

func (r *AuditRepository) setCounter(ctx context.Context, auditID, column string, n int) error {
	result, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE inventory_audits SET `+column+` = $2, updated_at = $3 WHERE id = $1`, auditID, n, time.Now().UTC())
	if err != nil {
		return database.MapError(err, "update inventory audit")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFound("inventory audit", auditID)
	}
	return nil
}

func (r *AuditRepository) insertItems(ctx context.Context, auditID string, items []domain.AuditItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].AuditID = auditID
	}
	_, err := sqlx.NamedExecContext(ctx, r.db.Conn(ctx), `
		INSERT INTO inventory_audit_items (`+auditItemColumns+`)
		VALUES (:id, :audit_id, :product_id, :expected_quantity, :actual_quantity,
			:difference, :is_counted, :counted_at)`, items)
	return database.MapError(err, "create audit items")
}

func (r *AuditRepository) getOne(ctx context.Context, query, ref string, args ...interface{}) (*domain.AuditDocument, error) {
	var doc domain.AuditDocument
	if err := r.db.Conn(ctx).GetContext(ctx, &doc, query, args...); err != nil {
		return nil, notFoundOr(err, "inventory audit", ref)
	}
	if err := r.loadItems(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *AuditRepository) loadItems(ctx context.Context, doc *domain.AuditDocument) error {
	doc.Items = []domain.AuditItem{}
	query := `SELECT ` + auditItemColumns + ` FROM inventory_audit_items WHERE audit_id = $1 ORDER BY product_id, id`
	if err := r.db.Conn(ctx).SelectContext(ctx, &doc.Items, query, doc.ID); err != nil {
		return database.MapError(err, "list audit items")
	}
	doc.LoadSummary()
	return nil
}
