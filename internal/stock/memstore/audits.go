package memstore

import (
	"context"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/errors"
)

// AuditStore is the inventory audit table of a Store
type AuditStore struct{ s *Store }

func (r *AuditStore) Create(ctx context.Context, doc *domain.AuditDocument) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.st.audits {
		if existing.DocumentNumber == doc.DocumentNumber {
			return errors.Validation(map[string]string{"document_number": "already exists"})
		}
		if doc.Status.IsActive() && existing.Status.IsActive() &&
			existing.SellerID == doc.SellerID && existing.ShopID == doc.ShopID {
			return errors.Invariant("an active inventory audit already exists for this shop", nil)
		}
	}
	r.s.st.audits[doc.ID] = copyAudit(doc)
	return nil
}

func (r *AuditStore) GetByID(ctx context.Context, id string) (*domain.AuditDocument, error) {
	defer r.s.lock(ctx)()
	return r.get(id)
}

// LockByID is GetByID: the scope already holds the store
func (r *AuditStore) LockByID(ctx context.Context, id string) (*domain.AuditDocument, error) {
	return r.GetByID(ctx, id)
}

func (r *AuditStore) get(id string) (*domain.AuditDocument, error) {
	doc, ok := r.s.st.audits[id]
	if !ok {
		return nil, errors.NotFound("inventory audit", id)
	}
	return copyAudit(doc), nil
}

func (r *AuditStore) GetByDocumentNumber(ctx context.Context, sellerID, number string) (*domain.AuditDocument, error) {
	defer r.s.lock(ctx)()
	for _, doc := range r.s.st.audits {
		if doc.SellerID == sellerID && doc.DocumentNumber == number {
			return copyAudit(doc), nil
		}
	}
	return nil, errors.NotFound("inventory audit", number)
}

func (r *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditDocument, int64, error) {
	defer r.s.lock(ctx)()
	out := []*domain.AuditDocument{}
	for _, doc := range r.s.st.audits {
		switch {
		case doc.SellerID != f.SellerID,
			f.ShopID != "" && doc.ShopID != f.ShopID,
			f.Status != "" && doc.Status != f.Status,
			f.Type != "" && doc.Type != f.Type,
			f.From != nil && doc.CreatedAt.Before(*f.From),
			f.To != nil && doc.CreatedAt.After(*f.To):
			continue
		}
		c := copyAudit(doc)
		c.Items = nil
		out = append(out, c)
	}
	sortBy(out, func(a, b *domain.AuditDocument) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return paginate(out, f.Page, f.PerPage), int64(len(out)), nil
}

func (r *AuditStore) GetActiveForShop(ctx context.Context, sellerID, shopID string) (*domain.AuditDocument, error) {
	defer r.s.lock(ctx)()
	for _, doc := range r.s.st.audits {
		if doc.SellerID == sellerID && doc.ShopID == shopID && doc.Status.IsActive() {
			return copyAudit(doc), nil
		}
	}
	return nil, errors.NotFound("active inventory audit", shopID)
}

// Transition writes the lifecycle fields of doc if the stored status is in from
func (r *AuditStore) Transition(ctx context.Context, doc *domain.AuditDocument, from []domain.AuditStatus) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.audits[doc.ID]
	if !ok {
		return errors.NotFound("inventory audit", doc.ID)
	}
	if !statusIn(cur.Status, from) {
		return errors.Invariant("inventory audit status changed concurrently", map[string]string{
			"audit_id": doc.ID,
			"status":   string(cur.Status),
		})
	}
	cur.Status = doc.Status
	cur.StartedAt = doc.StartedAt
	cur.CompletedAt = doc.CompletedAt
	cur.CancelledAt = doc.CancelledAt
	cur.CancelReason = doc.CancelReason
	cur.UpdatedAt = doc.UpdatedAt
	if doc.Summary != nil {
		cur.SetSummary(*doc.Summary)
	}
	return nil
}

func (r *AuditStore) AddItems(ctx context.Context, auditID string, items []domain.AuditItem, totalItems int) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.audits[auditID]
	if !ok {
		return errors.NotFound("inventory audit", auditID)
	}
	for _, it := range items {
		for _, existing := range cur.Items {
			if existing.ProductID == it.ProductID {
				return errors.Validation(map[string]string{"product_id": "already on the audit"}).
					WithDetail("product", it.ProductID)
			}
		}
		cur.Items = append(cur.Items, it)
	}
	cur.TotalItems = totalItems
	return nil
}

func (r *AuditStore) UpdateCounts(ctx context.Context, auditID string, items []domain.AuditItem, countedItems int) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.audits[auditID]
	if !ok {
		return errors.NotFound("inventory audit", auditID)
	}
	for _, it := range items {
		stored := cur.FindItem(it.ID)
		if stored == nil {
			return errors.NotFound("audit item", it.ID)
		}
		*stored = it
	}
	cur.CountedItems = countedItems
	return nil
}
