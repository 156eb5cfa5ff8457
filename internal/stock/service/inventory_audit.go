package service

import (
	"context"
	"strings"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/actor"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// InventoryAuditService runs physical counts of a shop against the ledger
type InventoryAuditService struct {
	tx     TxRunner
	audits AuditStore
	ledger LedgerStore
	events EventPublisher
	now    Clock
	logger *logger.Logger
}

// NewInventoryAuditService creates a new inventory audit service
func NewInventoryAuditService(stores Stores, events EventPublisher, log *logger.Logger) *InventoryAuditService {
	return &InventoryAuditService{
		tx:     stores.Tx,
		audits: stores.Audits,
		ledger: stores.Ledger,
		events: publisherOrNop(events),
		now:    utcNow,
		logger: log.WithComponent("audit-service"),
	}
}

// WithClock replaces the service clock
func (s *InventoryAuditService) WithClock(now Clock) *InventoryAuditService {
	s.now = now
	return s
}

// CreateAuditInput opens a count. ProductIDs is ignored for FULL audits,
// which take every product stocked at the shop.
type CreateAuditInput struct {
	SellerID   string           `json:"-"`
	ShopID     string           `json:"shop_id" validate:"required,uuid"`
	Type       domain.AuditType `json:"audit_type" validate:"required"`
	ProductIDs []string         `json:"product_ids,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
}

// Create opens a DRAFT audit for the shop with one item per product
func (s *InventoryAuditService) Create(ctx context.Context, in CreateAuditInput) (*domain.AuditDocument, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.ShopID) == "" {
		details["shop_id"] = "this field is required"
	}
	if !in.Type.Valid() {
		details["audit_type"] = "must be one of: FULL PARTIAL CONTROL"
	}
	if in.Type != domain.AuditFull && in.Type.Valid() && len(in.ProductIDs) == 0 {
		details["product_ids"] = "must not be empty for " + string(in.Type) + " audits"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	var doc *domain.AuditDocument
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		active, err := s.audits.GetActiveForShop(ctx, in.SellerID, in.ShopID)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return err
		}
		if active != nil {
			return errors.Invariant("shop already has an active audit", map[string]string{
				"shop_id":         in.ShopID,
				"audit_id":        active.ID,
				"document_number": active.DocumentNumber,
			})
		}

		shop := domain.ShopLocation(in.ShopID)
		products := in.ProductIDs
		if in.Type == domain.AuditFull {
			products, err = s.ledger.ListProductsAtLocation(ctx, in.SellerID, shop)
			if err != nil {
				return err
			}
		}

		now := s.now()
		doc = &domain.AuditDocument{
			ID:             uuid.NewString(),
			DocumentNumber: domain.NewDocumentNumber(now),
			SellerID:       in.SellerID,
			ShopID:         in.ShopID,
			Status:         domain.AuditDraft,
			Type:           in.Type,
			Notes:          in.Notes,
			CreatedBy:      actor.RefFromContext(ctx),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		doc.Items, err = s.buildItems(ctx, doc, products, nil)
		if err != nil {
			return err
		}
		doc.TotalItems = len(doc.Items)
		return s.audits.Create(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)

	s.logger.Info().
		Str("audit_id", doc.ID).
		Str("document_number", doc.DocumentNumber).
		Str("shop_id", doc.ShopID).
		Str("audit_type", string(doc.Type)).
		Int("total_items", doc.TotalItems).
		Msg("inventory audit created")
	return doc, nil
}

// buildItems snapshots the expected quantity of each product not already on
// the document. Duplicates in products are collapsed.
func (s *InventoryAuditService) buildItems(ctx context.Context, doc *domain.AuditDocument, products []string, existing []domain.AuditItem) ([]domain.AuditItem, error) {
	seen := make(map[string]bool, len(existing)+len(products))
	for _, it := range existing {
		seen[it.ProductID] = true
	}

	shop := domain.ShopLocation(doc.ShopID)
	items := make([]domain.AuditItem, 0, len(products))
	for _, p := range products {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, errors.Validation(map[string]string{"product_ids": "must not contain empty ids"})
		}
		if seen[p] {
			continue
		}
		seen[p] = true

		expected, err := s.ledger.TotalByLocationProduct(ctx, doc.SellerID, shop, p)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.AuditItem{
			ID:               uuid.NewString(),
			AuditID:          doc.ID,
			ProductID:        p,
			ExpectedQuantity: expected,
		})
	}
	return items, nil
}

// AddItems appends products to a DRAFT audit
func (s *InventoryAuditService) AddItems(ctx context.Context, id string, productIDs []string) (*domain.AuditDocument, error) {
	if len(productIDs) == 0 {
		return nil, errors.Validation(map[string]string{"product_ids": "must not be empty"})
	}

	var doc *domain.AuditDocument
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.audits.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status != domain.AuditDraft {
			return notInStatus(doc, domain.AuditDraft, "items can only be added to a draft audit")
		}

		added, err := s.buildItems(ctx, doc, productIDs, doc.Items)
		if err != nil {
			return err
		}
		if len(added) == 0 {
			return nil
		}
		doc.Items = append(doc.Items, added...)
		doc.TotalItems = len(doc.Items)
		return s.audits.AddItems(ctx, doc.ID, added, doc.TotalItems)
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return doc, nil
}

// Start moves a DRAFT audit with at least one item to IN_PROGRESS
func (s *InventoryAuditService) Start(ctx context.Context, id string) (*domain.AuditDocument, error) {
	return s.transition(ctx, id, []domain.AuditStatus{domain.AuditDraft}, func(doc *domain.AuditDocument) error {
		if doc.Status != domain.AuditDraft {
			return notInStatus(doc, domain.AuditDraft, "only a draft audit can be started")
		}
		if len(doc.Items) == 0 {
			return errors.Validation(map[string]string{"items": "audit has no items"})
		}
		now := s.now()
		doc.Status = domain.AuditInProgress
		doc.StartedAt = &now
		return nil
	})
}

// RecordCount records the counted quantity of one item
func (s *InventoryAuditService) RecordCount(ctx context.Context, id, itemID string, actual decimal.Decimal) (*domain.AuditDocument, error) {
	return s.BulkRecordCount(ctx, id, []domain.CountInput{{ItemID: itemID, Actual: actual}})
}

// BulkRecordCount records several counts in one scope. Any invalid line
// aborts the whole batch.
func (s *InventoryAuditService) BulkRecordCount(ctx context.Context, id string, counts []domain.CountInput) (*domain.AuditDocument, error) {
	if len(counts) == 0 {
		return nil, errors.Validation(map[string]string{"counts": "must not be empty"})
	}
	for _, c := range counts {
		if c.Actual.IsNegative() {
			return nil, errors.Validation(map[string]string{"actual_quantity": "must be greater than or equal to 0"}).
				WithDetail("item_id", c.ItemID)
		}
	}

	var doc *domain.AuditDocument
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.audits.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status != domain.AuditInProgress {
			return notInStatus(doc, domain.AuditInProgress, "counts can only be recorded while the audit is in progress")
		}

		now := s.now()
		touched := make([]domain.AuditItem, 0, len(counts))
		for _, c := range counts {
			item := doc.FindItem(c.ItemID)
			if item == nil {
				return errors.NotFound("audit item", c.ItemID)
			}
			if !item.IsCounted {
				doc.CountedItems++
			}
			item.RecordCount(c.Actual, now)
			touched = append(touched, *item)
		}
		return s.audits.UpdateCounts(ctx, doc.ID, touched, doc.CountedItems)
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return doc, nil
}

// Complete closes an IN_PROGRESS audit and stores its variance record.
// Uncounted items are left out of the summary.
func (s *InventoryAuditService) Complete(ctx context.Context, id string) (*domain.AuditDocument, error) {
	ctx, span := startSpan(ctx, "audit.Complete", attribute.String("audit.id", id))
	doc, err := s.transition(ctx, id, []domain.AuditStatus{domain.AuditInProgress}, func(doc *domain.AuditDocument) error {
		if doc.Status != domain.AuditInProgress {
			return notInStatus(doc, domain.AuditInProgress, "only an audit in progress can be completed")
		}
		now := s.now()
		doc.Status = domain.AuditCompleted
		doc.CompletedAt = &now
		doc.SetSummary(domain.Summarize(doc.Items))
		return nil
	}, func(ctx context.Context, doc *domain.AuditDocument) {
		s.events.AuditCompleted(ctx, doc)
	})
	if err == nil {
		span.SetAttributes(
			attribute.Int("audit.surplus_count", doc.Summary.SurplusCount),
			attribute.Int("audit.shortage_count", doc.Summary.ShortageCount),
			attribute.Int("audit.matched_count", doc.Summary.MatchedCount),
		)
	}
	finishSpan(span, err)
	return doc, err
}

// Cancel abandons an audit that is not yet finished
func (s *InventoryAuditService) Cancel(ctx context.Context, id, reason string) (*domain.AuditDocument, error) {
	active := []domain.AuditStatus{domain.AuditDraft, domain.AuditInProgress}
	return s.transition(ctx, id, active, func(doc *domain.AuditDocument) error {
		if !doc.Status.IsActive() {
			return errors.Invariant("audit is already closed", map[string]string{
				"audit_id": doc.ID,
				"status":   string(doc.Status),
			})
		}
		now := s.now()
		doc.Status = domain.AuditCancelled
		doc.CancelledAt = &now
		doc.CancelReason = optionalString(reason)
		return nil
	})
}

// transition locks the document, lets mutate check and change it, then
// writes it guarded by from. after runs once the scope commits.
func (s *InventoryAuditService) transition(
	ctx context.Context,
	id string,
	from []domain.AuditStatus,
	mutate func(doc *domain.AuditDocument) error,
	after ...func(ctx context.Context, doc *domain.AuditDocument),
) (*domain.AuditDocument, error) {
	var doc *domain.AuditDocument
	var previous domain.AuditStatus
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.audits.LockByID(ctx, id)
		if err != nil {
			return err
		}
		previous = doc.Status
		if err := mutate(doc); err != nil {
			return err
		}
		doc.UpdatedAt = s.now()
		if err := s.audits.Transition(ctx, doc, from); err != nil {
			return err
		}
		for _, fn := range after {
			fn := fn
			database.Defer(ctx, func(ctx context.Context) { fn(ctx, doc) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)

	s.logger.Info().
		Str("audit_id", doc.ID).
		Str("document_number", doc.DocumentNumber).
		Str("from", string(previous)).
		Str("to", string(doc.Status)).
		Msg("inventory audit status changed")
	return doc, nil
}

func notInStatus(doc *domain.AuditDocument, want domain.AuditStatus, message string) error {
	return errors.Invariant(message, map[string]string{
		"audit_id": doc.ID,
		"status":   string(doc.Status),
		"required": string(want),
	})
}

// GetByID returns an audit with its items
func (s *InventoryAuditService) GetByID(ctx context.Context, id string) (*domain.AuditDocument, error) {
	return s.audits.GetByID(ctx, id)
}

// GetByDocumentNumber returns an audit by its INV- number
func (s *InventoryAuditService) GetByDocumentNumber(ctx context.Context, sellerID, number string) (*domain.AuditDocument, error) {
	return s.audits.GetByDocumentNumber(ctx, sellerID, strings.ToUpper(strings.TrimSpace(number)))
}

// List lists a page of audits matching filter
func (s *InventoryAuditService) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditDocument, int64, error) {
	details := map[string]string{}
	if filter.Status != "" && !filter.Status.Valid() {
		details["status"] = "unknown status"
	}
	if filter.Type != "" && !filter.Type.Valid() {
		details["audit_type"] = "unknown audit type"
	}
	if len(details) > 0 {
		return nil, 0, errors.Validation(details)
	}
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)
	return s.audits.List(ctx, filter)
}

// ActiveForShop returns the shop's DRAFT or IN_PROGRESS audit
func (s *InventoryAuditService) ActiveForShop(ctx context.Context, sellerID, shopID string) (*domain.AuditDocument, error) {
	return s.audits.GetActiveForShop(ctx, sellerID, shopID)
}
