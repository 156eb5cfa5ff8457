package service

import (
	"context"
	"strings"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchService is the batch registry
type BatchService struct {
	tx      TxRunner
	batches BatchStore
	ledger  LedgerStore
	events  EventPublisher
	now     Clock
	logger  *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(stores Stores, events EventPublisher, log *logger.Logger) *BatchService {
	return &BatchService{
		tx:      stores.Tx,
		batches: stores.Batches,
		ledger:  stores.Ledger,
		events:  publisherOrNop(events),
		now:     utcNow,
		logger:  log.WithComponent("batch-service"),
	}
}

// WithClock replaces the service clock
func (s *BatchService) WithClock(now Clock) *BatchService {
	s.now = now
	return s
}

// CreateBatchInput is a receiving record
type CreateBatchInput struct {
	SellerID        string           `json:"-"`
	ProductID       string           `json:"product_id" validate:"required,uuid"`
	BatchNumber     string           `json:"batch_number" validate:"required,max=100"`
	ProductionDate  *time.Time       `json:"production_date,omitempty"`
	ExpirationDate  time.Time        `json:"expiration_date" validate:"required"`
	Supplier        *string          `json:"supplier,omitempty"`
	InvoiceNumber   *string          `json:"invoice_number,omitempty"`
	PurchasePrice   *decimal.Decimal `json:"purchase_price,omitempty"`
	InitialQuantity decimal.Decimal  `json:"initial_quantity" validate:"gte=0"`
	FreshnessScore  *float64         `json:"freshness_score,omitempty" validate:"omitempty,gte=0,lte=10"`
	Notes           *string          `json:"notes,omitempty"`
}

// UpdateBatchInput carries the mutable provenance fields.
// ExpirationDate is accepted only to reject changes to it.
type UpdateBatchInput struct {
	ProductionDate *time.Time       `json:"production_date,omitempty"`
	ExpirationDate *time.Time       `json:"expiration_date,omitempty"`
	Supplier       *string          `json:"supplier,omitempty"`
	InvoiceNumber  *string          `json:"invoice_number,omitempty"`
	PurchasePrice  *decimal.Decimal `json:"purchase_price,omitempty"`
	FreshnessScore *float64         `json:"freshness_score,omitempty" validate:"omitempty,gte=0,lte=10"`
	Notes          *string          `json:"notes,omitempty"`
}

// Create registers a new ACTIVE batch
func (s *BatchService) Create(ctx context.Context, in CreateBatchInput) (*domain.BatchView, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.SellerID) == "" {
		details["seller_id"] = "this field is required"
	}
	if strings.TrimSpace(in.ProductID) == "" {
		details["product_id"] = "this field is required"
	}
	if strings.TrimSpace(in.BatchNumber) == "" {
		details["batch_number"] = "this field is required"
	}
	if in.ExpirationDate.IsZero() {
		details["expiration_date"] = "this field is required"
	}
	if in.InitialQuantity.IsNegative() {
		details["initial_quantity"] = "must not be negative"
	}
	if in.ProductionDate != nil && !in.ExpirationDate.IsZero() && in.ProductionDate.After(in.ExpirationDate) {
		details["production_date"] = "must not be after expiration_date"
	}
	if in.FreshnessScore != nil && (*in.FreshnessScore < 0 || *in.FreshnessScore > 10) {
		details["freshness_score"] = "must be between 0 and 10"
	}
	if in.PurchasePrice != nil && in.PurchasePrice.IsNegative() {
		details["purchase_price"] = "must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	number := strings.TrimSpace(in.BatchNumber)
	if _, err := s.batches.GetByNumber(ctx, in.SellerID, number); err == nil {
		return nil, errors.Validation(map[string]string{"batch_number": "already exists for this seller"})
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	now := s.now()
	batch := &domain.Batch{
		ID:              uuid.NewString(),
		SellerID:        in.SellerID,
		ProductID:       in.ProductID,
		BatchNumber:     number,
		ProductionDate:  in.ProductionDate,
		ExpirationDate:  in.ExpirationDate.UTC(),
		Supplier:        in.Supplier,
		InvoiceNumber:   in.InvoiceNumber,
		PurchasePrice:   in.PurchasePrice,
		InitialQuantity: in.InitialQuantity,
		FreshnessScore:  in.FreshnessScore,
		Status:          domain.BatchActive,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("batch_number", batch.BatchNumber).
		Time("expiration_date", batch.ExpirationDate).
		Msg("batch created")

	return batch.View(now), nil
}

// Update changes provenance fields. The expiration date is immutable.
func (s *BatchService) Update(ctx context.Context, id string, in UpdateBatchInput) (*domain.BatchView, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.ExpirationDate != nil && !in.ExpirationDate.Equal(batch.ExpirationDate) {
		return nil, errors.Validation(map[string]string{"expiration_date": "is immutable"})
	}
	if in.FreshnessScore != nil && (*in.FreshnessScore < 0 || *in.FreshnessScore > 10) {
		return nil, errors.Validation(map[string]string{"freshness_score": "must be between 0 and 10"})
	}
	if in.PurchasePrice != nil && in.PurchasePrice.IsNegative() {
		return nil, errors.Validation(map[string]string{"purchase_price": "must not be negative"})
	}
	if in.ProductionDate != nil {
		if in.ProductionDate.After(batch.ExpirationDate) {
			return nil, errors.Validation(map[string]string{"production_date": "must not be after expiration_date"})
		}
		batch.ProductionDate = in.ProductionDate
	}
	if in.Supplier != nil {
		batch.Supplier = in.Supplier
	}
	if in.InvoiceNumber != nil {
		batch.InvoiceNumber = in.InvoiceNumber
	}
	if in.PurchasePrice != nil {
		batch.PurchasePrice = in.PurchasePrice
	}
	if in.FreshnessScore != nil {
		batch.FreshnessScore = in.FreshnessScore
	}
	if in.Notes != nil {
		batch.Notes = in.Notes
	}

	now := s.now()
	batch.UpdatedAt = now
	if err := s.batches.Update(ctx, batch); err != nil {
		return nil, err
	}
	return batch.View(now), nil
}

// Block takes an ACTIVE batch out of circulation
func (s *BatchService) Block(ctx context.Context, id, reason string) (*domain.BatchView, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation(map[string]string{"reason": "this field is required"})
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status != domain.BatchActive {
		return nil, errors.Invariant("only ACTIVE batches can be blocked", map[string]string{
			"batch_id": id,
			"status":   string(batch.Status),
		})
	}

	return s.transition(ctx, batch, domain.BatchBlocked, &reason)
}

// Unblock returns a BLOCKED batch to ACTIVE and clears the reason
func (s *BatchService) Unblock(ctx context.Context, id string) (*domain.BatchView, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status != domain.BatchBlocked {
		return nil, errors.Invariant("only BLOCKED batches can be unblocked", map[string]string{
			"batch_id": id,
			"status":   string(batch.Status),
		})
	}

	return s.transition(ctx, batch, domain.BatchActive, nil)
}

// UpdateStatus applies an explicit lifecycle transition. Moving to BLOCKED
// needs a reason.
func (s *BatchService) UpdateStatus(ctx context.Context, id string, to domain.BatchStatus, reason string) (*domain.BatchView, error) {
	if !to.Valid() {
		return nil, errors.Validation(map[string]string{"status": "must be one of: ACTIVE BLOCKED EXPIRED DEPLETED"})
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !batch.Status.CanTransitionTo(to) {
		return nil, errors.Invariant("batch status transition not allowed", map[string]string{
			"batch_id": id,
			"from":     string(batch.Status),
			"to":       string(to),
		})
	}

	var blockReason *string
	switch {
	case to == domain.BatchBlocked:
		blockReason = optionalString(reason)
		if blockReason == nil {
			return nil, errors.Validation(map[string]string{"reason": "this field is required"})
		}
	case batch.Status == domain.BatchBlocked && to == domain.BatchExpired:
		blockReason = batch.BlockReason
	}

	return s.transition(ctx, batch, to, blockReason)
}

func (s *BatchService) transition(ctx context.Context, batch *domain.Batch, to domain.BatchStatus, blockReason *string) (*domain.BatchView, error) {
	previous := batch.Status
	updated, err := s.batches.UpdateStatus(ctx, batch.ID, []domain.BatchStatus{previous}, to, blockReason)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID).
		Str("from", string(previous)).
		Str("to", string(to)).
		Msg("batch status changed")

	database.Defer(ctx, func(ctx context.Context) {
		s.events.BatchStatusChanged(ctx, updated, previous)
	})
	return updated.View(s.now()), nil
}

// ExpireSweep marks every ACTIVE batch past its expiration date EXPIRED.
// A nil sellerID sweeps all sellers.
func (s *BatchService) ExpireSweep(ctx context.Context, sellerID *string) (int64, error) {
	now := s.now()
	count, err := s.batches.ExpireBefore(ctx, sellerID, now)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.logger.Info().Int64("count", count).Msg("batches expired")
		s.events.BatchesExpired(ctx, sellerID, count, now)
	}
	return count, nil
}

// syncDepletion re-derives the DEPLETED state of a batch from its total stock.
// Runs inside the caller's scope after every quantity change.
func (s *BatchService) syncDepletion(ctx context.Context, batchID string) error {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	total, err := s.ledger.TotalByBatch(ctx, batchID)
	if err != nil {
		return err
	}

	switch {
	case total.IsZero() && batch.Status == domain.BatchActive:
		_, err = s.transition(ctx, batch, domain.BatchDepleted, nil)
	case total.IsPositive() && batch.Status == domain.BatchDepleted && !batch.IsExpired(s.now()):
		_, err = s.transition(ctx, batch, domain.BatchActive, nil)
	}
	return err
}

// GetByID returns a batch with its derived fields
func (s *BatchService) GetByID(ctx context.Context, id string) (*domain.BatchView, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return batch.View(s.now()), nil
}

// GetByNumber looks a batch up by its seller-scoped number
func (s *BatchService) GetByNumber(ctx context.Context, sellerID, number string) (*domain.BatchView, error) {
	batch, err := s.batches.GetByNumber(ctx, sellerID, number)
	if err != nil {
		return nil, err
	}
	return batch.View(s.now()), nil
}

// List returns a page of batches matching filter
func (s *BatchService) List(ctx context.Context, filter domain.BatchFilter) ([]*domain.BatchView, int64, error) {
	if filter.AlertLevel != "" && !filter.AlertLevel.Valid() {
		return nil, 0, errors.Validation(map[string]string{"alert_level": "must be one of: NORMAL WARNING CRITICAL EXPIRED"})
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errors.Validation(map[string]string{"status": "must be one of: ACTIVE BLOCKED EXPIRED DEPLETED"})
	}
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)

	now := s.now()
	batches, total, err := s.batches.List(ctx, filter, now)
	if err != nil {
		return nil, 0, err
	}
	return views(batches, now), total, nil
}

// ActiveForProduct lists a product's ACTIVE, unexpired batches in FIFO order
func (s *BatchService) ActiveForProduct(ctx context.Context, sellerID, productID string) ([]*domain.BatchView, error) {
	now := s.now()
	batches, err := s.batches.ListActiveForProduct(ctx, sellerID, productID, now)
	if err != nil {
		return nil, err
	}
	return views(batches, now), nil
}

// Statistics aggregates a seller's batches
func (s *BatchService) Statistics(ctx context.Context, sellerID string) (*domain.BatchStatistics, error) {
	return s.batches.Statistics(ctx, sellerID, s.now())
}

func views(batches []*domain.Batch, now time.Time) []*domain.BatchView {
	result := make([]*domain.BatchView, len(batches))
	for i, b := range batches {
		result[i] = b.View(now)
	}
	return result
}
