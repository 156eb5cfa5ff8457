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

// ConsolidationService merges remnants of one product at one location into
// traceable mixed lots
type ConsolidationService struct {
	tx               TxRunner
	batches          BatchStore
	ledgerStore      LedgerStore
	mixedLots        MixedLotStore
	ledger           *LedgerService
	locations        *LocationService
	events           EventPublisher
	defaultThreshold decimal.Decimal
	now              Clock
	logger           *logger.Logger
}

// NewConsolidationService creates a new consolidation service. threshold is
// used when a request names none.
func NewConsolidationService(
	stores Stores,
	ledger *LedgerService,
	locations *LocationService,
	events EventPublisher,
	threshold decimal.Decimal,
	log *logger.Logger,
) *ConsolidationService {
	return &ConsolidationService{
		tx:               stores.Tx,
		batches:          stores.Batches,
		ledgerStore:      stores.Ledger,
		mixedLots:        stores.MixedLots,
		ledger:           ledger,
		locations:        locations,
		events:           publisherOrNop(events),
		defaultThreshold: threshold,
		now:              utcNow,
		logger:           log.WithComponent("consolidation-service"),
	}
}

// WithClock replaces the service clock
func (s *ConsolidationService) WithClock(now Clock) *ConsolidationService {
	s.now = now
	return s
}

// ComponentInput is one batch going into a mixed lot. Freshness overrides the
// batch grade when set.
type ComponentInput struct {
	BatchID   string          `json:"batch_id" validate:"required,uuid"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	Freshness *float64        `json:"freshness,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// AutoConsolidateInput selects remnants below a threshold
type AutoConsolidateInput struct {
	SellerID  string           `json:"-"`
	Location  domain.Location  `json:"location" validate:"required"`
	ProductID string           `json:"product_id" validate:"required,uuid"`
	Threshold *decimal.Decimal `json:"threshold,omitempty"`
}

// AuditConsolidationInput records remnants found mixed during a count
type AuditConsolidationInput struct {
	SellerID   string           `json:"-"`
	Location   domain.Location  `json:"location" validate:"required"`
	ProductID  string           `json:"product_id" validate:"required,uuid"`
	AuditRef   string           `json:"audit_ref" validate:"required"`
	Components []ComponentInput `json:"components" validate:"required,dive"`
	Notes      *string          `json:"notes,omitempty"`
}

// ManualConsolidationInput merges an explicit list of batches
type ManualConsolidationInput struct {
	SellerID   string                `json:"-"`
	Location   domain.Location       `json:"location" validate:"required"`
	ProductID  string                `json:"product_id" validate:"required,uuid"`
	Components []ComponentInput      `json:"components" validate:"required,dive"`
	Reason     domain.MixedLotReason `json:"reason,omitempty"`
	Notes      *string               `json:"notes,omitempty"`
}

// CompositionView is a lot with each component's share of the total
type CompositionView struct {
	MixedLot *domain.MixedLot         `json:"mixed_lot"`
	Lines    []domain.CompositionLine `json:"composition"`
}

// lotRequest is the common input of createMixedLot
type lotRequest struct {
	id         string
	sellerID   string
	location   domain.Location
	productID  string
	components []ComponentInput
	reason     domain.MixedLotReason
	auditRef   *string
	notes      *string
}

func (s *ConsolidationService) threshold(t *decimal.Decimal) (decimal.Decimal, error) {
	if t == nil {
		return s.defaultThreshold, nil
	}
	if !t.IsPositive() {
		return decimal.Zero, errors.Validation(map[string]string{"threshold": "must be greater than 0"})
	}
	return *t, nil
}

// AutoConsolidate merges the product's rows at the location whose available
// quantity is below the threshold. Fewer than two such rows is a no-op and
// returns a nil lot. The merged quantities are debited from the source rows.
func (s *ConsolidationService) AutoConsolidate(ctx context.Context, in AutoConsolidateInput) (*domain.MixedLot, error) {
	if err := validateLocation("location", in.Location); err != nil {
		return nil, err
	}
	threshold, err := s.threshold(in.Threshold)
	if err != nil {
		return nil, err
	}

	var lot *domain.MixedLot
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lot, err = s.autoInScope(ctx, in.SellerID, in.Location, in.ProductID, threshold)
		return err
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return lot, nil
}

func (s *ConsolidationService) autoInScope(ctx context.Context, sellerID string, loc domain.Location, productID string, threshold decimal.Decimal) (*domain.MixedLot, error) {
	rows, err := s.ledgerStore.ListBelowThreshold(ctx, domain.CandidateFilter{
		SellerID:  sellerID,
		Location:  &loc,
		ProductID: productID,
		Threshold: threshold,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	components := make([]ComponentInput, len(rows))
	for i, r := range rows {
		components[i] = ComponentInput{BatchID: r.BatchID, Quantity: r.Available()}
	}

	return s.consolidateWithDebit(ctx, lotRequest{
		id:         uuid.NewString(),
		sellerID:   sellerID,
		location:   loc,
		productID:  productID,
		components: components,
		reason:     domain.ReasonAutoConsolidation,
	})
}

// ConsolidateAtAudit records remnants found during a physical count. Stock
// changes belong to the audit orchestrator, so no ledger row is debited.
func (s *ConsolidationService) ConsolidateAtAudit(ctx context.Context, in AuditConsolidationInput) (*domain.MixedLot, error) {
	if err := validateLocation("location", in.Location); err != nil {
		return nil, err
	}
	auditRef := optionalString(in.AuditRef)
	if auditRef == nil {
		return nil, errors.Validation(map[string]string{"audit_ref": "this field is required"})
	}

	req := lotRequest{
		id:         uuid.NewString(),
		sellerID:   in.SellerID,
		location:   in.Location,
		productID:  in.ProductID,
		components: in.Components,
		reason:     domain.ReasonAuditConsolidation,
		auditRef:   auditRef,
		notes:      in.Notes,
	}

	var lot *domain.MixedLot
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lot, err = s.createMixedLot(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return lot, nil
}

// ManualConsolidate merges an explicit list of at least two batches and
// debits them from their rows at the location
func (s *ConsolidationService) ManualConsolidate(ctx context.Context, in ManualConsolidationInput) (*domain.MixedLot, error) {
	if err := validateLocation("location", in.Location); err != nil {
		return nil, err
	}
	if len(in.Components) < 2 {
		return nil, errors.Validation(map[string]string{"components": "at least two batches are required"})
	}
	reason := in.Reason
	if reason == "" {
		reason = domain.ReasonManual
	}
	if reason != domain.ReasonManual && reason != domain.ReasonFoundMixed {
		return nil, errors.Validation(map[string]string{"reason": "must be one of: MANUAL FOUND_MIXED"})
	}

	var lot *domain.MixedLot
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lot, err = s.consolidateWithDebit(ctx, lotRequest{
			id:         uuid.NewString(),
			sellerID:   in.SellerID,
			location:   in.Location,
			productID:  in.ProductID,
			components: in.Components,
			reason:     reason,
			notes:      in.Notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return lot, nil
}

// AutoConsolidateLocation runs automatic consolidation for every product with
// at least two remnants at the location, all in one scope
func (s *ConsolidationService) AutoConsolidateLocation(ctx context.Context, sellerID string, loc domain.Location, threshold *decimal.Decimal) ([]*domain.MixedLot, error) {
	if err := validateLocation("location", loc); err != nil {
		return nil, err
	}
	return s.autoConsolidateGroups(ctx, sellerID, &loc, threshold)
}

// AutoConsolidateSeller runs automatic consolidation across all of a seller's locations
func (s *ConsolidationService) AutoConsolidateSeller(ctx context.Context, sellerID string, threshold *decimal.Decimal) ([]*domain.MixedLot, error) {
	return s.autoConsolidateGroups(ctx, sellerID, nil, threshold)
}

func (s *ConsolidationService) autoConsolidateGroups(ctx context.Context, sellerID string, loc *domain.Location, threshold *decimal.Decimal) ([]*domain.MixedLot, error) {
	t, err := s.threshold(threshold)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "consolidation.AutoConsolidateGroups",
		attribute.String("seller.id", sellerID),
		quantityAttr("consolidation.threshold", t),
	)

	lots := []*domain.MixedLot{}
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		groups, err := s.findCandidates(ctx, sellerID, loc, t)
		if err != nil {
			return err
		}
		for _, g := range groups {
			lot, err := s.autoInScope(ctx, sellerID, g.Location, g.ProductID, t)
			if err != nil {
				return err
			}
			if lot != nil {
				lots = append(lots, lot)
			}
		}
		return nil
	})
	if err == nil {
		span.SetAttributes(attribute.Int("consolidation.lots", len(lots)))
	}
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return lots, nil
}

// consolidateWithDebit takes each component's quantity off its ledger row at
// the location, then records the lot
func (s *ConsolidationService) consolidateWithDebit(ctx context.Context, req lotRequest) (*domain.MixedLot, error) {
	for _, c := range req.components {
		if !c.Quantity.IsPositive() {
			return nil, errors.Validation(map[string]string{"quantity": "must be greater than 0"}).
				WithDetail("batch_id", c.BatchID)
		}
		row, err := s.ledgerStore.GetByBatchAndLocation(ctx, c.BatchID, req.location)
		if err != nil {
			return nil, err
		}
		if _, err := s.ledger.applyInScope(ctx, ledgerChange{
			ledgerID:  row.ID,
			dq:        c.Quantity.Neg(),
			dr:        decimal.Zero,
			movement:  domain.MovementConsolidation,
			reference: &req.id,
		}); err != nil {
			return nil, err
		}
	}
	return s.createMixedLot(ctx, req)
}

// createMixedLot resolves each component's freshness and expiration, derives
// the lot totals and persists the full component trace
func (s *ConsolidationService) createMixedLot(ctx context.Context, req lotRequest) (*domain.MixedLot, error) {
	ctx, span := startSpan(ctx, "consolidation.createMixedLot",
		attribute.String("mixed_lot.id", req.id),
		attribute.String("mixed_lot.reason", string(req.reason)),
		attribute.String("mixed_lot.location", req.location.String()),
		attribute.Int("mixed_lot.components", len(req.components)),
	)
	lot, err := s.buildLot(ctx, req)
	if err == nil {
		err = s.mixedLots.Create(ctx, lot)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("mixed_lot_id", lot.ID).
		Str("reason", string(lot.Reason)).
		Str("location", lot.Location.String()).
		Str("total_quantity", lot.TotalQuantity.String()).
		Float64("effective_freshness", lot.EffectiveFreshness).
		Msg("mixed lot created")

	database.Defer(ctx, func(ctx context.Context) {
		s.events.MixedLotCreated(ctx, lot)
	})
	return lot, nil
}

func (s *ConsolidationService) buildLot(ctx context.Context, req lotRequest) (*domain.MixedLot, error) {
	if len(req.components) < 2 {
		return nil, errors.Validation(map[string]string{"components": "at least two batches are required"})
	}
	if strings.TrimSpace(req.productID) == "" {
		return nil, errors.Validation(map[string]string{"product_id": "this field is required"})
	}

	coefficient, err := s.locations.CoefficientFor(ctx, req.sellerID, req.location)
	if err != nil {
		return nil, err
	}

	now := s.now()
	seen := make(map[string]bool, len(req.components))
	components := make([]domain.MixedLotComponent, 0, len(req.components))
	for _, c := range req.components {
		if seen[c.BatchID] {
			return nil, errors.Validation(map[string]string{"components": "batch listed more than once"}).
				WithDetail("batch_id", c.BatchID)
		}
		seen[c.BatchID] = true

		if !c.Quantity.IsPositive() {
			return nil, errors.Validation(map[string]string{"quantity": "must be greater than 0"}).
				WithDetail("batch_id", c.BatchID)
		}
		if c.Freshness != nil && (*c.Freshness < 0 || *c.Freshness > 10) {
			return nil, errors.Validation(map[string]string{"freshness": "must be between 0 and 10"}).
				WithDetail("batch_id", c.BatchID)
		}

		batch, err := s.batches.GetByID(ctx, c.BatchID)
		if err != nil {
			return nil, err
		}
		if batch.SellerID != req.sellerID {
			return nil, errors.NotFound("batch", c.BatchID)
		}
		if batch.ProductID != req.productID {
			return nil, errors.Validation(map[string]string{"batch_id": "batch belongs to a different product"}).
				WithDetails(map[string]string{"batch_id": c.BatchID, "product_id": batch.ProductID})
		}

		freshness := domain.EstimateFreshness(batch, coefficient, now)
		if c.Freshness != nil {
			freshness = *c.Freshness
		}

		components = append(components, domain.MixedLotComponent{
			MixedLotID:             req.id,
			BatchID:                batch.ID,
			BatchNumber:            batch.BatchNumber,
			Quantity:               c.Quantity,
			FreshnessAtMixing:      freshness,
			OriginalExpirationDate: batch.ExpirationDate,
		})
	}

	lot := &domain.MixedLot{
		ID:        req.id,
		SellerID:  req.sellerID,
		ProductID: req.productID,
		Location:  req.location,
		Reason:    req.reason,
		AuditRef:  req.auditRef,
		Notes:     req.notes,
		CreatedBy: actor.RefFromContext(ctx),
		CreatedAt: now,
	}
	if err := domain.BuildMixedLot(lot, components); err != nil {
		return nil, errors.Validation(map[string]string{"components": err.Error()})
	}
	return lot, nil
}

// Deactivate retires a lot whose contents are used up. A lot owns no ledger
// row: its component quantities were debited from their batch rows when the
// lot was built, so deactivation changes no stock figure. The composition
// stays queryable.
func (s *ConsolidationService) Deactivate(ctx context.Context, id string) (*domain.MixedLot, error) {
	if err := s.mixedLots.Deactivate(ctx, id, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info().Str("mixed_lot_id", id).Msg("mixed lot deactivated")
	return s.mixedLots.GetByID(ctx, id)
}

// GetByID returns a lot with its components
func (s *ConsolidationService) GetByID(ctx context.Context, id string) (*domain.MixedLot, error) {
	return s.mixedLots.GetByID(ctx, id)
}

// Composition returns each component's share of the lot
func (s *ConsolidationService) Composition(ctx context.Context, id string) (*CompositionView, error) {
	lot, err := s.mixedLots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CompositionView{MixedLot: lot, Lines: lot.Composition()}, nil
}

// ListByLocation lists the lots at a location
func (s *ConsolidationService) ListByLocation(ctx context.Context, sellerID string, loc domain.Location, activeOnly bool) ([]*domain.MixedLot, error) {
	if err := validateLocation("location", loc); err != nil {
		return nil, err
	}
	return s.mixedLots.ListByLocation(ctx, sellerID, loc, activeOnly)
}

// FindCandidates groups a seller's remnant rows by (location, product),
// keeping groups of at least two batches
func (s *ConsolidationService) FindCandidates(ctx context.Context, sellerID string, loc *domain.Location, threshold *decimal.Decimal) ([]domain.CandidateGroup, error) {
	if loc != nil {
		if err := validateLocation("location", *loc); err != nil {
			return nil, err
		}
	}
	t, err := s.threshold(threshold)
	if err != nil {
		return nil, err
	}
	return s.findCandidates(ctx, sellerID, loc, t)
}

func (s *ConsolidationService) findCandidates(ctx context.Context, sellerID string, loc *domain.Location, threshold decimal.Decimal) ([]domain.CandidateGroup, error) {
	rows, err := s.ledgerStore.ListBelowThreshold(ctx, domain.CandidateFilter{
		SellerID:  sellerID,
		Location:  loc,
		Threshold: threshold,
	})
	if err != nil {
		return nil, err
	}
	groups := domain.GroupCandidates(rows)
	if groups == nil {
		groups = []domain.CandidateGroup{}
	}
	return groups, nil
}

// ByComponent lists every lot that absorbed the batch
func (s *ConsolidationService) ByComponent(ctx context.Context, batchID string) ([]*domain.MixedLot, error) {
	return s.mixedLots.ListByComponent(ctx, batchID)
}

// History lists a page of lots matching filter
func (s *ConsolidationService) History(ctx context.Context, filter domain.MixedLotFilter) ([]*domain.MixedLot, int64, error) {
	if filter.Reason != "" && !filter.Reason.Valid() {
		return nil, 0, errors.Validation(map[string]string{"reason": "unknown reason"})
	}
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)
	return s.mixedLots.History(ctx, filter)
}

// Statistics aggregates a seller's consolidation activity
func (s *ConsolidationService) Statistics(ctx context.Context, sellerID string) (*domain.MixedLotStatistics, error) {
	return s.mixedLots.Statistics(ctx, sellerID)
}
