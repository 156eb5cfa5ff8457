package service

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/actor"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// LedgerService manages per-location stock of batches: receipts, adjustments,
// reservations, transfers and FIFO consumption.
type LedgerService struct {
	tx        TxRunner
	ledger    LedgerStore
	movements MovementStore
	batches   *BatchService
	events    EventPublisher
	now       Clock
	logger    *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(stores Stores, batches *BatchService, events EventPublisher, log *logger.Logger) *LedgerService {
	return &LedgerService{
		tx:        stores.Tx,
		ledger:    stores.Ledger,
		movements: stores.Movements,
		batches:   batches,
		events:    publisherOrNop(events),
		now:       utcNow,
		logger:    log.WithComponent("ledger-service"),
	}
}

// WithClock replaces the service clock
func (s *LedgerService) WithClock(now Clock) *LedgerService {
	s.now = now
	return s
}

// CreateLedgerInput opens stock of a batch at a location
type CreateLedgerInput struct {
	BatchID   string          `json:"batch_id" validate:"required,uuid"`
	Location  domain.Location `json:"location" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gte=0"`
	Reference *string         `json:"reference,omitempty"`
}

// TransferInput moves stock of one batch between locations
type TransferInput struct {
	BatchID  string          `json:"batch_id" validate:"required,uuid"`
	From     domain.Location `json:"from" validate:"required"`
	To       domain.Location `json:"to" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	Reason   *string         `json:"reason,omitempty"`
}

// TransferResult holds both ledger rows after a transfer
type TransferResult struct {
	From *domain.LedgerView `json:"from"`
	To   *domain.LedgerView `json:"to"`
}

// ledgerChange is one guarded mutation of a ledger row
type ledgerChange struct {
	ledgerID  string
	dq, dr    decimal.Decimal
	movement  domain.MovementType
	reason    *string
	reference *string
}

// Create opens a ledger row for (batch, location) and records the receipt
func (s *LedgerService) Create(ctx context.Context, in CreateLedgerInput) (*domain.LedgerView, error) {
	if err := validateLocation("location", in.Location); err != nil {
		return nil, err
	}
	if in.Quantity.IsNegative() {
		return nil, errors.Validation(map[string]string{"quantity": "must not be negative"})
	}

	var entry *domain.LedgerEntry
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		batch, err := s.batches.batches.GetByID(ctx, in.BatchID)
		if err != nil {
			return err
		}

		entry, err = s.open(ctx, batch, in.Location)
		if err != nil {
			return err
		}
		if in.Quantity.IsZero() {
			return nil
		}

		entry, err = s.applyInScope(ctx, ledgerChange{
			ledgerID:  entry.ID,
			dq:        in.Quantity,
			dr:        decimal.Zero,
			movement:  domain.MovementReceipt,
			reference: in.Reference,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)

	s.logger.Info().
		Str("ledger_id", entry.ID).
		Str("batch_id", entry.BatchID).
		Str("location", entry.Location.String()).
		Str("quantity", entry.Quantity.String()).
		Msg("ledger row created")

	return entry.View(), nil
}

// open creates an empty row for (batch, location). An existing row is a Validation error.
func (s *LedgerService) open(ctx context.Context, batch *domain.Batch, loc domain.Location) (*domain.LedgerEntry, error) {
	if _, err := s.ledger.GetByBatchAndLocation(ctx, batch.ID, loc); err == nil {
		return nil, errors.Validation(map[string]string{
			"location": "batch already has stock at this location",
		}).WithDetail("batch_id", batch.ID)
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	now := s.now()
	entry := &domain.LedgerEntry{
		ID:               uuid.NewString(),
		BatchID:          batch.ID,
		SellerID:         batch.SellerID,
		ProductID:        batch.ProductID,
		Location:         loc,
		Quantity:         decimal.Zero,
		ReservedQuantity: decimal.Zero,
		Status:           domain.LedgerDepleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Adjust adds delta to the row quantity. The result may not drop below zero
// or below the reserved quantity.
func (s *LedgerService) Adjust(ctx context.Context, id string, delta decimal.Decimal, reason string) (*domain.LedgerView, error) {
	if delta.IsZero() {
		return nil, errors.Validation(map[string]string{"delta": "must not be zero"})
	}
	return s.apply(ctx, ledgerChange{
		ledgerID: id,
		dq:       delta,
		dr:       decimal.Zero,
		movement: domain.MovementAdjustment,
		reason:   optionalString(reason),
	})
}

// WriteOff removes qty from the row with a mandatory reason
func (s *LedgerService) WriteOff(ctx context.Context, id string, qty decimal.Decimal, reason string) (*domain.LedgerView, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return nil, err
	}
	r := optionalString(reason)
	if r == nil {
		return nil, errors.Validation(map[string]string{"reason": "this field is required"})
	}
	return s.apply(ctx, ledgerChange{
		ledgerID: id,
		dq:       qty.Neg(),
		dr:       decimal.Zero,
		movement: domain.MovementWriteOff,
		reason:   r,
	})
}

// Reserve holds qty of the available stock
func (s *LedgerService) Reserve(ctx context.Context, id string, qty decimal.Decimal) (*domain.LedgerView, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return nil, err
	}
	return s.apply(ctx, ledgerChange{ledgerID: id, dq: decimal.Zero, dr: qty})
}

// Release gives back qty of a reservation. Releasing more than is reserved fails.
func (s *LedgerService) Release(ctx context.Context, id string, qty decimal.Decimal) (*domain.LedgerView, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return nil, err
	}
	return s.apply(ctx, ledgerChange{ledgerID: id, dq: decimal.Zero, dr: qty.Neg()})
}

// Confirm turns qty of a reservation into a permanent reduction
func (s *LedgerService) Confirm(ctx context.Context, id string, qty decimal.Decimal, reference string) (*domain.LedgerView, error) {
	if err := requirePositive("quantity", qty); err != nil {
		return nil, err
	}
	return s.apply(ctx, ledgerChange{
		ledgerID:  id,
		dq:        qty.Neg(),
		dr:        qty.Neg(),
		movement:  domain.MovementConfirm,
		reference: optionalString(reference),
	})
}

func (s *LedgerService) apply(ctx context.Context, ch ledgerChange) (*domain.LedgerView, error) {
	ctx, span := startSpan(ctx, "ledger.apply",
		attribute.String("ledger.id", ch.ledgerID),
		quantityAttr("ledger.quantity_delta", ch.dq),
		quantityAttr("ledger.reserved_delta", ch.dr),
	)

	var entry *domain.LedgerEntry
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = s.applyInScope(ctx, ch)
		return err
	})
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)
	return entry.View(), nil
}

// applyInScope runs the guarded update, logs the movement and re-derives the
// batch depletion state. Reservation-only changes leave no movement.
func (s *LedgerService) applyInScope(ctx context.Context, ch ledgerChange) (*domain.LedgerEntry, error) {
	updated, err := s.ledger.CompareAndAdjust(ctx, ch.ledgerID, ch.dq, ch.dr)
	if err != nil {
		return nil, err
	}
	if ch.dq.IsZero() {
		return updated, nil
	}

	m := &domain.Movement{
		ID:             uuid.NewString(),
		LedgerID:       updated.ID,
		BatchID:        updated.BatchID,
		Type:           ch.movement,
		Delta:          ch.dq,
		QuantityBefore: updated.Quantity.Sub(ch.dq),
		QuantityAfter:  updated.Quantity,
		Reason:         ch.reason,
		Reference:      ch.reference,
		PerformedBy:    actor.RefFromContext(ctx),
		CreatedAt:      s.now(),
	}
	if err := s.movements.Record(ctx, m); err != nil {
		return nil, err
	}

	if err := s.batches.syncDepletion(ctx, updated.BatchID); err != nil {
		return nil, err
	}

	database.Defer(ctx, func(ctx context.Context) {
		s.events.LedgerAdjusted(ctx, updated, m)
	})
	return updated, nil
}

// Transfer moves qty of a batch from one location to another in one scope.
// The destination row is created when missing.
func (s *LedgerService) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if err := requirePositive("quantity", in.Quantity); err != nil {
		return nil, err
	}
	if err := validateLocation("from", in.From); err != nil {
		return nil, err
	}
	if err := validateLocation("to", in.To); err != nil {
		return nil, err
	}
	if in.From == in.To {
		return nil, errors.Validation(map[string]string{"to": "must differ from the source location"})
	}

	ctx, span := startSpan(ctx, "ledger.Transfer",
		attribute.String("batch.id", in.BatchID),
		attribute.String("transfer.from", in.From.String()),
		attribute.String("transfer.to", in.To.String()),
		quantityAttr("transfer.quantity", in.Quantity),
	)

	var from, to *domain.LedgerEntry
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		src, err := s.ledger.GetByBatchAndLocation(ctx, in.BatchID, in.From)
		if err != nil {
			return err
		}
		if in.Quantity.GreaterThan(src.Available()) {
			return errors.Validation(map[string]string{
				"quantity": "exceeds available quantity at the source location",
			}).WithDetails(map[string]string{
				"ledger_id": src.ID,
				"available": src.Available().String(),
				"requested": in.Quantity.String(),
			})
		}

		from, err = s.applyInScope(ctx, ledgerChange{
			ledgerID:  src.ID,
			dq:        in.Quantity.Neg(),
			dr:        decimal.Zero,
			movement:  domain.MovementTransferOut,
			reason:    in.Reason,
			reference: referenceTo(in.To),
		})
		if err != nil {
			return err
		}

		dst, err := s.ledger.GetByBatchAndLocation(ctx, in.BatchID, in.To)
		if errors.IsKind(err, errors.KindNotFound) {
			batch, berr := s.batches.batches.GetByID(ctx, in.BatchID)
			if berr != nil {
				return berr
			}
			dst, err = s.open(ctx, batch, in.To)
		}
		if err != nil {
			return err
		}

		to, err = s.applyInScope(ctx, ledgerChange{
			ledgerID:  dst.ID,
			dq:        in.Quantity,
			dr:        decimal.Zero,
			movement:  domain.MovementTransferIn,
			reason:    in.Reason,
			reference: referenceTo(in.From),
		})
		if err != nil {
			return err
		}

		database.Defer(ctx, func(ctx context.Context) {
			s.events.LedgerTransferred(ctx, from, to, in.Quantity)
		})
		return nil
	})
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)

	s.logger.Info().
		Str("batch_id", in.BatchID).
		Str("from", in.From.String()).
		Str("to", in.To.String()).
		Str("quantity", in.Quantity.String()).
		Msg("stock transferred")

	return &TransferResult{From: from.View(), To: to.View()}, nil
}

func referenceTo(loc domain.Location) *string {
	ref := loc.String()
	return &ref
}

// GetByID returns a ledger row
func (s *LedgerService) GetByID(ctx context.Context, id string) (*domain.LedgerView, error) {
	entry, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.View(), nil
}

// ByBatch lists every location holding a batch
func (s *LedgerService) ByBatch(ctx context.Context, batchID string) ([]*domain.LedgerView, error) {
	entries, err := s.ledger.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return ledgerViews(entries), nil
}

// ByLocation lists a page of rows at a location
func (s *LedgerService) ByLocation(ctx context.Context, sellerID string, loc domain.Location, page, perPage int) ([]*domain.LedgerView, int64, error) {
	if err := validateLocation("location", loc); err != nil {
		return nil, 0, err
	}
	page, perPage = normalizePage(page, perPage)
	entries, total, err := s.ledger.ListByLocation(ctx, sellerID, loc, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	return ledgerViews(entries), total, nil
}

// ByShopProduct lists the rows of a product at a shop
func (s *LedgerService) ByShopProduct(ctx context.Context, sellerID, shopID, productID string) ([]*domain.LedgerView, error) {
	return s.byLocationProduct(ctx, sellerID, domain.ShopLocation(shopID), productID)
}

// ByWarehouseProduct lists the rows of a product at a warehouse
func (s *LedgerService) ByWarehouseProduct(ctx context.Context, sellerID, warehouseID, productID string) ([]*domain.LedgerView, error) {
	return s.byLocationProduct(ctx, sellerID, domain.WarehouseLocation(warehouseID), productID)
}

func (s *LedgerService) byLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) ([]*domain.LedgerView, error) {
	entries, err := s.ledger.ListByLocationProduct(ctx, sellerID, loc, productID)
	if err != nil {
		return nil, err
	}
	return ledgerViews(entries), nil
}

// ForFifo returns the consumable rows of a product at a location in FIFO order
func (s *LedgerService) ForFifo(ctx context.Context, sellerID string, loc domain.Location, productID string) ([]*domain.FifoCandidate, error) {
	if err := validateLocation("location", loc); err != nil {
		return nil, err
	}
	return s.ledger.ListForFifo(ctx, sellerID, loc, productID, s.now())
}

// ExpiringSoon lists rows whose batch expires within the given number of days
func (s *LedgerService) ExpiringSoon(ctx context.Context, sellerID string, withinDays, page, perPage int) ([]*domain.ExpiringEntry, int64, error) {
	if withinDays < 0 {
		return nil, 0, errors.Validation(map[string]string{"within_days": "must not be negative"})
	}
	page, perPage = normalizePage(page, perPage)

	now := s.now()
	until := now.Add(time.Duration(withinDays) * 24 * time.Hour)
	rows, total, err := s.ledger.ListExpiringSoon(ctx, sellerID, now, until, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	result := make([]*domain.ExpiringEntry, len(rows))
	for i, r := range rows {
		d := domain.DaysUntil(r.ExpirationDate, now)
		result[i] = &domain.ExpiringEntry{
			FifoCandidate:       *r,
			DaysUntilExpiration: d,
			AlertLevel:          domain.AlertLevelForDays(d),
		}
	}
	return result, total, nil
}

// TotalByBatch sums a batch's quantity over all locations
func (s *LedgerService) TotalByBatch(ctx context.Context, batchID string) (decimal.Decimal, error) {
	return s.ledger.TotalByBatch(ctx, batchID)
}

// Movements lists a page of the movement log of a row
func (s *LedgerService) Movements(ctx context.Context, ledgerID string, page, perPage int) ([]*domain.Movement, int64, error) {
	page, perPage = normalizePage(page, perPage)
	return s.movements.ListByLedger(ctx, ledgerID, page, perPage)
}

func ledgerViews(entries []*domain.LedgerEntry) []*domain.LedgerView {
	result := make([]*domain.LedgerView, len(entries))
	for i, e := range entries {
		result[i] = e.View()
	}
	return result
}
