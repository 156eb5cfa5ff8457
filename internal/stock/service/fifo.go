package service

import (
	"context"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ConsumeFifoInput asks for quantity of a product at one location
type ConsumeFifoInput struct {
	SellerID  string          `json:"-"`
	Location  domain.Location `json:"location" validate:"required"`
	ProductID string          `json:"product_id" validate:"required,uuid"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	Reference *string         `json:"reference,omitempty"`
}

// ConsumeFifo drains the product's rows at the location, earliest expiration
// first, until quantity is met or stock runs out. Running out is reported in
// RemainingToConsume and is not an error.
func (s *LedgerService) ConsumeFifo(ctx context.Context, in ConsumeFifoInput) (*domain.FifoResult, error) {
	if err := requirePositive("quantity", in.Quantity); err != nil {
		return nil, err
	}
	if err := validateLocation("location", in.Location); err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "ledger.ConsumeFifo",
		attribute.String("fifo.location", in.Location.String()),
		attribute.String("fifo.product_id", in.ProductID),
		quantityAttr("fifo.quantity", in.Quantity),
	)

	var result *domain.FifoResult
	deferred, err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.consumeInScope(ctx, in)
		if err != nil {
			return err
		}
		if len(result.Consumed) > 0 {
			database.Defer(ctx, func(ctx context.Context) {
				s.events.FifoConsumed(ctx, in.SellerID, in.Location, in.ProductID, in.Reference, result)
			})
		}
		return nil
	})
	if err == nil {
		span.SetAttributes(
			quantityAttr("fifo.consumed", result.TotalConsumed),
			quantityAttr("fifo.remaining", result.RemainingToConsume),
		)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, err
	}
	deferred.Run(ctx)

	if result.RemainingToConsume.IsPositive() {
		s.logger.Warn().
			Str("location", in.Location.String()).
			Str("product_id", in.ProductID).
			Str("requested", in.Quantity.String()).
			Str("remaining", result.RemainingToConsume.String()).
			Msg("fifo consumption short of stock")
	}

	return result, nil
}

func (s *LedgerService) consumeInScope(ctx context.Context, in ConsumeFifoInput) (*domain.FifoResult, error) {
	rows, err := s.ledger.ListForFifo(ctx, in.SellerID, in.Location, in.ProductID, s.now())
	if err != nil {
		return nil, err
	}

	result := &domain.FifoResult{
		Consumed:           []domain.ConsumedLine{},
		TotalConsumed:      decimal.Zero,
		RemainingToConsume: in.Quantity,
	}

	for _, row := range rows {
		if !result.RemainingToConsume.IsPositive() {
			break
		}

		taken, err := s.drain(ctx, &row.LedgerEntry, result.RemainingToConsume, in.Reference)
		if err != nil {
			return nil, err
		}
		if !taken.IsPositive() {
			continue
		}

		result.Consumed = append(result.Consumed, domain.ConsumedLine{
			LedgerID:       row.ID,
			BatchID:        row.BatchID,
			BatchNumber:    row.BatchNumber,
			ExpirationDate: row.ExpirationDate,
			Quantity:       taken,
		})
		result.TotalConsumed = result.TotalConsumed.Add(taken)
		result.RemainingToConsume = result.RemainingToConsume.Sub(taken)
	}

	return result, nil
}

// drain takes up to want from one row. When the guarded update loses a race
// the row is read once more and the fresh available quantity is used.
func (s *LedgerService) drain(ctx context.Context, row *domain.LedgerEntry, want decimal.Decimal, reference *string) (decimal.Decimal, error) {
	available := row.Available()
	for attempt := 0; attempt < 2; attempt++ {
		if !available.IsPositive() {
			return decimal.Zero, nil
		}
		take := decimal.Min(available, want)

		_, err := s.applyInScope(ctx, ledgerChange{
			ledgerID:  row.ID,
			dq:        take.Neg(),
			dr:        decimal.Zero,
			movement:  domain.MovementFifoConsume,
			reference: reference,
		})
		if err == nil {
			return take, nil
		}
		if !errors.IsKind(err, errors.KindValidation) {
			return decimal.Zero, err
		}

		fresh, err := s.ledger.GetByID(ctx, row.ID)
		if err != nil {
			return decimal.Zero, err
		}
		available = fresh.Available()
	}
	return decimal.Zero, nil
}
