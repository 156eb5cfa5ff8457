package events

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/actor"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/freshstock/freshstock-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

// Sink is where events end up. *messaging.Publisher satisfies it.
type Sink interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// StockEventPublisher publishes stock-related events
type StockEventPublisher struct {
	sink   Sink
	logger *logger.Logger
}

// NewStockEventPublisher creates a publisher on the stock events exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, Topology.Service, log)
	if err != nil {
		return nil, err
	}
	return NewWithSink(publisher, log), nil
}

// NewWithSink wraps an arbitrary sink
func NewWithSink(sink Sink, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{sink: sink, logger: log}
}

func (p *StockEventPublisher) publish(ctx context.Context, eventType string, data interface{}, key, id string) {
	if p == nil {
		return
	}
	if err := p.sink.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Str(key, id).Msg("failed to publish event")
	}
}

// LedgerAdjusted publishes a ledger adjusted event
func (p *StockEventPublisher) LedgerAdjusted(ctx context.Context, e *domain.LedgerEntry, m *domain.Movement) {
	data := messaging.LedgerAdjustedEvent{
		LedgerID:     e.ID,
		BatchID:      e.BatchID,
		SellerID:     e.SellerID,
		ProductID:    e.ProductID,
		LocationType: string(e.Type),
		LocationID:   e.Location.ID,
		MovementType: string(m.Type),
		Delta:        m.Delta.String(),
		NewQuantity:  e.Quantity.String(),
		NewReserved:  e.ReservedQuantity.String(),
		Status:       string(e.Status),
		Reason:       deref(m.Reason),
		PerformedBy:  m.PerformedBy,
	}
	p.publish(ctx, messaging.EventLedgerAdjusted, data, "ledger_id", e.ID)
}

// LedgerTransferred publishes a transfer event
func (p *StockEventPublisher) LedgerTransferred(ctx context.Context, from, to *domain.LedgerEntry, quantity decimal.Decimal) {
	data := messaging.LedgerTransferredEvent{
		BatchID:          from.BatchID,
		FromLocationType: string(from.Type),
		FromLocationID:   from.Location.ID,
		ToLocationType:   string(to.Type),
		ToLocationID:     to.Location.ID,
		Quantity:         quantity.String(),
		PerformedBy:      actor.RefFromContext(ctx),
	}
	p.publish(ctx, messaging.EventLedgerTransferred, data, "batch_id", from.BatchID)
}

// FifoConsumed publishes the lines drained by one FIFO consumption
func (p *StockEventPublisher) FifoConsumed(ctx context.Context, sellerID string, loc domain.Location, productID string, reference *string, res *domain.FifoResult) {
	lines := make([]messaging.FifoConsumedLine, len(res.Consumed))
	for i, c := range res.Consumed {
		lines[i] = messaging.FifoConsumedLine{
			LedgerID:    c.LedgerID,
			BatchID:     c.BatchID,
			BatchNumber: c.BatchNumber,
			Quantity:    c.Quantity.String(),
		}
	}

	data := messaging.FifoConsumedEvent{
		SellerID:           sellerID,
		ProductID:          productID,
		LocationType:       string(loc.Type),
		LocationID:         loc.ID,
		Requested:          res.TotalConsumed.Add(res.RemainingToConsume).String(),
		TotalConsumed:      res.TotalConsumed.String(),
		RemainingToConsume: res.RemainingToConsume.String(),
		Reference:          deref(reference),
		Lines:              lines,
	}
	p.publish(ctx, messaging.EventFifoConsumed, data, "product_id", productID)
}

// BatchStatusChanged publishes a batch lifecycle transition
func (p *StockEventPublisher) BatchStatusChanged(ctx context.Context, b *domain.Batch, previous domain.BatchStatus) {
	data := messaging.BatchStatusChangedEvent{
		BatchID:     b.ID,
		SellerID:    b.SellerID,
		ProductID:   b.ProductID,
		BatchNumber: b.BatchNumber,
		OldStatus:   string(previous),
		NewStatus:   string(b.Status),
		Reason:      deref(b.BlockReason),
	}
	p.publish(ctx, messaging.EventBatchStatusChanged, data, "batch_id", b.ID)
}

// BatchesExpired publishes the result of an expiry sweep
func (p *StockEventPublisher) BatchesExpired(ctx context.Context, sellerID *string, count int64, at time.Time) {
	data := messaging.BatchesExpiredEvent{
		SellerID: deref(sellerID),
		Count:    count,
		SweptAt:  at,
	}
	p.publish(ctx, messaging.EventBatchesExpired, data, "seller_id", data.SellerID)
}

// MixedLotCreated publishes a consolidation
func (p *StockEventPublisher) MixedLotCreated(ctx context.Context, lot *domain.MixedLot) {
	ids := make([]string, len(lot.Components))
	for i, c := range lot.Components {
		ids[i] = c.BatchID
	}

	data := messaging.MixedLotCreatedEvent{
		MixedLotID:              lot.ID,
		SellerID:                lot.SellerID,
		ProductID:               lot.ProductID,
		LocationType:            string(lot.Type),
		LocationID:              lot.Location.ID,
		Reason:                  string(lot.Reason),
		TotalQuantity:           lot.TotalQuantity.String(),
		EffectiveExpirationDate: lot.EffectiveExpirationDate,
		EffectiveFreshness:      lot.EffectiveFreshness,
		ComponentBatchIDs:       ids,
	}
	p.publish(ctx, messaging.EventMixedLotCreated, data, "mixed_lot_id", lot.ID)
}

// ConditionsUpdated publishes new ambient conditions of a location
func (p *StockEventPublisher) ConditionsUpdated(ctx context.Context, l *domain.StorageLocation) {
	data := messaging.ConditionsUpdatedEvent{
		LocationID:             l.ID,
		SellerID:               l.SellerID,
		TemperatureRange:       string(l.TemperatureRange),
		HumidityRange:          string(l.HumidityRange),
		Source:                 string(l.ConditionsSource),
		DegradationCoefficient: l.DegradationCoefficient,
	}
	p.publish(ctx, messaging.EventConditionsUpdated, data, "location_id", l.ID)
}

// AuditCompleted publishes the variance record of a completed audit.
// Matched items are left out of the variance lines.
func (p *StockEventPublisher) AuditCompleted(ctx context.Context, doc *domain.AuditDocument) {
	data := messaging.AuditCompletedEvent{
		AuditID:        doc.ID,
		DocumentNumber: doc.DocumentNumber,
		SellerID:       doc.SellerID,
		ShopID:         doc.ShopID,
		Variances:      []messaging.AuditVarianceLine{},
	}
	if doc.Summary != nil {
		data.SurplusCount = doc.Summary.SurplusCount
		data.ShortageCount = doc.Summary.ShortageCount
		data.MatchedCount = doc.Summary.MatchedCount
		data.SurplusQuantity = doc.Summary.SurplusQuantity.String()
		data.ShortageQuantity = doc.Summary.ShortageQuantity.String()
	}

	for _, it := range doc.Items {
		if !it.IsCounted || it.Difference == nil || it.Difference.IsZero() {
			continue
		}
		data.Variances = append(data.Variances, messaging.AuditVarianceLine{
			ProductID:  it.ProductID,
			Expected:   it.ExpectedQuantity.String(),
			Actual:     it.ActualQuantity.String(),
			Difference: it.Difference.String(),
		})
	}
	p.publish(ctx, messaging.EventAuditCompleted, data, "audit_id", doc.ID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
