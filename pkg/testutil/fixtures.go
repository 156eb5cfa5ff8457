package testutil

import (
	"fmt"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FixtureFactory creates stock rows with sensible defaults. All fixtures of
// one factory belong to the same seller.
type FixtureFactory struct {
	SellerID string
	sequence int
	now      time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{
		SellerID: uuid.New().String(),
		now:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Batch creates an ACTIVE batch of a fresh product expiring in 7 days
func (f *FixtureFactory) Batch(opts ...func(*domain.Batch)) *domain.Batch {
	seq := f.nextSeq()
	b := &domain.Batch{
		ID:              uuid.New().String(),
		SellerID:        f.SellerID,
		ProductID:       uuid.New().String(),
		BatchNumber:     fmt.Sprintf("LOT-%04d", seq),
		ExpirationDate:  f.now.Add(7 * 24 * time.Hour),
		InitialQuantity: decimal.NewFromInt(100),
		Status:          domain.BatchActive,
		CreatedAt:       f.now,
		UpdatedAt:       f.now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithProduct sets the batch product
func WithProduct(productID string) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.ProductID = productID
	}
}

// ExpiringIn sets the batch expiration relative to the factory clock
func ExpiringIn(d time.Duration) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.ExpirationDate = b.CreatedAt.Add(d)
	}
}

// WithBatchStatus sets the batch status
func WithBatchStatus(status domain.BatchStatus) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.Status = status
	}
}

// LedgerEntry creates an ACTIVE row of qty units of b at loc
func (f *FixtureFactory) LedgerEntry(b *domain.Batch, loc domain.Location, qty int64) *domain.LedgerEntry {
	e := &domain.LedgerEntry{
		ID:               uuid.New().String(),
		BatchID:          b.ID,
		SellerID:         b.SellerID,
		ProductID:        b.ProductID,
		Location:         loc,
		Quantity:         decimal.NewFromInt(qty),
		ReservedQuantity: decimal.Zero,
		Status:           domain.LedgerActive,
		CreatedAt:        f.now,
		UpdatedAt:        f.now,
	}
	e.Status = domain.NextLedgerStatus(e.Status, e.Quantity)
	return e
}

// Shop returns a new shop location
func (f *FixtureFactory) Shop() domain.Location {
	return domain.ShopLocation(uuid.New().String())
}

// StorageLocation creates a GENERIC room-temperature record for loc
func (f *FixtureFactory) StorageLocation(loc domain.Location, opts ...func(*domain.StorageLocation)) *domain.StorageLocation {
	seq := f.nextSeq()
	l := &domain.StorageLocation{
		ID:                     uuid.New().String(),
		SellerID:               f.SellerID,
		LocationType:           loc.Type,
		LocationRef:            loc.ID,
		Name:                   fmt.Sprintf("Location %d", seq),
		Status:                 domain.LocationActive,
		Preset:                 "GENERIC",
		TemperatureRange:       domain.TempRoom,
		HumidityRange:          domain.HumidityNormal,
		ConditionsSource:       domain.SourceDefault,
		DegradationCoefficient: coefficient("GENERIC", domain.TempRoom, domain.HumidityNormal),
		Zones:                  domain.Zones{},
		Version:                1,
		CreatedAt:              f.now,
		UpdatedAt:              f.now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithConditions sets the ambient conditions and recomputes the coefficient
func WithConditions(temp domain.TemperatureRange, humidity domain.HumidityRange) func(*domain.StorageLocation) {
	return func(l *domain.StorageLocation) {
		l.TemperatureRange = temp
		l.HumidityRange = humidity
		l.DegradationCoefficient = coefficient(l.Preset, temp, humidity)
	}
}

// coefficient panics on bands the model does not know; fixtures only pass known ones
func coefficient(preset string, temp domain.TemperatureRange, humidity domain.HumidityRange) float64 {
	c, err := domain.ComputeCoefficient(preset, temp, humidity)
	if err != nil {
		panic(err)
	}
	return c
}

// AuditDocument creates a DRAFT FULL audit of shopID with no items
func (f *FixtureFactory) AuditDocument(shopID string) *domain.AuditDocument {
	return &domain.AuditDocument{
		ID:             uuid.New().String(),
		DocumentNumber: domain.NewDocumentNumber(f.now),
		SellerID:       f.SellerID,
		ShopID:         shopID,
		Status:         domain.AuditDraft,
		Type:           domain.AuditFull,
		CreatedBy:      uuid.New().String(),
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
		Items:          []domain.AuditItem{},
	}
}

// AuditItem creates an uncounted line expecting qty units of productID
func (f *FixtureFactory) AuditItem(auditID, productID string, qty int64) domain.AuditItem {
	return domain.AuditItem{
		ID:               uuid.New().String(),
		AuditID:          auditID,
		ProductID:        productID,
		ExpectedQuantity: decimal.NewFromInt(qty),
	}
}
