package service

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/shopspring/decimal"
)

// TxRunner opens a transactional scope, joining one already carried by ctx.
// Actions registered with database.Defer are returned for the caller to run
// after a successful commit.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) (database.Deferred, error)
}

// BatchStore persists batches
type BatchStore interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	GetByNumber(ctx context.Context, sellerID, number string) (*domain.Batch, error)
	Update(ctx context.Context, b *domain.Batch) error
	// UpdateStatus moves the batch to `to` only if its current status is one of from.
	// A batch in any other status yields an Invariant error.
	UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus, blockReason *string) (*domain.Batch, error)
	ExpireBefore(ctx context.Context, sellerID *string, now time.Time) (int64, error)
	List(ctx context.Context, filter domain.BatchFilter, now time.Time) ([]*domain.Batch, int64, error)
	ListActiveForProduct(ctx context.Context, sellerID, productID string, now time.Time) ([]*domain.Batch, error)
	Statistics(ctx context.Context, sellerID string, now time.Time) (*domain.BatchStatistics, error)
}

// LedgerStore persists ledger rows
type LedgerStore interface {
	Create(ctx context.Context, e *domain.LedgerEntry) error
	GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error)
	GetByBatchAndLocation(ctx context.Context, batchID string, loc domain.Location) (*domain.LedgerEntry, error)
	// CompareAndAdjust adds dq to quantity and dr to reserved in one atomic step,
	// failing with Validation when the result would leave the row out of bounds.
	CompareAndAdjust(ctx context.Context, id string, dq, dr decimal.Decimal) (*domain.LedgerEntry, error)
	ListByBatch(ctx context.Context, batchID string) ([]*domain.LedgerEntry, error)
	ListByLocation(ctx context.Context, sellerID string, loc domain.Location, page, perPage int) ([]*domain.LedgerEntry, int64, error)
	ListByLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) ([]*domain.LedgerEntry, error)
	// ListForFifo returns consumable rows ordered by batch expiration, then ledger id
	ListForFifo(ctx context.Context, sellerID string, loc domain.Location, productID string, now time.Time) ([]*domain.FifoCandidate, error)
	ListExpiringSoon(ctx context.Context, sellerID string, now, until time.Time, page, perPage int) ([]*domain.FifoCandidate, int64, error)
	TotalByBatch(ctx context.Context, batchID string) (decimal.Decimal, error)
	TotalByLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) (decimal.Decimal, error)
	ListProductsAtLocation(ctx context.Context, sellerID string, loc domain.Location) ([]string, error)
	// ListBelowThreshold returns rows with 0 < available < threshold whose batch is ACTIVE
	ListBelowThreshold(ctx context.Context, filter domain.CandidateFilter) ([]*domain.FifoCandidate, error)
}

// MovementStore appends to the movement log
type MovementStore interface {
	Record(ctx context.Context, m *domain.Movement) error
	ListByLedger(ctx context.Context, ledgerID string, page, perPage int) ([]*domain.Movement, int64, error)
}

// LocationStore persists storage locations
type LocationStore interface {
	Create(ctx context.Context, l *domain.StorageLocation) error
	GetByID(ctx context.Context, id string) (*domain.StorageLocation, error)
	GetByRef(ctx context.Context, sellerID string, loc domain.Location) (*domain.StorageLocation, error)
	ListBySeller(ctx context.Context, sellerID string, page, perPage int) ([]*domain.StorageLocation, int64, error)
	Count(ctx context.Context, sellerID string) (int64, error)
	// Update writes l if its Version is still current and bumps Version.
	// A concurrent write yields an Invariant error.
	Update(ctx context.Context, l *domain.StorageLocation) error
}

// MixedLotStore persists mixed lots with their components
type MixedLotStore interface {
	Create(ctx context.Context, lot *domain.MixedLot) error
	GetByID(ctx context.Context, id string) (*domain.MixedLot, error)
	ListByLocation(ctx context.Context, sellerID string, loc domain.Location, activeOnly bool) ([]*domain.MixedLot, error)
	ListByComponent(ctx context.Context, batchID string) ([]*domain.MixedLot, error)
	History(ctx context.Context, filter domain.MixedLotFilter) ([]*domain.MixedLot, int64, error)
	// Deactivate fails with Invariant when the lot is already inactive
	Deactivate(ctx context.Context, id string, at time.Time) error
	Statistics(ctx context.Context, sellerID string) (*domain.MixedLotStatistics, error)
}

// AuditStore persists inventory audit documents and their items
type AuditStore interface {
	// Create fails with Invariant when the shop already has an active audit
	Create(ctx context.Context, doc *domain.AuditDocument) error
	GetByID(ctx context.Context, id string) (*domain.AuditDocument, error)
	// LockByID reads the document for update inside the current scope
	LockByID(ctx context.Context, id string) (*domain.AuditDocument, error)
	GetByDocumentNumber(ctx context.Context, sellerID, number string) (*domain.AuditDocument, error)
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditDocument, int64, error)
	GetActiveForShop(ctx context.Context, sellerID, shopID string) (*domain.AuditDocument, error)
	// Transition writes status, timestamps, summary and cancel reason if the
	// stored status is one of from; otherwise Invariant.
	Transition(ctx context.Context, doc *domain.AuditDocument, from []domain.AuditStatus) error
	AddItems(ctx context.Context, auditID string, items []domain.AuditItem, totalItems int) error
	UpdateCounts(ctx context.Context, auditID string, items []domain.AuditItem, countedItems int) error
}

// Stores bundles the persistence ports shared by the services
type Stores struct {
	Tx        TxRunner
	Batches   BatchStore
	Ledger    LedgerStore
	Movements MovementStore
	Locations LocationStore
	MixedLots MixedLotStore
	Audits    AuditStore
}

// EventPublisher announces committed stock changes. Implementations must not
// fail the caller; publish errors are logged.
type EventPublisher interface {
	LedgerAdjusted(ctx context.Context, entry *domain.LedgerEntry, m *domain.Movement)
	LedgerTransferred(ctx context.Context, from, to *domain.LedgerEntry, quantity decimal.Decimal)
	FifoConsumed(ctx context.Context, sellerID string, loc domain.Location, productID string, reference *string, result *domain.FifoResult)
	BatchStatusChanged(ctx context.Context, b *domain.Batch, previous domain.BatchStatus)
	BatchesExpired(ctx context.Context, sellerID *string, count int64, at time.Time)
	MixedLotCreated(ctx context.Context, lot *domain.MixedLot)
	ConditionsUpdated(ctx context.Context, l *domain.StorageLocation)
	AuditCompleted(ctx context.Context, doc *domain.AuditDocument)
}

type nopPublisher struct{}

func (nopPublisher) LedgerAdjusted(context.Context, *domain.LedgerEntry, *domain.Movement) {}

func (nopPublisher) LedgerTransferred(context.Context, *domain.LedgerEntry, *domain.LedgerEntry, decimal.Decimal) {
}

func (nopPublisher) FifoConsumed(context.Context, string, domain.Location, string, *string, *domain.FifoResult) {
}

func (nopPublisher) BatchStatusChanged(context.Context, *domain.Batch, domain.BatchStatus) {}

func (nopPublisher) BatchesExpired(context.Context, *string, int64, time.Time) {}

func (nopPublisher) MixedLotCreated(context.Context, *domain.MixedLot) {}

func (nopPublisher) ConditionsUpdated(context.Context, *domain.StorageLocation) {}

func (nopPublisher) AuditCompleted(context.Context, *domain.AuditDocument) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
