package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/memstore"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	_ service.TxRunner      = (*memstore.Store)(nil)
	_ service.BatchStore    = (*memstore.BatchStore)(nil)
	_ service.LedgerStore   = (*memstore.LedgerStore)(nil)
	_ service.MovementStore = (*memstore.MovementStore)(nil)
	_ service.LocationStore = (*memstore.LocationStore)(nil)
	_ service.MixedLotStore = (*memstore.MixedLotStore)(nil)
	_ service.AuditStore    = (*memstore.AuditStore)(nil)
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return now.Add(time.Duration(n) * 24 * time.Hour)
}

func clock() time.Time { return now }

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// recorder captures published events by name
type recorder struct {
	mu     sync.Mutex
	events []string
	fifo   []*domain.FifoResult
	audits []*domain.AuditDocument
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, e := range r.names() {
		if e == name {
			n++
		}
	}
	return n
}

func (r *recorder) LedgerAdjusted(context.Context, *domain.LedgerEntry, *domain.Movement) {
	r.add("ledger.adjusted")
}

func (r *recorder) LedgerTransferred(context.Context, *domain.LedgerEntry, *domain.LedgerEntry, decimal.Decimal) {
	r.add("ledger.transferred")
}

func (r *recorder) FifoConsumed(_ context.Context, _ string, _ domain.Location, _ string, _ *string, res *domain.FifoResult) {
	r.mu.Lock()
	r.fifo = append(r.fifo, res)
	r.mu.Unlock()
	r.add("fifo.consumed")
}

func (r *recorder) BatchStatusChanged(context.Context, *domain.Batch, domain.BatchStatus) {
	r.add("batch.status_changed")
}

func (r *recorder) BatchesExpired(context.Context, *string, int64, time.Time) {
	r.add("batch.expired")
}

func (r *recorder) MixedLotCreated(context.Context, *domain.MixedLot) {
	r.add("mixed_lot.created")
}

func (r *recorder) ConditionsUpdated(context.Context, *domain.StorageLocation) {
	r.add("location.conditions_updated")
}

func (r *recorder) AuditCompleted(_ context.Context, doc *domain.AuditDocument) {
	r.mu.Lock()
	r.audits = append(r.audits, doc)
	r.mu.Unlock()
	r.add("audit.completed")
}

// env wires every service to one in-memory store with a pinned clock
type env struct {
	store         *memstore.Store
	stores        service.Stores
	events        *recorder
	batches       *service.BatchService
	ledger        *service.LedgerService
	locations     *service.LocationService
	consolidation *service.ConsolidationService
	audits        *service.InventoryAuditService
	seller        string
	shopA         domain.Location
	shopB         domain.Location
	product       string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memstore.New()
	return newEnvWith(t, store, service.Stores{
		Tx:        store,
		Batches:   store.Batches(),
		Ledger:    store.Ledger(),
		Movements: store.Movements(),
		Locations: store.Locations(),
		MixedLots: store.MixedLots(),
		Audits:    store.Audits(),
	})
}

func newEnvWith(t *testing.T, store *memstore.Store, stores service.Stores) *env {
	t.Helper()
	log := logger.Nop()
	events := &recorder{}

	batches := service.NewBatchService(stores, events, log).WithClock(clock)
	ledger := service.NewLedgerService(stores, batches, events, log).WithClock(clock)
	locations := service.NewLocationService(stores, events, log).WithClock(clock)
	consolidation := service.NewConsolidationService(stores, ledger, locations, events, dec(5), log).WithClock(clock)
	audits := service.NewInventoryAuditService(stores, events, log).WithClock(clock)

	return &env{
		store:         store,
		stores:        stores,
		events:        events,
		batches:       batches,
		ledger:        ledger,
		locations:     locations,
		consolidation: consolidation,
		audits:        audits,
		seller:        uuid.NewString(),
		shopA:         domain.ShopLocation(uuid.NewString()),
		shopB:         domain.ShopLocation(uuid.NewString()),
		product:       uuid.NewString(),
	}
}

// batch registers a batch of the env product expiring on the given day
func (e *env) batch(t *testing.T, number string, expiresDay int) *domain.BatchView {
	t.Helper()
	b, err := e.batches.Create(context.Background(), service.CreateBatchInput{
		SellerID:        e.seller,
		ProductID:       e.product,
		BatchNumber:     number,
		ExpirationDate:  day(expiresDay),
		InitialQuantity: dec(100),
	})
	require.NoError(t, err)
	return b
}

// stock puts qty of batchID at loc
func (e *env) stock(t *testing.T, batchID string, loc domain.Location, qty int64) *domain.LedgerView {
	t.Helper()
	row, err := e.ledger.Create(context.Background(), service.CreateLedgerInput{
		BatchID:  batchID,
		Location: loc,
		Quantity: dec(qty),
	})
	require.NoError(t, err)
	return row
}

func (e *env) row(t *testing.T, id string) *domain.LedgerView {
	t.Helper()
	row, err := e.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	return row
}
