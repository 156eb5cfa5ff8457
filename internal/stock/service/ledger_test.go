package service_test

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/actor"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// CREATE
// ============================================================================

func TestLedger_CreateRecordsReceipt(t *testing.T) {
	e := newEnv(t)
	ctx := actor.WithActor(context.Background(), &actor.Actor{ID: "user-1"})
	b := e.batch(t, "B1", 10)

	row, err := e.ledger.Create(ctx, service.CreateLedgerInput{BatchID: b.ID, Location: e.shopA, Quantity: dec(12)})
	require.NoError(t, err)

	assert.True(t, dec(12).Equal(row.Quantity))
	assert.True(t, dec(12).Equal(row.AvailableQuantity))
	assert.Equal(t, domain.LedgerActive, row.Status)
	assert.Equal(t, e.product, row.ProductID)

	moves, total, err := e.ledger.Movements(ctx, row.ID, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, domain.MovementReceipt, moves[0].Type)
	assert.True(t, dec(0).Equal(moves[0].QuantityBefore))
	assert.True(t, dec(12).Equal(moves[0].QuantityAfter))
	assert.Equal(t, "user-1", moves[0].PerformedBy)
}

func TestLedger_CreateRejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	e.stock(t, b.ID, e.shopA, 5)

	t.Run("duplicate row", func(t *testing.T) {
		_, err := e.ledger.Create(ctx, service.CreateLedgerInput{BatchID: b.ID, Location: e.shopA, Quantity: dec(1)})
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("negative quantity", func(t *testing.T) {
		_, err := e.ledger.Create(ctx, service.CreateLedgerInput{BatchID: b.ID, Location: e.shopB, Quantity: dec(-1)})
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := e.ledger.Create(ctx, service.CreateLedgerInput{BatchID: "missing", Location: e.shopB, Quantity: dec(1)})
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})
}

// ============================================================================
// NON-NEGATIVITY
// ============================================================================

func TestLedger_AdjustNeverGoesNegative(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 10)

	_, err := e.ledger.Reserve(ctx, row.ID, dec(4))
	require.NoError(t, err)

	_, err = e.ledger.Adjust(ctx, row.ID, dec(-11), "count")
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = e.ledger.Adjust(ctx, row.ID, dec(-7), "below reserved")
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	after := e.row(t, row.ID)
	assert.True(t, dec(10).Equal(after.Quantity), "rejected calls must not clamp")
	assert.True(t, dec(4).Equal(after.ReservedQuantity))

	adjusted, err := e.ledger.Adjust(ctx, row.ID, dec(-6), "damaged")
	require.NoError(t, err)
	assert.True(t, dec(4).Equal(adjusted.Quantity))
	assert.True(t, dec(0).Equal(adjusted.AvailableQuantity))

	_, err = e.ledger.Adjust(ctx, row.ID, dec(0), "noop")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestLedger_NonNegativitySequence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 5)

	ops := []func() error{
		func() error { _, err := e.ledger.Reserve(ctx, row.ID, dec(3)); return err },
		func() error { _, err := e.ledger.Confirm(ctx, row.ID, dec(4), "order-1"); return err },
		func() error { _, err := e.ledger.Release(ctx, row.ID, dec(5)); return err },
		func() error { _, err := e.ledger.Confirm(ctx, row.ID, dec(2), "order-1"); return err },
		func() error { _, err := e.ledger.Adjust(ctx, row.ID, dec(-4), "count"); return err },
		func() error { _, err := e.ledger.Release(ctx, row.ID, dec(1)); return err },
		func() error { _, err := e.ledger.Reserve(ctx, row.ID, dec(4)); return err },
		func() error { _, err := e.ledger.WriteOff(ctx, row.ID, dec(3), "spoiled"); return err },
		func() error { _, err := e.ledger.Release(ctx, row.ID, dec(0)); return err },
	}
	for _, op := range ops {
		_ = op()
		cur := e.row(t, row.ID)
		assert.False(t, cur.Quantity.IsNegative())
		assert.False(t, cur.ReservedQuantity.IsNegative())
		assert.True(t, cur.ReservedQuantity.LessThanOrEqual(cur.Quantity))
	}
}

// ============================================================================
// RESERVATIONS
// ============================================================================

func TestLedger_ReservationCeiling(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 10)

	_, err := e.ledger.Reserve(ctx, row.ID, dec(4))
	require.NoError(t, err)

	_, err = e.ledger.Reserve(ctx, row.ID, dec(7))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	res, err := e.ledger.Reserve(ctx, row.ID, dec(6))
	require.NoError(t, err)
	assert.True(t, dec(10).Equal(res.ReservedQuantity))
	assert.True(t, dec(0).Equal(res.AvailableQuantity))
}

func TestLedger_ReleaseAndConfirm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 5)

	_, err := e.ledger.Reserve(ctx, row.ID, dec(5))
	require.NoError(t, err)

	_, err = e.ledger.Release(ctx, row.ID, dec(6))
	assert.True(t, errors.IsKind(err, errors.KindValidation), "release never clamps")

	_, err = e.ledger.Release(ctx, row.ID, dec(1))
	require.NoError(t, err)

	_, err = e.ledger.Confirm(ctx, row.ID, dec(5), "order-9")
	assert.True(t, errors.IsKind(err, errors.KindValidation), "confirm beyond reserved")

	done, err := e.ledger.Confirm(ctx, row.ID, dec(4), "order-9")
	require.NoError(t, err)
	assert.True(t, dec(1).Equal(done.Quantity))
	assert.True(t, dec(0).Equal(done.ReservedQuantity))

	moves, _, err := e.ledger.Movements(ctx, row.ID, 1, 20)
	require.NoError(t, err)
	require.Len(t, moves, 2, "reservation changes leave no movement")
	assert.Equal(t, domain.MovementConfirm, moves[0].Type)
	require.NotNil(t, moves[0].Reference)
	assert.Equal(t, "order-9", *moves[0].Reference)
}

func TestLedger_WriteOffRequiresReason(t *testing.T) {
	e := newEnv(t)
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 5)

	_, err := e.ledger.WriteOff(context.Background(), row.ID, dec(1), " ")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

// ============================================================================
// DEPLETION
// ============================================================================

func TestLedger_DepletionFollowsTotalStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 3)

	out, err := e.ledger.Adjust(ctx, row.ID, dec(-3), "sold")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerDepleted, out.Status)

	batch, err := e.batches.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchDepleted, batch.Status)

	back, err := e.ledger.Adjust(ctx, row.ID, dec(2), "found")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerActive, back.Status)

	batch, err = e.batches.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchActive, batch.Status)
}

// ============================================================================
// TRANSFER
// ============================================================================

func TestLedger_TransferCreatesDestination(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	e.stock(t, b.ID, e.shopA, 8)

	res, err := e.ledger.Transfer(ctx, service.TransferInput{BatchID: b.ID, From: e.shopA, To: e.shopB, Quantity: dec(5)})
	require.NoError(t, err)

	assert.True(t, dec(3).Equal(res.From.Quantity))
	assert.True(t, dec(5).Equal(res.To.Quantity))
	assert.Equal(t, e.shopB, res.To.Location)
	assert.Equal(t, 1, e.events.count("ledger.transferred"))

	total, err := e.ledger.TotalByBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, dec(8).Equal(total))
}

func TestLedger_TransferRejects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 8)
	_, err := e.ledger.Reserve(ctx, row.ID, dec(4))
	require.NoError(t, err)

	tests := []struct {
		name string
		in   service.TransferInput
		kind errors.Kind
	}{
		{"same location", service.TransferInput{BatchID: b.ID, From: e.shopA, To: e.shopA, Quantity: dec(1)}, errors.KindValidation},
		{"zero quantity", service.TransferInput{BatchID: b.ID, From: e.shopA, To: e.shopB, Quantity: dec(0)}, errors.KindValidation},
		{"above available", service.TransferInput{BatchID: b.ID, From: e.shopA, To: e.shopB, Quantity: dec(5)}, errors.KindValidation},
		{"no source row", service.TransferInput{BatchID: b.ID, From: e.shopB, To: e.shopA, Quantity: dec(1)}, errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ledger.Transfer(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}
}

// failingMovements fails when asked to record the given movement type
type failingMovements struct {
	service.MovementStore
	failOn domain.MovementType
}

var errDiskFull = stderrors.New("disk full")

func (f *failingMovements) Record(ctx context.Context, m *domain.Movement) error {
	if m.Type == f.failOn {
		return errDiskFull
	}
	return f.MovementStore.Record(ctx, m)
}

func TestLedger_TransferIsAtomic(t *testing.T) {
	seed := newEnv(t)
	b := seed.batch(t, "B1", 10)
	src := seed.stock(t, b.ID, seed.shopA, 8)

	stores := seed.stores
	stores.Movements = &failingMovements{MovementStore: stores.Movements, failOn: domain.MovementTransferIn}
	e := newEnvWith(t, seed.store, stores)

	_, err := e.ledger.Transfer(context.Background(), service.TransferInput{
		BatchID: b.ID, From: seed.shopA, To: seed.shopB, Quantity: dec(5),
	})
	require.ErrorIs(t, err, errDiskFull)

	after := seed.row(t, src.ID)
	assert.True(t, dec(8).Equal(after.Quantity), "source must be untouched")

	_, err = seed.stores.Ledger.GetByBatchAndLocation(context.Background(), b.ID, seed.shopB)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "destination must not exist")

	moves, _, err := seed.ledger.Movements(context.Background(), src.ID, 1, 20)
	require.NoError(t, err)
	assert.Len(t, moves, 1, "only the receipt survives")
	assert.Zero(t, e.events.count("ledger.transferred"))
	assert.Zero(t, e.events.count("ledger.adjusted"))
}

// ============================================================================
// QUERIES
// ============================================================================

func TestLedger_ExpiringSoon(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	soon := e.batch(t, "SOON", 2)
	later := e.batch(t, "LATER", 20)
	e.stock(t, soon.ID, e.shopA, 3)
	e.stock(t, later.ID, e.shopA, 3)

	rows, total, err := e.ledger.ExpiringSoon(ctx, e.seller, 7, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "SOON", rows[0].BatchNumber)
	assert.Equal(t, 2, rows[0].DaysUntilExpiration)
	assert.Equal(t, domain.AlertCritical, rows[0].AlertLevel)
}

func TestLedger_ByLocationAndProduct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b1 := e.batch(t, "B1", 5)
	b2 := e.batch(t, "B2", 6)
	e.stock(t, b1.ID, e.shopA, 3)
	e.stock(t, b2.ID, e.shopA, 4)
	e.stock(t, b2.ID, e.shopB, 1)

	rows, err := e.ledger.ByShopProduct(ctx, e.seller, e.shopA.ID, e.product)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	page, total, err := e.ledger.ByLocation(ctx, e.seller, e.shopA, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, page, 1)

	byBatch, err := e.ledger.ByBatch(ctx, b2.ID)
	require.NoError(t, err)
	assert.Len(t, byBatch, 2)
}

// ============================================================================
// CONCURRENCY
// ============================================================================

func TestLedger_ConcurrentReservesNeverOversubscribe(t *testing.T) {
	e := newEnv(t)
	b := e.batch(t, "B1", 10)
	row := e.stock(t, b.ID, e.shopA, 10)

	const workers = 50
	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
		rejected atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.ledger.Reserve(context.Background(), row.ID, dec(1))
			switch {
			case err == nil:
				reserved.Add(1)
			case errors.IsKind(err, errors.KindValidation):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 10, reserved.Load())
	assert.EqualValues(t, workers-10, rejected.Load())

	got := e.row(t, row.ID)
	assert.True(t, dec(10).Equal(got.ReservedQuantity))
	assert.True(t, got.AvailableQuantity.IsZero())
}

func TestConsumeFifo_ConcurrentCallersDrainExactlyTheStock(t *testing.T) {
	e, rows := fifoSetup(t)

	const workers = 30
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = dec(0)
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := e.ledger.ConsumeFifo(context.Background(), service.ConsumeFifoInput{
				SellerID:  e.seller,
				Location:  e.shopA,
				ProductID: e.product,
				Quantity:  dec(1),
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total = total.Add(res.TotalConsumed)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.True(t, dec(18).Equal(total), "consumed %s", total)
	for number, row := range rows {
		got := e.row(t, row.ID)
		assert.True(t, got.Quantity.IsZero(), number)
		assert.Equal(t, domain.LedgerDepleted, got.Status, number)
	}
	assert.Equal(t, 18, e.events.count("fifo.consumed"))
}
