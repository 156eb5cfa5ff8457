package memstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/memstore"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *memstore.Store, f *testutil.FixtureFactory, loc domain.Location, qty int64, opts ...func(*domain.Batch)) (*domain.Batch, *domain.LedgerEntry) {
	t.Helper()
	ctx := context.Background()
	b := f.Batch(opts...)
	require.NoError(t, store.Batches().Create(ctx, b))
	e := f.LedgerEntry(b, loc, qty)
	require.NoError(t, store.Ledger().Create(ctx, e))
	return b, e
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

func TestWithinTx_RollsBackOnError(t *testing.T) {
	store := memstore.New()
	f := testutil.NewFixtureFactory()
	ctx := context.Background()
	b := f.Batch()

	_, err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Batches().Create(ctx, b))
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	_, err = store.Batches().GetByID(ctx, b.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestWithinTx_RunsDeferredAfterCommit(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	ran := false

	deferred, err := store.WithinTx(ctx, func(ctx context.Context) error {
		// nested scopes join the outer one
		_, err := store.WithinTx(ctx, func(ctx context.Context) error {
			database.Defer(ctx, func(context.Context) { ran = true })
			return nil
		})
		return err
	})
	require.NoError(t, err)
	assert.False(t, ran)

	deferred.Run(ctx)
	assert.True(t, ran)
}

// ============================================================================
// LEDGER
// ============================================================================

func TestLedger_CompareAndAdjust_Bounds(t *testing.T) {
	store := memstore.New()
	f := testutil.NewFixtureFactory()
	ctx := context.Background()
	_, e := seed(t, store, f, f.Shop(), 10)

	_, err := store.Ledger().CompareAndAdjust(ctx, e.ID, decimal.Zero, decimal.NewFromInt(11))
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	got, err := store.Ledger().CompareAndAdjust(ctx, e.ID, decimal.NewFromInt(-10), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, got.Quantity.IsZero())
	assert.Equal(t, domain.LedgerDepleted, got.Status)

	_, err = store.Ledger().CompareAndAdjust(ctx, e.ID, decimal.NewFromInt(-1), decimal.Zero)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestLedger_RejectsSecondRowForBatchAndLocation(t *testing.T) {
	store := memstore.New()
	f := testutil.NewFixtureFactory()
	shop := f.Shop()
	b, _ := seed(t, store, f, shop, 5)

	err := store.Ledger().Create(context.Background(), f.LedgerEntry(b, shop, 3))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestLedger_ListForFifo(t *testing.T) {
	store := memstore.New()
	f := testutil.NewFixtureFactory()
	shop := f.Shop()
	product := "4f3e0d52-0f7c-4a57-9c9e-1b8b0c1f5a11"

	_, late := seed(t, store, f, shop, 5, testutil.WithProduct(product), testutil.ExpiringIn(9*24*time.Hour))
	_, early := seed(t, store, f, shop, 5, testutil.WithProduct(product), testutil.ExpiringIn(2*24*time.Hour))
	seed(t, store, f, shop, 5, testutil.WithProduct(product), testutil.WithBatchStatus(domain.BatchBlocked))
	seed(t, store, f, shop, 5, testutil.WithProduct(product), testutil.ExpiringIn(-time.Hour))
	seed(t, store, f, f.Shop(), 5, testutil.WithProduct(product))

	rows, err := store.Ledger().ListForFifo(context.Background(), f.SellerID, shop, product, time.Now())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, early.ID, rows[0].ID)
	assert.Equal(t, late.ID, rows[1].ID)
}

func TestMovements_NewestFirst(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	for i, typ := range []domain.MovementType{domain.MovementReceipt, domain.MovementWriteOff} {
		require.NoError(t, store.Movements().Record(ctx, &domain.Movement{
			ID:       fmt.Sprintf("m-%d", i),
			LedgerID: "l-1",
			Type:     typ,
		}))
	}

	got, total, err := store.Movements().ListByLedger(ctx, "l-1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MovementWriteOff, got[0].Type)
}

// ============================================================================
// BATCHES
// ============================================================================

func TestBatches_UpdateStatusGuard(t *testing.T) {
	store := memstore.New()
	f := testutil.NewFixtureFactory()
	ctx := context.Background()
	b := f.Batch()
	require.NoError(t, store.Batches().Create(ctx, b))

	_, err := store.Batches().UpdateStatus(ctx, b.ID, []domain.BatchStatus{domain.BatchBlocked}, domain.BatchActive, nil)
	assert.True(t, errors.IsKind(err, errors.KindInvariant))

	reason := "recall"
	got, err := store.Batches().UpdateStatus(ctx, b.ID, []domain.BatchStatus{domain.BatchActive}, domain.BatchBlocked, &reason)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchBlocked, got.Status)
	require.NotNil(t, got.BlockReason)
	assert.Equal(t, "recall", *got.BlockReason)
}

func TestBatches_ExpireBeforeIsSellerScoped(t *testing.T) {
	store := memstore.New()
	mine := testutil.NewFixtureFactory()
	theirs := testutil.NewFixtureFactory()
	ctx := context.Background()

	for _, f := range []*testutil.FixtureFactory{mine, theirs} {
		require.NoError(t, store.Batches().Create(ctx, f.Batch(testutil.ExpiringIn(-time.Hour))))
		require.NoError(t, store.Batches().Create(ctx, f.Batch()))
	}

	n, err := store.Batches().ExpireBefore(ctx, &mine.SellerID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Batches().ExpireBefore(ctx, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// ============================================================================
// LOCATIONS
// ============================================================================

func TestLocations_UpdateVersionGuard(t *testing.T) {
	store := memstore.New()
	f := testutil.NewFixtureFactory()
	ctx := context.Background()
	loc := f.StorageLocation(f.Shop(), testutil.WithConditions(domain.TempCold, domain.HumidityNormal))
	require.NoError(t, store.Locations().Create(ctx, loc))

	first, err := store.Locations().GetByID(ctx, loc.ID)
	require.NoError(t, err)
	second, err := store.Locations().GetByID(ctx, loc.ID)
	require.NoError(t, err)

	first.Name = "Back room"
	require.NoError(t, store.Locations().Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Name = "Front room"
	err = store.Locations().Update(ctx, second)
	assert.True(t, errors.IsKind(err, errors.KindInvariant))

	got, err := store.Locations().GetByRef(ctx, f.SellerID, domain.Location{Type: loc.LocationType, ID: loc.LocationRef})
	require.NoError(t, err)
	assert.Equal(t, "Back room", got.Name)
}
