package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/memstore"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// CREATE / UPDATE
// ============================================================================

func TestBatch_Create(t *testing.T) {
	e := newEnv(t)
	produced := day(-2)

	b, err := e.batches.Create(context.Background(), service.CreateBatchInput{
		SellerID:        e.seller,
		ProductID:       e.product,
		BatchNumber:     "  LOT-1 ",
		ProductionDate:  &produced,
		ExpirationDate:  day(5),
		InitialQuantity: dec(40),
	})
	require.NoError(t, err)

	assert.Equal(t, "LOT-1", b.BatchNumber)
	assert.Equal(t, domain.BatchActive, b.Status)
	assert.Equal(t, 5, b.DaysUntilExpiration)
	assert.Equal(t, domain.AlertWarning, b.AlertLevel)
}

func TestBatch_CreateValidation(t *testing.T) {
	e := newEnv(t)
	e.batch(t, "DUP", 5)
	late := day(9)
	bad := 11.0

	tests := []struct {
		name  string
		in    service.CreateBatchInput
		field string
	}{
		{"duplicate number", service.CreateBatchInput{BatchNumber: "DUP", ExpirationDate: day(5)}, "batch_number"},
		{"missing expiration", service.CreateBatchInput{BatchNumber: "X1"}, "expiration_date"},
		{"negative quantity", service.CreateBatchInput{BatchNumber: "X2", ExpirationDate: day(5), InitialQuantity: dec(-1)}, "initial_quantity"},
		{"produced after expiry", service.CreateBatchInput{BatchNumber: "X3", ExpirationDate: day(5), ProductionDate: &late}, "production_date"},
		{"freshness out of range", service.CreateBatchInput{BatchNumber: "X4", ExpirationDate: day(5), FreshnessScore: &bad}, "freshness_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.SellerID = e.seller
			tt.in.ProductID = e.product
			_, err := e.batches.Create(context.Background(), tt.in)
			require.Error(t, err)

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, errors.KindValidation, appErr.Kind)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
}

func TestBatch_ExpirationIsImmutable(t *testing.T) {
	e := newEnv(t)
	b := e.batch(t, "B1", 5)
	moved := day(6)
	supplier := "Dairy Co"

	_, err := e.batches.Update(context.Background(), b.ID, service.UpdateBatchInput{ExpirationDate: &moved})
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	same := b.ExpirationDate
	updated, err := e.batches.Update(context.Background(), b.ID, service.UpdateBatchInput{
		ExpirationDate: &same,
		Supplier:       &supplier,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Supplier)
	assert.Equal(t, supplier, *updated.Supplier)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestBatch_BlockAndUnblock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := e.batch(t, "B1", 5)

	_, err := e.batches.Block(ctx, b.ID, "")
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	blocked, err := e.batches.Block(ctx, b.ID, "supplier recall")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchBlocked, blocked.Status)
	require.NotNil(t, blocked.BlockReason)

	_, err = e.batches.Block(ctx, b.ID, "again")
	assert.True(t, errors.IsKind(err, errors.KindInvariant))

	active, err := e.batches.Unblock(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchActive, active.Status)
	assert.Nil(t, active.BlockReason)

	_, err = e.batches.Unblock(ctx, b.ID)
	assert.True(t, errors.IsKind(err, errors.KindInvariant))
	assert.Equal(t, 2, e.events.count("batch.status_changed"))
}

func TestBatch_UpdateStatusTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		path   []domain.BatchStatus
		reason string
		kind   errors.Kind
	}{
		{"active to expired", []domain.BatchStatus{domain.BatchExpired}, "", ""},
		{"expired is terminal", []domain.BatchStatus{domain.BatchExpired, domain.BatchActive}, "", errors.KindInvariant},
		{"blocked needs reason", []domain.BatchStatus{domain.BatchBlocked}, "", errors.KindValidation},
		{"depleted to blocked", []domain.BatchStatus{domain.BatchDepleted, domain.BatchBlocked}, "x", errors.KindInvariant},
		{"unknown status", []domain.BatchStatus{"LOST"}, "", errors.KindValidation},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := e.batch(t, "T"+string(rune('A'+i)), 5)
			var err error
			for _, to := range tt.path {
				_, err = e.batches.UpdateStatus(ctx, b.ID, to, tt.reason)
			}
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}
}

func TestBatch_ExpireSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	old := e.batch(t, "OLD", -1)
	e.batch(t, "FRESH", 4)
	blocked := e.batch(t, "BLOCKED", -2)
	_, err := e.batches.Block(ctx, blocked.ID, "damaged")
	require.NoError(t, err)

	count, err := e.batches.ExpireSweep(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	got, err := e.batches.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchExpired, got.Status)
	assert.Equal(t, domain.AlertExpired, got.AlertLevel)

	other := "someone-else"
	count, err = e.batches.ExpireSweep(ctx, &other)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 1, e.events.count("batch.expired"))
}

func TestExpirySweeper_RunOnce(t *testing.T) {
	e := newEnv(t)
	e.batch(t, "OLD", -3)

	sweeper := service.NewExpirySweeper(e.batches, "", logger.Nop())
	count, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestExpirySweeper_InvalidSchedule(t *testing.T) {
	e := newEnv(t)
	sweeper := service.NewExpirySweeper(e.batches, "not a cron spec", logger.Nop())
	assert.Error(t, sweeper.Start())
}

// gatedBatches holds ExpireBefore until release is closed
type gatedBatches struct {
	service.BatchStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBatches) ExpireBefore(ctx context.Context, sellerID *string, now time.Time) (int64, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.BatchStore.ExpireBefore(ctx, sellerID, now)
}

func TestExpirySweeper_StopWaitsForStartupSweep(t *testing.T) {
	store := memstore.New()
	stores := store.Stores()
	gate := &gatedBatches{BatchStore: stores.Batches, started: make(chan struct{}), release: make(chan struct{})}
	stores.Batches = gate
	e := newEnvWith(t, store, stores)
	e.batch(t, "OLD", -3)

	sweeper := service.NewExpirySweeper(e.batches, "@every 1h", logger.Nop())
	require.NoError(t, sweeper.Start())

	select {
	case <-gate.started:
	case <-time.After(2 * time.Second):
		t.Fatal("startup sweep never ran")
	}

	stopped := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the startup sweep was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}
	assert.Equal(t, 1, e.events.count("batch.expired"))
}

// ============================================================================
// QUERIES
// ============================================================================

func TestBatch_ListByAlertLevel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.batch(t, "CRIT", 2)
	e.batch(t, "WARN", 6)
	e.batch(t, "NORM", 30)

	tests := map[domain.AlertLevel]string{
		domain.AlertCritical: "CRIT",
		domain.AlertWarning:  "WARN",
		domain.AlertNormal:   "NORM",
	}
	for level, number := range tests {
		list, total, err := e.batches.List(ctx, domain.BatchFilter{SellerID: e.seller, AlertLevel: level})
		require.NoError(t, err)
		require.EqualValues(t, 1, total, level)
		assert.Equal(t, number, list[0].BatchNumber)
		assert.Equal(t, level, list[0].AlertLevel)
	}

	_, _, err := e.batches.List(ctx, domain.BatchFilter{SellerID: e.seller, AlertLevel: "SOON"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestBatch_ActiveForProductInFifoOrder(t *testing.T) {
	e := newEnv(t)
	e.batch(t, "LATE", 9)
	e.batch(t, "EARLY", 2)
	e.batch(t, "GONE", -1)

	list, err := e.batches.ActiveForProduct(context.Background(), e.seller, e.product)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "EARLY", list[0].BatchNumber)
	assert.Equal(t, "LATE", list[1].BatchNumber)
}

func TestBatch_Statistics(t *testing.T) {
	e := newEnv(t)
	produced := now.Add(-10 * 24 * time.Hour)
	_, err := e.batches.Create(context.Background(), service.CreateBatchInput{
		SellerID: e.seller, ProductID: e.product, BatchNumber: "P1",
		ProductionDate: &produced, ExpirationDate: day(2),
	})
	require.NoError(t, err)
	e.batch(t, "P2", 6)

	stats, err := e.batches.Statistics(context.Background(), e.seller)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 2, stats.ByStatus["ACTIVE"])
	assert.EqualValues(t, 1, stats.ExpiringIn3Days)
	assert.EqualValues(t, 2, stats.ExpiringIn7Days)
	assert.Equal(t, 9.0, stats.AverageShelfLifeDays)
}
