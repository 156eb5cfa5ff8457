package repository_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/repository"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/testutil"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerRows() *sqlmock.Rows {
	return testutil.MockRows("id", "batch_id", "seller_id", "product_id", "location_type", "location_id",
		"quantity", "reserved_quantity", "status", "created_at", "updated_at")
}

var shop = domain.ShopLocation("shop-1")

// ============================================================================
// ATOMIC ADJUSTMENT
// ============================================================================

func TestLedgerRepository_CompareAndAdjust(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("AND reserved_quantity + $3 <= quantity + $2 RETURNING").
		WithArgs("l-1", "-4", "0").
		WillReturnRows(ledgerRows().AddRow("l-1", "b-1", "s-1", "p-1", "SHOP", "shop-1", "6", "2", "ACTIVE", now, now))

	e, err := repo.CompareAndAdjust(context.Background(), "l-1", decimal.NewFromInt(-4), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "6", e.Quantity.String())
	assert.Equal(t, "2", e.ReservedQuantity.String())
	assert.Equal(t, shop, e.Location)
}

func TestLedgerRepository_CompareAndAdjust_OutOfBounds(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("UPDATE stock_ledger SET").WillReturnError(sql.ErrNoRows)
	s.MockDB.ExpectQuery("FROM stock_ledger WHERE id = $1").
		WillReturnRows(ledgerRows().AddRow("l-1", "b-1", "s-1", "p-1", "SHOP", "shop-1", "3", "0", "ACTIVE", now, now))

	_, err := repo.CompareAndAdjust(context.Background(), "l-1", decimal.NewFromInt(-5), decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "3", appErr.Details["quantity"])
	assert.Equal(t, "-5", appErr.Details["quantity_delta"])
}

func TestLedgerRepository_CompareAndAdjust_MissingRow(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("UPDATE stock_ledger SET").WillReturnError(sql.ErrNoRows)
	s.MockDB.ExpectQuery("FROM stock_ledger WHERE id = $1").WillReturnError(sql.ErrNoRows)

	_, err := repo.CompareAndAdjust(context.Background(), "nope", decimal.NewFromInt(1), decimal.Zero)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestLedgerRepository_CheckConstraintMapsToValidation(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("UPDATE stock_ledger SET").
		WillReturnError(&pq.Error{Code: "23514", Constraint: database.ConstraintLedgerReserved})

	_, err := repo.CompareAndAdjust(context.Background(), "l-1", decimal.Zero, decimal.NewFromInt(50))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

// ============================================================================
// LOOKUPS
// ============================================================================

func TestLedgerRepository_GetByBatchAndLocation_NotFound(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("WHERE batch_id = $1 AND location_type = $2 AND location_id = $3").
		WithArgs("b-1", "SHOP", "shop-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByBatchAndLocation(context.Background(), "b-1", shop)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "b-1", appErr.Details["batch_id"])
}

func TestLedgerRepository_Create_DuplicateLocation(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectExec("INSERT INTO stock_ledger").
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.ConstraintLedgerLocation})

	b := s.Fixtures.Batch()
	err := repo.Create(context.Background(), s.Fixtures.LedgerEntry(b, shop, 5))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestLedgerRepository_TotalByBatch(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("SELECT COALESCE(SUM(quantity), 0) FROM stock_ledger WHERE batch_id = $1").
		WithArgs("b-1").
		WillReturnRows(testutil.MockRows("coalesce").AddRow("17.25"))

	total, err := repo.TotalByBatch(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, "17.25", total.String())
}

func TestLedgerRepository_ListProductsAtLocation(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("SELECT DISTINCT product_id FROM stock_ledger").
		WillReturnRows(testutil.MockRows("product_id").AddRow("p-1").AddRow("p-2"))

	products, err := repo.ListProductsAtLocation(context.Background(), "s-1", shop)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1", "p-2"}, products)
}

// ============================================================================
// FIFO
// ============================================================================

func TestLedgerRepository_ListForFifo_LocksInsideScope(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	rows := testutil.MockRows("id", "batch_id", "seller_id", "product_id", "location_type", "location_id",
		"quantity", "reserved_quantity", "status", "created_at", "updated_at",
		"batch_number", "expiration_date", "batch_status").
		AddRow("l-1", "b-1", "s-1", "p-1", "SHOP", "shop-1", "4", "0", "ACTIVE", now, now, "LOT-1", now.AddDate(0, 0, 1), "ACTIVE").
		AddRow("l-2", "b-2", "s-1", "p-1", "SHOP", "shop-1", "9", "1", "ACTIVE", now, now, "LOT-2", now.AddDate(0, 0, 5), "ACTIVE")

	s.MockDB.ExpectBegin()
	s.MockDB.ExpectQuery("ORDER BY b.expiration_date, l.id FOR UPDATE OF l").
		WithArgs("s-1", "SHOP", "shop-1", "p-1", now).
		WillReturnRows(rows)
	s.MockDB.ExpectCommit()

	var got []*domain.FifoCandidate
	_, err := s.DB.WithinTx(context.Background(), func(ctx context.Context) error {
		var err error
		got, err = repo.ListForFifo(ctx, "s-1", shop, "p-1", now)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "LOT-1", got[0].BatchNumber)
	assert.Equal(t, domain.BatchActive, got[1].BatchStatus)
	assert.Equal(t, "8", got[1].Available().String())
}

func TestLedgerRepository_ListBelowThreshold_Filters(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewLedgerRepository(s.DB)

	s.MockDB.ExpectQuery("l.quantity - l.reserved_quantity < $2 AND l.location_type = $3 AND l.location_id = $4 AND l.product_id = $5").
		WillReturnRows(testutil.MockRows("id"))

	_, err := repo.ListBelowThreshold(context.Background(), domain.CandidateFilter{
		SellerID:  "s-1",
		Threshold: decimal.NewFromInt(5),
		Location:  &shop,
		ProductID: "p-1",
	})
	require.NoError(t, err)
}

// ============================================================================
// MOVEMENTS
// ============================================================================

func TestMovementRepository_ListByLedger(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewMovementRepository(s.DB)

	s.MockDB.ExpectQuery("SELECT COUNT(*) FROM stock_movements WHERE ledger_id = $1").
		WillReturnRows(testutil.MockRows("count").AddRow(3))
	s.MockDB.ExpectQuery("ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3").
		WithArgs("l-1", 2, 2).
		WillReturnRows(testutil.MockRows("id", "ledger_id", "batch_id", "movement_type", "delta",
			"quantity_before", "quantity_after", "performed_by", "created_at").
			AddRow("m-1", "l-1", "b-1", "RECEIPT", "10", "0", "10", "u-1", now))

	movements, total, err := repo.ListByLedger(context.Background(), "l-1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementReceipt, movements[0].Type)
}
