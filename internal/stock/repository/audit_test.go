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

func auditRows() *sqlmock.Rows {
	return testutil.MockRows("id", "document_number", "seller_id", "shop_id", "status", "audit_type",
		"total_items", "counted_items", "surplus_count", "shortage_count", "matched_count",
		"surplus_quantity", "shortage_quantity", "created_at", "updated_at")
}

func itemRows() *sqlmock.Rows {
	return testutil.MockRows("id", "audit_id", "product_id", "expected_quantity", "actual_quantity",
		"difference", "is_counted", "counted_at")
}

// ============================================================================
// CREATE
// ============================================================================

func TestAuditRepository_Create_OneActivePerShop(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	s.MockDB.ExpectExec("INSERT INTO inventory_audits").
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.ConstraintAuditOneActive})

	err := repo.Create(context.Background(), s.Fixtures.AuditDocument("shop-1"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvariant))
}

func TestAuditRepository_AddItems(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	doc := s.Fixtures.AuditDocument("shop-1")
	items := []domain.AuditItem{
		s.Fixtures.AuditItem("", "p-1", 10),
		s.Fixtures.AuditItem("", "p-2", 4),
	}

	s.MockDB.ExpectExec("INSERT INTO inventory_audit_items").WillReturnResult(sqlmock.NewResult(0, 2))
	s.MockDB.ExpectExec("UPDATE inventory_audits SET total_items = $2").
		WithArgs(doc.ID, 2, testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddItems(context.Background(), doc.ID, items, 2))
	assert.Equal(t, doc.ID, items[0].AuditID)
}

func TestAuditRepository_AddItems_DuplicateProduct(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	s.MockDB.ExpectExec("INSERT INTO inventory_audit_items").
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.ConstraintAuditItem})

	err := repo.AddItems(context.Background(), "a-1", []domain.AuditItem{s.Fixtures.AuditItem("a-1", "p-1", 1)}, 1)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.KindValidation, appErr.Kind)
	assert.Contains(t, appErr.Details, "product_id")
}

// ============================================================================
// READS
// ============================================================================

func TestAuditRepository_LockByID_LoadsItemsAndSummary(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	s.MockDB.ExpectBegin()
	s.MockDB.ExpectQuery("FROM inventory_audits WHERE id = $1 FOR UPDATE").
		WithArgs("a-1").
		WillReturnRows(auditRows().AddRow("a-1", "INV-20260310-ABCDEF12", "s-1", "shop-1", "COMPLETED", "FULL",
			2, 2, 1, 1, 0, "2", "1.5", now, now))
	s.MockDB.ExpectQuery("FROM inventory_audit_items WHERE audit_id = $1").
		WillReturnRows(itemRows().
			AddRow("i-1", "a-1", "p-1", "10", "12", "2", true, now).
			AddRow("i-2", "a-1", "p-2", "4", "2.5", "-1.5", true, now))
	s.MockDB.ExpectCommit()

	var doc *domain.AuditDocument
	_, err := s.DB.WithinTx(context.Background(), func(ctx context.Context) error {
		var err error
		doc, err = repo.LockByID(ctx, "a-1")
		return err
	})
	require.NoError(t, err)
	require.Len(t, doc.Items, 2)
	assert.Equal(t, "-1.5", doc.Items[1].Difference.String())
	require.NotNil(t, doc.Summary)
	assert.Equal(t, 1, doc.Summary.SurplusCount)
	assert.Equal(t, "1.5", doc.Summary.ShortageQuantity.String())
}

func TestAuditRepository_GetActiveForShop_None(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	s.MockDB.ExpectQuery("status IN ('DRAFT', 'IN_PROGRESS')").
		WithArgs("s-1", "shop-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetActiveForShop(context.Background(), "s-1", "shop-1")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestAuditRepository_List(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	s.MockDB.ExpectQuery("SELECT COUNT(*) FROM inventory_audits WHERE seller_id = $1 AND status = $2 AND audit_type = $3").
		WithArgs("s-1", "DRAFT", "PARTIAL").
		WillReturnRows(testutil.MockRows("count").AddRow(1))
	s.MockDB.ExpectQuery("ORDER BY created_at DESC, id LIMIT $4 OFFSET $5").
		WillReturnRows(auditRows().AddRow("a-1", "INV-20260310-ABCDEF12", "s-1", "shop-1", "DRAFT", "PARTIAL",
			3, 0, nil, nil, nil, nil, nil, now, now))

	docs, total, err := repo.List(context.Background(), domain.AuditFilter{
		SellerID: "s-1",
		Status:   domain.AuditDraft,
		Type:     domain.AuditPartial,
		Page:     1,
		PerPage:  20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, docs, 1)
	assert.Nil(t, docs[0].Summary)
	assert.Empty(t, docs[0].Items)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestAuditRepository_Transition_Guarded(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	doc := s.Fixtures.AuditDocument("shop-1")
	doc.Status = domain.AuditCompleted
	doc.SetSummary(domain.AuditSummary{
		SurplusCount:     1,
		SurplusQuantity:  decimal.NewFromInt(2),
		ShortageQuantity: decimal.Zero,
	})

	s.MockDB.ExpectExec("WHERE id = $1 AND status = ANY($13)").WillReturnResult(sqlmock.NewResult(0, 0))
	s.MockDB.ExpectQuery("SELECT status FROM inventory_audits WHERE id = $1").
		WillReturnRows(testutil.MockRows("status").AddRow("CANCELLED"))

	err := repo.Transition(context.Background(), doc, []domain.AuditStatus{domain.AuditInProgress})
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.KindInvariant, appErr.Kind)
	assert.Equal(t, "CANCELLED", appErr.Details["status"])
}

func TestAuditRepository_UpdateCounts_UnknownItem(t *testing.T) {
	s := testutil.NewUnitTestSuite(t)
	defer s.Cleanup()
	repo := repository.NewAuditRepository(s.DB)

	item := s.Fixtures.AuditItem("a-1", "p-1", 3)
	item.RecordCount(decimal.NewFromInt(3), now)

	s.MockDB.ExpectExec("UPDATE inventory_audit_items SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateCounts(context.Background(), "a-1", []domain.AuditItem{item}, 1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}
