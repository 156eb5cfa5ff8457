package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// auditSetup stocks three products at shop A: 10, 5 and 7 units
func auditSetup(t *testing.T) (*env, []string) {
	t.Helper()
	e := newEnv(t)
	products := []string{e.product, uuid.NewString(), uuid.NewString()}
	for i, p := range products {
		b, err := e.batches.Create(context.Background(), service.CreateBatchInput{
			SellerID:       e.seller,
			ProductID:      p,
			BatchNumber:    "P" + string(rune('1'+i)),
			ExpirationDate: day(10),
		})
		require.NoError(t, err)
		e.stock(t, b.ID, e.shopA, []int64{10, 5, 7}[i])
	}
	return e, products
}

func (e *env) fullAudit(t *testing.T) *domain.AuditDocument {
	t.Helper()
	doc, err := e.audits.Create(context.Background(), service.CreateAuditInput{
		SellerID: e.seller,
		ShopID:   e.shopA.ID,
		Type:     domain.AuditFull,
	})
	require.NoError(t, err)
	return doc
}

func itemFor(t *testing.T, doc *domain.AuditDocument, productID string) domain.AuditItem {
	t.Helper()
	for _, it := range doc.Items {
		if it.ProductID == productID {
			return it
		}
	}
	t.Fatalf("no item for product %s", productID)
	return domain.AuditItem{}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestAudit_FullLifecycle(t *testing.T) {
	e, products := auditSetup(t)
	ctx := context.Background()
	extra := uuid.NewString()

	doc := e.fullAudit(t)
	assert.Equal(t, domain.AuditDraft, doc.Status)
	assert.True(t, strings.HasPrefix(doc.DocumentNumber, "INV-20260310-"))
	assert.Equal(t, 3, doc.TotalItems)
	assert.True(t, dec(10).Equal(itemFor(t, doc, products[0]).ExpectedQuantity))

	doc, err := e.audits.AddItems(ctx, doc.ID, []string{extra, products[0]})
	require.NoError(t, err)
	assert.Equal(t, 4, doc.TotalItems, "known products are not duplicated")
	assert.True(t, itemFor(t, doc, extra).ExpectedQuantity.IsZero())

	doc, err = e.audits.Start(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuditInProgress, doc.Status)
	require.NotNil(t, doc.StartedAt)

	_, err = e.audits.AddItems(ctx, doc.ID, []string{uuid.NewString()})
	assert.True(t, errors.IsKind(err, errors.KindInvariant))

	doc, err = e.audits.BulkRecordCount(ctx, doc.ID, []domain.CountInput{
		{ItemID: itemFor(t, doc, products[0]).ID, Actual: dec(12)},
		{ItemID: itemFor(t, doc, products[1]).ID, Actual: dec(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, doc.CountedItems)

	doc, err = e.audits.RecordCount(ctx, doc.ID, itemFor(t, doc, products[2]).ID, dec(7))
	require.NoError(t, err)
	assert.Equal(t, 3, doc.CountedItems)

	doc, err = e.audits.RecordCount(ctx, doc.ID, itemFor(t, doc, products[2]).ID, dec(7))
	require.NoError(t, err)
	assert.Equal(t, 3, doc.CountedItems, "a recount is not a new count")

	doc, err = e.audits.Complete(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuditCompleted, doc.Status)
	require.NotNil(t, doc.Summary)
	assert.Equal(t, 1, doc.Summary.SurplusCount)
	assert.Equal(t, 1, doc.Summary.ShortageCount)
	assert.Equal(t, 1, doc.Summary.MatchedCount)
	assert.True(t, dec(2).Equal(doc.Summary.SurplusQuantity))
	assert.True(t, dec(1).Equal(doc.Summary.ShortageQuantity))

	require.Len(t, e.events.audits, 1)
	assert.Equal(t, doc.ID, e.events.audits[0].ID)

	stored, err := e.audits.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, 1, stored.Summary.MatchedCount)

	_, err = e.audits.Cancel(ctx, doc.ID, "too late")
	assert.True(t, errors.IsKind(err, errors.KindInvariant))
}

func TestAudit_StartRequiresItems(t *testing.T) {
	e := newEnv(t)
	doc := e.fullAudit(t)
	assert.Zero(t, doc.TotalItems)

	_, err := e.audits.Start(context.Background(), doc.ID)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestAudit_OneActivePerShop(t *testing.T) {
	e, _ := auditSetup(t)
	ctx := context.Background()
	first := e.fullAudit(t)

	_, err := e.audits.Create(ctx, service.CreateAuditInput{SellerID: e.seller, ShopID: e.shopA.ID, Type: domain.AuditFull})
	assert.True(t, errors.IsKind(err, errors.KindInvariant))

	active, err := e.audits.ActiveForShop(ctx, e.seller, e.shopA.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	cancelled, err := e.audits.Cancel(ctx, first.ID, "wrong shop")
	require.NoError(t, err)
	assert.Equal(t, domain.AuditCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "wrong shop", *cancelled.CancelReason)

	_, err = e.audits.Create(ctx, service.CreateAuditInput{SellerID: e.seller, ShopID: e.shopA.ID, Type: domain.AuditFull})
	assert.NoError(t, err)
}

func TestAudit_CountRules(t *testing.T) {
	e, products := auditSetup(t)
	ctx := context.Background()
	doc := e.fullAudit(t)
	item := itemFor(t, doc, products[0])

	_, err := e.audits.RecordCount(ctx, doc.ID, item.ID, dec(1))
	assert.True(t, errors.IsKind(err, errors.KindInvariant), "draft audits take no counts")

	_, err = e.audits.Start(ctx, doc.ID)
	require.NoError(t, err)

	_, err = e.audits.RecordCount(ctx, doc.ID, item.ID, dec(-1))
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = e.audits.RecordCount(ctx, doc.ID, uuid.NewString(), dec(1))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	_, err = e.audits.BulkRecordCount(ctx, doc.ID, []domain.CountInput{
		{ItemID: item.ID, Actual: dec(3)},
		{ItemID: uuid.NewString(), Actual: dec(1)},
	})
	require.Error(t, err)

	stored, err := e.audits.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.CountedItems, "a failed batch records nothing")
	assert.False(t, itemFor(t, stored, products[0]).IsCounted)
}

func TestAudit_CreateValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		in   service.CreateAuditInput
	}{
		{"missing shop", service.CreateAuditInput{Type: domain.AuditFull}},
		{"unknown type", service.CreateAuditInput{ShopID: e.shopA.ID, Type: "SPOT"}},
		{"partial without products", service.CreateAuditInput{ShopID: e.shopA.ID, Type: domain.AuditPartial}},
		{"control without products", service.CreateAuditInput{ShopID: e.shopA.ID, Type: domain.AuditControl}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.SellerID = e.seller
			_, err := e.audits.Create(context.Background(), tt.in)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
}

// ============================================================================
// QUERIES
// ============================================================================

func TestAudit_Queries(t *testing.T) {
	e, products := auditSetup(t)
	ctx := context.Background()

	partial, err := e.audits.Create(ctx, service.CreateAuditInput{
		SellerID:   e.seller,
		ShopID:     e.shopA.ID,
		Type:       domain.AuditPartial,
		ProductIDs: []string{products[1], products[1]},
	})
	require.NoError(t, err)
	require.Len(t, partial.Items, 1)
	assert.True(t, dec(5).Equal(partial.Items[0].ExpectedQuantity))

	found, err := e.audits.GetByDocumentNumber(ctx, e.seller, " "+strings.ToLower(partial.DocumentNumber)+" ")
	require.NoError(t, err)
	assert.Equal(t, partial.ID, found.ID)

	_, err = e.audits.Create(ctx, service.CreateAuditInput{
		SellerID: e.seller, ShopID: e.shopB.ID, Type: domain.AuditControl, ProductIDs: []string{products[0]},
	})
	require.NoError(t, err)

	list, total, err := e.audits.List(ctx, domain.AuditFilter{SellerID: e.seller, Type: domain.AuditPartial})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, partial.ID, list[0].ID)

	_, total, err = e.audits.List(ctx, domain.AuditFilter{SellerID: e.seller, Status: domain.AuditDraft})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, _, err = e.audits.List(ctx, domain.AuditFilter{SellerID: e.seller, Status: "PAUSED"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}
