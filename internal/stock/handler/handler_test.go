package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/handler"
	"github.com/freshstock/freshstock-backend/internal/stock/memstore"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/httputil"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/freshstock/freshstock-backend/pkg/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *httputil.ErrorBody `json:"error"`
	Meta    *httputil.Meta      `json:"meta"`
}

type api struct {
	t       *testing.T
	router  http.Handler
	seller  string
	shop    string
	product string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := logger.Nop()
	stores := memstore.New().Stores()

	batches := service.NewBatchService(stores, nil, log)
	ledger := service.NewLedgerService(stores, batches, nil, log)
	locations := service.NewLocationService(stores, nil, log)

	r := chi.NewRouter()
	r.Use(httputil.SellerMiddleware)
	r.Use(httputil.ActorMiddleware)
	handler.Mount(r, handler.Services{
		Batches:       batches,
		Ledger:        ledger,
		Locations:     locations,
		Consolidation: service.NewConsolidationService(stores, ledger, locations, nil, decimal.NewFromInt(5), log),
		Audits:        service.NewInventoryAuditService(stores, nil, log),
	}, log)

	return &api{
		t:       t,
		router:  r,
		seller:  uuid.NewString(),
		shop:    uuid.NewString(),
		product: uuid.NewString(),
	}
}

func (a *api) do(method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	return a.doAs(a.seller, method, path, body)
}

func (a *api) doAs(sellerID, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	req := testutil.WithSellerHeader(testutil.NewHTTPRequest(method, path, body), sellerID)
	req = testutil.WithUserHeaders(req, "7d1c1f4e-1111-4c3a-9e55-0b6c3b1e2f10", "clerk@example.com")
	rr := testutil.ExecuteRequest(a.router, req)

	var env envelope
	if rr.Body.Len() > 0 {
		testutil.ParseJSONBody(a.t, rr, &env)
	}
	return rr, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (a *api) shopLocation() map[string]string {
	return map[string]string{"location_type": "SHOP", "location_id": a.shop}
}

// stocked registers a batch expiring in days and puts qty of it in the shop
func (a *api) stocked(number string, days int, qty string) (batchID, ledgerID string) {
	a.t.Helper()
	rr, env := a.do(http.MethodPost, "/api/v1/stock/batches", map[string]interface{}{
		"product_id":       a.product,
		"batch_number":     number,
		"expiration_date":  time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour),
		"initial_quantity": qty,
	})
	testutil.AssertStatus(a.t, rr, http.StatusCreated)
	batch := decode[domain.BatchView](a.t, env)

	rr, env = a.do(http.MethodPost, "/api/v1/stock/ledger", map[string]interface{}{
		"batch_id": batch.ID,
		"location": a.shopLocation(),
		"quantity": qty,
	})
	testutil.AssertStatus(a.t, rr, http.StatusCreated)
	row := decode[domain.LedgerView](a.t, env)
	return batch.ID, row.ID
}

// ============================================================================
// SELLER SCOPING
// ============================================================================

func TestHandler_RequiresSeller(t *testing.T) {
	a := newAPI(t)

	rr := testutil.ExecuteRequest(a.router, testutil.NewHTTPRequest(http.MethodGet, "/api/v1/stock/batches", nil))
	testutil.AssertStatus(t, rr, http.StatusForbidden)
	testutil.AssertBodyContains(t, rr, "FORBIDDEN")
}

func TestHandler_OtherSellersBatchIsHidden(t *testing.T) {
	a := newAPI(t)
	batchID, ledgerID := a.stocked("LOT-1", 5, "10")

	rr, env := a.doAs(uuid.NewString(), http.MethodGet, "/api/v1/stock/batches/"+batchID, nil)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	rr, _ = a.doAs(uuid.NewString(), http.MethodPost, "/api/v1/stock/ledger/"+ledgerID+"/reserve", map[string]string{"quantity": "1"})
	testutil.AssertStatus(t, rr, http.StatusNotFound)

	rr, env = a.do(http.MethodGet, "/api/v1/stock/batches/"+batchID, nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	got := decode[domain.BatchView](t, env)
	assert.Equal(t, "LOT-1", got.BatchNumber)
	assert.Equal(t, domain.AlertWarning, got.AlertLevel)
}

// ============================================================================
// BATCHES
// ============================================================================

func TestHandler_CreateBatch_Validation(t *testing.T) {
	a := newAPI(t)

	rr, env := a.do(http.MethodPost, "/api/v1/stock/batches", map[string]interface{}{
		"product_id":   "not-a-uuid",
		"batch_number": "LOT-1",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "product_id")
}

func TestHandler_CreateBatch_UnknownField(t *testing.T) {
	a := newAPI(t)

	rr, env := a.do(http.MethodPost, "/api/v1/stock/batches", map[string]interface{}{"colour": "red"})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

func TestHandler_BlockAndUnblock(t *testing.T) {
	a := newAPI(t)
	batchID, _ := a.stocked("LOT-1", 20, "10")

	rr, env := a.do(http.MethodPost, "/api/v1/stock/batches/"+batchID+"/block", map[string]string{"reason": "recall"})
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, domain.BatchBlocked, decode[domain.BatchView](t, env).Status)

	rr, env = a.do(http.MethodPost, "/api/v1/stock/batches/"+batchID+"/block", map[string]string{"reason": "again"})
	testutil.AssertStatus(t, rr, http.StatusConflict)
	assert.Equal(t, "INVARIANT_VIOLATION", env.Error.Code)

	rr, env = a.do(http.MethodPost, "/api/v1/stock/batches/"+batchID+"/unblock", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, domain.BatchActive, decode[domain.BatchView](t, env).Status)
}

// ============================================================================
// LEDGER AND FIFO
// ============================================================================

func TestHandler_ConsumeFifo(t *testing.T) {
	a := newAPI(t)
	_, late := a.stocked("LATE", 10, "10")
	_, early := a.stocked("EARLY", 2, "4")

	rr, env := a.do(http.MethodPost, "/api/v1/stock/fifo/consume", map[string]interface{}{
		"location":   a.shopLocation(),
		"product_id": a.product,
		"quantity":   "20",
	})
	testutil.AssertStatus(t, rr, http.StatusOK)

	res := decode[domain.FifoResult](t, env)
	require.Len(t, res.Consumed, 2)
	assert.Equal(t, early, res.Consumed[0].LedgerID)
	assert.Equal(t, late, res.Consumed[1].LedgerID)
	assert.Equal(t, "14", res.TotalConsumed.String())
	assert.Equal(t, "6", res.RemainingToConsume.String())
}

func TestHandler_ReserveBeyondAvailable(t *testing.T) {
	a := newAPI(t)
	_, ledgerID := a.stocked("LOT-1", 5, "3")

	rr, env := a.do(http.MethodPost, "/api/v1/stock/ledger/"+ledgerID+"/reserve", map[string]string{"quantity": "4"})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rr, env = a.do(http.MethodPost, "/api/v1/stock/ledger/"+ledgerID+"/reserve", map[string]string{"quantity": "2"})
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "1", decode[domain.LedgerView](t, env).AvailableQuantity.String())
}

func TestHandler_Movements_Paginated(t *testing.T) {
	a := newAPI(t)
	_, ledgerID := a.stocked("LOT-1", 5, "10")

	rr, _ := a.do(http.MethodPost, "/api/v1/stock/ledger/"+ledgerID+"/adjust", map[string]string{"delta": "-2", "reason": "damaged"})
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr, env := a.do(http.MethodGet, "/api/v1/stock/ledger/"+ledgerID+"/movements?per_page=1", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(2), env.Meta.Total)
	assert.Equal(t, 2, env.Meta.TotalPages)

	movements := decode[[]domain.Movement](t, env)
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementAdjustment, movements[0].Type)
}

func TestHandler_LedgerByLocation_RequiresLocation(t *testing.T) {
	a := newAPI(t)

	rr, env := a.do(http.MethodGet, "/api/v1/stock/ledger?location_type=SHELF&location_id="+a.shop, nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Contains(t, env.Error.Details, "location_type")
}

// ============================================================================
// LOCATIONS
// ============================================================================

func TestHandler_LocationConditions(t *testing.T) {
	a := newAPI(t)

	rr, env := a.do(http.MethodPost, "/api/v1/stock/locations", map[string]interface{}{
		"location_type": "SHOP",
		"location_ref":  a.shop,
		"name":          "Main street",
		"preset":        "DAIRY",
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	loc := decode[domain.StorageLocation](t, env)
	assert.Equal(t, domain.SourceDefault, loc.ConditionsSource)

	rr, env = a.do(http.MethodPut, "/api/v1/stock/locations/"+loc.ID+"/conditions", map[string]string{"temperature_range": "COLD"})
	testutil.AssertStatus(t, rr, http.StatusOK)
	updated := decode[domain.StorageLocation](t, env)
	assert.Equal(t, domain.SourceManual, updated.ConditionsSource)
	assert.Less(t, updated.DegradationCoefficient, loc.DegradationCoefficient)
	assert.Equal(t, loc.Version+1, updated.Version)

	rr, env = a.do(http.MethodGet, "/api/v1/stock/locations/coefficient?location_type=SHOP&location_id="+a.shop, nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, string(env.Data), `"degradation_coefficient"`)
}

// ============================================================================
// CONSOLIDATION
// ============================================================================

func TestHandler_AutoConsolidate(t *testing.T) {
	a := newAPI(t)
	body := map[string]interface{}{"location": a.shopLocation(), "product_id": a.product}

	a.stocked("R-1", 3, "2")
	rr, env := a.do(http.MethodPost, "/api/v1/stock/mixed-lots/auto", body)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Empty(t, env.Data)

	a.stocked("R-2", 6, "3")
	rr, env = a.do(http.MethodPost, "/api/v1/stock/mixed-lots/auto", body)
	testutil.AssertStatus(t, rr, http.StatusCreated)
	lot := decode[domain.MixedLot](t, env)
	assert.Equal(t, "5", lot.TotalQuantity.String())
	assert.Len(t, lot.Components, 2)

	rr, env = a.do(http.MethodGet, "/api/v1/stock/mixed-lots/"+lot.ID+"/composition", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, string(env.Data), `"composition"`)
}

// ============================================================================
// AUDITS
// ============================================================================

func TestHandler_AuditLifecycle(t *testing.T) {
	a := newAPI(t)
	a.stocked("A-1", 4, "7")

	rr, env := a.do(http.MethodPost, "/api/v1/stock/audits", map[string]interface{}{
		"shop_id":    a.shop,
		"audit_type": "FULL",
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	doc := decode[domain.AuditDocument](t, env)
	require.Len(t, doc.Items, 1)

	rr, _ = a.do(http.MethodPost, "/api/v1/stock/audits", map[string]interface{}{
		"shop_id":    a.shop,
		"audit_type": "FULL",
	})
	testutil.AssertStatus(t, rr, http.StatusConflict)

	rr, _ = a.do(http.MethodPost, "/api/v1/stock/audits/"+doc.ID+"/start", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr, _ = a.do(http.MethodPut, "/api/v1/stock/audits/"+doc.ID+"/counts", map[string]interface{}{
		"counts": []map[string]string{{"item_id": doc.Items[0].ID, "actual_quantity": "9"}},
	})
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr, env = a.do(http.MethodPost, "/api/v1/stock/audits/"+doc.ID+"/complete", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	done := decode[domain.AuditDocument](t, env)
	assert.Equal(t, domain.AuditCompleted, done.Status)
	require.NotNil(t, done.Summary)
	assert.Equal(t, 1, done.Summary.SurplusCount)
	assert.Equal(t, "2", done.Summary.SurplusQuantity.String())

	rr, env = a.do(http.MethodPost, "/api/v1/stock/audits/"+doc.ID+"/cancel", map[string]string{"reason": "late"})
	testutil.AssertStatus(t, rr, http.StatusConflict)
	assert.Equal(t, "INVARIANT_VIOLATION", env.Error.Code)
}
