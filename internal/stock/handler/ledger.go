package handler

import (
	"net/http"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/httputil"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// LedgerHandler handles stock ledger, FIFO and transfer endpoints
type LedgerHandler struct {
	service *service.LedgerService
	batches *service.BatchService
	logger  *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(svc *service.LedgerService, batches *service.BatchService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service: svc,
		batches: batches,
		logger:  log,
	}
}

func (h *LedgerHandler) load(r *http.Request) (*domain.LedgerView, error) {
	id := chi.URLParam(r, "id")
	row, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(r.Context(), row.SellerID, "ledger entry", id); err != nil {
		return nil, err
	}
	return row, nil
}

func (h *LedgerHandler) ownBatch(r *http.Request, batchID string) error {
	b, err := h.batches.GetByID(r.Context(), batchID)
	if err != nil {
		return err
	}
	return owned(r.Context(), b.SellerID, "batch", batchID)
}

// Create opens a ledger row for a batch at a location
func (h *LedgerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLedgerInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.ownBatch(r, req.BatchID); err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, row)
}

// Get gets a ledger row by ID
func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	row, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, row)
}

// ByBatch lists the rows of a batch over all locations
func (h *LedgerHandler) ByBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	if err := h.ownBatch(r, batchID); err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.service.ByBatch(r.Context(), batchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rows)
}

// TotalByBatch sums a batch's quantity over all locations
func (h *LedgerHandler) TotalByBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")
	if err := h.ownBatch(r, batchID); err != nil {
		httputil.Error(w, err)
		return
	}

	total, err := h.service.TotalByBatch(r.Context(), batchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]decimal.Decimal{"total": total})
}

// ByLocation lists a page of rows at the location given in the query
func (h *LedgerHandler) ByLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := requireLocation(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	page, perPage := httputil.Pagination(r)

	rows, total, err := h.service.ByLocation(r.Context(), sellerOf(r), loc, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, rows, page, perPage, total)
}

// ByShopProduct lists the rows of one product in a shop
func (h *LedgerHandler) ByShopProduct(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ByShopProduct(r.Context(), sellerOf(r), chi.URLParam(r, "shopID"), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rows)
}

// ByWarehouseProduct lists the rows of one product in a warehouse
func (h *LedgerHandler) ByWarehouseProduct(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ByWarehouseProduct(r.Context(), sellerOf(r), chi.URLParam(r, "warehouseID"), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rows)
}

// ExpiringSoon lists rows whose batch expires within_days from now (default 7)
func (h *LedgerHandler) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	days := httputil.QueryInt(r, "within_days", 7)

	rows, total, err := h.service.ExpiringSoon(r.Context(), sellerOf(r), days, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, rows, page, perPage, total)
}

// Movements lists the movement log of a row, newest first
func (h *LedgerHandler) Movements(w http.ResponseWriter, r *http.Request) {
	row, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	page, perPage := httputil.Pagination(r)

	movements, total, err := h.service.Movements(r.Context(), row.ID, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, movements, page, perPage, total)
}

// Adjust adds a signed delta to a row
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	row, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req struct {
		Delta  decimal.Decimal `json:"delta"`
		Reason string          `json:"reason,omitempty" validate:"max=500"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	updated, err := h.service.Adjust(r.Context(), row.ID, req.Delta, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, updated)
}

// WriteOff removes spoiled or lost stock
func (h *LedgerHandler) WriteOff(w http.ResponseWriter, r *http.Request) {
	h.quantityOp(w, r, func(row *domain.LedgerView, req quantityRequest) (*domain.LedgerView, error) {
		return h.service.WriteOff(r.Context(), row.ID, req.Quantity, req.Reason)
	})
}

// Reserve holds part of the available stock
func (h *LedgerHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.quantityOp(w, r, func(row *domain.LedgerView, req quantityRequest) (*domain.LedgerView, error) {
		return h.service.Reserve(r.Context(), row.ID, req.Quantity)
	})
}

// Release gives back part of a reservation
func (h *LedgerHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.quantityOp(w, r, func(row *domain.LedgerView, req quantityRequest) (*domain.LedgerView, error) {
		return h.service.Release(r.Context(), row.ID, req.Quantity)
	})
}

// Confirm turns part of a reservation into a sale
func (h *LedgerHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.quantityOp(w, r, func(row *domain.LedgerView, req quantityRequest) (*domain.LedgerView, error) {
		return h.service.Confirm(r.Context(), row.ID, req.Quantity, req.Reference)
	})
}

func (h *LedgerHandler) quantityOp(w http.ResponseWriter, r *http.Request, op func(*domain.LedgerView, quantityRequest) (*domain.LedgerView, error)) {
	row, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req quantityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	updated, err := op(row, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, updated)
}

// Transfer moves stock of one batch between two locations
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req service.TransferInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.ownBatch(r, req.BatchID); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ForFifo lists the rows FIFO would drain, in drain order
func (h *LedgerHandler) ForFifo(w http.ResponseWriter, r *http.Request) {
	loc, err := requireLocation(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.service.ForFifo(r.Context(), sellerOf(r), loc, r.URL.Query().Get("product_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rows)
}

// ConsumeFifo drains stock earliest-expiry first. A shortfall is reported in
// remaining_to_consume with status 200.
func (h *LedgerHandler) ConsumeFifo(w http.ResponseWriter, r *http.Request) {
	var req service.ConsumeFifoInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	result, err := h.service.ConsumeFifo(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
