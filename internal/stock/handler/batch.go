package handler

import (
	"net/http"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/httputil"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// BatchHandler handles batch endpoints
type BatchHandler struct {
	service *service.BatchService
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(svc *service.BatchService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		service: svc,
		logger:  log,
	}
}

func (h *BatchHandler) load(r *http.Request) (*domain.BatchView, error) {
	id := chi.URLParam(r, "id")
	b, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(r.Context(), b.SellerID, "batch", id); err != nil {
		return nil, err
	}
	return b, nil
}

// List lists batches with optional product, status, alert level and expiry filters
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	q := r.URL.Query()

	filter := domain.BatchFilter{
		SellerID:           sellerOf(r),
		ProductID:          q.Get("product_id"),
		Status:             domain.BatchStatus(q.Get("status")),
		AlertLevel:         domain.AlertLevel(q.Get("alert_level")),
		ExpiringWithinDays: httputil.QueryInt(r, "expiring_within_days", 0),
		Page:               page,
		PerPage:            perPage,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httputil.Error(w, errors.Validation(map[string]string{"status": "unknown batch status"}))
		return
	}
	if filter.AlertLevel != "" && !filter.AlertLevel.Valid() {
		httputil.Error(w, errors.Validation(map[string]string{"alert_level": "unknown alert level"}))
		return
	}

	batches, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, batches, page, perPage, total)
}

// Get gets a batch by ID
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// GetByNumber gets a batch by its seller-unique number
func (h *BatchHandler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetByNumber(r.Context(), sellerOf(r), chi.URLParam(r, "number"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// Create registers a batch
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBatchInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	b, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, b)
}

// Update changes the provenance fields of a batch
func (h *BatchHandler) Update(w http.ResponseWriter, r *http.Request) {
	current, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req service.UpdateBatchInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.service.Update(r.Context(), current.ID, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// Block takes a batch out of circulation
func (h *BatchHandler) Block(w http.ResponseWriter, r *http.Request) {
	current, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.service.Block(r.Context(), current.ID, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// Unblock returns a blocked batch to circulation
func (h *BatchHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	current, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.service.Unblock(r.Context(), current.ID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// UpdateStatus performs an explicit lifecycle transition
func (h *BatchHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	current, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req struct {
		Status domain.BatchStatus `json:"status" validate:"required"`
		Reason string             `json:"reason,omitempty" validate:"max=500"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	b, err := h.service.UpdateStatus(r.Context(), current.ID, req.Status, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, b)
}

// ActiveForProduct lists sellable batches of a product, earliest expiry first
func (h *BatchHandler) ActiveForProduct(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ActiveForProduct(r.Context(), sellerOf(r), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// ExpireSweep marks the seller's past-expiry batches EXPIRED
func (h *BatchHandler) ExpireSweep(w http.ResponseWriter, r *http.Request) {
	sellerID := sellerOf(r)
	count, err := h.service.ExpireSweep(r.Context(), &sellerID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]int64{"expired": count})
}

// Statistics returns per-status and per-alert-level batch counts
func (h *BatchHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context(), sellerOf(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}
