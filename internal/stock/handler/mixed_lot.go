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

// MixedLotHandler handles consolidation endpoints
type MixedLotHandler struct {
	service *service.ConsolidationService
	logger  *logger.Logger
}

// NewMixedLotHandler creates a new mixed lot handler
func NewMixedLotHandler(svc *service.ConsolidationService, log *logger.Logger) *MixedLotHandler {
	return &MixedLotHandler{
		service: svc,
		logger:  log,
	}
}

func (h *MixedLotHandler) load(r *http.Request) (*domain.MixedLot, error) {
	id := chi.URLParam(r, "id")
	lot, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(r.Context(), lot.SellerID, "mixed lot", id); err != nil {
		return nil, err
	}
	return lot, nil
}

// Get gets a mixed lot with its components
func (h *MixedLotHandler) Get(w http.ResponseWriter, r *http.Request) {
	lot, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot)
}

// Composition returns each component's share of a lot
func (h *MixedLotHandler) Composition(w http.ResponseWriter, r *http.Request) {
	lot, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	view, err := h.service.Composition(r.Context(), lot.ID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, view)
}

// Deactivate retires a used-up lot
func (h *MixedLotHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	lot, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	updated, err := h.service.Deactivate(r.Context(), lot.ID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, updated)
}

// ManualConsolidate merges an explicit list of batches
func (h *MixedLotHandler) ManualConsolidate(w http.ResponseWriter, r *http.Request) {
	var req service.ManualConsolidationInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	lot, err := h.service.ManualConsolidate(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// ConsolidateAtAudit records remnants found mixed during a physical count
func (h *MixedLotHandler) ConsolidateAtAudit(w http.ResponseWriter, r *http.Request) {
	var req service.AuditConsolidationInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	lot, err := h.service.ConsolidateAtAudit(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, lot)
}

// AutoConsolidate merges the remnants of one product at one location.
// Fewer than two remnants answers 200 with a null lot.
func (h *MixedLotHandler) AutoConsolidate(w http.ResponseWriter, r *http.Request) {
	var req service.AutoConsolidateInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	lot, err := h.service.AutoConsolidate(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if lot == nil {
		httputil.JSON(w, http.StatusOK, nil)
		return
	}

	httputil.Created(w, lot)
}

type bulkConsolidateRequest struct {
	Location  *domain.Location `json:"location,omitempty"`
	Threshold *decimal.Decimal `json:"threshold,omitempty"`
}

// AutoConsolidateLocation merges remnants of every product at a location
func (h *MixedLotHandler) AutoConsolidateLocation(w http.ResponseWriter, r *http.Request) {
	var req bulkConsolidateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.Location == nil {
		req.Location = &domain.Location{}
	}

	lots, err := h.service.AutoConsolidateLocation(r.Context(), sellerOf(r), *req.Location, req.Threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// AutoConsolidateSeller merges remnants everywhere the seller holds stock
func (h *MixedLotHandler) AutoConsolidateSeller(w http.ResponseWriter, r *http.Request) {
	var req bulkConsolidateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	lots, err := h.service.AutoConsolidateSeller(r.Context(), sellerOf(r), req.Threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// FindCandidates lists groups of remnants that could be consolidated
func (h *MixedLotHandler) FindCandidates(w http.ResponseWriter, r *http.Request) {
	loc, err := locationQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	threshold, err := decimalQuery(r, "threshold")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	groups, err := h.service.FindCandidates(r.Context(), sellerOf(r), loc, threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, groups)
}

// ListByLocation lists the lots at the location in the query
func (h *MixedLotHandler) ListByLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := requireLocation(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	activeOnly := r.URL.Query().Get("active_only") != "false"

	lots, err := h.service.ListByLocation(r.Context(), sellerOf(r), loc, activeOnly)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// ByComponent lists the seller's lots that absorbed a batch
func (h *MixedLotHandler) ByComponent(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.ByComponent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	sellerID := sellerOf(r)
	result := make([]*domain.MixedLot, 0, len(lots))
	for _, lot := range lots {
		if lot.SellerID == sellerID {
			result = append(result, lot)
		}
	}

	httputil.JSON(w, http.StatusOK, result)
}

// History lists a page of lots filtered by product, location, reason and period
func (h *MixedLotHandler) History(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	q := r.URL.Query()

	loc, err := locationQuery(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	from, err := httputil.QueryTime(r, "from")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	to, err := httputil.QueryTime(r, "to")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lots, total, err := h.service.History(r.Context(), domain.MixedLotFilter{
		SellerID:   sellerOf(r),
		Location:   loc,
		ProductID:  q.Get("product_id"),
		Reason:     domain.MixedLotReason(q.Get("reason")),
		ActiveOnly: q.Get("active_only") == "true",
		From:       from,
		To:         to,
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, lots, page, perPage, total)
}

// Statistics aggregates the seller's consolidation activity
func (h *MixedLotHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context(), sellerOf(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}
