package handler

import (
	"net/http"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/httputil"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// LocationHandler handles storage location endpoints
type LocationHandler struct {
	service *service.LocationService
	logger  *logger.Logger
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(svc *service.LocationService, log *logger.Logger) *LocationHandler {
	return &LocationHandler{
		service: svc,
		logger:  log,
	}
}

func (h *LocationHandler) load(r *http.Request) (*domain.StorageLocation, error) {
	id := chi.URLParam(r, "id")
	loc, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(r.Context(), loc.SellerID, "storage location", id); err != nil {
		return nil, err
	}
	return loc, nil
}

// List lists the seller's storage locations
func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)

	locations, total, err := h.service.ListBySeller(r.Context(), sellerOf(r), page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, locations, page, perPage, total)
}

// Create registers a storage location
func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLocationInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	loc, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, loc)
}

// Get gets a storage location by ID
func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, loc)
}

// GetByShop gets the storage location of a shop
func (h *LocationHandler) GetByShop(w http.ResponseWriter, r *http.Request) {
	loc, err := h.service.GetByShop(r.Context(), sellerOf(r), chi.URLParam(r, "shopID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, loc)
}

// GetByWarehouse gets the storage location of a warehouse
func (h *LocationHandler) GetByWarehouse(w http.ResponseWriter, r *http.Request) {
	loc, err := h.service.GetByWarehouse(r.Context(), sellerOf(r), chi.URLParam(r, "warehouseID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, loc)
}

// Update changes name or preset
func (h *LocationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateLocationInput
	h.mutate(w, r, &req, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.Update(r.Context(), loc.ID, req)
	})
}

// UpdateConditions records a manual reading of ambient conditions
func (h *LocationHandler) UpdateConditions(w http.ResponseWriter, r *http.Request) {
	var req service.ConditionsInput
	h.mutate(w, r, &req, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.UpdateConditions(r.Context(), loc.ID, req)
	})
}

// UpdateStatus changes the operational status
func (h *LocationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.LocationStatus `json:"status" validate:"required"`
	}
	h.mutate(w, r, &req, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.UpdateStatus(r.Context(), loc.ID, req.Status)
	})
}

// Recalculate recomputes the coefficients from the stored conditions
func (h *LocationHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.RecalculateDegradation(r.Context(), loc.ID)
	})
}

// AddZone appends a zone
func (h *LocationHandler) AddZone(w http.ResponseWriter, r *http.Request) {
	var req service.ZoneInput
	h.mutate(w, r, &req, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.AddZone(r.Context(), loc.ID, req)
	})
}

// UpdateZone changes a zone in place
func (h *LocationHandler) UpdateZone(w http.ResponseWriter, r *http.Request) {
	var req service.ZonePatch
	h.mutate(w, r, &req, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.UpdateZone(r.Context(), loc.ID, chi.URLParam(r, "zoneID"), req)
	})
}

// RemoveZone deletes a zone
func (h *LocationHandler) RemoveZone(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(loc *domain.StorageLocation) (*domain.StorageLocation, error) {
		return h.service.RemoveZone(r.Context(), loc.ID, chi.URLParam(r, "zoneID"))
	})
}

// mutate loads and checks the location, decodes req when non-nil and applies op
func (h *LocationHandler) mutate(w http.ResponseWriter, r *http.Request, req interface{}, op func(*domain.StorageLocation) (*domain.StorageLocation, error)) {
	loc, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if req != nil {
		if err := httputil.DecodeJSON(r, req); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	updated, err := op(loc)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, updated)
}

// Presets lists the degradation presets
func (h *LocationHandler) Presets(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.service.Presets())
}

// Coefficient returns the degradation coefficient at the location in the query
func (h *LocationHandler) Coefficient(w http.ResponseWriter, r *http.Request) {
	loc, err := requireLocation(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	coef, err := h.service.CoefficientFor(r.Context(), sellerOf(r), loc)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"location":                loc,
		"degradation_coefficient": coef,
	})
}
