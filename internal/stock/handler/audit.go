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

// AuditHandler handles inventory audit endpoints
type AuditHandler struct {
	service *service.InventoryAuditService
	logger  *logger.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(svc *service.InventoryAuditService, log *logger.Logger) *AuditHandler {
	return &AuditHandler{
		service: svc,
		logger:  log,
	}
}

func (h *AuditHandler) load(r *http.Request) (*domain.AuditDocument, error) {
	id := chi.URLParam(r, "id")
	doc, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := owned(r.Context(), doc.SellerID, "inventory audit", id); err != nil {
		return nil, err
	}
	return doc, nil
}

// List lists audits filtered by shop, status, type and period
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r)
	q := r.URL.Query()

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

	docs, total, err := h.service.List(r.Context(), domain.AuditFilter{
		SellerID: sellerOf(r),
		ShopID:   q.Get("shop_id"),
		Status:   domain.AuditStatus(q.Get("status")),
		Type:     domain.AuditType(q.Get("audit_type")),
		From:     from,
		To:       to,
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Paginated(w, docs, page, perPage, total)
}

// Create opens a DRAFT audit for a shop
func (h *AuditHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAuditInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.SellerID = sellerOf(r)
	doc, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, doc)
}

// Get gets an audit with its items
func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.load(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, doc)
}

// GetByDocumentNumber gets an audit by its INV- number
func (h *AuditHandler) GetByDocumentNumber(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetByDocumentNumber(r.Context(), sellerOf(r), chi.URLParam(r, "number"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, doc)
}

// ActiveForShop gets the shop's open audit
func (h *AuditHandler) ActiveForShop(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.ActiveForShop(r.Context(), sellerOf(r), chi.URLParam(r, "shopID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, doc)
}

// AddItems appends products to a draft
func (h *AuditHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductIDs []string `json:"product_ids" validate:"required,dive,uuid"`
	}
	h.apply(w, r, &req, func(doc *domain.AuditDocument) (*domain.AuditDocument, error) {
		return h.service.AddItems(r.Context(), doc.ID, req.ProductIDs)
	})
}

// Start moves a draft to IN_PROGRESS
func (h *AuditHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, nil, func(doc *domain.AuditDocument) (*domain.AuditDocument, error) {
		return h.service.Start(r.Context(), doc.ID)
	})
}

// RecordCount records the counted quantity of one item
func (h *AuditHandler) RecordCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actual decimal.Decimal `json:"actual_quantity"`
	}
	h.apply(w, r, &req, func(doc *domain.AuditDocument) (*domain.AuditDocument, error) {
		return h.service.RecordCount(r.Context(), doc.ID, chi.URLParam(r, "itemID"), req.Actual)
	})
}

// BulkRecordCount records several counts at once
func (h *AuditHandler) BulkRecordCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Counts []domain.CountInput `json:"counts" validate:"required,dive"`
	}
	h.apply(w, r, &req, func(doc *domain.AuditDocument) (*domain.AuditDocument, error) {
		return h.service.BulkRecordCount(r.Context(), doc.ID, req.Counts)
	})
}

// Complete closes an audit and returns its variance summary
func (h *AuditHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, nil, func(doc *domain.AuditDocument) (*domain.AuditDocument, error) {
		return h.service.Complete(r.Context(), doc.ID)
	})
}

// Cancel abandons an open audit
func (h *AuditHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason,omitempty" validate:"max=500"`
	}
	h.apply(w, r, &req, func(doc *domain.AuditDocument) (*domain.AuditDocument, error) {
		return h.service.Cancel(r.Context(), doc.ID, req.Reason)
	})
}

func (h *AuditHandler) apply(w http.ResponseWriter, r *http.Request, req interface{}, op func(*domain.AuditDocument) (*domain.AuditDocument, error)) {
	doc, err := h.load(r)
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

	updated, err := op(doc)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, updated)
}
