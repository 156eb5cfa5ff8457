// Package handler exposes the stock services over HTTP under /api/v1/stock.
//
// Every route expects the seller in X-Seller-ID (httputil.SellerMiddleware).
// Resources owned by another seller answer 404.
package handler

import (
	"context"
	"net/http"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/freshstock/freshstock-backend/pkg/seller"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Services bundles the services the handlers call
type Services struct {
	Batches       *service.BatchService
	Ledger        *service.LedgerService
	Locations     *service.LocationService
	Consolidation *service.ConsolidationService
	Audits        *service.InventoryAuditService
}

// Mount registers every stock route on r
func Mount(r chi.Router, svc Services, log *logger.Logger) {
	batches := NewBatchHandler(svc.Batches, log)
	ledger := NewLedgerHandler(svc.Ledger, svc.Batches, log)
	locations := NewLocationHandler(svc.Locations, log)
	lots := NewMixedLotHandler(svc.Consolidation, log)
	audits := NewAuditHandler(svc.Audits, log)

	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", batches.List)
			r.Post("/", batches.Create)
			r.Get("/statistics", batches.Statistics)
			r.Get("/by-number/{number}", batches.GetByNumber)
			r.Get("/products/{productID}/active", batches.ActiveForProduct)
			r.Post("/expire", batches.ExpireSweep)
			r.Get("/{id}", batches.Get)
			r.Put("/{id}", batches.Update)
			r.Post("/{id}/block", batches.Block)
			r.Post("/{id}/unblock", batches.Unblock)
			r.Put("/{id}/status", batches.UpdateStatus)
			r.Get("/{id}/ledger", ledger.ByBatch)
			r.Get("/{id}/total", ledger.TotalByBatch)
			r.Get("/{id}/mixed-lots", lots.ByComponent)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", ledger.ByLocation)
			r.Post("/", ledger.Create)
			r.Get("/expiring", ledger.ExpiringSoon)
			r.Get("/shops/{shopID}/products/{productID}", ledger.ByShopProduct)
			r.Get("/warehouses/{warehouseID}/products/{productID}", ledger.ByWarehouseProduct)
			r.Get("/{id}", ledger.Get)
			r.Get("/{id}/movements", ledger.Movements)
			r.Post("/{id}/adjust", ledger.Adjust)
			r.Post("/{id}/write-off", ledger.WriteOff)
			r.Post("/{id}/reserve", ledger.Reserve)
			r.Post("/{id}/release", ledger.Release)
			r.Post("/{id}/confirm", ledger.Confirm)
		})

		r.Get("/fifo/candidates", ledger.ForFifo)
		r.Post("/fifo/consume", ledger.ConsumeFifo)
		r.Post("/transfers", ledger.Transfer)

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", locations.List)
			r.Post("/", locations.Create)
			r.Get("/presets", locations.Presets)
			r.Get("/coefficient", locations.Coefficient)
			r.Get("/shops/{shopID}", locations.GetByShop)
			r.Get("/warehouses/{warehouseID}", locations.GetByWarehouse)
			r.Get("/{id}", locations.Get)
			r.Put("/{id}", locations.Update)
			r.Put("/{id}/conditions", locations.UpdateConditions)
			r.Put("/{id}/status", locations.UpdateStatus)
			r.Post("/{id}/recalculate", locations.Recalculate)
			r.Post("/{id}/zones", locations.AddZone)
			r.Put("/{id}/zones/{zoneID}", locations.UpdateZone)
			r.Delete("/{id}/zones/{zoneID}", locations.RemoveZone)
		})

		r.Route("/mixed-lots", func(r chi.Router) {
			r.Get("/", lots.History)
			r.Post("/", lots.ManualConsolidate)
			r.Post("/auto", lots.AutoConsolidate)
			r.Post("/auto/location", lots.AutoConsolidateLocation)
			r.Post("/auto/seller", lots.AutoConsolidateSeller)
			r.Post("/audit", lots.ConsolidateAtAudit)
			r.Get("/candidates", lots.FindCandidates)
			r.Get("/statistics", lots.Statistics)
			r.Get("/at-location", lots.ListByLocation)
			r.Get("/{id}", lots.Get)
			r.Get("/{id}/composition", lots.Composition)
			r.Post("/{id}/deactivate", lots.Deactivate)
		})

		r.Route("/audits", func(r chi.Router) {
			r.Get("/", audits.List)
			r.Post("/", audits.Create)
			r.Get("/active/{shopID}", audits.ActiveForShop)
			r.Get("/by-number/{number}", audits.GetByDocumentNumber)
			r.Get("/{id}", audits.Get)
			r.Post("/{id}/items", audits.AddItems)
			r.Post("/{id}/start", audits.Start)
			r.Put("/{id}/items/{itemID}/count", audits.RecordCount)
			r.Put("/{id}/counts", audits.BulkRecordCount)
			r.Post("/{id}/complete", audits.Complete)
			r.Post("/{id}/cancel", audits.Cancel)
		})
	})
}

// sellerOf returns the seller of the request. The middleware guarantees one.
func sellerOf(r *http.Request) string {
	return seller.MustSellerID(r.Context())
}

// owned hides resources of other sellers behind NotFound
func owned(ctx context.Context, ownerID, resource, id string) error {
	sellerID, err := seller.SellerID(ctx)
	if err != nil || sellerID != ownerID {
		return errors.NotFound(resource, id)
	}
	return nil
}

// locationQuery reads location_type and location_id. Both absent yields nil.
func locationQuery(r *http.Request) (*domain.Location, error) {
	q := r.URL.Query()
	typ, id := q.Get("location_type"), q.Get("location_id")
	if typ == "" && id == "" {
		return nil, nil
	}
	loc := domain.Location{Type: domain.LocationType(typ), ID: id}
	if !loc.Type.Valid() {
		return nil, errors.Validation(map[string]string{"location_type": "must be SHOP or WAREHOUSE"})
	}
	if id == "" {
		return nil, errors.Validation(map[string]string{"location_id": "this field is required"})
	}
	return &loc, nil
}

func requireLocation(r *http.Request) (domain.Location, error) {
	loc, err := locationQuery(r)
	if err != nil {
		return domain.Location{}, err
	}
	if loc == nil {
		return domain.Location{}, errors.Validation(map[string]string{"location_type": "this field is required"})
	}
	return *loc, nil
}

func decimalQuery(r *http.Request, key string) (*decimal.Decimal, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, errors.Validation(map[string]string{key: "must be a decimal number"})
	}
	return &d, nil
}

// quantityRequest is the body of single-quantity ledger operations
type quantityRequest struct {
	Quantity  decimal.Decimal `json:"quantity"`
	Reason    string          `json:"reason,omitempty" validate:"max=500"`
	Reference string          `json:"reference,omitempty" validate:"max=200"`
}
