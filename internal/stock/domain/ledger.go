package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LocationType distinguishes retail shops from warehouses
type LocationType string

const (
	LocationShop      LocationType = "SHOP"
	LocationWarehouse LocationType = "WAREHOUSE"
)

// Valid reports whether t is a known location type
func (t LocationType) Valid() bool {
	switch t {
	case LocationShop, LocationWarehouse:
		return true
	}
	return false
}

// Location addresses a shop or warehouse
type Location struct {
	Type LocationType `db:"location_type" json:"location_type" validate:"required,oneof=SHOP WAREHOUSE"`
	ID   string       `db:"location_id" json:"location_id" validate:"required,uuid"`
}

// ShopLocation returns the location of a shop
func ShopLocation(id string) Location {
	return Location{Type: LocationShop, ID: id}
}

// WarehouseLocation returns the location of a warehouse
func WarehouseLocation(id string) Location {
	return Location{Type: LocationWarehouse, ID: id}
}

func (l Location) String() string {
	return string(l.Type) + ":" + l.ID
}

// LedgerStatus is the state of one ledger row
type LedgerStatus string

const (
	LedgerActive   LedgerStatus = "ACTIVE"
	LedgerBlocked  LedgerStatus = "BLOCKED"
	LedgerDepleted LedgerStatus = "DEPLETED"
)

// Valid reports whether s is a known ledger status
func (s LedgerStatus) Valid() bool {
	switch s {
	case LedgerActive, LedgerBlocked, LedgerDepleted:
		return true
	}
	return false
}

// LedgerEntry is the stock of one batch at one location.
// ReservedQuantity never exceeds Quantity.
type LedgerEntry struct {
	ID        string `db:"id" json:"id"`
	BatchID   string `db:"batch_id" json:"batch_id"`
	SellerID  string `db:"seller_id" json:"seller_id"`
	ProductID string `db:"product_id" json:"product_id"`
	Location
	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	ReservedQuantity decimal.Decimal `db:"reserved_quantity" json:"reserved_quantity"`
	Status           LedgerStatus    `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Available is quantity minus reservations, never negative
func (e *LedgerEntry) Available() decimal.Decimal {
	return decimal.Max(decimal.Zero, e.Quantity.Sub(e.ReservedQuantity))
}

// LedgerView adds the derived available quantity for responses
type LedgerView struct {
	*LedgerEntry
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
}

// View fills in the derived fields
func (e *LedgerEntry) View() *LedgerView {
	return &LedgerView{LedgerEntry: e, AvailableQuantity: e.Available()}
}

// CanApply reports whether adding dq to quantity and dr to reserved keeps the row valid
func (e *LedgerEntry) CanApply(dq, dr decimal.Decimal) bool {
	q := e.Quantity.Add(dq)
	r := e.ReservedQuantity.Add(dr)
	return !q.IsNegative() && !r.IsNegative() && r.LessThanOrEqual(q)
}

// BoundsViolation describes a rejected change for error details
func (e *LedgerEntry) BoundsViolation(dq, dr decimal.Decimal) map[string]string {
	return map[string]string{
		"ledger_id":         e.ID,
		"quantity":          e.Quantity.String(),
		"reserved_quantity": e.ReservedQuantity.String(),
		"quantity_delta":    dq.String(),
		"reserved_delta":    dr.String(),
		"reason":            "quantity must stay >= 0 and reserved must stay within [0, quantity]",
	}
}

// Apply adds the deltas and re-derives the status. Callers check CanApply first.
func (e *LedgerEntry) Apply(dq, dr decimal.Decimal) {
	e.Quantity = e.Quantity.Add(dq)
	e.ReservedQuantity = e.ReservedQuantity.Add(dr)
	e.Status = NextLedgerStatus(e.Status, e.Quantity)
}

// NextLedgerStatus derives the row status after a quantity change.
// BLOCKED rows stay blocked regardless of quantity.
func NextLedgerStatus(current LedgerStatus, quantity decimal.Decimal) LedgerStatus {
	switch current {
	case LedgerBlocked:
		return LedgerBlocked
	case LedgerActive, LedgerDepleted:
		if quantity.IsZero() {
			return LedgerDepleted
		}
		return LedgerActive
	}
	return current
}

// FifoCandidate is a ledger row joined with the batch fields FIFO ordering needs
type FifoCandidate struct {
	LedgerEntry
	BatchNumber    string      `db:"batch_number" json:"batch_number"`
	ExpirationDate time.Time   `db:"expiration_date" json:"expiration_date"`
	BatchStatus    BatchStatus `db:"batch_status" json:"batch_status"`
}

// ExpiringEntry is a ledger row whose batch expires soon
type ExpiringEntry struct {
	FifoCandidate
	DaysUntilExpiration int        `db:"-" json:"days_until_expiration"`
	AlertLevel          AlertLevel `db:"-" json:"alert_level"`
}

// MovementType classifies a quantity change in the movement log
type MovementType string

const (
	MovementReceipt       MovementType = "RECEIPT"
	MovementAdjustment    MovementType = "ADJUSTMENT"
	MovementWriteOff      MovementType = "WRITE_OFF"
	MovementConfirm       MovementType = "CONFIRM"
	MovementTransferOut   MovementType = "TRANSFER_OUT"
	MovementTransferIn    MovementType = "TRANSFER_IN"
	MovementFifoConsume   MovementType = "FIFO_CONSUME"
	MovementConsolidation MovementType = "CONSOLIDATION"
)

// Movement is one append-only entry of the stock movement log
type Movement struct {
	ID             string          `db:"id" json:"id"`
	LedgerID       string          `db:"ledger_id" json:"ledger_id"`
	BatchID        string          `db:"batch_id" json:"batch_id"`
	Type           MovementType    `db:"movement_type" json:"movement_type"`
	Delta          decimal.Decimal `db:"delta" json:"delta"`
	QuantityBefore decimal.Decimal `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  decimal.Decimal `db:"quantity_after" json:"quantity_after"`
	Reason         *string         `db:"reason" json:"reason,omitempty"`
	Reference      *string         `db:"reference" json:"reference,omitempty"`
	PerformedBy    string          `db:"performed_by" json:"performed_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// ConsumedLine records how much was drained from one ledger row
type ConsumedLine struct {
	LedgerID       string          `json:"ledger_id"`
	BatchID        string          `json:"batch_id"`
	BatchNumber    string          `json:"batch_number"`
	ExpirationDate time.Time       `json:"expiration_date"`
	Quantity       decimal.Decimal `json:"quantity"`
}

// FifoResult is the outcome of a FIFO consumption. A positive
// RemainingToConsume means the location ran out of stock.
type FifoResult struct {
	Consumed           []ConsumedLine  `json:"consumed"`
	TotalConsumed      decimal.Decimal `json:"total_consumed"`
	RemainingToConsume decimal.Decimal `json:"remaining_to_consume"`
}

// CandidateFilter selects remnant rows eligible for consolidation
type CandidateFilter struct {
	SellerID  string
	Location  *Location
	ProductID string
	Threshold decimal.Decimal
}
