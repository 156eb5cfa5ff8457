// Package domain holds the stock-service entities, their closed status sets,
// and the pure computations derived from them (expiry alerts, degradation
// coefficients, mixed-lot weighting, audit summaries).
package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchActive   BatchStatus = "ACTIVE"
	BatchBlocked  BatchStatus = "BLOCKED"
	BatchExpired  BatchStatus = "EXPIRED"
	BatchDepleted BatchStatus = "DEPLETED"
)

// Valid reports whether s is a known batch status
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchActive, BatchBlocked, BatchExpired, BatchDepleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the batch lifecycle allows s -> to.
// EXPIRED is terminal.
func (s BatchStatus) CanTransitionTo(to BatchStatus) bool {
	switch s {
	case BatchActive:
		return to == BatchBlocked || to == BatchExpired || to == BatchDepleted
	case BatchBlocked:
		return to == BatchActive || to == BatchExpired
	case BatchDepleted:
		return to == BatchActive
	case BatchExpired:
		return false
	}
	return false
}

// AlertLevel classifies how close a batch is to expiring
type AlertLevel string

const (
	AlertNormal   AlertLevel = "NORMAL"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
	AlertExpired  AlertLevel = "EXPIRED"
)

// Valid reports whether l is a known alert level
func (l AlertLevel) Valid() bool {
	switch l {
	case AlertNormal, AlertWarning, AlertCritical, AlertExpired:
		return true
	}
	return false
}

// Alert thresholds in whole days
const (
	CriticalDays = 3
	WarningDays  = 7
)

// AlertLevelForDays maps days-until-expiration to an alert level
func AlertLevelForDays(days int) AlertLevel {
	switch {
	case days <= 0:
		return AlertExpired
	case days <= CriticalDays:
		return AlertCritical
	case days <= WarningDays:
		return AlertWarning
	default:
		return AlertNormal
	}
}

// DaysUntil returns the whole days from now until t, rounded up.
// A date that has passed yields zero or a negative number.
func DaysUntil(t, now time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// Batch is a receiving lot of one product with a fixed expiration date
type Batch struct {
	ID              string           `db:"id" json:"id"`
	SellerID        string           `db:"seller_id" json:"seller_id"`
	ProductID       string           `db:"product_id" json:"product_id"`
	BatchNumber     string           `db:"batch_number" json:"batch_number"`
	ProductionDate  *time.Time       `db:"production_date" json:"production_date,omitempty"`
	ExpirationDate  time.Time        `db:"expiration_date" json:"expiration_date"`
	Supplier        *string          `db:"supplier" json:"supplier,omitempty"`
	InvoiceNumber   *string          `db:"invoice_number" json:"invoice_number,omitempty"`
	PurchasePrice   *decimal.Decimal `db:"purchase_price" json:"purchase_price,omitempty"`
	InitialQuantity decimal.Decimal  `db:"initial_quantity" json:"initial_quantity"`
	FreshnessScore  *float64         `db:"freshness_score" json:"freshness_score,omitempty"`
	Status          BatchStatus      `db:"status" json:"status"`
	BlockReason     *string          `db:"block_reason" json:"block_reason,omitempty"`
	Notes           *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// DaysUntilExpiration is derived at read time and never stored
func (b *Batch) DaysUntilExpiration(now time.Time) int {
	return DaysUntil(b.ExpirationDate, now)
}

// AlertLevel is derived at read time and never stored
func (b *Batch) AlertLevel(now time.Time) AlertLevel {
	return AlertLevelForDays(b.DaysUntilExpiration(now))
}

// IsExpired reports whether the expiration date has passed
func (b *Batch) IsExpired(now time.Time) bool {
	return b.ExpirationDate.Before(now)
}

// BatchView is a batch with its derived fields filled in for a given instant
type BatchView struct {
	*Batch
	DaysUntilExpiration int        `json:"days_until_expiration"`
	AlertLevel          AlertLevel `json:"alert_level"`
}

// View computes the derived fields at now
func (b *Batch) View(now time.Time) *BatchView {
	return &BatchView{
		Batch:               b,
		DaysUntilExpiration: b.DaysUntilExpiration(now),
		AlertLevel:          b.AlertLevel(now),
	}
}

// ExpiryWindow converts an alert level into the expiration-date window it covers:
// from is exclusive, to is inclusive, a nil bound is unbounded.
func ExpiryWindow(level AlertLevel, now time.Time) (from, to *time.Time) {
	day := func(n int) *time.Time {
		t := now.Add(time.Duration(n) * 24 * time.Hour)
		return &t
	}
	switch level {
	case AlertExpired:
		return nil, day(0)
	case AlertCritical:
		return day(0), day(CriticalDays)
	case AlertWarning:
		return day(CriticalDays), day(WarningDays)
	case AlertNormal:
		return day(WarningDays), nil
	}
	return nil, nil
}

// BatchFilter narrows batch listings
type BatchFilter struct {
	SellerID           string
	ProductID          string
	Status             BatchStatus
	AlertLevel         AlertLevel
	ExpiringWithinDays int
	Page               int
	PerPage            int
}

// BatchStatistics aggregates a seller's batches
type BatchStatistics struct {
	Total                int64            `json:"total"`
	ByStatus             map[string]int64 `json:"by_status"`
	ExpiringIn3Days      int64            `json:"expiring_in_3_days"`
	ExpiringIn7Days      int64            `json:"expiring_in_7_days"`
	AverageShelfLifeDays float64          `json:"average_shelf_life_days"`
}
