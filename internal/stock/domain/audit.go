package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditStatus is the state of an inventory audit document
type AuditStatus string

const (
	AuditDraft      AuditStatus = "DRAFT"
	AuditInProgress AuditStatus = "IN_PROGRESS"
	AuditCompleted  AuditStatus = "COMPLETED"
	AuditCancelled  AuditStatus = "CANCELLED"
)

// Valid reports whether s is a known audit status
func (s AuditStatus) Valid() bool {
	switch s {
	case AuditDraft, AuditInProgress, AuditCompleted, AuditCancelled:
		return true
	}
	return false
}

// IsActive reports whether the audit still blocks a new one for the same shop
func (s AuditStatus) IsActive() bool {
	switch s {
	case AuditDraft, AuditInProgress:
		return true
	case AuditCompleted, AuditCancelled:
		return false
	}
	return false
}

// AuditType is the scope of an inventory audit
type AuditType string

const (
	AuditFull    AuditType = "FULL"
	AuditPartial AuditType = "PARTIAL"
	AuditControl AuditType = "CONTROL"
)

// Valid reports whether t is a known audit type
func (t AuditType) Valid() bool {
	switch t {
	case AuditFull, AuditPartial, AuditControl:
		return true
	}
	return false
}

// AuditItem is one product line of an audit
type AuditItem struct {
	ID               string           `db:"id" json:"id"`
	AuditID          string           `db:"audit_id" json:"audit_id"`
	ProductID        string           `db:"product_id" json:"product_id"`
	ExpectedQuantity decimal.Decimal  `db:"expected_quantity" json:"expected_quantity"`
	ActualQuantity   *decimal.Decimal `db:"actual_quantity" json:"actual_quantity,omitempty"`
	Difference       *decimal.Decimal `db:"difference" json:"difference,omitempty"`
	IsCounted        bool             `db:"is_counted" json:"is_counted"`
	CountedAt        *time.Time       `db:"counted_at" json:"counted_at,omitempty"`
}

// RecordCount sets the counted quantity and difference
func (i *AuditItem) RecordCount(actual decimal.Decimal, at time.Time) {
	diff := actual.Sub(i.ExpectedQuantity)
	i.ActualQuantity = &actual
	i.Difference = &diff
	i.IsCounted = true
	i.CountedAt = &at
}

// AuditSummary is the variance record of a completed audit
type AuditSummary struct {
	SurplusCount     int             `json:"surplus_count"`
	ShortageCount    int             `json:"shortage_count"`
	MatchedCount     int             `json:"matched_count"`
	SurplusQuantity  decimal.Decimal `json:"surplus_quantity"`
	ShortageQuantity decimal.Decimal `json:"shortage_quantity"`
}

// Summarize classifies counted items by the sign of their difference.
// Uncounted items are excluded.
func Summarize(items []AuditItem) AuditSummary {
	s := AuditSummary{SurplusQuantity: decimal.Zero, ShortageQuantity: decimal.Zero}
	for _, it := range items {
		if !it.IsCounted || it.Difference == nil {
			continue
		}
		switch d := *it.Difference; {
		case d.IsPositive():
			s.SurplusCount++
			s.SurplusQuantity = s.SurplusQuantity.Add(d)
		case d.IsNegative():
			s.ShortageCount++
			s.ShortageQuantity = s.ShortageQuantity.Add(d.Abs())
		default:
			s.MatchedCount++
		}
	}
	return s
}

// AuditDocument is an inventory count of one shop
type AuditDocument struct {
	ID               string           `db:"id" json:"id"`
	DocumentNumber   string           `db:"document_number" json:"document_number"`
	SellerID         string           `db:"seller_id" json:"seller_id"`
	ShopID           string           `db:"shop_id" json:"shop_id"`
	Status           AuditStatus      `db:"status" json:"status"`
	Type             AuditType        `db:"audit_type" json:"audit_type"`
	TotalItems       int              `db:"total_items" json:"total_items"`
	CountedItems     int              `db:"counted_items" json:"counted_items"`
	SurplusCount     *int             `db:"surplus_count" json:"-"`
	ShortageCount    *int             `db:"shortage_count" json:"-"`
	MatchedCount     *int             `db:"matched_count" json:"-"`
	SurplusQuantity  *decimal.Decimal `db:"surplus_quantity" json:"-"`
	ShortageQuantity *decimal.Decimal `db:"shortage_quantity" json:"-"`
	Notes            *string          `db:"notes" json:"notes,omitempty"`
	CancelReason     *string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedBy        string           `db:"created_by" json:"created_by"`
	StartedAt        *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt      *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
	Items            []AuditItem      `db:"-" json:"items"`
	Summary          *AuditSummary    `db:"-" json:"summary,omitempty"`
}

// SetSummary stores s in both the flattened columns and Summary
func (a *AuditDocument) SetSummary(s AuditSummary) {
	a.SurplusCount = &s.SurplusCount
	a.ShortageCount = &s.ShortageCount
	a.MatchedCount = &s.MatchedCount
	a.SurplusQuantity = &s.SurplusQuantity
	a.ShortageQuantity = &s.ShortageQuantity
	a.Summary = &s
}

// LoadSummary rebuilds Summary from the flattened columns after a read
func (a *AuditDocument) LoadSummary() {
	if a.SurplusCount == nil || a.ShortageCount == nil || a.MatchedCount == nil {
		return
	}
	s := AuditSummary{
		SurplusCount:     *a.SurplusCount,
		ShortageCount:    *a.ShortageCount,
		MatchedCount:     *a.MatchedCount,
		SurplusQuantity:  decimal.Zero,
		ShortageQuantity: decimal.Zero,
	}
	if a.SurplusQuantity != nil {
		s.SurplusQuantity = *a.SurplusQuantity
	}
	if a.ShortageQuantity != nil {
		s.ShortageQuantity = *a.ShortageQuantity
	}
	a.Summary = &s
}

// FindItem returns the item with the given id, or nil
func (a *AuditDocument) FindItem(id string) *AuditItem {
	for i := range a.Items {
		if a.Items[i].ID == id {
			return &a.Items[i]
		}
	}
	return nil
}

// NewDocumentNumber builds INV-YYYYMMDD-XXXXXXXX
func NewDocumentNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102"), suffix)
}

// AuditFilter narrows audit listings
type AuditFilter struct {
	SellerID string
	ShopID   string
	Status   AuditStatus
	Type     AuditType
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

// CountInput is one counted line for RecordCount and BulkRecordCount
type CountInput struct {
	ItemID string          `json:"item_id" validate:"required,uuid"`
	Actual decimal.Decimal `json:"actual_quantity"`
}
