package domain

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFreshness is assumed for a component whose freshness is unknown (0-10 scale)
const DefaultFreshness = 5.0

// MixedLotReason records why remnants were merged
type MixedLotReason string

const (
	ReasonAutoConsolidation  MixedLotReason = "AUTO_CONSOLIDATION"
	ReasonAuditConsolidation MixedLotReason = "AUDIT_CONSOLIDATION"
	ReasonFoundMixed         MixedLotReason = "FOUND_MIXED"
	ReasonManual             MixedLotReason = "MANUAL"
)

// Valid reports whether r is a known reason
func (r MixedLotReason) Valid() bool {
	switch r {
	case ReasonAutoConsolidation, ReasonAuditConsolidation, ReasonFoundMixed, ReasonManual:
		return true
	}
	return false
}

// Errors returned by BuildMixedLot
var (
	ErrTooFewComponents  = errors.New("a mixed lot needs at least two components")
	ErrComponentQuantity = errors.New("component quantity must be positive")
)

// MixedLotComponent is one input batch of a mixed lot. Immutable once written.
type MixedLotComponent struct {
	MixedLotID             string          `db:"mixed_lot_id" json:"-"`
	Position               int             `db:"position" json:"position"`
	BatchID                string          `db:"batch_id" json:"batch_id"`
	BatchNumber            string          `db:"batch_number" json:"batch_number"`
	Quantity               decimal.Decimal `db:"quantity" json:"quantity"`
	FreshnessAtMixing      float64         `db:"freshness_at_mixing" json:"freshness_at_mixing"`
	OriginalExpirationDate time.Time       `db:"original_expiration_date" json:"original_expiration_date"`
}

// MixedLot is a traceable merge of remnants of one product at one location
type MixedLot struct {
	ID        string `db:"id" json:"id"`
	SellerID  string `db:"seller_id" json:"seller_id"`
	ProductID string `db:"product_id" json:"product_id"`
	Location
	TotalQuantity           decimal.Decimal     `db:"total_quantity" json:"total_quantity"`
	EffectiveExpirationDate time.Time           `db:"effective_expiration_date" json:"effective_expiration_date"`
	EffectiveFreshness      float64             `db:"effective_freshness" json:"effective_freshness"`
	Reason                  MixedLotReason      `db:"reason" json:"reason"`
	AuditRef                *string             `db:"audit_ref" json:"audit_ref,omitempty"`
	Notes                   *string             `db:"notes" json:"notes,omitempty"`
	CreatedBy               string              `db:"created_by" json:"created_by"`
	IsActive                bool                `db:"is_active" json:"is_active"`
	DeactivatedAt           *time.Time          `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt               time.Time           `db:"created_at" json:"created_at"`
	Components              []MixedLotComponent `db:"-" json:"components"`
}

// BuildMixedLot fills in the derived totals of lot from components:
// total is the sum of quantities, the effective expiration is the earliest
// component expiration, and the effective freshness is the quantity-weighted
// mean rounded to one decimal.
func BuildMixedLot(lot *MixedLot, components []MixedLotComponent) error {
	if len(components) < 2 {
		return ErrTooFewComponents
	}

	total := decimal.Zero
	weighted := decimal.Zero
	earliest := components[0].OriginalExpirationDate
	for i := range components {
		c := &components[i]
		if !c.Quantity.IsPositive() {
			return ErrComponentQuantity
		}
		c.Position = i
		total = total.Add(c.Quantity)
		weighted = weighted.Add(c.Quantity.Mul(decimal.NewFromFloat(c.FreshnessAtMixing)))
		if c.OriginalExpirationDate.Before(earliest) {
			earliest = c.OriginalExpirationDate
		}
	}

	freshness, _ := weighted.Div(total).Float64()

	lot.Components = components
	lot.TotalQuantity = total
	lot.EffectiveExpirationDate = earliest
	lot.EffectiveFreshness = RoundFreshness(freshness)
	lot.IsActive = true
	return nil
}

// RoundFreshness rounds to one decimal
func RoundFreshness(f float64) float64 {
	return math.Round(f*10) / 10
}

// EstimateFreshness derives a 0-10 score for a batch with no manual grade.
// The remaining share of shelf life is divided by the location coefficient;
// without a production date the default score is returned.
func EstimateFreshness(b *Batch, coefficient float64, now time.Time) float64 {
	if b.FreshnessScore != nil {
		return *b.FreshnessScore
	}
	if b.ProductionDate == nil || !b.ExpirationDate.After(*b.ProductionDate) {
		return DefaultFreshness
	}
	if coefficient <= 0 {
		coefficient = IdealCoefficient
	}

	life := b.ExpirationDate.Sub(*b.ProductionDate).Hours()
	remaining := b.ExpirationDate.Sub(now).Hours()
	ratio := math.Max(0, math.Min(1, remaining/life))

	return RoundFreshness(math.Max(0, math.Min(10, 10*ratio/coefficient)))
}

// CompositionLine is one component's share of a mixed lot
type CompositionLine struct {
	BatchID                string          `json:"batch_id"`
	BatchNumber            string          `json:"batch_number"`
	Quantity               decimal.Decimal `json:"quantity"`
	Percentage             float64         `json:"percentage"`
	FreshnessAtMixing      float64         `json:"freshness_at_mixing"`
	OriginalExpirationDate time.Time       `json:"original_expiration_date"`
}

// Composition returns each component's share of the total, in percent rounded to one decimal
func (m *MixedLot) Composition() []CompositionLine {
	lines := make([]CompositionLine, 0, len(m.Components))
	for _, c := range m.Components {
		pct := 0.0
		if m.TotalQuantity.IsPositive() {
			pct, _ = c.Quantity.Div(m.TotalQuantity).Mul(decimal.NewFromInt(100)).Round(1).Float64()
		}
		lines = append(lines, CompositionLine{
			BatchID:                c.BatchID,
			BatchNumber:            c.BatchNumber,
			Quantity:               c.Quantity,
			Percentage:             pct,
			FreshnessAtMixing:      c.FreshnessAtMixing,
			OriginalExpirationDate: c.OriginalExpirationDate,
		})
	}
	return lines
}

// CandidateGroup is a set of remnant rows of one product at one location
type CandidateGroup struct {
	Location   Location        `json:"location"`
	ProductID  string          `json:"product_id"`
	Candidates []FifoCandidate `json:"candidates"`
	Total      decimal.Decimal `json:"total"`
}

// GroupCandidates groups rows by (location, product) and keeps groups of two or more,
// preserving first-seen order.
func GroupCandidates(rows []*FifoCandidate) []CandidateGroup {
	type key struct {
		loc     Location
		product string
	}
	index := make(map[key]int)
	var groups []CandidateGroup
	for _, r := range rows {
		k := key{loc: r.Location, product: r.ProductID}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, CandidateGroup{Location: r.Location, ProductID: r.ProductID, Total: decimal.Zero})
		}
		groups[i].Candidates = append(groups[i].Candidates, *r)
		groups[i].Total = groups[i].Total.Add(r.Available())
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Candidates) >= 2 {
			out = append(out, g)
		}
	}
	return out
}

// MixedLotFilter narrows mixed lot history listings
type MixedLotFilter struct {
	SellerID   string
	Location   *Location
	ProductID  string
	Reason     MixedLotReason
	ActiveOnly bool
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

// MixedLotStatistics aggregates a seller's consolidation activity
type MixedLotStatistics struct {
	Total             int64            `json:"total"`
	Active            int64            `json:"active"`
	ByReason          map[string]int64 `json:"by_reason"`
	TotalQuantity     decimal.Decimal  `json:"total_quantity"`
	AverageFreshness  float64          `json:"average_freshness"`
	AverageComponents float64          `json:"average_components"`
}
