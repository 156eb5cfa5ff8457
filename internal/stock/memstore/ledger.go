package memstore

import (
	"context"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// LedgerStore is the stock ledger table of a Store
type LedgerStore struct{ s *Store }

func (r *LedgerStore) Create(ctx context.Context, e *domain.LedgerEntry) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.batches[e.BatchID]; !ok {
		return errors.NotFound("batch", e.BatchID)
	}
	for _, existing := range r.s.st.ledger {
		if existing.BatchID == e.BatchID && existing.Location == e.Location {
			return errors.Validation(map[string]string{"location": "batch already has stock at this location"})
		}
	}
	r.s.st.ledger[e.ID] = copyEntry(e)
	return nil
}

func (r *LedgerStore) GetByID(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	defer r.s.lock(ctx)()
	e, ok := r.s.st.ledger[id]
	if !ok {
		return nil, errors.NotFound("ledger entry", id)
	}
	return copyEntry(e), nil
}

func (r *LedgerStore) GetByBatchAndLocation(ctx context.Context, batchID string, loc domain.Location) (*domain.LedgerEntry, error) {
	defer r.s.lock(ctx)()
	for _, e := range r.s.st.ledger {
		if e.BatchID == batchID && e.Location == loc {
			return copyEntry(e), nil
		}
	}
	return nil, errors.NotFound("ledger entry").WithDetails(map[string]string{
		"batch_id": batchID,
		"location": loc.String(),
	})
}

// CompareAndAdjust applies both deltas only if the row stays within bounds
func (r *LedgerStore) CompareAndAdjust(ctx context.Context, id string, dq, dr decimal.Decimal) (*domain.LedgerEntry, error) {
	defer r.s.lock(ctx)()
	e, ok := r.s.st.ledger[id]
	if !ok {
		return nil, errors.NotFound("ledger entry", id)
	}
	if !e.CanApply(dq, dr) {
		return nil, errors.Validation(e.BoundsViolation(dq, dr))
	}
	e.Apply(dq, dr)
	e.UpdatedAt = time.Now().UTC()
	return copyEntry(e), nil
}

func (r *LedgerStore) ListByBatch(ctx context.Context, batchID string) ([]*domain.LedgerEntry, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(e *domain.LedgerEntry) bool { return e.BatchID == batchID })
	return out, nil
}

func (r *LedgerStore) ListByLocation(ctx context.Context, sellerID string, loc domain.Location, page, perPage int) ([]*domain.LedgerEntry, int64, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(e *domain.LedgerEntry) bool {
		return e.SellerID == sellerID && e.Location == loc
	})
	return paginate(out, page, perPage), int64(len(out)), nil
}

func (r *LedgerStore) ListByLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) ([]*domain.LedgerEntry, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(e *domain.LedgerEntry) bool {
		return e.SellerID == sellerID && e.Location == loc && e.ProductID == productID
	})
	return out, nil
}

func (r *LedgerStore) ListForFifo(ctx context.Context, sellerID string, loc domain.Location, productID string, now time.Time) ([]*domain.FifoCandidate, error) {
	defer r.s.lock(ctx)()
	return r.candidates(func(e *domain.LedgerEntry, b *domain.Batch) bool {
		return e.SellerID == sellerID && e.Location == loc && e.ProductID == productID &&
			e.Status == domain.LedgerActive && e.Available().IsPositive() &&
			b.Status == domain.BatchActive && b.ExpirationDate.After(now)
	}), nil
}

func (r *LedgerStore) ListExpiringSoon(ctx context.Context, sellerID string, now, until time.Time, page, perPage int) ([]*domain.FifoCandidate, int64, error) {
	defer r.s.lock(ctx)()
	out := r.candidates(func(e *domain.LedgerEntry, b *domain.Batch) bool {
		return e.SellerID == sellerID && e.Quantity.IsPositive() &&
			(b.Status == domain.BatchActive || b.Status == domain.BatchBlocked) &&
			!b.ExpirationDate.After(until)
	})
	return paginate(out, page, perPage), int64(len(out)), nil
}

func (r *LedgerStore) TotalByBatch(ctx context.Context, batchID string) (decimal.Decimal, error) {
	defer r.s.lock(ctx)()
	total := decimal.Zero
	for _, e := range r.s.st.ledger {
		if e.BatchID == batchID {
			total = total.Add(e.Quantity)
		}
	}
	return total, nil
}

func (r *LedgerStore) TotalByLocationProduct(ctx context.Context, sellerID string, loc domain.Location, productID string) (decimal.Decimal, error) {
	defer r.s.lock(ctx)()
	total := decimal.Zero
	for _, e := range r.s.st.ledger {
		if e.SellerID == sellerID && e.Location == loc && e.ProductID == productID {
			total = total.Add(e.Quantity)
		}
	}
	return total, nil
}

func (r *LedgerStore) ListProductsAtLocation(ctx context.Context, sellerID string, loc domain.Location) ([]string, error) {
	defer r.s.lock(ctx)()
	seen := map[string]bool{}
	products := []string{}
	for _, e := range r.filter(func(e *domain.LedgerEntry) bool {
		return e.SellerID == sellerID && e.Location == loc
	}) {
		if !seen[e.ProductID] {
			seen[e.ProductID] = true
			products = append(products, e.ProductID)
		}
	}
	sortBy(products, func(a, b string) bool { return a < b })
	return products, nil
}

func (r *LedgerStore) ListBelowThreshold(ctx context.Context, f domain.CandidateFilter) ([]*domain.FifoCandidate, error) {
	defer r.s.lock(ctx)()
	out := r.candidates(func(e *domain.LedgerEntry, b *domain.Batch) bool {
		if e.SellerID != f.SellerID || e.Status == domain.LedgerBlocked || b.Status != domain.BatchActive {
			return false
		}
		if f.Location != nil && e.Location != *f.Location {
			return false
		}
		if f.ProductID != "" && e.ProductID != f.ProductID {
			return false
		}
		avail := e.Available()
		return avail.IsPositive() && avail.LessThan(f.Threshold)
	})
	sortBy(out, func(a, b *domain.FifoCandidate) bool {
		if a.Location != b.Location {
			return a.Location.String() < b.Location.String()
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return fifoLess(a, b)
	})
	return out, nil
}

// filter returns copies of the matching rows ordered by creation time, then id
func (r *LedgerStore) filter(keep func(e *domain.LedgerEntry) bool) []*domain.LedgerEntry {
	out := []*domain.LedgerEntry{}
	for _, e := range r.s.st.ledger {
		if keep(e) {
			out = append(out, copyEntry(e))
		}
	}
	sortBy(out, func(a, b *domain.LedgerEntry) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// candidates joins matching rows with their batch in FIFO order
func (r *LedgerStore) candidates(keep func(e *domain.LedgerEntry, b *domain.Batch) bool) []*domain.FifoCandidate {
	out := []*domain.FifoCandidate{}
	for _, e := range r.s.st.ledger {
		b, ok := r.s.st.batches[e.BatchID]
		if !ok || !keep(e, b) {
			continue
		}
		out = append(out, &domain.FifoCandidate{
			LedgerEntry:    *e,
			BatchNumber:    b.BatchNumber,
			ExpirationDate: b.ExpirationDate,
			BatchStatus:    b.Status,
		})
	}
	sortBy(out, fifoLess)
	return out
}

func fifoLess(a, b *domain.FifoCandidate) bool {
	if !a.ExpirationDate.Equal(b.ExpirationDate) {
		return a.ExpirationDate.Before(b.ExpirationDate)
	}
	return a.ID < b.ID
}

// MovementStore is the movement log of a Store
type MovementStore struct{ s *Store }

func (r *MovementStore) Record(ctx context.Context, m *domain.Movement) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.ledger[m.LedgerID]; !ok {
		return errors.NotFound("ledger entry", m.LedgerID)
	}
	c := *m
	r.s.st.movements = append(r.s.st.movements, &c)
	return nil
}

// ListByLedger returns the newest movements first
func (r *MovementStore) ListByLedger(ctx context.Context, ledgerID string, page, perPage int) ([]*domain.Movement, int64, error) {
	defer r.s.lock(ctx)()
	out := []*domain.Movement{}
	for i := len(r.s.st.movements) - 1; i >= 0; i-- {
		if m := r.s.st.movements[i]; m.LedgerID == ledgerID {
			c := *m
			out = append(out, &c)
		}
	}
	return paginate(out, page, perPage), int64(len(out)), nil
}
