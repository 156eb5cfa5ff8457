package memstore

import (
	"context"
	"math"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/errors"
)

// BatchStore is the batch table of a Store
type BatchStore struct{ s *Store }

func (r *BatchStore) Create(ctx context.Context, b *domain.Batch) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.st.batches {
		if existing.SellerID == b.SellerID && existing.BatchNumber == b.BatchNumber {
			return errors.Validation(map[string]string{"batch_number": "already exists for this seller"})
		}
	}
	r.s.st.batches[b.ID] = copyBatch(b)
	return nil
}

func (r *BatchStore) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	defer r.s.lock(ctx)()
	b, ok := r.s.st.batches[id]
	if !ok {
		return nil, errors.NotFound("batch", id)
	}
	return copyBatch(b), nil
}

func (r *BatchStore) GetByNumber(ctx context.Context, sellerID, number string) (*domain.Batch, error) {
	defer r.s.lock(ctx)()
	for _, b := range r.s.st.batches {
		if b.SellerID == sellerID && b.BatchNumber == number {
			return copyBatch(b), nil
		}
	}
	return nil, errors.NotFound("batch", number)
}

// Update writes the mutable provenance fields
func (r *BatchStore) Update(ctx context.Context, b *domain.Batch) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.batches[b.ID]
	if !ok {
		return errors.NotFound("batch", b.ID)
	}
	cur.ProductionDate = b.ProductionDate
	cur.Supplier = b.Supplier
	cur.InvoiceNumber = b.InvoiceNumber
	cur.PurchasePrice = b.PurchasePrice
	cur.FreshnessScore = b.FreshnessScore
	cur.Notes = b.Notes
	cur.UpdatedAt = b.UpdatedAt
	return nil
}

func (r *BatchStore) UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus, blockReason *string) (*domain.Batch, error) {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.batches[id]
	if !ok {
		return nil, errors.NotFound("batch", id)
	}
	if !statusIn(cur.Status, from) {
		return nil, errors.Invariant("batch status changed concurrently", map[string]string{
			"batch_id": id,
			"status":   string(cur.Status),
			"to":       string(to),
		})
	}
	cur.Status = to
	cur.BlockReason = blockReason
	cur.UpdatedAt = time.Now().UTC()
	return copyBatch(cur), nil
}

func (r *BatchStore) ExpireBefore(ctx context.Context, sellerID *string, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	var count int64
	for _, b := range r.s.st.batches {
		if sellerID != nil && b.SellerID != *sellerID {
			continue
		}
		if b.Status == domain.BatchActive && b.ExpirationDate.Before(now) {
			b.Status = domain.BatchExpired
			b.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (r *BatchStore) List(ctx context.Context, filter domain.BatchFilter, now time.Time) ([]*domain.Batch, int64, error) {
	defer r.s.lock(ctx)()

	from, to := domain.ExpiryWindow(filter.AlertLevel, now)
	var within *time.Time
	if filter.ExpiringWithinDays > 0 {
		t := now.Add(time.Duration(filter.ExpiringWithinDays) * 24 * time.Hour)
		within = &t
	}

	var out []*domain.Batch
	for _, b := range r.s.st.batches {
		switch {
		case filter.SellerID != "" && b.SellerID != filter.SellerID,
			filter.ProductID != "" && b.ProductID != filter.ProductID,
			filter.Status != "" && b.Status != filter.Status,
			from != nil && !b.ExpirationDate.After(*from),
			to != nil && b.ExpirationDate.After(*to),
			within != nil && (b.ExpirationDate.Before(now) || b.ExpirationDate.After(*within)):
			continue
		}
		out = append(out, copyBatch(b))
	}
	sortBy(out, byExpiration)
	return paginate(out, filter.Page, filter.PerPage), int64(len(out)), nil
}

func (r *BatchStore) ListActiveForProduct(ctx context.Context, sellerID, productID string, now time.Time) ([]*domain.Batch, error) {
	defer r.s.lock(ctx)()
	out := []*domain.Batch{}
	for _, b := range r.s.st.batches {
		if b.SellerID == sellerID && b.ProductID == productID &&
			b.Status == domain.BatchActive && b.ExpirationDate.After(now) {
			out = append(out, copyBatch(b))
		}
	}
	sortBy(out, byExpiration)
	return out, nil
}

func (r *BatchStore) Statistics(ctx context.Context, sellerID string, now time.Time) (*domain.BatchStatistics, error) {
	defer r.s.lock(ctx)()
	stats := &domain.BatchStatistics{ByStatus: map[string]int64{}}
	in3 := now.Add(domain.CriticalDays * 24 * time.Hour)
	in7 := now.Add(domain.WarningDays * 24 * time.Hour)

	var lifeDays float64
	for _, b := range r.s.st.batches {
		if b.SellerID != sellerID {
			continue
		}
		stats.Total++
		stats.ByStatus[string(b.Status)]++
		if b.Status == domain.BatchActive && b.ExpirationDate.After(now) {
			if !b.ExpirationDate.After(in3) {
				stats.ExpiringIn3Days++
			}
			if !b.ExpirationDate.After(in7) {
				stats.ExpiringIn7Days++
			}
		}
		start := b.CreatedAt
		if b.ProductionDate != nil {
			start = *b.ProductionDate
		}
		lifeDays += b.ExpirationDate.Sub(start).Hours() / 24
	}
	if stats.Total > 0 {
		stats.AverageShelfLifeDays = math.Round(lifeDays/float64(stats.Total)*10) / 10
	}
	return stats, nil
}

func byExpiration(a, b *domain.Batch) bool {
	if !a.ExpirationDate.Equal(b.ExpirationDate) {
		return a.ExpirationDate.Before(b.ExpirationDate)
	}
	return a.ID < b.ID
}

func statusIn[T comparable](s T, set []T) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
