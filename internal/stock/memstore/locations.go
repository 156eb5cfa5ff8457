package memstore

import (
	"context"
	"strconv"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// LocationStore is the storage location table of a Store
type LocationStore struct{ s *Store }

func (r *LocationStore) Create(ctx context.Context, l *domain.StorageLocation) error {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.st.locations {
		if existing.SellerID == l.SellerID && existing.Location() == l.Location() {
			return errors.Validation(map[string]string{"location_ref": "storage location already exists"})
		}
	}
	r.s.st.locations[l.ID] = copyLocation(l)
	return nil
}

func (r *LocationStore) GetByID(ctx context.Context, id string) (*domain.StorageLocation, error) {
	defer r.s.lock(ctx)()
	l, ok := r.s.st.locations[id]
	if !ok {
		return nil, errors.NotFound("storage location", id)
	}
	return copyLocation(l), nil
}

func (r *LocationStore) GetByRef(ctx context.Context, sellerID string, loc domain.Location) (*domain.StorageLocation, error) {
	defer r.s.lock(ctx)()
	for _, l := range r.s.st.locations {
		if l.SellerID == sellerID && l.Location() == loc {
			return copyLocation(l), nil
		}
	}
	return nil, errors.NotFound("storage location", loc.String())
}

func (r *LocationStore) ListBySeller(ctx context.Context, sellerID string, page, perPage int) ([]*domain.StorageLocation, int64, error) {
	defer r.s.lock(ctx)()
	out := []*domain.StorageLocation{}
	for _, l := range r.s.st.locations {
		if l.SellerID == sellerID {
			out = append(out, copyLocation(l))
		}
	}
	sortBy(out, func(a, b *domain.StorageLocation) bool {
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return paginate(out, page, perPage), int64(len(out)), nil
}

func (r *LocationStore) Count(ctx context.Context, sellerID string) (int64, error) {
	defer r.s.lock(ctx)()
	var n int64
	for _, l := range r.s.st.locations {
		if l.SellerID == sellerID {
			n++
		}
	}
	return n, nil
}

// Update writes l when l.Version matches the stored version, then bumps it
func (r *LocationStore) Update(ctx context.Context, l *domain.StorageLocation) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.locations[l.ID]
	if !ok {
		return errors.NotFound("storage location", l.ID)
	}
	if cur.Version != l.Version {
		return errors.Invariant("storage location was modified concurrently", map[string]string{
			"location_id": l.ID,
			"version":     strconv.Itoa(l.Version),
		})
	}
	l.Version++
	r.s.st.locations[l.ID] = copyLocation(l)
	return nil
}

// MixedLotStore is the mixed lot table of a Store
type MixedLotStore struct{ s *Store }

func (r *MixedLotStore) Create(ctx context.Context, lot *domain.MixedLot) error {
	defer r.s.lock(ctx)()
	r.s.st.mixedLots[lot.ID] = copyMixedLot(lot)
	return nil
}

func (r *MixedLotStore) GetByID(ctx context.Context, id string) (*domain.MixedLot, error) {
	defer r.s.lock(ctx)()
	lot, ok := r.s.st.mixedLots[id]
	if !ok {
		return nil, errors.NotFound("mixed lot", id)
	}
	return copyMixedLot(lot), nil
}

func (r *MixedLotStore) ListByLocation(ctx context.Context, sellerID string, loc domain.Location, activeOnly bool) ([]*domain.MixedLot, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(m *domain.MixedLot) bool {
		return m.SellerID == sellerID && m.Location == loc && (!activeOnly || m.IsActive)
	}), nil
}

func (r *MixedLotStore) ListByComponent(ctx context.Context, batchID string) ([]*domain.MixedLot, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(m *domain.MixedLot) bool {
		for _, c := range m.Components {
			if c.BatchID == batchID {
				return true
			}
		}
		return false
	}), nil
}

func (r *MixedLotStore) History(ctx context.Context, f domain.MixedLotFilter) ([]*domain.MixedLot, int64, error) {
	defer r.s.lock(ctx)()
	out := r.filter(func(m *domain.MixedLot) bool {
		switch {
		case m.SellerID != f.SellerID,
			f.Location != nil && m.Location != *f.Location,
			f.ProductID != "" && m.ProductID != f.ProductID,
			f.Reason != "" && m.Reason != f.Reason,
			f.ActiveOnly && !m.IsActive,
			f.From != nil && m.CreatedAt.Before(*f.From),
			f.To != nil && m.CreatedAt.After(*f.To):
			return false
		}
		return true
	})
	return paginate(out, f.Page, f.PerPage), int64(len(out)), nil
}

func (r *MixedLotStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	defer r.s.lock(ctx)()
	lot, ok := r.s.st.mixedLots[id]
	if !ok {
		return errors.NotFound("mixed lot", id)
	}
	if !lot.IsActive {
		return errors.Invariant("mixed lot is already inactive", map[string]string{"mixed_lot_id": id})
	}
	lot.IsActive = false
	lot.DeactivatedAt = &at
	return nil
}

func (r *MixedLotStore) Statistics(ctx context.Context, sellerID string) (*domain.MixedLotStatistics, error) {
	defer r.s.lock(ctx)()
	stats := &domain.MixedLotStatistics{ByReason: map[string]int64{}, TotalQuantity: decimal.Zero}
	var freshness float64
	var components int
	for _, m := range r.s.st.mixedLots {
		if m.SellerID != sellerID {
			continue
		}
		stats.Total++
		if m.IsActive {
			stats.Active++
		}
		stats.ByReason[string(m.Reason)]++
		stats.TotalQuantity = stats.TotalQuantity.Add(m.TotalQuantity)
		freshness += m.EffectiveFreshness
		components += len(m.Components)
	}
	if stats.Total > 0 {
		stats.AverageFreshness = domain.RoundFreshness(freshness / float64(stats.Total))
		stats.AverageComponents = domain.RoundFreshness(float64(components) / float64(stats.Total))
	}
	return stats, nil
}

// filter returns copies of the matching lots, newest first
func (r *MixedLotStore) filter(keep func(m *domain.MixedLot) bool) []*domain.MixedLot {
	out := []*domain.MixedLot{}
	for _, m := range r.s.st.mixedLots {
		if keep(m) {
			out = append(out, copyMixedLot(m))
		}
	}
	sortBy(out, func(a, b *domain.MixedLot) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
