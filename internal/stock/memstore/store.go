// Package memstore is an in-memory storage engine for the stock service.
//
// It mirrors the guarded-update and constraint semantics of the PostgreSQL
// repositories so the services behave the same on both. It backs the
// "memory" storage driver and the service and handler tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/database"
)

// Store holds every entity behind one mutex. A WithinTx scope keeps the
// mutex for its whole duration and rolls back to a snapshot on error.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	batches   map[string]*domain.Batch
	ledger    map[string]*domain.LedgerEntry
	movements []*domain.Movement
	locations map[string]*domain.StorageLocation
	mixedLots map[string]*domain.MixedLot
	audits    map[string]*domain.AuditDocument
}

// New returns an empty store
func New() *Store {
	return &Store{st: newState()}
}

func newState() *state {
	return &state{
		batches:   make(map[string]*domain.Batch),
		ledger:    make(map[string]*domain.LedgerEntry),
		locations: make(map[string]*domain.StorageLocation),
		mixedLots: make(map[string]*domain.MixedLot),
		audits:    make(map[string]*domain.AuditDocument),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.batches {
		c.batches[k] = copyBatch(v)
	}
	for k, v := range s.ledger {
		c.ledger[k] = copyEntry(v)
	}
	c.movements = append([]*domain.Movement(nil), s.movements...)
	for k, v := range s.locations {
		c.locations[k] = copyLocation(v)
	}
	for k, v := range s.mixedLots {
		c.mixedLots[k] = copyMixedLot(v)
	}
	for k, v := range s.audits {
		c.audits[k] = copyAudit(v)
	}
	return c
}

// WithinTx runs fn with the store locked. Changes made by fn are discarded
// when it fails. An existing scope in ctx is joined.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (database.Deferred, error) {
	if database.InScope(ctx) {
		return nil, fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	ctx, scope := database.NewScope(ctx)
	if err := fn(ctx); err != nil {
		s.st = snapshot
		return nil, err
	}
	return scope.Deferred(), nil
}

// lock takes the mutex unless ctx is inside a scope, which already holds it
func (s *Store) lock(ctx context.Context) func() {
	if database.InScope(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Batches() *BatchStore      { return &BatchStore{s} }
func (s *Store) Ledger() *LedgerStore      { return &LedgerStore{s} }
func (s *Store) Movements() *MovementStore { return &MovementStore{s} }
func (s *Store) Locations() *LocationStore { return &LocationStore{s} }
func (s *Store) MixedLots() *MixedLotStore { return &MixedLotStore{s} }
func (s *Store) Audits() *AuditStore       { return &AuditStore{s} }

// Stores wires every in-memory store, with s as the transaction runner
func (s *Store) Stores() service.Stores {
	return service.Stores{
		Tx:        s,
		Batches:   s.Batches(),
		Ledger:    s.Ledger(),
		Movements: s.Movements(),
		Locations: s.Locations(),
		MixedLots: s.MixedLots(),
		Audits:    s.Audits(),
	}
}

func copyBatch(b *domain.Batch) *domain.Batch {
	c := *b
	return &c
}

func copyEntry(e *domain.LedgerEntry) *domain.LedgerEntry {
	c := *e
	return &c
}

func copyLocation(l *domain.StorageLocation) *domain.StorageLocation {
	c := *l
	c.Zones = append(domain.Zones{}, l.Zones...)
	return &c
}

func copyMixedLot(m *domain.MixedLot) *domain.MixedLot {
	c := *m
	c.Components = append([]domain.MixedLotComponent{}, m.Components...)
	return &c
}

func copyAudit(a *domain.AuditDocument) *domain.AuditDocument {
	c := *a
	c.Items = append([]domain.AuditItem{}, a.Items...)
	if a.Summary != nil {
		s := *a.Summary
		c.Summary = &s
	}
	return &c
}

// paginate returns the page of items for 1-based page numbers
func paginate[T any](items []T, page, perPage int) []T {
	if perPage <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func sortBy[T any](items []T, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}
