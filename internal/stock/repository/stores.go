package repository

import (
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/database"
)

// NewStores wires every PostgreSQL repository over db
func NewStores(db *database.DB) service.Stores {
	return service.Stores{
		Tx:        db,
		Batches:   NewBatchRepository(db),
		Ledger:    NewLedgerRepository(db),
		Movements: NewMovementRepository(db),
		Locations: NewLocationRepository(db),
		MixedLots: NewMixedLotRepository(db),
		Audits:    NewAuditRepository(db),
	}
}
