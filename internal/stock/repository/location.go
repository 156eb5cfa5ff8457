package repository

import (
	"context"
	"strconv"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
)

const locationColumns = `id, seller_id, location_type, location_ref, name, status, preset,
	temperature_range, humidity_range, conditions_source, conditions_updated_at,
	degradation_coefficient, zones, version, created_at, updated_at`

// LocationRepository handles storage location persistence. Zones are kept
// in a JSONB column on the location row.
type LocationRepository struct {
	db *database.DB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *database.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Create inserts a location
func (r *LocationRepository) Create(ctx context.Context, l *domain.StorageLocation) error {
	query := `
		INSERT INTO storage_locations (` + locationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		l.ID, l.SellerID, l.LocationType, l.LocationRef, l.Name, l.Status, l.Preset,
		l.TemperatureRange, l.HumidityRange, l.ConditionsSource, l.ConditionsUpdatedAt,
		l.DegradationCoefficient, l.Zones, l.Version, l.CreatedAt, l.UpdatedAt,
	)
	return database.MapError(err, "create storage location")
}

// GetByID gets a location by ID
func (r *LocationRepository) GetByID(ctx context.Context, id string) (*domain.StorageLocation, error) {
	var l domain.StorageLocation
	query := `SELECT ` + locationColumns + ` FROM storage_locations WHERE id = $1`
	if err := r.db.Conn(ctx).GetContext(ctx, &l, query, id); err != nil {
		return nil, notFoundOr(err, "storage location", id)
	}
	return &l, nil
}

// GetByRef gets the location record of a shop or warehouse
func (r *LocationRepository) GetByRef(ctx context.Context, sellerID string, loc domain.Location) (*domain.StorageLocation, error) {
	var l domain.StorageLocation
	query := `
		SELECT ` + locationColumns + ` FROM storage_locations
		WHERE seller_id = $1 AND location_type = $2 AND location_ref = $3
	`
	if err := r.db.Conn(ctx).GetContext(ctx, &l, query, sellerID, loc.Type, loc.ID); err != nil {
		return nil, notFoundOr(err, "storage location", loc.String())
	}
	return &l, nil
}

// ListBySeller lists a page of a seller's locations by name
func (r *LocationRepository) ListBySeller(ctx context.Context, sellerID string, page, perPage int) ([]*domain.StorageLocation, int64, error) {
	var c conditions
	c.add("seller_id = ?", sellerID)

	var total int64
	if err := r.db.Conn(ctx).GetContext(ctx, &total, `SELECT COUNT(*) FROM storage_locations`+c.where(), c.args...); err != nil {
		return nil, 0, database.MapError(err, "count storage locations")
	}

	limit, args := c.page(page, perPage)
	locations := []*domain.StorageLocation{}
	query := `SELECT ` + locationColumns + ` FROM storage_locations` + c.where() + ` ORDER BY name, id` + limit
	if err := r.db.Conn(ctx).SelectContext(ctx, &locations, query, args...); err != nil {
		return nil, 0, database.MapError(err, "list storage locations")
	}
	return locations, total, nil
}

// Count returns the number of a seller's locations
func (r *LocationRepository) Count(ctx context.Context, sellerID string) (int64, error) {
	var n int64
	if err := r.db.Conn(ctx).GetContext(ctx, &n, `SELECT COUNT(*) FROM storage_locations WHERE seller_id = $1`, sellerID); err != nil {
		return 0, database.MapError(err, "count storage locations")
	}
	return n, nil
}

// Update writes l if the stored version still equals l.Version, then bumps it
func (r *LocationRepository) Update(ctx context.Context, l *domain.StorageLocation) error {
	query := `
		UPDATE storage_locations SET
			name = $3, status = $4, preset = $5, temperature_range = $6, humidity_range = $7,
			conditions_source = $8, conditions_updated_at = $9, degradation_coefficient = $10,
			zones = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.db.Conn(ctx).ExecContext(ctx, query,
		l.ID, l.Version, l.Name, l.Status, l.Preset, l.TemperatureRange, l.HumidityRange,
		l.ConditionsSource, l.ConditionsUpdatedAt, l.DegradationCoefficient, l.Zones, l.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "update storage location")
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		l.Version++
		return nil
	}

	if _, err := r.GetByID(ctx, l.ID); err != nil {
		return err
	}
	return errors.Invariant("storage location was modified concurrently", map[string]string{
		"location_id": l.ID,
		"version":     strconv.Itoa(l.Version),
	})
}
