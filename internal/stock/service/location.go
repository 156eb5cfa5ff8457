package service

import (
	"context"
	"strings"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocationService manages storage locations, their zones and the degradation
// coefficient derived from their conditions.
type LocationService struct {
	locations LocationStore
	events    EventPublisher
	now       Clock
	logger    *logger.Logger
}

// NewLocationService creates a new location service
func NewLocationService(stores Stores, events EventPublisher, log *logger.Logger) *LocationService {
	return &LocationService{
		locations: stores.Locations,
		events:    publisherOrNop(events),
		now:       utcNow,
		logger:    log.WithComponent("location-service"),
	}
}

// WithClock replaces the service clock
func (s *LocationService) WithClock(now Clock) *LocationService {
	s.now = now
	return s
}

// CreateLocationInput registers a shop or warehouse
type CreateLocationInput struct {
	SellerID         string                  `json:"-"`
	LocationType     domain.LocationType     `json:"location_type" validate:"required,oneof=SHOP WAREHOUSE"`
	LocationRef      string                  `json:"location_ref" validate:"required"`
	Name             string                  `json:"name" validate:"required,max=200"`
	Preset           string                  `json:"preset,omitempty"`
	TemperatureRange domain.TemperatureRange `json:"temperature_range,omitempty"`
	HumidityRange    domain.HumidityRange    `json:"humidity_range,omitempty"`
	Zones            []ZoneInput             `json:"zones,omitempty" validate:"dive"`
}

// UpdateLocationInput changes name or preset
type UpdateLocationInput struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Preset *string `json:"preset,omitempty"`
}

// ConditionsInput is a new reading of ambient conditions
type ConditionsInput struct {
	TemperatureRange *domain.TemperatureRange `json:"temperature_range,omitempty"`
	HumidityRange    *domain.HumidityRange    `json:"humidity_range,omitempty"`
	Source           domain.ConditionsSource  `json:"source,omitempty"`
}

// ZoneInput describes a zone to add
type ZoneInput struct {
	Name             string                  `json:"name" validate:"required,max=200"`
	EquipmentType    domain.EquipmentType    `json:"equipment_type" validate:"required"`
	TemperatureRange domain.TemperatureRange `json:"temperature_range,omitempty"`
	HumidityRange    domain.HumidityRange    `json:"humidity_range,omitempty"`
	Capacity         decimal.Decimal         `json:"capacity"`
	UsedCapacity     decimal.Decimal         `json:"used_capacity"`
}

// ZonePatch changes selected zone fields
type ZonePatch struct {
	Name             *string                  `json:"name,omitempty"`
	EquipmentType    *domain.EquipmentType    `json:"equipment_type,omitempty"`
	TemperatureRange *domain.TemperatureRange `json:"temperature_range,omitempty"`
	HumidityRange    *domain.HumidityRange    `json:"humidity_range,omitempty"`
	Capacity         *decimal.Decimal         `json:"capacity,omitempty"`
	UsedCapacity     *decimal.Decimal         `json:"used_capacity,omitempty"`
}

// Create registers a storage location with default conditions unless given
func (s *LocationService) Create(ctx context.Context, in CreateLocationInput) (*domain.StorageLocation, error) {
	details := map[string]string{}
	if strings.TrimSpace(in.SellerID) == "" {
		details["seller_id"] = "this field is required"
	}
	if !in.LocationType.Valid() {
		details["location_type"] = "must be SHOP or WAREHOUSE"
	}
	if strings.TrimSpace(in.LocationRef) == "" {
		details["location_ref"] = "this field is required"
	}
	if strings.TrimSpace(in.Name) == "" {
		details["name"] = "this field is required"
	}
	if in.Preset == "" {
		in.Preset = domain.DefaultPreset
	}
	if _, ok := domain.LookupPreset(in.Preset); !ok {
		details["preset"] = "unknown preset"
	}
	if in.TemperatureRange != "" && !in.TemperatureRange.Valid() {
		details["temperature_range"] = "unknown temperature range"
	}
	if in.HumidityRange != "" && !in.HumidityRange.Valid() {
		details["humidity_range"] = "unknown humidity range"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	ref := domain.Location{Type: in.LocationType, ID: strings.TrimSpace(in.LocationRef)}
	if _, err := s.locations.GetByRef(ctx, in.SellerID, ref); err == nil {
		return nil, errors.Validation(map[string]string{"location_ref": "storage location already exists"})
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	now := s.now()
	loc := &domain.StorageLocation{
		ID:               uuid.NewString(),
		SellerID:         in.SellerID,
		LocationType:     ref.Type,
		LocationRef:      ref.ID,
		Name:             strings.TrimSpace(in.Name),
		Status:           domain.LocationActive,
		Preset:           in.Preset,
		TemperatureRange: domain.TempRoom,
		HumidityRange:    domain.HumidityNormal,
		ConditionsSource: domain.SourceDefault,
		Zones:            domain.Zones{},
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.TemperatureRange != "" || in.HumidityRange != "" {
		loc.ConditionsSource = domain.SourceManual
		loc.ConditionsUpdatedAt = &now
		if in.TemperatureRange != "" {
			loc.TemperatureRange = in.TemperatureRange
		}
		if in.HumidityRange != "" {
			loc.HumidityRange = in.HumidityRange
		}
	}
	for _, z := range in.Zones {
		zone, err := newZone(z)
		if err != nil {
			return nil, err
		}
		loc.Zones = append(loc.Zones, zone)
	}
	if err := recalculate(loc); err != nil {
		return nil, err
	}

	if err := s.locations.Create(ctx, loc); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("location_id", loc.ID).
		Str("location", loc.Location().String()).
		Float64("degradation_coefficient", loc.DegradationCoefficient).
		Msg("storage location created")

	return loc, nil
}

// Update changes name and preset. A preset change recomputes the coefficient.
func (s *LocationService) Update(ctx context.Context, id string, in UpdateLocationInput) (*domain.StorageLocation, error) {
	return s.mutate(ctx, id, func(loc *domain.StorageLocation) error {
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return errors.Validation(map[string]string{"name": "this field is required"})
			}
			loc.Name = name
		}
		if in.Preset != nil {
			if _, ok := domain.LookupPreset(*in.Preset); !ok || *in.Preset == "" {
				return errors.Validation(map[string]string{"preset": "unknown preset"})
			}
			loc.Preset = *in.Preset
			return recalculate(loc)
		}
		return nil
	})
}

// UpdateConditions records new ambient conditions and the resulting
// coefficient in a single write
func (s *LocationService) UpdateConditions(ctx context.Context, id string, in ConditionsInput) (*domain.StorageLocation, error) {
	if in.TemperatureRange == nil && in.HumidityRange == nil {
		return nil, errors.Validation(map[string]string{"conditions": "temperature_range or humidity_range is required"})
	}
	if in.TemperatureRange != nil && !in.TemperatureRange.Valid() {
		return nil, errors.Validation(map[string]string{"temperature_range": "unknown temperature range"})
	}
	if in.HumidityRange != nil && !in.HumidityRange.Valid() {
		return nil, errors.Validation(map[string]string{"humidity_range": "unknown humidity range"})
	}
	source := in.Source
	if source == "" {
		source = domain.SourceManual
	}
	if !source.Valid() {
		return nil, errors.Validation(map[string]string{"source": "must be one of: MANUAL SENSOR DEFAULT"})
	}

	loc, err := s.mutate(ctx, id, func(loc *domain.StorageLocation) error {
		temp, humidity := loc.TemperatureRange, loc.HumidityRange
		if in.TemperatureRange != nil {
			temp = *in.TemperatureRange
		}
		if in.HumidityRange != nil {
			humidity = *in.HumidityRange
		}
		if err := loc.SetConditions(temp, humidity, source, s.now()); err != nil {
			return errors.Validation(map[string]string{"conditions": err.Error()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("location_id", loc.ID).
		Str("temperature_range", string(loc.TemperatureRange)).
		Str("humidity_range", string(loc.HumidityRange)).
		Str("source", string(loc.ConditionsSource)).
		Float64("degradation_coefficient", loc.DegradationCoefficient).
		Msg("storage conditions updated")

	database.Defer(ctx, func(ctx context.Context) {
		s.events.ConditionsUpdated(ctx, loc)
	})
	return loc, nil
}

// UpdateStatus changes the operational status of a location
func (s *LocationService) UpdateStatus(ctx context.Context, id string, status domain.LocationStatus) (*domain.StorageLocation, error) {
	if !status.Valid() {
		return nil, errors.Validation(map[string]string{"status": "must be one of: ACTIVE INACTIVE MAINTENANCE"})
	}
	return s.mutate(ctx, id, func(loc *domain.StorageLocation) error {
		loc.Status = status
		return nil
	})
}

// AddZone appends a zone. The location coefficient is unaffected.
func (s *LocationService) AddZone(ctx context.Context, id string, in ZoneInput) (*domain.StorageLocation, error) {
	zone, err := newZone(in)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(loc *domain.StorageLocation) error {
		micro, err := domain.ComputeCoefficient(loc.Preset, zone.TemperatureRange, zone.HumidityRange)
		if err != nil {
			return errors.Validation(map[string]string{"zone": err.Error()})
		}
		zone.MicroCoefficient = micro
		loc.Zones = append(loc.Zones, zone)
		return nil
	})
}

// UpdateZone changes a zone in place
func (s *LocationService) UpdateZone(ctx context.Context, id, zoneID string, in ZonePatch) (*domain.StorageLocation, error) {
	return s.mutate(ctx, id, func(loc *domain.StorageLocation) error {
		i := loc.Zones.Find(zoneID)
		if i < 0 {
			return errors.NotFound("zone", zoneID)
		}
		z := loc.Zones[i]
		if in.Name != nil {
			z.Name = strings.TrimSpace(*in.Name)
		}
		if in.EquipmentType != nil {
			z.EquipmentType = *in.EquipmentType
		}
		if in.TemperatureRange != nil {
			z.TemperatureRange = *in.TemperatureRange
		}
		if in.HumidityRange != nil {
			z.HumidityRange = *in.HumidityRange
		}
		if in.Capacity != nil {
			z.Capacity = *in.Capacity
		}
		if in.UsedCapacity != nil {
			z.UsedCapacity = *in.UsedCapacity
		}
		if err := validateZone(&z); err != nil {
			return err
		}
		micro, err := domain.ComputeCoefficient(loc.Preset, z.TemperatureRange, z.HumidityRange)
		if err != nil {
			return errors.Validation(map[string]string{"zone": err.Error()})
		}
		z.MicroCoefficient = micro
		loc.Zones[i] = z
		return nil
	})
}

// RemoveZone deletes a zone
func (s *LocationService) RemoveZone(ctx context.Context, id, zoneID string) (*domain.StorageLocation, error) {
	return s.mutate(ctx, id, func(loc *domain.StorageLocation) error {
		i := loc.Zones.Find(zoneID)
		if i < 0 {
			return errors.NotFound("zone", zoneID)
		}
		loc.Zones = append(loc.Zones[:i], loc.Zones[i+1:]...)
		return nil
	})
}

// RecalculateDegradation recomputes and persists the coefficients from the
// stored conditions
func (s *LocationService) RecalculateDegradation(ctx context.Context, id string) (*domain.StorageLocation, error) {
	return s.mutate(ctx, id, recalculate)
}

// recalculate reports stored conditions the model cannot rate as a validation error
func recalculate(loc *domain.StorageLocation) error {
	if err := loc.Recalculate(); err != nil {
		return errors.Validation(map[string]string{"conditions": err.Error()})
	}
	return nil
}

// mutate reads the location, applies fn and writes it back under the version check
func (s *LocationService) mutate(ctx context.Context, id string, fn func(*domain.StorageLocation) error) (*domain.StorageLocation, error) {
	loc, err := s.locations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(loc); err != nil {
		return nil, err
	}
	loc.UpdatedAt = s.now()
	if err := s.locations.Update(ctx, loc); err != nil {
		return nil, err
	}
	return loc, nil
}

func newZone(in ZoneInput) (domain.Zone, error) {
	z := domain.Zone{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		EquipmentType:    in.EquipmentType,
		TemperatureRange: in.TemperatureRange,
		HumidityRange:    in.HumidityRange,
		Capacity:         in.Capacity,
		UsedCapacity:     in.UsedCapacity,
	}
	if z.TemperatureRange == "" {
		z.TemperatureRange = domain.TempRoom
	}
	if z.HumidityRange == "" {
		z.HumidityRange = domain.HumidityNormal
	}
	if err := validateZone(&z); err != nil {
		return domain.Zone{}, err
	}
	return z, nil
}

func validateZone(z *domain.Zone) error {
	details := map[string]string{}
	if z.Name == "" {
		details["name"] = "this field is required"
	}
	if !z.EquipmentType.Valid() {
		details["equipment_type"] = "unknown equipment type"
	}
	if !z.TemperatureRange.Valid() {
		details["temperature_range"] = "unknown temperature range"
	}
	if !z.HumidityRange.Valid() {
		details["humidity_range"] = "unknown humidity range"
	}
	if err := z.CheckCapacity(); err != nil {
		details["capacity"] = err.Error()
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// GetByID returns a location
func (s *LocationService) GetByID(ctx context.Context, id string) (*domain.StorageLocation, error) {
	return s.locations.GetByID(ctx, id)
}

// GetByShop returns the location of a shop
func (s *LocationService) GetByShop(ctx context.Context, sellerID, shopID string) (*domain.StorageLocation, error) {
	return s.locations.GetByRef(ctx, sellerID, domain.ShopLocation(shopID))
}

// GetByWarehouse returns the location of a warehouse
func (s *LocationService) GetByWarehouse(ctx context.Context, sellerID, warehouseID string) (*domain.StorageLocation, error) {
	return s.locations.GetByRef(ctx, sellerID, domain.WarehouseLocation(warehouseID))
}

// ListBySeller lists a page of a seller's locations
func (s *LocationService) ListBySeller(ctx context.Context, sellerID string, page, perPage int) ([]*domain.StorageLocation, int64, error) {
	page, perPage = normalizePage(page, perPage)
	return s.locations.ListBySeller(ctx, sellerID, page, perPage)
}

// Count returns the number of locations of a seller
func (s *LocationService) Count(ctx context.Context, sellerID string) (int64, error) {
	return s.locations.Count(ctx, sellerID)
}

// Presets lists the degradation presets
func (s *LocationService) Presets() []domain.Preset {
	names := domain.PresetNames()
	presets := make([]domain.Preset, 0, len(names))
	for _, name := range names {
		p, _ := domain.LookupPreset(name)
		presets = append(presets, p)
	}
	return presets
}

// CoefficientFor returns the degradation coefficient at a ledger location, or
// the ideal coefficient when the location has no storage record
func (s *LocationService) CoefficientFor(ctx context.Context, sellerID string, loc domain.Location) (float64, error) {
	l, err := s.locations.GetByRef(ctx, sellerID, loc)
	if errors.IsKind(err, errors.KindNotFound) {
		return domain.IdealCoefficient, nil
	}
	if err != nil {
		return 0, err
	}
	return l.DegradationCoefficient, nil
}
