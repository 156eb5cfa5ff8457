package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LocationStatus is the operational state of a storage location
type LocationStatus string

const (
	LocationActive      LocationStatus = "ACTIVE"
	LocationInactive    LocationStatus = "INACTIVE"
	LocationMaintenance LocationStatus = "MAINTENANCE"
)

// Valid reports whether s is a known location status
func (s LocationStatus) Valid() bool {
	switch s {
	case LocationActive, LocationInactive, LocationMaintenance:
		return true
	}
	return false
}

// ConditionsSource records who last set a location's conditions
type ConditionsSource string

const (
	SourceManual  ConditionsSource = "MANUAL"
	SourceSensor  ConditionsSource = "SENSOR"
	SourceDefault ConditionsSource = "DEFAULT"
)

// Valid reports whether s is a known source
func (s ConditionsSource) Valid() bool {
	switch s {
	case SourceManual, SourceSensor, SourceDefault:
		return true
	}
	return false
}

// EquipmentType is the kind of fixture a zone represents
type EquipmentType string

const (
	EquipmentShelf        EquipmentType = "SHELF"
	EquipmentRefrigerator EquipmentType = "REFRIGERATOR"
	EquipmentFreezer      EquipmentType = "FREEZER"
	EquipmentDisplayCase  EquipmentType = "DISPLAY_CASE"
	EquipmentColdRoom     EquipmentType = "COLD_ROOM"
	EquipmentDryStorage   EquipmentType = "DRY_STORAGE"
)

// Valid reports whether t is a known equipment type
func (t EquipmentType) Valid() bool {
	switch t {
	case EquipmentShelf, EquipmentRefrigerator, EquipmentFreezer,
		EquipmentDisplayCase, EquipmentColdRoom, EquipmentDryStorage:
		return true
	}
	return false
}

// Zone is a sub-area of a location with its own micro-conditions.
// Zone conditions never affect the location coefficient.
type Zone struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	EquipmentType    EquipmentType    `json:"equipment_type"`
	TemperatureRange TemperatureRange `json:"temperature_range"`
	HumidityRange    HumidityRange    `json:"humidity_range"`
	Capacity         decimal.Decimal  `json:"capacity"`
	UsedCapacity     decimal.Decimal  `json:"used_capacity"`
	MicroCoefficient float64          `json:"micro_coefficient"`
}

// CheckCapacity validates 0 <= used <= capacity
func (z *Zone) CheckCapacity() error {
	if z.Capacity.IsNegative() {
		return fmt.Errorf("capacity must not be negative")
	}
	if z.UsedCapacity.IsNegative() {
		return fmt.Errorf("used capacity must not be negative")
	}
	if z.UsedCapacity.GreaterThan(z.Capacity) {
		return fmt.Errorf("used capacity %s exceeds capacity %s", z.UsedCapacity, z.Capacity)
	}
	return nil
}

// Zones is stored as a JSONB column
type Zones []Zone

// Value implements driver.Valuer
func (z Zones) Value() (driver.Value, error) {
	if z == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(z)
}

// Scan implements sql.Scanner
func (z *Zones) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*z = Zones{}
		return nil
	case []byte:
		return json.Unmarshal(v, z)
	case string:
		return json.Unmarshal([]byte(v), z)
	}
	return fmt.Errorf("zones: unsupported scan type %T", src)
}

// Find returns the index of the zone with the given id, or -1
func (z Zones) Find(id string) int {
	for i := range z {
		if z[i].ID == id {
			return i
		}
	}
	return -1
}

// StorageLocation is the physical context of a shop or warehouse.
// DegradationCoefficient is a pure function of the conditions and preset.
type StorageLocation struct {
	ID                     string           `db:"id" json:"id"`
	SellerID               string           `db:"seller_id" json:"seller_id"`
	LocationType           LocationType     `db:"location_type" json:"location_type"`
	LocationRef            string           `db:"location_ref" json:"location_ref"`
	Name                   string           `db:"name" json:"name"`
	Status                 LocationStatus   `db:"status" json:"status"`
	Preset                 string           `db:"preset" json:"preset"`
	TemperatureRange       TemperatureRange `db:"temperature_range" json:"temperature_range"`
	HumidityRange          HumidityRange    `db:"humidity_range" json:"humidity_range"`
	ConditionsSource       ConditionsSource `db:"conditions_source" json:"conditions_source"`
	ConditionsUpdatedAt    *time.Time       `db:"conditions_updated_at" json:"conditions_updated_at,omitempty"`
	DegradationCoefficient float64          `db:"degradation_coefficient" json:"degradation_coefficient"`
	Zones                  Zones            `db:"zones" json:"zones"`
	Version                int              `db:"version" json:"version"`
	CreatedAt              time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time        `db:"updated_at" json:"updated_at"`
}

// Location returns the ledger address of this storage location
func (l *StorageLocation) Location() Location {
	return Location{Type: l.LocationType, ID: l.LocationRef}
}

// Recalculate recomputes the location and zone coefficients from the current
// conditions. Nothing is changed when any band or the preset is unknown.
func (l *StorageLocation) Recalculate() error {
	coef, err := ComputeCoefficient(l.Preset, l.TemperatureRange, l.HumidityRange)
	if err != nil {
		return err
	}
	micro := make([]float64, len(l.Zones))
	for i, z := range l.Zones {
		if micro[i], err = ComputeCoefficient(l.Preset, z.TemperatureRange, z.HumidityRange); err != nil {
			return fmt.Errorf("zone %s: %w", z.ID, err)
		}
	}

	l.DegradationCoefficient = coef
	for i := range l.Zones {
		l.Zones[i].MicroCoefficient = micro[i]
	}
	return nil
}

// SetConditions writes conditions and recomputes the coefficient in one step
func (l *StorageLocation) SetConditions(temp TemperatureRange, humidity HumidityRange, source ConditionsSource, at time.Time) error {
	if _, ok := temp.Midpoint(); !ok {
		return fmt.Errorf("unknown temperature range %q", temp)
	}
	if _, ok := humidity.Midpoint(); !ok {
		return fmt.Errorf("unknown humidity range %q", humidity)
	}
	l.TemperatureRange = temp
	l.HumidityRange = humidity
	l.ConditionsSource = source
	l.ConditionsUpdatedAt = &at
	return l.Recalculate()
}
