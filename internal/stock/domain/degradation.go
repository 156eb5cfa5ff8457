package domain

import (
	"fmt"
	"math"
	"sort"
)

// Coefficient bounds. 1.0 is the reference (ideal) rate of shelf-life consumption.
const (
	MinCoefficient   = 0.5
	MaxCoefficient   = 3.0
	IdealCoefficient = 1.0
)

// TemperatureRange is a coarse ambient temperature band
type TemperatureRange string

const (
	TempFreezer TemperatureRange = "FREEZER"
	TempCold    TemperatureRange = "COLD"
	TempCool    TemperatureRange = "COOL"
	TempRoom    TemperatureRange = "ROOM"
	TempWarm    TemperatureRange = "WARM"
)

// Midpoint returns the representative temperature in °C
func (r TemperatureRange) Midpoint() (float64, bool) {
	switch r {
	case TempFreezer:
		return -18, true
	case TempCold:
		return 2, true
	case TempCool:
		return 12, true
	case TempRoom:
		return 20, true
	case TempWarm:
		return 30, true
	}
	return 0, false
}

// Valid reports whether r is a known band
func (r TemperatureRange) Valid() bool {
	_, ok := r.Midpoint()
	return ok
}

// HumidityRange is a coarse relative humidity band
type HumidityRange string

const (
	HumidityDry       HumidityRange = "DRY"
	HumidityNormal    HumidityRange = "NORMAL"
	HumidityHumid     HumidityRange = "HUMID"
	HumidityVeryHumid HumidityRange = "VERY_HUMID"
)

// Midpoint returns the representative relative humidity in percent
func (r HumidityRange) Midpoint() (float64, bool) {
	switch r {
	case HumidityDry:
		return 40, true
	case HumidityNormal:
		return 60, true
	case HumidityHumid:
		return 80, true
	case HumidityVeryHumid:
		return 95, true
	}
	return 0, false
}

// Valid reports whether r is a known band
func (r HumidityRange) Valid() bool {
	_, ok := r.Midpoint()
	return ok
}

// Preset parameterises the degradation model for a product category.
//
//	coef = Q10^((T - ReferenceTemp)/10) * (1 + HumidityWeight*|H - ReferenceHumidity|)
//
// Q10 must be greater than 1 so the coefficient never grows as temperature drops.
type Preset struct {
	Name              string  `json:"name"`
	ReferenceTemp     float64 `json:"reference_temp"`
	Q10               float64 `json:"q10"`
	ReferenceHumidity float64 `json:"reference_humidity"`
	HumidityWeight    float64 `json:"humidity_weight"`
}

// DefaultPreset is used when a location names no preset
const DefaultPreset = "GENERIC"

var presets = map[string]Preset{
	"GENERIC": {Name: "GENERIC", ReferenceTemp: 2, Q10: 2.0, ReferenceHumidity: 60, HumidityWeight: 0.005},
	"DAIRY":   {Name: "DAIRY", ReferenceTemp: 2, Q10: 2.5, ReferenceHumidity: 60, HumidityWeight: 0.004},
	"MEAT":    {Name: "MEAT", ReferenceTemp: 0, Q10: 3.0, ReferenceHumidity: 70, HumidityWeight: 0.004},
	"PRODUCE": {Name: "PRODUCE", ReferenceTemp: 4, Q10: 2.0, ReferenceHumidity: 90, HumidityWeight: 0.008},
	"BAKERY":  {Name: "BAKERY", ReferenceTemp: 20, Q10: 1.5, ReferenceHumidity: 50, HumidityWeight: 0.01},
	"FROZEN":  {Name: "FROZEN", ReferenceTemp: -18, Q10: 2.0, ReferenceHumidity: 60, HumidityWeight: 0.002},
}

// LookupPreset returns the named preset
func LookupPreset(name string) (Preset, bool) {
	if name == "" {
		name = DefaultPreset
	}
	p, ok := presets[name]
	return p, ok
}

// RegisterPreset adds or replaces a preset. Call during startup only.
func RegisterPreset(p Preset) {
	presets[p.Name] = p
}

// PresetNames lists the registered presets in name order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Coefficient computes the degradation coefficient for the given conditions.
// It reports false when either band is not one of the known ranges.
func (p Preset) Coefficient(temp TemperatureRange, humidity HumidityRange) (float64, bool) {
	t, ok := temp.Midpoint()
	if !ok {
		return 0, false
	}
	h, ok := humidity.Midpoint()
	if !ok {
		return 0, false
	}

	coef := math.Pow(p.Q10, (t-p.ReferenceTemp)/10) * (1 + p.HumidityWeight*math.Abs(h-p.ReferenceHumidity))
	return ClampCoefficient(coef), true
}

// ClampCoefficient bounds c to [MinCoefficient, MaxCoefficient] and rounds to 2 decimals
func ClampCoefficient(c float64) float64 {
	c = math.Max(MinCoefficient, math.Min(MaxCoefficient, c))
	return math.Round(c*100) / 100
}

// ComputeCoefficient resolves the preset by name and computes the coefficient.
// An empty name selects DefaultPreset.
func ComputeCoefficient(presetName string, temp TemperatureRange, humidity HumidityRange) (float64, error) {
	p, ok := LookupPreset(presetName)
	if !ok {
		return 0, fmt.Errorf("unknown preset %q", presetName)
	}
	c, ok := p.Coefficient(temp, humidity)
	if !ok {
		return 0, fmt.Errorf("unknown conditions %q/%q", temp, humidity)
	}
	return c, nil
}
