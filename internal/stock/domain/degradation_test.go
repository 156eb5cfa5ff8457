package domain_test

import (
	"testing"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var coolingOrder = []domain.TemperatureRange{
	domain.TempWarm, domain.TempRoom, domain.TempCool, domain.TempCold, domain.TempFreezer,
}

func coefficient(t *testing.T, preset string, temp domain.TemperatureRange, h domain.HumidityRange) float64 {
	t.Helper()
	c, err := domain.ComputeCoefficient(preset, temp, h)
	require.NoError(t, err)
	return c
}

func TestCoefficient_MonotonicInTemperature(t *testing.T) {
	humidities := []domain.HumidityRange{
		domain.HumidityDry, domain.HumidityNormal, domain.HumidityHumid, domain.HumidityVeryHumid,
	}

	for _, name := range domain.PresetNames() {
		for _, h := range humidities {
			prev := domain.MaxCoefficient + 1
			for _, temp := range coolingOrder {
				c := coefficient(t, name, temp, h)
				assert.LessOrEqual(t, c, prev, "preset=%s humidity=%s temp=%s", name, h, temp)
				prev = c
			}
		}
	}
}

func TestCoefficient_Bounds(t *testing.T) {
	for _, name := range domain.PresetNames() {
		for _, temp := range coolingOrder {
			c := coefficient(t, name, temp, domain.HumidityVeryHumid)
			assert.GreaterOrEqual(t, c, domain.MinCoefficient)
			assert.LessOrEqual(t, c, domain.MaxCoefficient)
		}
	}
}

func TestCoefficient_ReferenceConditions(t *testing.T) {
	assert.Equal(t, 1.0, coefficient(t, "GENERIC", domain.TempCold, domain.HumidityNormal))
	assert.Equal(t, 1.0, coefficient(t, "", domain.TempCold, domain.HumidityNormal))
	assert.Equal(t, 3.0, coefficient(t, "GENERIC", domain.TempWarm, domain.HumidityNormal))
	assert.Equal(t, 0.5, coefficient(t, "GENERIC", domain.TempFreezer, domain.HumidityNormal))
	assert.Equal(t, 1.1, coefficient(t, "BAKERY", domain.TempRoom, domain.HumidityDry))
}

func TestCoefficient_UnknownBandsAreRejected(t *testing.T) {
	dairy, ok := domain.LookupPreset("DAIRY")
	require.True(t, ok)

	_, ok = dairy.Coefficient("", domain.HumidityNormal)
	assert.False(t, ok)
	_, ok = dairy.Coefficient(domain.TempRoom, "SOGGY")
	assert.False(t, ok)
	c, ok := dairy.Coefficient(domain.TempCold, domain.HumidityNormal)
	assert.True(t, ok)
	assert.Equal(t, 1.0, c)

	_, err := domain.ComputeCoefficient("DAIRY", "LAVA", domain.HumidityNormal)
	assert.Error(t, err)
	_, err = domain.ComputeCoefficient("VOLCANIC", domain.TempRoom, domain.HumidityNormal)
	assert.Error(t, err)
}

func TestLookupPreset(t *testing.T) {
	p, ok := domain.LookupPreset("")
	require.True(t, ok)
	assert.Equal(t, domain.DefaultPreset, p.Name)

	_, ok = domain.LookupPreset("VOLCANIC")
	assert.False(t, ok)

	for _, name := range domain.PresetNames() {
		p, _ := domain.LookupPreset(name)
		assert.Greater(t, p.Q10, 1.0, name)
	}
}

func TestStorageLocation_Recalculate(t *testing.T) {
	loc := &domain.StorageLocation{
		Preset: "GENERIC",
		Zones: domain.Zones{
			{ID: "z1", TemperatureRange: domain.TempFreezer, HumidityRange: domain.HumidityNormal},
		},
	}

	require.NoError(t, loc.SetConditions(domain.TempCold, domain.HumidityNormal, domain.SourceSensor, now))

	assert.Equal(t, 1.0, loc.DegradationCoefficient)
	assert.Equal(t, 0.5, loc.Zones[0].MicroCoefficient)
	assert.Equal(t, domain.SourceSensor, loc.ConditionsSource)
	require.NotNil(t, loc.ConditionsUpdatedAt)
}

func TestStorageLocation_UnknownZoneBandLeavesCoefficientsAlone(t *testing.T) {
	loc := &domain.StorageLocation{
		Preset:                 "GENERIC",
		TemperatureRange:       domain.TempCold,
		HumidityRange:          domain.HumidityNormal,
		DegradationCoefficient: 2.0,
		Zones: domain.Zones{
			{ID: "z1", TemperatureRange: "TROPICAL", HumidityRange: domain.HumidityNormal},
		},
	}

	err := loc.Recalculate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "z1")
	assert.Equal(t, 2.0, loc.DegradationCoefficient)

	err = loc.SetConditions("TROPICAL", domain.HumidityNormal, domain.SourceSensor, now)
	require.Error(t, err)
	assert.Equal(t, domain.TempCold, loc.TemperatureRange)
	assert.Nil(t, loc.ConditionsUpdatedAt)
}

func TestZones_Scan(t *testing.T) {
	var z domain.Zones
	require.NoError(t, z.Scan([]byte(`[{"id":"a","name":"Fridge","equipment_type":"REFRIGERATOR","capacity":"10","used_capacity":"2"}]`)))
	require.Len(t, z, 1)
	assert.Equal(t, 0, z.Find("a"))
	assert.Equal(t, -1, z.Find("b"))
	assert.NoError(t, z[0].CheckCapacity())

	z[0].UsedCapacity = dec(11)
	assert.Error(t, z[0].CheckCapacity())

	require.NoError(t, z.Scan(nil))
	assert.Empty(t, z)
}
