package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCivilDate_UsesOwnZone(t *testing.T) {
	cdt := time.FixedZone("CDT", -5*3600)
	late := time.Date(2021, 8, 15, 22, 30, 0, 0, cdt)

	assert.Equal(t, time.Date(2021, 8, 15, 0, 0, 0, 0, time.UTC), model.CivilDate(late))
	assert.Equal(t, time.Date(2021, 8, 16, 0, 0, 0, 0, time.UTC), model.CivilDate(late.UTC()))
}

func TestDaysBetween(t *testing.T) {
	start := time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC)
	event := time.Date(2021, 8, 15, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, 14, model.DaysBetween(start, event))
	assert.Equal(t, -14, model.DaysBetween(event, start))
	assert.Equal(t, 0, model.DaysBetween(event, event))
}

func TestWeatherEventJSON_NullableFields(t *testing.T) {
	mag := 2.5
	e := model.WeatherEvent{
		ID:             "hail-1",
		EventType:      "Hail",
		StartTime:      time.Date(2021, 6, 1, 14, 0, 0, 0, time.FixedZone("CST", -6*3600)),
		EndTime:        time.Date(2021, 6, 1, 14, 5, 0, 0, time.FixedZone("CST", -6*3600)),
		Magnitude:      &mag,
		DamageProperty: decimal.NewNullDecimal(decimal.NewFromInt(25000)),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"damage_crops":null`)

	var got model.WeatherEvent
	require.NoError(t, json.Unmarshal(data, &got))
	require.NotNil(t, got.Magnitude)
	assert.InDelta(t, 2.5, *got.Magnitude, 1e-9)
	assert.True(t, got.DamageProperty.Valid)
	assert.True(t, got.DamageProperty.Decimal.Equal(decimal.NewFromInt(25000)))
	assert.False(t, got.DamageCrops.Valid)
	assert.Equal(t, e.StartDate(), got.StartDate(), "offset must survive so the civil date is stable")
}
