package linker_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/linker"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var cdt = time.FixedZone("CDT", -5*3600)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDistances() linker.DistanceConfig {
	return linker.DistanceConfig{
		"Hurricane":         150,
		"Tropical Storm":    150,
		"Thunderstorm Wind": 20,
		"Hail":              10,
		"Flash Flood":       30,
		"Tornado":           5,
	}
}

func testCategories() linker.MasterCategories {
	return linker.MasterCategories{
		"Hurricane":         "Tropical Cyclone",
		"Tropical Storm":    "Tropical Cyclone",
		"Thunderstorm Wind": "Convective",
		"Hail":              "Convective",
		"Tornado":           "Convective",
		"Flash Flood":       "Flood",
	}
}

func newTestLinker(t *testing.T) *linker.Linker {
	t.Helper()
	l, err := linker.New(testDistances(), testCategories(), 4, discardLogger())
	require.NoError(t, err)
	return l
}

func augustAsset() model.Asset {
	return model.Asset{
		ID:            "1199",
		Latitude:      30.0,
		Longitude:     -90.0,
		DataStartedOn: time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC),
		DataEndedOn:   time.Date(2021, 8, 31, 23, 0, 0, 0, time.UTC),
		Attributes:    map[string]string{"site_name": "Bayou Solar"},
	}
}

func event(id, eventType string, at model.Geo, start, end time.Time) model.WeatherEvent {
	return model.WeatherEvent{
		ID:        id,
		EventType: eventType,
		State:     "LOUISIANA",
		Begin:     at,
		End:       at,
		StartTime: start,
		EndTime:   end,
	}
}

func onDay(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, cdt)
}

func candidate(ev model.WeatherEvent, km float64) model.CandidateMatch {
	return model.CandidateMatch{
		Event:             ev,
		DistanceToStartKm: km,
		DistanceToEndKm:   km,
		MinDistanceKm:     km,
	}
}

func ptr(f float64) *float64 { return &f }

func money(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}
