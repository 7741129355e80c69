//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/couchcryptid/storm-asset-linker/internal/database"
	"github.com/couchcryptid/storm-asset-linker/internal/linker"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
)

var cdt = time.FixedZone("CDT", -5*3600)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startPostgres(ctx context.Context, t *testing.T) (string, testcontainers.Container) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres")

	host, _ := pg.Host(ctx)
	port, _ := pg.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	return dsn, pg
}

func startKafka(ctx context.Context, t *testing.T) (string, *tcKafka.KafkaContainer) {
	t.Helper()
	kc, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.6.0")
	require.NoError(t, err, "start kafka")

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err, "get brokers")
	return brokers[0], kc
}

// setupStore starts Postgres, runs migrations and registers cleanup.
func setupStore(ctx context.Context, t *testing.T) (*store.Store, string) {
	t.Helper()
	dsn, pg := startPostgres(ctx, t)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	require.NoError(t, database.RunMigrations(dsn))

	pool, err := database.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return store.New(pool, observability.NewTestMetrics()), dsn
}

func newLinker(t *testing.T) *linker.Linker {
	t.Helper()
	l, err := linker.New(
		linker.DistanceConfig{"Hurricane": 150, "Hail": 10, "Tornado": 5},
		linker.MasterCategories{"Hurricane": "Tropical Cyclone", "Hail": "Convective", "Tornado": "Convective"},
		2, discardLogger())
	require.NoError(t, err)
	return l
}

func augustAsset(id string, lat, lon float64) model.Asset {
	return model.Asset{
		ID:            id,
		Latitude:      lat,
		Longitude:     lon,
		DataStartedOn: time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC),
		DataEndedOn:   time.Date(2021, 8, 31, 23, 0, 0, 0, time.UTC),
		Attributes:    map[string]string{"site_name": "Bayou " + id},
	}
}

// mockEvents is a small catalog around southern Louisiana in August 2021.
// The two hail reports on consecutive days collapse into one cluster.
func mockEvents() []model.WeatherEvent {
	mag := 1.75
	return []model.WeatherEvent{
		{
			ID: "hurricane-ida", EventType: "Hurricane", State: "LOUISIANA",
			Begin: model.Geo{Lat: 30.05, Lon: -90.05}, End: model.Geo{Lat: 30.05, Lon: -90.05},
			StartTime:      time.Date(2021, 8, 29, 11, 0, 0, 0, cdt),
			EndTime:        time.Date(2021, 8, 30, 6, 0, 0, 0, cdt),
			DamageProperty: decimal.NewNullDecimal(decimal.RequireFromString("1500000000.00")),
		},
		{
			ID: "hail-1", EventType: "Hail", State: "LOUISIANA",
			Begin: model.Geo{Lat: 30.01, Lon: -90.01}, End: model.Geo{Lat: 30.01, Lon: -90.01},
			StartTime: time.Date(2021, 8, 10, 23, 30, 0, 0, cdt),
			EndTime:   time.Date(2021, 8, 10, 23, 45, 0, 0, cdt),
			Magnitude: &mag, MagnitudeType: "in",
		},
		{
			ID: "hail-2", EventType: "Hail", State: "LOUISIANA",
			Begin: model.Geo{Lat: 30.02, Lon: -90.02}, End: model.Geo{Lat: 30.02, Lon: -90.02},
			StartTime: time.Date(2021, 8, 11, 14, 0, 0, 0, cdt),
			EndTime:   time.Date(2021, 8, 11, 14, 10, 0, 0, cdt),
		},
		{
			ID: "tornado-far", EventType: "Tornado", State: "TEXAS",
			Begin: model.Geo{Lat: 32.75, Lon: -97.15}, End: model.Geo{Lat: 32.80, Lon: -97.10},
			StartTime: time.Date(2021, 8, 12, 16, 0, 0, 0, cdt),
			EndTime:   time.Date(2021, 8, 12, 16, 20, 0, 0, cdt),
		},
		{
			ID: "flood-unconfigured", EventType: "Flash Flood", State: "LOUISIANA",
			Begin: model.Geo{Lat: 30.0, Lon: -90.0}, End: model.Geo{Lat: 30.0, Lon: -90.0},
			StartTime: time.Date(2021, 8, 20, 9, 0, 0, 0, cdt),
			EndTime:   time.Date(2021, 8, 20, 12, 0, 0, 0, cdt),
		},
	}
}

type staticAssets []model.Asset

func (s staticAssets) Assets(context.Context) ([]model.Asset, []model.AssetFailure, error) {
	return s, nil, nil
}
