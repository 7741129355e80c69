//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-asset-linker/internal/database"
	"github.com/couchcryptid/storm-asset-linker/internal/kafka"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
	"github.com/couchcryptid/storm-asset-linker/internal/server"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
)

const testKafkaTopic = "weather-events"

func TestStoreEventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(ctx, t)

	events := mockEvents()
	n, err := s.InsertWeatherEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, len(events), n)

	// Re-ingesting is a no-op
	n, err = s.InsertWeatherEvents(ctx, events[:2])
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := s.CountWeatherEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(events), count)

	last, err := s.LastIngested(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)

	all, err := s.LoadWeatherEvents(ctx, &store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, len(events))

	byID := map[string]model.WeatherEvent{}
	for _, e := range all {
		byID[e.ID] = e
	}
	hail := byID["hail-1"]
	assert.True(t, hail.StartTime.Equal(events[1].StartTime))
	assert.Equal(t, 10, hail.StartTime.Day(), "late-evening CDT start keeps its civil date")
	_, off := hail.StartTime.Zone()
	assert.Equal(t, -5*3600, off)
	require.NotNil(t, hail.Magnitude)
	assert.InDelta(t, 1.75, *hail.Magnitude, 1e-9)

	ida := byID["hurricane-ida"]
	require.True(t, ida.DamageProperty.Valid)
	assert.Equal(t, "1500000000", ida.DamageProperty.Decimal.String())
	assert.False(t, ida.DamageCrops.Valid)
}

func TestStoreEventQuery(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(ctx, t)
	_, err := s.InsertWeatherEvents(ctx, mockEvents())
	require.NoError(t, err)

	box := store.BBox{MinLat: 29.5, MaxLat: 30.5, MinLon: -90.5, MaxLon: -89.5}
	since := time.Date(2021, 8, 11, 0, 0, 0, 0, time.UTC)
	got, err := s.LoadWeatherEvents(ctx, &store.EventQuery{
		EventTypes: []string{"Hail", "Hurricane", "Tornado"},
		Since:      &since,
		Near:       &box,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	// hail-1 ends at 04:45 UTC on the 11th, so it still overlaps
	assert.Equal(t, []string{"hail-1", "hail-2", "hurricane-ida"}, ids)
}

func TestRunPersistence(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(ctx, t)
	_, err := s.InsertWeatherEvents(ctx, mockEvents())
	require.NoError(t, err)

	runner := pipeline.New(pipeline.Options{
		Linker:    newLinker(t),
		Assets:    staticAssets{augustAsset("1199", 30.0, -90.0), augustAsset("2001", 45.0, -120.0)},
		Events:    s,
		Store:     s,
		OutputDir: t.TempDir(),
		Metrics:   observability.NewTestMetrics(),
		Logger:    discardLogger(),
	})
	out, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, out.Report.LinkageCount)
	assert.Equal(t, 4, out.Report.EventCount, "unconfigured types are filtered in the query")

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, out.Report.RunID, latest.RunID)
	assert.Equal(t, 2, latest.AssetCount)
	assert.NotNil(t, latest.Skipped)

	missing, err := s.GetRun(ctx, "00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, total, err := s.ListLinkages(ctx, &store.LinkageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 2)

	hail := rows[0]
	assert.Equal(t, "hail-1", hail.Event.ID)
	assert.Equal(t, "Convective", hail.Event.MasterCategory)
	assert.Equal(t, []string{"hail-1", "hail-2"}, hail.Event.MemberIDs)
	assert.Equal(t, 0, hail.Event.ClusterID)
	assert.Equal(t, "Bayou 1199", hail.Attributes["site_name"])
	assert.Equal(t, 9, hail.DaysBeforeEvent)
	assert.Equal(t, 10, hail.Event.StartTime.Day())
	assert.True(t, hail.Event.EndTime.Equal(time.Date(2021, 8, 11, 14, 10, 0, 0, cdt)))

	ida := rows[1]
	assert.Equal(t, "hurricane-ida", ida.Event.ID)
	assert.Equal(t, 1, ida.Event.ClusterID)
	assert.True(t, ida.Event.DamageProperty.Valid)

	paged, total, err := s.ListLinkages(ctx, &store.LinkageFilter{RunID: out.Report.RunID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, paged, 1)
	assert.Equal(t, "hurricane-ida", paged[0].Event.ID)

	filtered, _, err := s.ListLinkages(ctx, &store.LinkageFilter{MasterCategory: "Tropical Cyclone"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	summary, err := s.Summarize(ctx, out.Report.RunID)
	require.NoError(t, err)
	require.Len(t, summary.ByMasterCategory, 2)
	assert.Equal(t, "Convective", summary.ByMasterCategory[0].Key)
	require.NotNil(t, summary.ByMasterCategory[0].MaxMagnitude)
	assert.InDelta(t, 1.75, *summary.ByMasterCategory[0].MaxMagnitude, 1e-9)
	assert.Len(t, summary.ByEventType, 2)
	assert.Empty(t, summary.ByRatioStatus)
}

func TestAPIOverStore(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(ctx, t)
	_, err := s.InsertWeatherEvents(ctx, mockEvents())
	require.NoError(t, err)

	runner := pipeline.New(pipeline.Options{
		Linker:  newLinker(t),
		Assets:  staticAssets{augustAsset("1199", 30.0, -90.0)},
		Events:  s,
		Store:   s,
		Metrics: observability.NewTestMetrics(),
		Logger:  discardLogger(),
	})
	out, err := runner.Run(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(ctx, server.Deps{
		Store:         s,
		Readiness:     readyAlways{},
		Metrics:       observability.NewTestMetrics(),
		Logger:        discardLogger(),
		MaxConcurrent: 2,
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/runs/latest")
	require.NoError(t, err)
	var run model.RunReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	_ = resp.Body.Close()
	assert.Equal(t, out.Report.RunID, run.RunID)

	resp, err = http.Get(srv.URL + "/api/v1/linkages.csv?event_type=Hail")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "hail-1;hail-2")

	resp, err = http.Get(srv.URL + "/api/v1/runs/" + out.Report.RunID + "/summary")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

type readyAlways struct{}

func (readyAlways) CheckReadiness(context.Context) error { return nil }

func TestMigrationsRollback(t *testing.T) {
	ctx := context.Background()
	dsn, pg := startPostgres(ctx, t)
	defer func() { _ = pg.Terminate(ctx) }()

	require.NoError(t, database.RunMigrations(dsn))
	pool, err := database.NewPool(ctx, dsn, 2)
	require.NoError(t, err)
	defer pool.Close()
	ready := database.NewPoolReadiness(pool)
	require.NoError(t, ready.CheckReadiness(ctx))

	require.NoError(t, database.RollbackMigrations(dsn, 2))
	assert.ErrorContains(t, ready.CheckReadiness(ctx), "schema not migrated")

	require.NoError(t, database.RunMigrations(dsn))
	assert.NoError(t, ready.CheckReadiness(ctx))
}

func TestKafkaPublishAndConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	s, _ := setupStore(ctx, t)
	broker, kc := startKafka(ctx, t)
	defer func() { _ = kc.Terminate(ctx) }()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial kafka")
	err = conn.CreateTopics(kafkago.TopicConfig{
		Topic:             testKafkaTopic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	conn.Close()
	require.NoError(t, err, "create topic")

	metrics := observability.NewTestMetrics()
	pub := kafka.NewPublisher([]string{broker}, testKafkaTopic, 10, metrics)
	events := mockEvents()
	require.NoError(t, pub.Publish(ctx, events))
	require.NoError(t, pub.Close())

	// A poison message must be skipped, not block the partition
	raw := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testKafkaTopic}
	require.NoError(t, raw.WriteMessages(ctx, kafkago.Message{Value: []byte(`{"id":""}`)}))
	require.NoError(t, raw.Close())

	consumer := kafka.NewBatchConsumer([]string{broker}, testKafkaTopic, "test-group",
		10, 500*time.Millisecond, s, metrics, discardLogger())
	defer consumer.Close()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		n, err := s.CountWeatherEvents(ctx)
		return err == nil && n == len(events)
	}, 60*time.Second, 250*time.Millisecond)

	stop()
	require.NoError(t, <-done)

	loaded, err := s.LoadWeatherEvents(ctx, &store.EventQuery{EventTypes: []string{"Hail"}})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 10, loaded[0].StartTime.Day())
}
