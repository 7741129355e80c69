package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-asset-linker/internal/export"
	"github.com/couchcryptid/storm-asset-linker/internal/linker"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
	"github.com/couchcryptid/storm-asset-linker/internal/timeseries"
)

// ─── Stubs ──────────────────────────────────────────────────

type stubAssets struct {
	assets  []model.Asset
	skipped []model.AssetFailure
	err     error
}

func (s *stubAssets) Assets(context.Context) ([]model.Asset, []model.AssetFailure, error) {
	return s.assets, s.skipped, s.err
}

type stubEvents struct {
	events []model.WeatherEvent
	err    error
	query  *store.EventQuery
}

func (s *stubEvents) LoadWeatherEvents(_ context.Context, q *store.EventQuery) ([]model.WeatherEvent, error) {
	s.query = q
	return s.events, s.err
}

type stubSeries struct {
	mu     sync.Mutex
	series map[string]*timeseries.Series
	calls  []string
}

func (s *stubSeries) Load(_ context.Context, assetID string) (*timeseries.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, assetID)
	if ts, ok := s.series[assetID]; ok {
		return ts, nil
	}
	return nil, &timeseries.UpstreamIOError{AssetID: assetID, Err: timeseries.ErrNotFound}
}

type stubStore struct {
	report   *model.RunReport
	linkages []model.Linkage
	ratios   []model.PerformanceRatio
	err      error
}

func (s *stubStore) SaveRun(_ context.Context, r *model.RunReport, l []model.Linkage, p []model.PerformanceRatio) error {
	if s.err != nil {
		return s.err
	}
	s.report, s.linkages, s.ratios = r, l, p
	return nil
}

// ─── Fixtures ───────────────────────────────────────────────

var cdt = time.FixedZone("CDT", -5*3600)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLinker(t *testing.T) *linker.Linker {
	t.Helper()
	l, err := linker.New(
		linker.DistanceConfig{"Hurricane": 150, "Hail": 10},
		linker.MasterCategories{"Hurricane": "Tropical Cyclone", "Hail": "Convective"},
		2, discardLogger())
	require.NoError(t, err)
	return l
}

func asset(id string, lat, lon float64) model.Asset {
	return model.Asset{
		ID:            id,
		Latitude:      lat,
		Longitude:     lon,
		DataStartedOn: time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC),
		DataEndedOn:   time.Date(2021, 8, 31, 23, 0, 0, 0, time.UTC),
	}
}

func hurricane() model.WeatherEvent {
	return model.WeatherEvent{
		ID:        "hurricane-ida",
		EventType: "Hurricane",
		Begin:     model.Geo{Lat: 30.05, Lon: -90.05},
		End:       model.Geo{Lat: 30.05, Lon: -90.05},
		StartTime: time.Date(2021, 8, 15, 11, 0, 0, 0, cdt),
		EndTime:   time.Date(2021, 8, 16, 6, 0, 0, 0, cdt),
	}
}

// flatAugust has one reading of 1.0 per hour for all of August 2021.
func flatAugust() *timeseries.Series {
	s := &timeseries.Series{Streams: map[string][]float64{"ac_power_inv1": nil}}
	for ts := time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC); ts.Month() == time.August; ts = ts.Add(time.Hour) {
		s.Timestamps = append(s.Timestamps, ts)
		s.Streams["ac_power_inv1"] = append(s.Streams["ac_power_inv1"], 1)
	}
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.Linker == nil {
		opts.Linker = testLinker(t)
	}
	opts.Metrics = observability.NewTestMetrics()
	opts.Logger = discardLogger()
	r := New(opts)
	r.SetClock(clockwork.NewFakeClockAt(t0))
	return r
}

// ─── Tests ──────────────────────────────────────────────────

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	st := &stubStore{}
	series := &stubSeries{series: map[string]*timeseries.Series{"1001": flatAugust()}}
	r := newTestRunner(t, Options{
		Assets: &stubAssets{
			assets:  []model.Asset{asset("1001", 30.0, -90.0), asset("1002", 30.1, -90.1), asset("9999", 45, -120)},
			skipped: []model.AssetFailure{{AssetID: "line 5", Stage: linker.StageValidate, Reason: "malformed"}},
		},
		Events:       &stubEvents{events: []model.WeatherEvent{hurricane()}},
		Series:       series,
		Store:        st,
		OutputDir:    dir,
		DayWindow:    3,
		FetchWorkers: 2,
	})

	out, err := r.Run(context.Background())
	require.NoError(t, err)

	rep := out.Report
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, t0, rep.StartedAt)
	assert.Equal(t, 4, rep.AssetCount)
	assert.Equal(t, 1, rep.EventCount)
	assert.Equal(t, 2, rep.LinkageCount, "assets 1001 and 1002 are inside the hurricane radius")
	require.Len(t, rep.Skipped, 1)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "1002", rep.Failed[0].AssetID)
	assert.Equal(t, StageTimeseries, rep.Failed[0].Stage)

	require.Len(t, out.Ratios, 1)
	ratio := out.Ratios[0]
	assert.Equal(t, model.BaselineOK, ratio.BaselineStatus)
	assert.InDelta(t, 48.0, ratio.WindowSum, 1e-9)
	require.NotNil(t, ratio.PctMedianOutput)
	assert.InDelta(t, 2.0, *ratio.PctMedianOutput, 1e-9)
	assert.Equal(t, 1, rep.RatioCount)

	require.NotNil(t, st.report)
	assert.Equal(t, rep.RunID, st.report.RunID)
	assert.Len(t, st.linkages, 2)
	assert.Len(t, st.ratios, 1)

	for _, name := range []string{export.LinkageFile, export.PerformanceFile, filepath.Join("windows", "1001_weather_events.csv")} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(dir, "windows", "1002_weather_events.csv"))
	assert.True(t, os.IsNotExist(err))

	processed := r.opts.Metrics.AssetsProcessed
	assert.InDelta(t, 3, testutil.ToFloat64(processed.WithLabelValues("linked")), 0, "a series failure does not unlink an asset")
	assert.InDelta(t, 1, testutil.ToFloat64(processed.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(processed.WithLabelValues("skipped")), 0)
}

func TestRun_NoMatchingStreamsRecordsFailure(t *testing.T) {
	seriesDir := t.TempDir()
	csv := "measured_on,poa_irradiance\n2021-08-15 10:00:00,800\n2021-08-15 11:00:00,700\n"
	require.NoError(t, os.WriteFile(filepath.Join(seriesDir, timeseries.ObjectKey("1001")), []byte(csv), 0o644))

	r := newTestRunner(t, Options{
		Assets:       &stubAssets{assets: []model.Asset{asset("1001", 30.0, -90.0)}},
		Events:       &stubEvents{events: []model.WeatherEvent{hurricane()}},
		Series:       timeseries.NewLoader(timeseries.NewDirSource(seriesDir), ""),
		FetchWorkers: 1,
	})

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Report.LinkageCount)
	assert.Empty(t, out.Ratios)
	require.Len(t, out.Report.Failed, 1)
	assert.Equal(t, "1001", out.Report.Failed[0].AssetID)
	assert.Equal(t, StageTimeseries, out.Report.Failed[0].Stage)
	assert.Contains(t, out.Report.Failed[0].Reason, timeseries.ErrNoStreams.Error())
	assert.InDelta(t, 1, testutil.ToFloat64(r.opts.Metrics.AssetsProcessed.WithLabelValues("linked")), 0)
}

func TestRun_EmptySeriesRecordsFailure(t *testing.T) {
	empty := &timeseries.Series{Streams: map[string][]float64{}}
	r := newTestRunner(t, Options{
		Assets:       &stubAssets{assets: []model.Asset{asset("1001", 30.0, -90.0)}},
		Events:       &stubEvents{events: []model.WeatherEvent{hurricane()}},
		Series:       &stubSeries{series: map[string]*timeseries.Series{"1001": empty}},
		FetchWorkers: 1,
	})

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Report.Failed, 1)
	assert.Equal(t, StageTimeseries, out.Report.Failed[0].Stage)
}

func TestRun_ExportFailureRecorded(t *testing.T) {
	dir := t.TempDir()
	// A plain file where the windows directory belongs makes the window write fail.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "windows"), nil, 0o644))

	r := newTestRunner(t, Options{
		Assets:       &stubAssets{assets: []model.Asset{asset("1001", 30.0, -90.0)}},
		Events:       &stubEvents{events: []model.WeatherEvent{hurricane()}},
		Series:       &stubSeries{series: map[string]*timeseries.Series{"1001": flatAugust()}},
		OutputDir:    dir,
		DayWindow:    3,
		FetchWorkers: 1,
	})

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Report.Failed, 1)
	failure := out.Report.Failed[0]
	assert.Equal(t, "1001", failure.AssetID)
	assert.Equal(t, StageExport, failure.Stage)
	assert.Contains(t, failure.Reason, "write event window")

	require.Len(t, out.Ratios, 1, "computed ratios are kept")
	assert.Equal(t, 1, out.Report.RatioCount)
	assert.InDelta(t, 1, testutil.ToFloat64(r.opts.Metrics.AssetsProcessed.WithLabelValues("linked")), 0)
}

func TestRun_NoSeriesSkipsPerformance(t *testing.T) {
	r := newTestRunner(t, Options{
		Assets: &stubAssets{assets: []model.Asset{asset("1001", 30.0, -90.0)}},
		Events: &stubEvents{events: []model.WeatherEvent{hurricane()}},
	})

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, out.Linkages, 1)
	assert.Empty(t, out.Ratios)
	assert.Empty(t, out.Report.Failed)
}

func TestRun_NoAssetsSkipsCatalog(t *testing.T) {
	events := &stubEvents{events: []model.WeatherEvent{hurricane()}}
	r := newTestRunner(t, Options{Assets: &stubAssets{}, Events: events})

	out, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, events.query)
	assert.Zero(t, out.Report.LinkageCount)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{
			name: "assets",
			opts: Options{Assets: &stubAssets{err: errors.New("disk gone")}, Events: &stubEvents{}},
			want: "load assets",
		},
		{
			name: "events",
			opts: Options{
				Assets: &stubAssets{assets: []model.Asset{asset("1001", 30, -90)}},
				Events: &stubEvents{err: errors.New("db down")},
			},
			want: "load weather events",
		},
		{
			name: "store",
			opts: Options{
				Assets: &stubAssets{assets: []model.Asset{asset("1001", 30, -90)}},
				Events: &stubEvents{},
				Store:  &stubStore{err: errors.New("tx aborted")},
			},
			want: "save run",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestRunner(t, tt.opts).Run(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_InProgress(t *testing.T) {
	r := newTestRunner(t, Options{Assets: &stubAssets{}, Events: &stubEvents{}})
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestStart_RunsInBackground(t *testing.T) {
	r := newTestRunner(t, Options{
		Assets: &stubAssets{assets: []model.Asset{asset("1001", 30.0, -90.0)}},
		Events: &stubEvents{events: []model.WeatherEvent{hurricane()}},
	})

	results := make(chan *Outcome, 1)
	require.NoError(t, r.Start(context.Background(), func(out *Outcome, err error) {
		assert.NoError(t, err)
		results <- out
	}))

	select {
	case out := <-results:
		require.NotNil(t, out)
		assert.Equal(t, 1, out.Report.LinkageCount)
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not finish")
	}
}

func TestStart_InProgress(t *testing.T) {
	r := newTestRunner(t, Options{Assets: &stubAssets{}, Events: &stubEvents{}})
	r.mu.Lock()
	defer r.mu.Unlock()

	require.ErrorIs(t, r.Start(context.Background(), nil), ErrRunInProgress)
}

func TestCatalogQuery(t *testing.T) {
	l := testLinker(t)
	q := catalogQuery(l.Distances(), []model.Asset{asset("a", 30, -90), asset("b", 32, -95)})

	assert.Equal(t, []string{"Hail", "Hurricane"}, q.EventTypes)
	deg := 150.0 / linker.KmPerDegree
	require.NotNil(t, q.Near)
	assert.InDelta(t, 30-deg, q.Near.MinLat, 1e-9)
	assert.InDelta(t, 32+deg, q.Near.MaxLat, 1e-9)
	assert.InDelta(t, -95-deg, q.Near.MinLon, 1e-9)
	assert.InDelta(t, -90+deg, q.Near.MaxLon, 1e-9)
	assert.Equal(t, time.Date(2021, 7, 30, 0, 0, 0, 0, time.UTC), *q.Since)
	assert.Equal(t, time.Date(2021, 9, 2, 23, 0, 0, 0, time.UTC), *q.Until)
}

func TestGroupByAsset(t *testing.T) {
	rows := []model.Linkage{{SystemID: "a"}, {SystemID: "a"}, {SystemID: "b"}, {SystemID: "c"}, {SystemID: "c"}}
	groups := groupByAsset(rows)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
	assert.Len(t, groups[2], 2)
	assert.Empty(t, groupByAsset(nil))
}

func TestJSONLines_RoundTrip(t *testing.T) {
	hail := hurricane()
	hail.ID, hail.EventType = "hail-1", "Hail"
	path := filepath.Join(t.TempDir(), "events.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteJSONLines(f, []model.WeatherEvent{hurricane(), hail}))
	require.NoError(t, f.Close())

	src := JSONLinesEvents(path)
	all, err := src.LoadWeatherEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].StartTime.Equal(hurricane().StartTime))
	assert.Equal(t, 15, all[0].StartTime.Day())

	onlyHail, err := src.LoadWeatherEvents(context.Background(), &store.EventQuery{EventTypes: []string{"Hail"}})
	require.NoError(t, err)
	require.Len(t, onlyHail, 1)
	assert.Equal(t, "hail-1", onlyHail[0].ID)
}

func TestReadJSONLines_BadLine(t *testing.T) {
	_, err := ReadJSONLines(context.Background(), strings.NewReader("{\"id\":\"a\"}\n\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestAssetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.csv")
	require.NoError(t, os.WriteFile(path, []byte("system_id,latitude,longitude,started_on,ended_on\n1,30,-90,08/01/2021 00:00,08/31/2021 00:00\n"), 0o600))

	assets, skipped, err := AssetFile(path).Assets(context.Background())
	require.NoError(t, err)
	assert.Len(t, assets, 1)
	assert.Empty(t, skipped)
}
