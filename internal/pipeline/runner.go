// Package pipeline runs a complete linkage pass: load assets and events,
// link, compare performance, and persist the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-asset-linker/internal/export"
	"github.com/couchcryptid/storm-asset-linker/internal/linker"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/performance"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
	"github.com/couchcryptid/storm-asset-linker/internal/timeseries"
)

// Stage names recorded on AssetFailure by the performance step.
const (
	StageTimeseries = "timeseries"
	StageExport     = "export"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("linkage run already in progress")

// catalogSlack widens the catalog time pre-filter so that events near the
// edges of the asset windows survive any UTC offset.
const catalogSlack = 48 * time.Hour

// SeriesLoader returns an asset's prepared time series.
type SeriesLoader interface {
	Load(ctx context.Context, assetID string) (*timeseries.Series, error)
}

// RunStore persists a finished run.
type RunStore interface {
	SaveRun(ctx context.Context, report *model.RunReport, linkages []model.Linkage, ratios []model.PerformanceRatio) error
}

// Options configures a Runner. Series, Store and OutputDir are optional;
// leaving one unset skips that stage.
type Options struct {
	Linker       *linker.Linker
	Assets       AssetSource
	Events       EventSource
	Series       SeriesLoader
	Comparator   *performance.Comparator
	Store        RunStore
	OutputDir    string
	DayWindow    int
	FetchWorkers int
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// Outcome is everything a run produced.
type Outcome struct {
	Report   model.RunReport
	Linkages []model.Linkage
	Ratios   []model.PerformanceRatio
}

// Runner executes linkage runs one at a time.
type Runner struct {
	opts  Options
	clock clockwork.Clock
	mu    sync.Mutex
}

// New returns a Runner using the real clock.
func New(opts Options) *Runner {
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 1
	}
	if opts.Comparator == nil {
		opts.Comparator = performance.NewComparator(performance.DefaultWindowDays)
	}
	return &Runner{opts: opts, clock: clockwork.NewRealClock()}
}

// SetClock overrides the clock for testing.
func (r *Runner) SetClock(c clockwork.Clock) {
	r.clock = c
}

// Run performs one linkage run. It returns ErrRunInProgress without doing
// anything if another run is active.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()
	return r.runLocked(ctx)
}

// Start launches a run in the background and returns at once. done, if
// non-nil, receives the result when the run finishes.
func (r *Runner) Start(ctx context.Context, done func(*Outcome, error)) error {
	if !r.mu.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer r.mu.Unlock()
		out, err := r.runLocked(ctx)
		if done != nil {
			done(out, err)
		}
	}()
	return nil
}

func (r *Runner) runLocked(ctx context.Context) (*Outcome, error) {
	start := r.clock.Now()
	out, err := r.run(ctx, start)
	r.opts.Metrics.RunDuration.Observe(r.clock.Since(start).Seconds())
	if err != nil {
		r.opts.Metrics.RunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	r.opts.Metrics.RunsTotal.WithLabelValues("success").Inc()
	return out, nil
}

func (r *Runner) run(ctx context.Context, start time.Time) (*Outcome, error) {
	log := r.opts.Logger
	report := model.RunReport{RunID: uuid.NewString(), StartedAt: start.UTC()}
	log.Info("linkage run started", "run_id", report.RunID)

	assets, skipped, err := r.opts.Assets.Assets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	for _, s := range skipped {
		log.Warn("skipping malformed asset", "asset_id", s.AssetID, "error", s.Reason)
	}
	report.AssetCount = len(assets) + len(skipped)
	report.Skipped = append(report.Skipped, skipped...)

	var catalog []model.WeatherEvent
	if len(assets) > 0 {
		catalog, err = r.opts.Events.LoadWeatherEvents(ctx, catalogQuery(r.opts.Linker.Distances(), assets))
		if err != nil {
			return nil, fmt.Errorf("load weather events: %w", err)
		}
	}
	report.EventCount = len(catalog)

	res, err := r.opts.Linker.Link(ctx, assets, catalog)
	if err != nil {
		return nil, err
	}
	report.Skipped = append(report.Skipped, res.Skipped...)
	report.Failed = append(report.Failed, res.Failed...)
	report.DroppedEventIDs = res.DroppedEvents
	report.LinkageCount = len(res.Linkages)

	ratios, failed, err := r.comparePerformance(ctx, res.Linkages)
	if err != nil {
		return nil, err
	}
	report.Failed = append(report.Failed, failed...)
	report.RatioCount = len(ratios)

	if r.opts.OutputDir != "" {
		path, err := export.WriteLinkageFile(r.opts.OutputDir, res.Linkages)
		if err != nil {
			return nil, err
		}
		log.Info("wrote linkage table", "path", path, "rows", len(res.Linkages))
	}

	report.FinishedAt = r.clock.Now().UTC()
	if r.opts.Store != nil {
		if err := r.opts.Store.SaveRun(ctx, &report, res.Linkages, ratios); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}

	r.record(&report, res, ratios)
	log.Info("linkage run complete",
		"run_id", report.RunID,
		"assets", report.AssetCount,
		"events", report.EventCount,
		"linkages", report.LinkageCount,
		"ratios", report.RatioCount,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"dropped_events", report.DroppedEventIDs,
	)
	return &Outcome{Report: report, Linkages: res.Linkages, Ratios: ratios}, nil
}

// record counts assets the linker completed as linked, whatever happened to
// them in the performance step.
func (r *Runner) record(report *model.RunReport, res *linker.Result, ratios []model.PerformanceRatio) {
	m := r.opts.Metrics
	m.LinkagesProduced.Add(float64(report.LinkageCount))
	m.AssetsProcessed.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	m.AssetsProcessed.WithLabelValues("failed").Add(float64(len(report.Failed)))
	m.AssetsProcessed.WithLabelValues("linked").Add(float64(report.AssetCount - len(report.Skipped) - len(res.Failed)))
	for i := range ratios {
		m.RatiosComputed.WithLabelValues(string(ratios[i].BaselineStatus)).Inc()
	}
}

// catalogQuery narrows the catalog to configured types inside the assets'
// bounding box and time span. The matcher still applies the exact tests.
func catalogQuery(dm *linker.DistanceModel, assets []model.Asset) *store.EventQuery {
	box := store.BBox{MinLat: math.Inf(1), MaxLat: math.Inf(-1), MinLon: math.Inf(1), MaxLon: math.Inf(-1)}
	var since, until time.Time
	for i := range assets {
		a := &assets[i]
		box.MinLat = math.Min(box.MinLat, a.Latitude)
		box.MaxLat = math.Max(box.MaxLat, a.Latitude)
		box.MinLon = math.Min(box.MinLon, a.Longitude)
		box.MaxLon = math.Max(box.MaxLon, a.Longitude)
		if since.IsZero() || a.DataStartedOn.Before(since) {
			since = a.DataStartedOn
		}
		if a.DataEndedOn.After(until) {
			until = a.DataEndedOn
		}
	}
	box = box.Expand(dm.MaxDegreeRadius())
	since = since.Add(-catalogSlack)
	until = until.Add(catalogSlack)
	return &store.EventQuery{EventTypes: dm.EventTypes(), Since: &since, Until: &until, Near: &box}
}

// comparePerformance loads each linked asset's series on a bounded pool and
// computes ratios. Load and export failures are collected; only cancellation
// aborts. Ratios computed for an asset whose export failed are kept.
func (r *Runner) comparePerformance(ctx context.Context, linkages []model.Linkage) ([]model.PerformanceRatio, []model.AssetFailure, error) {
	if r.opts.Series == nil || len(linkages) == 0 {
		return nil, nil, nil
	}

	var appender *export.PerformanceAppender
	if r.opts.OutputDir != "" {
		var err error
		if appender, err = export.OpenPerformance(r.opts.OutputDir); err != nil {
			return nil, nil, err
		}
		defer func() {
			if err := appender.Close(); err != nil {
				r.opts.Logger.Error("close performance file", "error", err)
			}
		}()
	}

	groups := groupByAsset(linkages)
	results := make([][]model.PerformanceRatio, len(groups))
	failures := make([]*model.AssetFailure, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FetchWorkers)
	for i, rows := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id := rows[0].SystemID
			series, err := r.opts.Series.Load(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.opts.Logger.Error("load time series", "asset_id", id, "error", err)
				failures[i] = &model.AssetFailure{AssetID: id, Stage: StageTimeseries, Reason: err.Error()}
				return nil
			}
			if len(series.Streams) == 0 {
				r.opts.Logger.Error("load time series", "asset_id", id, "error", timeseries.ErrNoStreams)
				failures[i] = &model.AssetFailure{AssetID: id, Stage: StageTimeseries, Reason: timeseries.ErrNoStreams.Error()}
				return nil
			}
			var ratios []model.PerformanceRatio
			for _, l := range rows {
				ratios = append(ratios, r.opts.Comparator.Compare(l, series)...)
			}
			results[i] = ratios
			if err := r.exportAsset(appender, id, series, rows, ratios); err != nil {
				r.opts.Logger.Error("export asset results", "asset_id", id, "error", err)
				failures[i] = &model.AssetFailure{AssetID: id, Stage: StageExport, Reason: err.Error()}
			}
			r.opts.Logger.Debug("compared performance", "asset_id", id, "ratios", len(ratios))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("compare performance: %w", err)
	}

	var ratios []model.PerformanceRatio
	var failed []model.AssetFailure
	for i := range groups {
		ratios = append(ratios, results[i]...)
		if failures[i] != nil {
			failed = append(failed, *failures[i])
		}
	}
	return ratios, failed, nil
}

// exportAsset appends an asset's ratios to the performance file and writes
// its event-window file. Both writes are attempted.
func (r *Runner) exportAsset(appender *export.PerformanceAppender, id string, series *timeseries.Series, rows []model.Linkage, ratios []model.PerformanceRatio) error {
	var errs []error
	if appender != nil {
		if err := appender.Append(ratios); err != nil {
			errs = append(errs, fmt.Errorf("append performance rows: %w", err))
		}
	}
	if r.opts.OutputDir != "" && r.opts.DayWindow > 0 {
		if _, err := export.WriteEventWindowFile(r.opts.OutputDir, id, series, rows, r.opts.DayWindow); err != nil {
			errs = append(errs, fmt.Errorf("write event window: %w", err))
		}
	}
	return errors.Join(errs...)
}

// groupByAsset splits sorted linkages into per-asset runs.
func groupByAsset(linkages []model.Linkage) [][]model.Linkage {
	var groups [][]model.Linkage
	for start := 0; start < len(linkages); {
		end := start + 1
		for end < len(linkages) && linkages[end].SystemID == linkages[start].SystemID {
			end++
		}
		groups = append(groups, linkages[start:end])
		start = end
	}
	return groups
}
