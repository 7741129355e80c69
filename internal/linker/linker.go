package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"golang.org/x/sync/errgroup"
)

// Stage names recorded on AssetFailure.
const (
	StageValidate = "validate"
	StageLink     = "link"
)

// Result is the merged output of linking a set of assets.
type Result struct {
	Linkages      []model.Linkage
	Skipped       []model.AssetFailure
	Failed        []model.AssetFailure
	DroppedEvents int
}

// Linker runs the match, window, dedup and assembly steps per asset.
type Linker struct {
	distances *DistanceModel
	matcher   *Matcher
	dedup     *Deduplicator
	workers   int
	logger    *slog.Logger
}

// New builds a Linker. workers <= 0 uses GOMAXPROCS.
func New(cfg DistanceConfig, categories MasterCategories, workers int, logger *slog.Logger) (*Linker, error) {
	dm, err := NewDistanceModel(cfg)
	if err != nil {
		return nil, err
	}
	dd, err := NewDeduplicator(categories, dm)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Linker{
		distances: dm,
		matcher:   NewMatcher(dm),
		dedup:     dd,
		workers:   workers,
		logger:    logger,
	}, nil
}

// Distances exposes the linker's distance model.
func (l *Linker) Distances() *DistanceModel { return l.distances }

// LinkAsset links one asset against a catalog of configured event types.
func (l *Linker) LinkAsset(asset *model.Asset, catalog []model.WeatherEvent) ([]model.Linkage, error) {
	if err := checkWindow(asset); err != nil {
		return nil, err
	}
	candidates, err := l.matcher.Match(asset, catalog)
	if err != nil {
		return nil, err
	}
	candidates = FilterWindow(asset, candidates)
	canonical, err := l.dedup.Deduplicate(candidates)
	if err != nil {
		return nil, err
	}
	return Assemble(l.distances, asset, canonical)
}

func checkWindow(asset *model.Asset) error {
	switch {
	case asset.DataStartedOn.IsZero():
		return &MalformedInputError{AssetID: asset.ID, Field: "started_on", Err: errors.New("missing")}
	case asset.DataEndedOn.IsZero():
		return &MalformedInputError{AssetID: asset.ID, Field: "ended_on", Err: errors.New("missing")}
	case asset.DataEndedOn.Before(asset.DataStartedOn):
		return &MalformedInputError{AssetID: asset.ID, Field: "ended_on", Err: errors.New("before started_on")}
	}
	return nil
}

// Link processes assets on a bounded worker pool. Malformed assets are
// skipped and other per-asset failures recorded; neither aborts the run.
// A ConfigurationError or context cancellation does.
func (l *Linker) Link(ctx context.Context, assets []model.Asset, catalog []model.WeatherEvent) (*Result, error) {
	kept, dropped := l.distances.Subset(catalog)
	if len(dropped) > 0 {
		l.logger.Info("dropped unconfigured event types from catalog", "count", len(dropped))
	}

	type outcome struct {
		rows []model.Linkage
		err  error
	}
	outcomes := make([]outcome, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i := range assets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := l.LinkAsset(&assets[i], kept)
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				return err
			}
			outcomes[i] = outcome{rows: rows, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("link assets: %w", err)
	}

	res := &Result{DroppedEvents: len(dropped)}
	for i, o := range outcomes {
		id := assets[i].ID
		var malformed *MalformedInputError
		switch {
		case errors.As(o.err, &malformed):
			l.logger.Warn("skipping malformed asset", "asset_id", id, "error", o.err)
			res.Skipped = append(res.Skipped, model.AssetFailure{AssetID: id, Stage: StageValidate, Reason: o.err.Error()})
		case o.err != nil:
			l.logger.Error("link asset", "asset_id", id, "error", o.err)
			res.Failed = append(res.Failed, model.AssetFailure{AssetID: id, Stage: StageLink, Reason: o.err.Error()})
		default:
			l.logger.Debug("linked asset", "asset_id", id, "linkages", len(o.rows))
			res.Linkages = append(res.Linkages, o.rows...)
		}
	}
	SortLinkages(res.Linkages)
	return res, nil
}

// SortLinkages orders rows by asset, event start and event id.
func SortLinkages(rows []model.Linkage) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := &rows[i], &rows[j]
		if a.SystemID != b.SystemID {
			return a.SystemID < b.SystemID
		}
		if !a.Event.StartTime.Equal(b.Event.StartTime) {
			return a.Event.StartTime.Before(b.Event.StartTime)
		}
		return a.Event.ID < b.Event.ID
	})
}
