package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

const runColumns = `run_id, started_at, finished_at, asset_count, event_count,
	linkage_count, ratio_count, dropped_event_count, skipped, failed`

var linkageColumns = []string{
	"run_id", "system_id", "system_latitude", "system_longitude",
	"system_data_started_on", "system_data_ended_on", "attributes",
	"event_id", "event_type", "master_category", "cluster_id", "member_ids",
	"state", "location", "begin_lat", "begin_lon", "end_lat", "end_lon",
	"start_time", "start_utc_offset", "end_time", "end_utc_offset",
	"magnitude", "magnitude_type", "damage_property", "damage_crops",
	"episode_narrative", "comments",
	"distance_to_start_km", "distance_to_end_km", "min_distance_km",
	"days_before_event", "days_after_event",
}

var ratioColumns = []string{
	"run_id", "system_id", "event_id", "data_stream",
	"window_sum", "baseline_median", "pct_median_output", "baseline_status",
}

// SaveRun persists a run report together with its linkages and ratios in
// one transaction.
func (s *Store) SaveRun(ctx context.Context, report *model.RunReport, linkages []model.Linkage, ratios []model.PerformanceRatio) error {
	defer s.observeQuery("save_run", time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `INSERT INTO linkage_runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		report.RunID, report.StartedAt, report.FinishedAt, report.AssetCount, report.EventCount,
		report.LinkageCount, report.RatioCount, report.DroppedEventIDs,
		nonNilFailures(report.Skipped), nonNilFailures(report.Failed),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	if len(linkages) > 0 {
		rows := make([][]any, len(linkages))
		for i := range linkages {
			rows[i] = linkageRow(report.RunID, &linkages[i])
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"linkages"}, linkageColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy linkages: %w", err)
		}
	}

	if len(ratios) > 0 {
		rows := make([][]any, len(ratios))
		for i := range ratios {
			r := &ratios[i]
			rows[i] = []any{
				report.RunID, r.Linkage.SystemID, r.Linkage.Event.ID, r.DataStream,
				r.WindowSum, r.BaselineMedian, r.PctMedianOutput, string(r.BaselineStatus),
			}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"performance_ratios"}, ratioColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy performance ratios: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save run: %w", err)
	}
	return nil
}

func nonNilFailures(f []model.AssetFailure) []model.AssetFailure {
	if f == nil {
		return []model.AssetFailure{}
	}
	return f
}

func linkageRow(runID string, l *model.Linkage) []any {
	e := &l.Event
	attrs := l.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return []any{
		runID, l.SystemID, l.SystemLatitude, l.SystemLongitude,
		l.SystemDataStartedOn, l.SystemDataEndedOn, attrs,
		e.ID, e.EventType, e.MasterCategory, int32(e.ClusterID), e.MemberIDs,
		e.State, e.Location, e.Begin.Lat, e.Begin.Lon, e.End.Lat, e.End.Lon,
		e.StartTime, zoneOffset(e.StartTime), e.EndTime, zoneOffset(e.EndTime),
		e.Magnitude, e.MagnitudeType, toNumeric(e.DamageProperty), toNumeric(e.DamageCrops),
		e.EpisodeNarrative, e.Comments,
		e.DistanceToStartKm, e.DistanceToEndKm, e.MinDistanceKm,
		int32(l.DaysBeforeEvent), int32(l.DaysAfterEvent),
	}
}

// LatestRun returns the most recently started run, or nil if none exist.
func (s *Store) LatestRun(ctx context.Context) (*model.RunReport, error) {
	defer s.observeQuery("latest_run", time.Now())
	row := s.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM linkage_runs ORDER BY started_at DESC LIMIT 1")
	return scanRun(row)
}

// GetRun returns the run with the given ID, or nil if it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.RunReport, error) {
	defer s.observeQuery("get_run", time.Now())
	row := s.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM linkage_runs WHERE run_id = $1", runID)
	return scanRun(row)
}

func scanRun(row scannable) (*model.RunReport, error) {
	var r model.RunReport
	var assets, events, links, ratios, dropped int32
	err := row.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &assets, &events,
		&links, &ratios, &dropped, &r.Skipped, &r.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.AssetCount, r.EventCount = int(assets), int(events)
	r.LinkageCount, r.RatioCount, r.DroppedEventIDs = int(links), int(ratios), int(dropped)
	return &r, nil
}

// ListLinkages returns the linkages matching f ordered by system, event
// start and event ID, plus the total number of matches before paging.
func (s *Store) ListLinkages(ctx context.Context, f *LinkageFilter) ([]model.Linkage, int, error) {
	defer s.observeQuery("list_linkages", time.Now())
	where, baseArgs, idx := buildLinkageWhere(f)
	whereSQL := buildWhereSQL(where)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM linkages"+whereSQL, baseArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count linkages: %w", err)
	}

	args := make([]any, len(baseArgs))
	copy(args, baseArgs)
	query := "SELECT " + strings.Join(linkageColumns[1:], ", ") + " FROM linkages" + whereSQL +
		" ORDER BY system_id, start_time, event_id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query linkages: %w", err)
	}
	defer rows.Close()

	var out []model.Linkage
	for rows.Next() {
		l, err := scanLinkage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

func scanLinkage(row scannable) (model.Linkage, error) {
	var (
		l                      model.Linkage
		clusterID, before, aft int32
		startOff, endOff       int32
		prop, crops            pgtype.Numeric
	)
	e := &l.Event
	err := row.Scan(
		&l.SystemID, &l.SystemLatitude, &l.SystemLongitude,
		&l.SystemDataStartedOn, &l.SystemDataEndedOn, &l.Attributes,
		&e.ID, &e.EventType, &e.MasterCategory, &clusterID, &e.MemberIDs,
		&e.State, &e.Location, &e.Begin.Lat, &e.Begin.Lon, &e.End.Lat, &e.End.Lon,
		&e.StartTime, &startOff, &e.EndTime, &endOff,
		&e.Magnitude, &e.MagnitudeType, &prop, &crops,
		&e.EpisodeNarrative, &e.Comments,
		&e.DistanceToStartKm, &e.DistanceToEndKm, &e.MinDistanceKm,
		&before, &aft,
	)
	if err != nil {
		return model.Linkage{}, fmt.Errorf("scan linkage: %w", err)
	}
	e.ClusterID = int(clusterID)
	e.StartTime = withOffset(e.StartTime, startOff)
	e.EndTime = withOffset(e.EndTime, endOff)
	e.DamageProperty = fromNumeric(prop)
	e.DamageCrops = fromNumeric(crops)
	l.DaysBeforeEvent, l.DaysAfterEvent = int(before), int(aft)
	return l, nil
}
