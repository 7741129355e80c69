package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

const eventColumns = `id, event_type, state, location,
	begin_lat, begin_lon, end_lat, end_lon,
	start_time, start_utc_offset, end_time, end_utc_offset,
	magnitude, magnitude_type, damage_property, damage_crops,
	episode_narrative, comments`

const insertEventSQL = `INSERT INTO weather_events (` + eventColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	ON CONFLICT (id) DO NOTHING`

// InsertWeatherEvents inserts events in a single batch. Events already in
// the catalog are left untouched. Returns the number of new rows.
func (s *Store) InsertWeatherEvents(ctx context.Context, events []model.WeatherEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	defer s.observeQuery("insert_events", time.Now())

	batch := &pgx.Batch{}
	for i := range events {
		batch.Queue(insertEventSQL, eventArgs(&events[i])...)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range events {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert weather event %s: %w", events[i].ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func eventArgs(e *model.WeatherEvent) []any {
	return []any{
		e.ID, e.EventType, e.State, e.Location,
		e.Begin.Lat, e.Begin.Lon, e.End.Lat, e.End.Lon,
		e.StartTime, zoneOffset(e.StartTime), e.EndTime, zoneOffset(e.EndTime),
		e.Magnitude, e.MagnitudeType, toNumeric(e.DamageProperty), toNumeric(e.DamageCrops),
		e.EpisodeNarrative, e.Comments,
	}
}

// LoadWeatherEvents returns the catalog events matching q ordered by ID.
// Timestamps carry the UTC offset they were ingested with.
func (s *Store) LoadWeatherEvents(ctx context.Context, q *EventQuery) ([]model.WeatherEvent, error) {
	defer s.observeQuery("load_events", time.Now())
	where, args, _ := buildEventWhere(q)

	rows, err := s.pool.Query(ctx, "SELECT "+eventColumns+" FROM weather_events"+buildWhereSQL(where)+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("query weather events: %w", err)
	}
	defer rows.Close()

	var events []model.WeatherEvent
	for rows.Next() {
		e, err := scanWeatherEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountWeatherEvents returns the catalog size.
func (s *Store) CountWeatherEvents(ctx context.Context) (int, error) {
	defer s.observeQuery("count_events", time.Now())
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM weather_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count weather events: %w", err)
	}
	return n, nil
}

// LastIngested returns the most recent ingest time, or nil for an empty catalog.
func (s *Store) LastIngested(ctx context.Context) (*time.Time, error) {
	defer s.observeQuery("last_ingested", time.Now())
	var t *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(ingested_at) FROM weather_events").Scan(&t); err != nil {
		return nil, fmt.Errorf("last ingested: %w", err)
	}
	return t, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWeatherEvent(row scannable) (model.WeatherEvent, error) {
	var (
		e                model.WeatherEvent
		startOff, endOff int32
		prop, crops      pgtype.Numeric
	)
	err := row.Scan(
		&e.ID, &e.EventType, &e.State, &e.Location,
		&e.Begin.Lat, &e.Begin.Lon, &e.End.Lat, &e.End.Lon,
		&e.StartTime, &startOff, &e.EndTime, &endOff,
		&e.Magnitude, &e.MagnitudeType, &prop, &crops,
		&e.EpisodeNarrative, &e.Comments,
	)
	if err != nil {
		return model.WeatherEvent{}, fmt.Errorf("scan weather event: %w", err)
	}
	e.StartTime = withOffset(e.StartTime, startOff)
	e.EndTime = withOffset(e.EndTime, endOff)
	e.DamageProperty = fromNumeric(prop)
	e.DamageCrops = fromNumeric(crops)
	return e, nil
}
