package store

import (
	"fmt"
	"time"
)

// BBox is a latitude/longitude rectangle in degrees.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Expand grows the box by deg degrees on every side.
func (b BBox) Expand(deg float64) BBox {
	return BBox{MinLat: b.MinLat - deg, MaxLat: b.MaxLat + deg, MinLon: b.MinLon - deg, MaxLon: b.MaxLon + deg}
}

// EventQuery selects catalog events for a linkage run.
type EventQuery struct {
	EventTypes []string
	Since      *time.Time
	Until      *time.Time
	Near       *BBox
}

// LinkageFilter selects persisted linkage rows. An empty RunID means the
// most recent run.
type LinkageFilter struct {
	RunID          string
	SystemID       string
	EventType      string
	MasterCategory string
	Limit          int
	Offset         int
}

// buildEventWhere constructs the WHERE clauses and args for an EventQuery.
// Returns the clauses, args, and the next parameter index.
func buildEventWhere(q *EventQuery) ([]string, []any, int) {
	var where []string
	var args []any
	idx := 1

	if len(q.EventTypes) > 0 {
		where = append(where, fmt.Sprintf("event_type = ANY($%d)", idx))
		args = append(args, q.EventTypes)
		idx++
	}
	if q.Since != nil {
		where = append(where, fmt.Sprintf("end_time >= $%d", idx))
		args = append(args, *q.Since)
		idx++
	}
	if q.Until != nil {
		where = append(where, fmt.Sprintf("start_time <= $%d", idx))
		args = append(args, *q.Until)
		idx++
	}
	if q.Near != nil {
		clause, bbArgs, next := buildBoundingBox(*q.Near, idx)
		where = append(where, clause)
		args = append(args, bbArgs...)
		idx = next
	}
	return where, args, idx
}

// buildBoundingBox matches events whose begin or end point lies in box.
func buildBoundingBox(box BBox, idx int) (string, []any, int) {
	clause := fmt.Sprintf(
		"((begin_lat BETWEEN $%[1]d AND $%[2]d AND begin_lon BETWEEN $%[3]d AND $%[4]d) OR "+
			"(end_lat BETWEEN $%[1]d AND $%[2]d AND end_lon BETWEEN $%[3]d AND $%[4]d))",
		idx, idx+1, idx+2, idx+3)
	return clause, []any{box.MinLat, box.MaxLat, box.MinLon, box.MaxLon}, idx + 4
}

// buildLinkageWhere constructs the WHERE clauses and args for a LinkageFilter.
// The run is always constrained, either explicitly or to the latest run.
func buildLinkageWhere(f *LinkageFilter) ([]string, []any, int) {
	var where []string
	var args []any
	idx := 1

	if f.RunID != "" {
		where = append(where, fmt.Sprintf("run_id = $%d", idx))
		args = append(args, f.RunID)
		idx++
	} else {
		where = append(where, "run_id = (SELECT run_id FROM linkage_runs ORDER BY started_at DESC LIMIT 1)")
	}
	if f.SystemID != "" {
		where = append(where, fmt.Sprintf("system_id = $%d", idx))
		args = append(args, f.SystemID)
		idx++
	}
	if f.EventType != "" {
		where = append(where, fmt.Sprintf("event_type = $%d", idx))
		args = append(args, f.EventType)
		idx++
	}
	if f.MasterCategory != "" {
		where = append(where, fmt.Sprintf("master_category = $%d", idx))
		args = append(args, f.MasterCategory)
		idx++
	}
	return where, args, idx
}
