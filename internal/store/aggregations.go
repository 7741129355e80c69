package store

import (
	"context"
	"fmt"
	"time"
)

// CategoryCount is the number of linkages for one grouping key.
type CategoryCount struct {
	Key            string   `json:"key"`
	Count          int      `json:"count"`
	Systems        int      `json:"systems"`
	MaxMagnitude   *float64 `json:"max_magnitude,omitempty"`
	NearestEventKm float64  `json:"nearest_event_km"`
}

// RatioStatusCount is the number of performance ratios with one status.
type RatioStatusCount struct {
	Status string   `json:"status"`
	Count  int      `json:"count"`
	Median *float64 `json:"median_pct,omitempty"`
}

// RunSummary holds per-category, per-type and per-status breakdowns of a run.
type RunSummary struct {
	RunID            string             `json:"run_id"`
	ByMasterCategory []CategoryCount    `json:"by_master_category"`
	ByEventType      []CategoryCount    `json:"by_event_type"`
	ByRatioStatus    []RatioStatusCount `json:"by_ratio_status"`
}

// Summarize aggregates a run's linkages and ratios in a single query.
func (s *Store) Summarize(ctx context.Context, runID string) (*RunSummary, error) {
	defer s.observeQuery("summarize", time.Now())

	query := `WITH l AS (
			SELECT system_id, event_type, master_category, magnitude, min_distance_km
			FROM linkages WHERE run_id = $1
		), r AS (
			SELECT baseline_status, pct_median_output
			FROM performance_ratios WHERE run_id = $1
		)
		SELECT 'category' AS agg, master_category AS key, COUNT(*) AS count,
			   COUNT(DISTINCT system_id) AS systems, MAX(magnitude) AS max_mag,
			   MIN(min_distance_km) AS nearest, NULL::double precision AS median
		FROM l GROUP BY master_category
		UNION ALL
		SELECT 'type', event_type, COUNT(*), COUNT(DISTINCT system_id),
			   MAX(magnitude), MIN(min_distance_km), NULL
		FROM l GROUP BY event_type
		UNION ALL
		SELECT 'status', baseline_status, COUNT(*), 0, NULL, 0,
			   percentile_cont(0.5) WITHIN GROUP (ORDER BY pct_median_output)
		FROM r GROUP BY baseline_status
		ORDER BY agg, key`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}
	defer rows.Close()

	result := &RunSummary{RunID: runID}
	for rows.Next() {
		var (
			agg, key       string
			count, systems int
			maxMag, median *float64
			nearest        float64
		)
		if err := rows.Scan(&agg, &key, &count, &systems, &maxMag, &nearest, &median); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		switch agg {
		case "category":
			result.ByMasterCategory = append(result.ByMasterCategory, CategoryCount{
				Key: key, Count: count, Systems: systems, MaxMagnitude: maxMag, NearestEventKm: nearest,
			})
		case "type":
			result.ByEventType = append(result.ByEventType, CategoryCount{
				Key: key, Count: count, Systems: systems, MaxMagnitude: maxMag, NearestEventKm: nearest,
			})
		case "status":
			result.ByRatioStatus = append(result.ByRatioStatus, RatioStatusCount{
				Status: key, Count: count, Median: median,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
