// Package export writes run results as delimited tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// LinkageFile is the linkage table's file name inside the output directory.
const LinkageFile = "system_weather_event_master.csv"

const assetTimeFormat = "2006-01-02 15:04:05"

var systemColumns = []string{
	"system_id", "system_latitude", "system_longitude",
	"system_data_started_on", "system_data_ended_on",
}

var eventColumns = []string{
	"event_id", "event_type", "master_category", "cluster_id", "member_ids",
	"state", "location", "begin_latitude", "begin_longitude", "end_latitude", "end_longitude",
	"weather_event_started_on", "weather_event_ended_on",
	"magnitude", "magnitude_type", "damage_property", "damage_crops",
	"episode_narrative", "comments",
	"distance_to_start_km", "distance_to_end_km", "min_distance_km",
	"system_data_days_before_event", "system_data_days_after_event",
}

// LinkageHeader returns the column order for rows: asset columns, then the
// sorted union of asset attribute names, then event columns.
func LinkageHeader(rows []model.Linkage) (header, attrs []string) {
	seen := make(map[string]bool)
	for i := range rows {
		for k := range rows[i].Attributes {
			if !seen[k] {
				seen[k] = true
				attrs = append(attrs, k)
			}
		}
	}
	sort.Strings(attrs)
	header = make([]string, 0, len(systemColumns)+len(attrs)+len(eventColumns))
	header = append(header, systemColumns...)
	header = append(header, attrs...)
	header = append(header, eventColumns...)
	return header, attrs
}

// WriteLinkages writes rows as CSV with a header line.
func WriteLinkages(w io.Writer, rows []model.Linkage) error {
	header, attrs := LinkageHeader(rows)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range rows {
		if err := cw.Write(LinkageRecord(&rows[i], attrs)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LinkageRecord formats one row in LinkageHeader order.
func LinkageRecord(l *model.Linkage, attrs []string) []string {
	e := &l.Event
	rec := make([]string, 0, len(systemColumns)+len(attrs)+len(eventColumns))
	rec = append(rec,
		l.SystemID, formatFloat(l.SystemLatitude), formatFloat(l.SystemLongitude),
		l.SystemDataStartedOn.Format(assetTimeFormat), l.SystemDataEndedOn.Format(assetTimeFormat),
	)
	for _, k := range attrs {
		rec = append(rec, l.Attributes[k])
	}
	rec = append(rec,
		e.ID, e.EventType, e.MasterCategory, strconv.Itoa(e.ClusterID), strings.Join(e.MemberIDs, ";"),
		e.State, e.Location,
		formatFloat(e.Begin.Lat), formatFloat(e.Begin.Lon), formatFloat(e.End.Lat), formatFloat(e.End.Lon),
		e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339),
		formatOptional(e.Magnitude), e.MagnitudeType,
		formatDecimal(e.DamageProperty), formatDecimal(e.DamageCrops),
		e.EpisodeNarrative, e.Comments,
		formatFloat(e.DistanceToStartKm), formatFloat(e.DistanceToEndKm), formatFloat(e.MinDistanceKm),
		strconv.Itoa(l.DaysBeforeEvent), strconv.Itoa(l.DaysAfterEvent),
	)
	return rec
}

// WriteLinkageFile replaces <dir>/system_weather_event_master.csv with rows
// and returns its path. The file is written to a temporary name first.
func WriteLinkageFile(dir string, rows []model.Linkage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, LinkageFile)
	tmp, err := os.CreateTemp(dir, LinkageFile+".*")
	if err != nil {
		return "", fmt.Errorf("create linkage file: %w", err)
	}
	if err := WriteLinkages(tmp, rows); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write linkage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close linkage file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename linkage file: %w", err)
	}
	return path, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
