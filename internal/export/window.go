package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/timeseries"
)

// DefaultDayWindow is the number of days kept before the first and after
// the last linked event.
const DefaultDayWindow = 14

// EventWindow trims series to the days spanning an asset's linked events,
// padded by dayWindow days on each side. It returns nil when rows is empty.
func EventWindow(series *timeseries.Series, rows []model.Linkage, dayWindow int) *timeseries.Series {
	if len(rows) == 0 {
		return nil
	}
	first := rows[0].Event.StartDate()
	last := rows[0].Event.EndDate()
	for i := range rows[1:] {
		e := &rows[i+1].Event
		if d := e.StartDate(); d.Before(first) {
			first = d
		}
		if d := e.EndDate(); d.After(last) {
			last = d
		}
	}
	from := first.AddDate(0, 0, -dayWindow)
	to := last.AddDate(0, 0, dayWindow+1)
	return series.Window(from, to)
}

// WriteSeries writes series as CSV: a timestamp column followed by one
// column per stream. Missing values are empty.
func WriteSeries(w io.Writer, series *timeseries.Series) error {
	names := series.StreamNames()
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"timestamp"}, names...)); err != nil {
		return err
	}
	rec := make([]string, len(names)+1)
	for i, ts := range series.Timestamps {
		rec[0] = ts.UTC().Format(time.RFC3339)
		for j, n := range names {
			v := series.Streams[n][i]
			if math.IsNaN(v) {
				rec[j+1] = ""
			} else {
				rec[j+1] = formatFloat(v)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEventWindowFile writes the event window for one asset to
// <dir>/windows/<asset id>_weather_events.csv and returns its path.
func WriteEventWindowFile(dir, assetID string, series *timeseries.Series, rows []model.Linkage, dayWindow int) (string, error) {
	window := EventWindow(series, rows, dayWindow)
	if window == nil {
		return "", nil
	}
	sub := filepath.Join(dir, "windows")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", fmt.Errorf("create window dir: %w", err)
	}
	path := filepath.Join(sub, assetID+"_weather_events.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create window file: %w", err)
	}
	if err := WriteSeries(f, window); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write window file: %w", err)
	}
	return path, f.Close()
}
