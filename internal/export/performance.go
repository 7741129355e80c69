package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// PerformanceFile is the performance table's file name inside the output directory.
const PerformanceFile = "system_weather_event_master_performance.csv"

var performanceHeader = []string{
	"system_id", "event_id", "event_type", "master_category",
	"weather_event_started_on", "weather_event_ended_on",
	"data_stream", "window_sum", "baseline_median", "pct_median_output", "baseline_status",
}

// PerformanceAppender appends ratio rows to a CSV file as each asset
// completes. It is safe for concurrent use.
type PerformanceAppender struct {
	mu   sync.Mutex
	file *os.File
	cw   *csv.Writer
	rows int
}

// OpenPerformance opens <dir>/system_weather_event_master_performance.csv
// for appending, writing the header if the file is new or empty.
func OpenPerformance(dir string) (*PerformanceAppender, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, PerformanceFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open performance file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat performance file: %w", err)
	}
	a := &PerformanceAppender{file: f, cw: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := a.cw.Write(performanceHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
		a.cw.Flush()
	}
	return a, a.cw.Error()
}

// Append writes rows and flushes them to disk.
func (a *PerformanceAppender) Append(rows []model.PerformanceRatio) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range rows {
		if err := a.cw.Write(PerformanceRecord(&rows[i])); err != nil {
			return fmt.Errorf("append performance row: %w", err)
		}
	}
	a.cw.Flush()
	if err := a.cw.Error(); err != nil {
		return fmt.Errorf("flush performance rows: %w", err)
	}
	a.rows += len(rows)
	return nil
}

// Rows returns how many rows this appender has written.
func (a *PerformanceAppender) Rows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rows
}

// Close closes the underlying file.
func (a *PerformanceAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cw.Flush()
	return a.file.Close()
}

// PerformanceRecord formats one ratio row in header order.
func PerformanceRecord(r *model.PerformanceRatio) []string {
	e := &r.Linkage.Event
	return []string{
		r.Linkage.SystemID, e.ID, e.EventType, e.MasterCategory,
		e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339),
		r.DataStream, formatFloat(r.WindowSum),
		formatOptional(r.BaselineMedian), formatOptional(r.PctMedianOutput),
		string(r.BaselineStatus),
	}
}
