package timeseries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultStreamFilter selects AC power columns.
const DefaultStreamFilter = "ac_power"

// timestampLayouts are tried in order when parsing the index column.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
}

// Series is a set of aligned data streams sharing one timestamp index.
// Missing values are NaN.
type Series struct {
	Timestamps []time.Time
	Streams    map[string][]float64
}

// StreamNames returns the stream names in sorted order.
func (s *Series) StreamNames() []string {
	names := make([]string, 0, len(s.Streams))
	for n := range s.Streams {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of timestamps.
func (s *Series) Len() int { return len(s.Timestamps) }

// ParseCSV reads a time-series CSV whose first column is the timestamp and
// whose remaining columns are numeric streams.
func ParseCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, errors.New("time series needs a timestamp column and at least one stream")
	}

	s := &Series{Streams: make(map[string][]float64, len(header)-1)}
	names := header[1:]
	for _, n := range names {
		s.Streams[n] = nil
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s.Timestamps = append(s.Timestamps, ts)
		for i, n := range names {
			v := math.NaN()
			if i+1 < len(rec) {
				if f, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64); err == nil {
					v = f
				}
			}
			s.Streams[n] = append(s.Streams[n], v)
		}
	}
	return s, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// Select returns a series holding only streams whose name contains substr.
func (s *Series) Select(substr string) *Series {
	out := &Series{Timestamps: s.Timestamps, Streams: make(map[string][]float64)}
	for n, v := range s.Streams {
		if strings.Contains(n, substr) {
			out.Streams[n] = v
		}
	}
	return out
}

// Resample averages each stream into buckets of width step. Buckets with no
// observations are omitted; NaN inputs are ignored.
func (s *Series) Resample(step time.Duration) *Series {
	type acc struct {
		sum   float64
		count int
	}
	bucketOf := make(map[time.Time]int)
	var buckets []time.Time
	idx := make([]int, len(s.Timestamps))
	for i, ts := range s.Timestamps {
		b := ts.Truncate(step)
		j, ok := bucketOf[b]
		if !ok {
			j = len(buckets)
			bucketOf[b] = j
			buckets = append(buckets, b)
		}
		idx[i] = j
	}

	order := make([]int, len(buckets))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return buckets[order[a]].Before(buckets[order[b]]) })

	out := &Series{Timestamps: make([]time.Time, len(buckets)), Streams: make(map[string][]float64, len(s.Streams))}
	for pos, j := range order {
		out.Timestamps[pos] = buckets[j]
	}
	for n, values := range s.Streams {
		accs := make([]acc, len(buckets))
		for i, v := range values {
			if math.IsNaN(v) {
				continue
			}
			accs[idx[i]].sum += v
			accs[idx[i]].count++
		}
		col := make([]float64, len(buckets))
		for pos, j := range order {
			if accs[j].count == 0 {
				col[pos] = math.NaN()
			} else {
				col[pos] = accs[j].sum / float64(accs[j].count)
			}
		}
		out.Streams[n] = col
	}
	return out
}

// Window returns the observations in [from, to).
func (s *Series) Window(from, to time.Time) *Series {
	out := &Series{Streams: make(map[string][]float64, len(s.Streams))}
	var keep []int
	for i, ts := range s.Timestamps {
		if !ts.Before(from) && ts.Before(to) {
			keep = append(keep, i)
			out.Timestamps = append(out.Timestamps, ts)
		}
	}
	for n, values := range s.Streams {
		col := make([]float64, 0, len(keep))
		for _, i := range keep {
			col = append(col, values[i])
		}
		out.Streams[n] = col
	}
	return out
}
