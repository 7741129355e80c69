// Package performance compares an asset's output during a linked weather
// event against its typical output for the same calendar month.
package performance

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/timeseries"
)

// ErrInsufficientBaseline is reported when the monthly baseline is zero or
// has no observed days.
var ErrInsufficientBaseline = errors.New("insufficient baseline")

// DefaultWindowDays covers the event start date and the following day.
const DefaultWindowDays = 2

// Comparator computes performance ratios.
type Comparator struct {
	windowDays int
}

// NewComparator returns a Comparator whose event window spans windowDays
// calendar days starting on the event's start date.
func NewComparator(windowDays int) *Comparator {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Comparator{windowDays: windowDays}
}

// dailySums totals each calendar day that has at least one observation.
func dailySums(values []float64, stamps []time.Time) map[time.Time]float64 {
	sums := make(map[time.Time]float64)
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sums[model.CivilDate(stamps[i])] += v
	}
	return sums
}

func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

// Ratio computes the window sum, baseline median and ratio for one stream.
// A zero or empty baseline yields ErrInsufficientBaseline.
func (c *Comparator) Ratio(eventStart time.Time, values []float64, stamps []time.Time) (window float64, baseline *float64, ratio *float64, status model.BaselineStatus) {
	sums := dailySums(values, stamps)
	first := model.CivilDate(eventStart)

	observed := false
	for d := range c.windowDays {
		if s, ok := sums[first.AddDate(0, 0, d)]; ok {
			window += s
			observed = true
		}
	}

	var month []float64
	for date, s := range sums {
		if date.Month() == first.Month() {
			month = append(month, s)
		}
	}
	if len(month) > 0 {
		m := median(month)
		baseline = &m
	}

	switch {
	case !observed:
		return window, baseline, nil, model.BaselineNoWindowData
	case baseline == nil || *baseline == 0:
		return window, baseline, nil, model.BaselineInsufficient
	}
	r := window / *baseline
	return window, baseline, &r, model.BaselineOK
}

// Compare returns one ratio per stream in series, in stream-name order.
func (c *Comparator) Compare(l model.Linkage, series *timeseries.Series) []model.PerformanceRatio {
	names := series.StreamNames()
	out := make([]model.PerformanceRatio, 0, len(names))
	for _, name := range names {
		window, baseline, ratio, status := c.Ratio(l.Event.StartTime, series.Streams[name], series.Timestamps)
		out = append(out, model.PerformanceRatio{
			Linkage:         l,
			DataStream:      name,
			WindowSum:       window,
			BaselineMedian:  baseline,
			PctMedianOutput: ratio,
			BaselineStatus:  status,
		})
	}
	return out
}

// Err maps a ratio's status to an error, nil when the ratio is usable.
func Err(r *model.PerformanceRatio) error {
	if r.BaselineStatus == model.BaselineOK {
		return nil
	}
	return ErrInsufficientBaseline
}
