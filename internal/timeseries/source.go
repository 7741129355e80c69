package timeseries

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by a Source that has no data for an asset.
var ErrNotFound = errors.New("time series not found")

// ErrNoStreams is returned when an asset's series has no stream matching
// the configured filter.
var ErrNoStreams = errors.New("no streams matching filter")

// UpstreamIOError wraps a failure to obtain an asset's time series. The
// asset is reported as failed and the run continues.
type UpstreamIOError struct {
	AssetID string
	Err     error
}

func (e *UpstreamIOError) Error() string {
	return fmt.Sprintf("fetch time series for asset %s: %v", e.AssetID, e.Err)
}

func (e *UpstreamIOError) Unwrap() error { return e.Err }

// Source returns the raw CSV bytes of an asset's time series.
type Source interface {
	Fetch(ctx context.Context, assetID string) ([]byte, error)
}

// ObjectKey names an asset's time-series object.
func ObjectKey(assetID string) string { return assetID + ".csv" }

// DirSource reads <dir>/<asset id>.csv from the local filesystem.
type DirSource struct {
	dir string
}

// NewDirSource returns a Source rooted at dir.
func NewDirSource(dir string) *DirSource { return &DirSource{dir: dir} }

// Fetch reads the asset's CSV file.
func (d *DirSource) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.dir, ObjectKey(assetID)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Loader fetches, parses and prepares asset time series for comparison.
type Loader struct {
	source Source
	filter string
	step   time.Duration
}

// NewLoader returns a Loader that keeps streams containing filter and
// resamples them to hourly means.
func NewLoader(src Source, filter string) *Loader {
	if filter == "" {
		filter = DefaultStreamFilter
	}
	return &Loader{source: src, filter: filter, step: time.Hour}
}

// Load returns the prepared series for assetID.
func (l *Loader) Load(ctx context.Context, assetID string) (*Series, error) {
	raw, err := l.source.Fetch(ctx, assetID)
	if err != nil {
		return nil, &UpstreamIOError{AssetID: assetID, Err: err}
	}
	s, err := ParseCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, &UpstreamIOError{AssetID: assetID, Err: fmt.Errorf("parse: %w", err)}
	}
	selected := s.Select(l.filter)
	if len(selected.Streams) == 0 {
		return nil, &UpstreamIOError{AssetID: assetID, Err: fmt.Errorf("%w %q", ErrNoStreams, l.filter)}
	}
	return selected.Resample(l.step), nil
}
