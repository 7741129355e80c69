package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/couchcryptid/storm-asset-linker/internal/assets"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
)

// EventSource supplies the weather-event catalog for a run.
type EventSource interface {
	LoadWeatherEvents(ctx context.Context, q *store.EventQuery) ([]model.WeatherEvent, error)
}

// AssetSource supplies the assets for a run along with rows it rejected.
type AssetSource interface {
	Assets(ctx context.Context) ([]model.Asset, []model.AssetFailure, error)
}

// AssetFile reads asset metadata from a CSV file on every call.
type AssetFile string

// Assets implements AssetSource.
func (f AssetFile) Assets(ctx context.Context) ([]model.Asset, []model.AssetFailure, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return assets.ReadFile(string(f))
}

// JSONLinesEvents is an EventSource backed by a file of one JSON-encoded
// WeatherEvent per line. Only the event-type filter of a query is applied.
type JSONLinesEvents string

// LoadWeatherEvents implements EventSource.
func (j JSONLinesEvents) LoadWeatherEvents(ctx context.Context, q *store.EventQuery) ([]model.WeatherEvent, error) {
	f, err := os.Open(string(j))
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	all, err := ReadJSONLines(ctx, f)
	if err != nil {
		return nil, err
	}
	if q == nil || len(q.EventTypes) == 0 {
		return all, nil
	}
	out := all[:0]
	for _, ev := range all {
		if slices.Contains(q.EventTypes, ev.EventType) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ReadJSONLines decodes one WeatherEvent per line. Blank lines are ignored.
func ReadJSONLines(ctx context.Context, r io.Reader) ([]model.WeatherEvent, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []model.WeatherEvent
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var ev model.WeatherEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("events line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// WriteJSONLines encodes events one per line.
func WriteJSONLines(w io.Writer, events []model.WeatherEvent) error {
	enc := json.NewEncoder(w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].ID, err)
		}
	}
	return nil
}
