// Package noaa loads Storm Events "details" CSV files into weather events.
package noaa

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/storm-asset-linker/internal/geocode"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/tz"
)

// dateTimeLayout matches BEGIN_DATE_TIME, e.g. "15-AUG-21 14:05:00".
const dateTimeLayout = "02-Jan-06 15:04:05"

// DefaultYearCutoff drops events that started before this year.
const DefaultYearCutoff = 2020

var requiredColumns = []string{
	"BEGIN_DATE_TIME", "END_DATE_TIME", "CZ_TIMEZONE", "EVENT_TYPE", "STATE",
}

// Stats counts what happened to each row of a file.
type Stats struct {
	Rows            int
	Loaded          int
	DroppedTime     int
	DroppedLocation int
	DroppedYear     int
	Geocoded        int
}

// Loader parses detail rows into WeatherEvents.
type Loader struct {
	zones      *tz.Resolver
	geocoder   geocode.Geocoder
	yearCutoff int
	logger     *slog.Logger
}

// NewLoader builds a Loader. geocoder may be nil, in which case rows
// without coordinates are dropped.
func NewLoader(zones *tz.Resolver, g geocode.Geocoder, yearCutoff int, logger *slog.Logger) *Loader {
	return &Loader{zones: zones, geocoder: g, yearCutoff: yearCutoff, logger: logger}
}

// Open opens path, transparently decompressing .gz files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

type row struct {
	fields []string
	index  map[string]int
}

func (r row) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Load reads every row from r. Rows that cannot be timed or located are
// dropped and counted; a missing required column is an error.
func (l *Loader) Load(ctx context.Context, r io.Reader) ([]model.WeatherEvent, Stats, error) {
	var stats Stats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, stats, fmt.Errorf("missing required column %s", col)
		}
	}

	var events []model.WeatherEvent
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("row %d: %w", stats.Rows+2, err)
		}
		stats.Rows++

		ev, err := l.parseRow(ctx, row{fields: fields, index: index}, &stats)
		if err != nil {
			l.logger.Debug("dropping storm event row", "row", stats.Rows+1, "error", err)
			continue
		}
		if l.yearCutoff > 0 && ev.StartTime.Year() < l.yearCutoff {
			stats.DroppedYear++
			continue
		}
		events = append(events, ev)
		stats.Loaded++
	}
	return events, stats, nil
}

func (l *Loader) parseRow(ctx context.Context, r row, stats *Stats) (model.WeatherEvent, error) {
	loc, err := l.zones.Resolve(r.get("CZ_TIMEZONE"))
	if err != nil {
		stats.DroppedTime++
		return model.WeatherEvent{}, err
	}
	start, err := parseLocal(r.get("BEGIN_DATE_TIME"), loc)
	if err != nil {
		stats.DroppedTime++
		return model.WeatherEvent{}, fmt.Errorf("begin time: %w", err)
	}
	end, err := parseLocal(r.get("END_DATE_TIME"), loc)
	if err != nil {
		stats.DroppedTime++
		return model.WeatherEvent{}, fmt.Errorf("end time: %w", err)
	}

	q := geocode.Query{Place: r.get("BEGIN_LOCATION"), County: r.get("CZ_NAME"), State: r.get("STATE")}
	begin, ok := parseGeo(r.get("BEGIN_LAT"), r.get("BEGIN_LON"))
	if !ok {
		if l.geocoder == nil {
			stats.DroppedLocation++
			return model.WeatherEvent{}, errors.New("no begin coordinates")
		}
		begin, err = l.geocoder.Geocode(ctx, q)
		if err != nil {
			stats.DroppedLocation++
			return model.WeatherEvent{}, err
		}
		stats.Geocoded++
	}
	endGeo, ok := parseGeo(r.get("END_LAT"), r.get("END_LON"))
	if !ok {
		endGeo = begin
	}

	ev := model.WeatherEvent{
		EventType:        r.get("EVENT_TYPE"),
		State:            r.get("STATE"),
		Location:         q.Address(),
		Begin:            begin,
		End:              endGeo,
		StartTime:        start,
		EndTime:          end,
		MagnitudeType:    r.get("MAGNITUDE_TYPE"),
		DamageProperty:   ParseDamage(r.get("DAMAGE_PROPERTY")),
		DamageCrops:      ParseDamage(r.get("DAMAGE_CROPS")),
		EpisodeNarrative: cleanNarrative(r.get("EPISODE_NARRATIVE")),
		Comments:         r.get("EVENT_NARRATIVE"),
	}
	if m, err := strconv.ParseFloat(r.get("MAGNITUDE"), 64); err == nil {
		ev.Magnitude = &m
	}
	ev.ID = EventID(&ev)
	return ev, nil
}

func parseLocal(raw string, loc *time.Location) (time.Time, error) {
	naive, err := time.Parse(dateTimeLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return tz.Localize(naive, loc)
}

func parseGeo(lat, lon string) (model.Geo, bool) {
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err1 != nil || err2 != nil {
		return model.Geo{}, false
	}
	return model.Geo{Lat: la, Lon: lo}, true
}

func cleanNarrative(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	if r := []rune(s); len(r) > model.MaxNarrativeLength {
		s = string(r[:model.MaxNarrativeLength])
	}
	return s
}

// EventID derives a stable ID from the fields that identify a report, so
// re-ingesting the same file inserts nothing new.
func EventID(ev *model.WeatherEvent) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%.4f|%.4f|%.4f|%.4f|%s",
		ev.StartTime.UTC().Format(time.RFC3339), ev.EndTime.UTC().Format(time.RFC3339),
		ev.Location, ev.EventType,
		ev.Begin.Lat, ev.Begin.Lon, ev.End.Lat, ev.End.Lon,
		ev.EpisodeNarrative)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	slug := strings.ToLower(strings.NewReplacer(" ", "-", "/", "-", "(", "", ")", "").Replace(ev.EventType))
	if slug == "" {
		return short
	}
	return slug + "-" + short
}
