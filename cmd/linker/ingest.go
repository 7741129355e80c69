package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-asset-linker/internal/geocode"
	"github.com/couchcryptid/storm-asset-linker/internal/kafka"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/noaa"
	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
	"github.com/couchcryptid/storm-asset-linker/internal/tz"
)

var ingestArgs struct {
	out        string
	publish    bool
	yearCutoff int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Load NOAA storm event detail files into the event catalog",
	Long: "Parse NOAA Storm Events details CSV files (optionally gzipped), resolve their " +
		"time zones and missing coordinates, and store the events in the database, a " +
		"JSON-lines file, or the Kafka topic.",
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestArgs.out, "out", "", "write events to this JSON-lines file instead of the database")
	f.BoolVar(&ingestArgs.publish, "publish", false, "publish events to the Kafka topic instead of the database")
	f.IntVar(&ingestArgs.yearCutoff, "year-cutoff", -1, "drop events that started before this year (default YEAR_CUTOFF, 0 keeps all)")
	ingestCmd.MarkFlagsMutuallyExclusive("out", "publish")
}

func runIngest(cmd *cobra.Command, files []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	if ingestArgs.yearCutoff >= 0 {
		a.cfg.YearCutoff = ingestArgs.yearCutoff
	}
	loader, err := a.noaaLoader()
	if err != nil {
		return err
	}

	var events []model.WeatherEvent
	for _, path := range files {
		evs, err := loadDetails(ctx, a.logger, loader, path)
		if err != nil {
			return err
		}
		events = append(events, evs...)
	}

	switch {
	case ingestArgs.out != "":
		err = writeEventsFile(ingestArgs.out, events)
		a.metrics.EventsIngested.WithLabelValues("file").Add(float64(len(events)))
	case ingestArgs.publish:
		pub := kafka.NewPublisher(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.cfg.BatchSize, a.metrics)
		defer func() {
			if err := pub.Close(); err != nil {
				a.logger.Error("close kafka publisher", "error", err)
			}
		}()
		err = pub.Publish(ctx, events)
	default:
		st, _, openErr := a.openStore(ctx)
		if openErr != nil {
			return openErr
		}
		var n int
		n, err = st.InsertWeatherEvents(ctx, events)
		a.metrics.EventsIngested.WithLabelValues("file").Add(float64(n))
		if err == nil {
			a.logger.Info("inserted weather events", "new", n, "duplicates", len(events)-n)
		}
	}
	if err != nil {
		return err
	}
	cmd.Printf("ingested %d events from %d files\n", len(events), len(files))
	return nil
}

func (a *app) noaaLoader() (*noaa.Loader, error) {
	zones, err := tz.NewResolver(tz.DefaultZones)
	if err != nil {
		return nil, err
	}
	var g geocode.Geocoder
	if a.cfg.GoogleMapsAPIKey != "" {
		cached, err := geocode.NewCached(geocode.NewGoogle(a.cfg.GoogleMapsAPIKey), a.cfg.GeocodeCacheSize)
		if err != nil {
			return nil, err
		}
		g = cached
	} else {
		a.logger.Warn("GOOGLE_MAPS_API_KEY not set; rows without coordinates will be dropped")
	}
	return noaa.NewLoader(zones, g, a.cfg.YearCutoff, a.logger), nil
}

func loadDetails(ctx context.Context, logger *slog.Logger, loader *noaa.Loader, path string) ([]model.WeatherEvent, error) {
	r, err := noaa.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	events, stats, err := loader.Load(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	logger.Info("loaded storm events", "file", path,
		"rows", stats.Rows,
		"loaded", stats.Loaded,
		"geocoded", stats.Geocoded,
		"dropped_time", stats.DroppedTime,
		"dropped_location", stats.DroppedLocation,
		"dropped_year", stats.DroppedYear,
	)
	return events, nil
}

func writeEventsFile(path string, events []model.WeatherEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create events file: %w", err)
	}
	if err := pipeline.WriteJSONLines(f, events); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
