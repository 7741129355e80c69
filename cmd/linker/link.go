package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
)

var errNoDBNeedsEvents = errors.New("--no-db requires --events-file")

var linkArgs struct {
	eventsFile      string
	noDB            bool
	skipPerformance bool
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Run one linkage pass and write the output tables",
	RunE:  runLink,
}

func init() {
	f := linkCmd.Flags()
	f.StringVar(&linkArgs.eventsFile, "events-file", "", "read the event catalog from a JSON-lines file instead of the database")
	f.BoolVar(&linkArgs.noDB, "no-db", false, "do not persist the run (requires --events-file)")
	f.BoolVar(&linkArgs.skipPerformance, "skip-performance", false, "skip time-series loading and performance ratios")
}

func runLink(cmd *cobra.Command, _ []string) error {
	if linkArgs.noDB && linkArgs.eventsFile == "" {
		return errNoDBNeedsEvents
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	opts := runnerOptions{skipPerformance: linkArgs.skipPerformance}
	if linkArgs.eventsFile != "" {
		opts.events = pipeline.JSONLinesEvents(linkArgs.eventsFile)
	}
	if !linkArgs.noDB {
		st, _, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		opts.store = st
		if opts.events == nil {
			opts.events = st
		}
	}

	runner, err := a.newRunner(ctx, opts)
	if err != nil {
		return err
	}
	out, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("run %s: %d assets, %d events, %d linkages, %d ratios, %d skipped, %d failed\n",
		out.Report.RunID, out.Report.AssetCount, out.Report.EventCount, out.Report.LinkageCount,
		out.Report.RatioCount, len(out.Report.Skipped), len(out.Report.Failed))
	return nil
}
