package main

import (
	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-asset-linker/internal/database"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/scheduler"
	"github.com/couchcryptid/storm-asset-linker/internal/server"
)

var serveArgs struct {
	consume bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API, consume Kafka and run scheduled linkage passes",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveArgs.consume, "consume", true, "also consume weather events from Kafka")
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	st, pool, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	go database.CollectPoolStats(ctx, pool, a.metrics, poolStatsInterval)

	if serveArgs.consume {
		go func() {
			if err := a.consume(ctx, st); err != nil {
				a.logger.Error("kafka consumer", "error", err)
			}
		}()
	}

	runner, err := a.newRunner(ctx, runnerOptions{events: st, store: st})
	if err != nil {
		return err
	}
	sched := scheduler.New(runner, a.cfg.LinkInterval, a.logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	readiness := observability.Readiness{database.NewPoolReadiness(pool)}
	if a.cache != nil {
		readiness = append(readiness, a.cache)
	}

	// Reserve one connection for the consumer and one for runs.
	router := server.NewRouter(ctx, server.Deps{
		Store:         st,
		Runner:        runner,
		Readiness:     readiness,
		Metrics:       a.metrics,
		Logger:        a.logger,
		MaxConcurrent: max(1, int(a.cfg.DBMaxConns)-2),
	})
	return server.ListenAndServe(ctx, server.New(a.cfg.Port, router), a.cfg.ShutdownTimeout, a.logger)
}
