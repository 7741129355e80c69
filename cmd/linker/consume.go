package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-asset-linker/internal/database"
	"github.com/couchcryptid/storm-asset-linker/internal/kafka"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
)

const poolStatsInterval = 10 * time.Second

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume weather events from Kafka into the event catalog",
	RunE:  runConsume,
}

func runConsume(_ *cobra.Command, _ []string) error {
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

	return a.consume(ctx, st)
}

// consume runs the batch consumer until ctx is cancelled.
func (a *app) consume(ctx context.Context, st *store.Store) error {
	consumer := kafka.NewBatchConsumer(
		a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.cfg.KafkaGroupID,
		a.cfg.BatchSize, a.cfg.BatchFlushInterval,
		st, a.metrics, a.logger,
	)
	defer func() {
		if err := consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close", "error", err)
		}
	}()
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
