package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
)

// batchItem holds a fetched Kafka message and its decoded event.
type batchItem struct {
	msg   kafkago.Message
	event *model.WeatherEvent
	err   error // non-nil if decoding failed (poison pill)
}

// BatchConsumer reads weather events from Kafka in batches and adds them to
// the catalog.
type BatchConsumer struct {
	reader        MessageReader
	store         StoreInserter
	topic         string
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewBatchConsumer creates a batch consumer with time-bounded fetching.
func NewBatchConsumer(
	brokers []string,
	topic, groupID string,
	batchSize int,
	flushInterval time.Duration,
	s StoreInserter,
	m *observability.Metrics,
	logger *slog.Logger,
) *BatchConsumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10 MB
	})
	return &BatchConsumer{
		reader:        reader,
		store:         s,
		topic:         topic,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		metrics:       m,
	}
}

// Run consumes messages in batches until the context is cancelled.
func (bc *BatchConsumer) Run(ctx context.Context) error {
	bc.logger.Info("kafka batch consumer started",
		"topic", bc.topic, "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
	bc.metrics.KafkaConsumerRunning.WithLabelValues(bc.topic).Set(1)
	defer bc.metrics.KafkaConsumerRunning.WithLabelValues(bc.topic).Set(0)

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		items, err := bc.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "fetch_batch").Inc()
			bc.logger.Error("fetch batch", "error", err, "retry_in", backoff)
			if !retry.SleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if len(items) == 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		bc.processBatch(ctx, items)
	}
}

// fetchBatch collects up to batchSize messages or until flushInterval elapses.
func (bc *BatchConsumer) fetchBatch(ctx context.Context) ([]batchItem, error) {
	start := time.Now()
	defer func() {
		bc.metrics.KafkaBatchDuration.WithLabelValues(bc.topic, "fetch").Observe(time.Since(start).Seconds())
	}()

	items := make([]batchItem, 0, bc.batchSize)
	deadline := time.Now().Add(bc.flushInterval)

	for len(items) < bc.batchSize {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			break
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		msg, err := bc.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if fetchCtx.Err() == context.DeadlineExceeded {
				break
			}
			return nil, err
		}

		ev, decodeErr := decodeEvent(msg.Value)
		items = append(items, batchItem{msg: msg, event: ev, err: decodeErr})
	}

	bc.metrics.KafkaBatchSize.WithLabelValues(bc.topic).Observe(float64(len(items)))
	return items, nil
}

// splitBatch separates poison pills from decoded events. Repeated event IDs
// within a batch are inserted once; every message is still committed.
func splitBatch(items []batchItem) (events []model.WeatherEvent, valid, poison []kafkago.Message) {
	seen := make(map[string]bool, len(items))
	for i := range items {
		it := &items[i]
		if it.err != nil {
			poison = append(poison, it.msg)
			continue
		}
		valid = append(valid, it.msg)
		if !seen[it.event.ID] {
			seen[it.event.ID] = true
			events = append(events, *it.event)
		}
	}
	return events, valid, poison
}

// processBatch inserts decoded events and commits all offsets. Offsets of
// the valid messages stay uncommitted when the insert fails.
func (bc *BatchConsumer) processBatch(ctx context.Context, items []batchItem) {
	start := time.Now()
	defer func() {
		bc.metrics.KafkaBatchDuration.WithLabelValues(bc.topic, "process").Observe(time.Since(start).Seconds())
	}()

	events, valid, poison := splitBatch(items)

	// Poison pills are committed so they are not redelivered.
	if len(poison) > 0 {
		for _, msg := range poison {
			bc.logger.Error("dropping undecodable weather event", "offset", msg.Offset, "partition", msg.Partition)
		}
		bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "decode").Add(float64(len(poison)))
		if err := bc.reader.CommitMessages(ctx, poison...); err != nil {
			bc.logger.Error("commit poison pills", "error", err, "count", len(poison))
		}
	}
	if len(valid) == 0 {
		return
	}

	inserted, err := bc.store.InsertWeatherEvents(ctx, events)
	if err != nil {
		bc.logger.Error("insert weather events", "error", err, "count", len(events))
		bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "batch_insert").Inc()
		return
	}
	if err := bc.reader.CommitMessages(ctx, valid...); err != nil {
		bc.logger.Error("commit batch offsets", "error", err, "count", len(valid))
	}

	bc.metrics.KafkaMessagesConsumed.WithLabelValues(bc.topic).Add(float64(len(valid)))
	bc.metrics.EventsIngested.WithLabelValues("kafka").Add(float64(inserted))
	bc.logger.Debug("consumed batch", "messages", len(valid), "events", len(events), "new", inserted, "duplicates", len(events)-inserted)
}

// Close shuts down the underlying Kafka reader.
func (bc *BatchConsumer) Close() error {
	return bc.reader.Close()
}
