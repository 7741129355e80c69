package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
)

// MessageWriter abstracts the kafka writer for testability.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces weather events to a Kafka topic so other linker
// instances can fill their catalogs.
type Publisher struct {
	writer    MessageWriter
	topic     string
	batchSize int
	metrics   *observability.Metrics
}

// NewPublisher creates a producer for topic. Events are written in chunks
// of at most batchSize messages.
func NewPublisher(brokers []string, topic string, batchSize int, m *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, topic: topic, batchSize: batchSize, metrics: m}
}

// Publish serializes and writes events keyed by event ID.
func (p *Publisher) Publish(ctx context.Context, events []model.WeatherEvent) error {
	size := p.batchSize
	if size <= 0 {
		size = len(events)
	}
	for start := 0; start < len(events); start += size {
		end := min(start+size, len(events))
		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeToMessage(&events[i])
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish weather events: %w", err)
		}
		p.metrics.KafkaMessagesPublished.WithLabelValues(p.topic).Add(float64(len(msgs)))
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(ev *model.WeatherEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize weather event %s: %w", ev.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(ev.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "start_time", Value: []byte(ev.StartTime.Format(time.RFC3339))},
		},
	}, nil
}
