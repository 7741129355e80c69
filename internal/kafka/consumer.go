// Package kafka moves weather events between the catalog and a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// MessageReader abstracts the kafka reader for testability.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// StoreInserter abstracts the catalog dependency for testability.
type StoreInserter interface {
	InsertWeatherEvents(ctx context.Context, events []model.WeatherEvent) (int, error)
}

var errIncompleteEvent = errors.New("event missing id, event_type or start_time")

// decodeEvent unmarshals a message value into a WeatherEvent and rejects
// events that cannot be stored.
func decodeEvent(value []byte) (*model.WeatherEvent, error) {
	var ev model.WeatherEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal weather event: %w", err)
	}
	if ev.ID == "" || ev.EventType == "" || ev.StartTime.IsZero() {
		return nil, errIncompleteEvent
	}
	if ev.EndTime.IsZero() {
		ev.EndTime = ev.StartTime
	}
	if r := []rune(ev.EpisodeNarrative); len(r) > model.MaxNarrativeLength {
		ev.EpisodeNarrative = string(r[:model.MaxNarrativeLength])
	}
	return &ev, nil
}
