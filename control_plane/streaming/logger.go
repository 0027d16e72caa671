package streaming

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

func newEvent(source, topic string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   data,
		Timestamp: time.Now(),
		Source:    source,
	}, nil
}

// LogPublisher writes events to the process log. It is the default when no
// broker is configured.
type LogPublisher struct {
	source string
	logger *log.Logger
}

func NewLogPublisher(source string) *LogPublisher {
	return &LogPublisher{
		source: source,
		logger: log.Default(),
	}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload any) error {
	event, err := newEvent(p.source, topic, payload)
	if err != nil {
		return err
	}

	eventBytes, _ := json.Marshal(event)
	p.logger.Printf("[STREAMING] PUBLISH %s: %s", topic, string(eventBytes))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
