// Package streaming publishes cluster events, such as application ownership
// changes, to whoever is listening outside the node.
package streaming

import (
	"context"
	"time"
)

// Topics
const (
	TopicOwnership = "fleet.ownership"
)

type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// OwnershipEvent is the payload published on TopicOwnership.
type OwnershipEvent struct {
	AppID  int64  `json:"app_id"`
	NodeID string `json:"node_id"`
	Event  string `json:"event"` // acquired, lost, released
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close() error
}
