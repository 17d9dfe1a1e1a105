package messaging

import (
	"context"
	"errors"
)

// Channel names shared by publishers and consumers.
const (
	// ChannelChanges carries model.Change signals between engine instances.
	ChannelChanges = "moderation.changes"
	// ChannelPush carries stored notifications handed off for push delivery.
	ChannelPush = "notifications.push"
)

// ErrClosed is returned by brokers that have been shut down.
var ErrClosed = errors.New("messaging: broker closed")

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe returns a channel of raw JSON payloads. It is closed when ctx
	// ends or the broker shuts down.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}
