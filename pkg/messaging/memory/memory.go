// Package memory is an in-process messaging.Broker used for single-node
// deployments and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jwalitptl/moderation-engine/pkg/messaging"
)

type subscriber struct {
	ctx context.Context
	ch  chan []byte
}

type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	buffer int
}

var _ messaging.Broker = (*Broker)(nil)

// NewBroker creates a broker whose subscriber channels hold buffer messages.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Publish delivers message to every subscriber of channel. A slow subscriber
// slows the publisher until the subscriber's context ends.
func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return messaging.ErrClosed
	}

	for s := range b.subs[channel] {
		select {
		case s.ch <- payload:
		case <-s.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, messaging.ErrClosed
	}

	s := &subscriber{ctx: ctx, ch: make(chan []byte, b.buffer)}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][s] = struct{}{}

	go func() {
		<-ctx.Done()
		b.remove(channel, s)
	}()

	return s.ch, nil
}

func (b *Broker) remove(channel string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[channel][s]; !ok {
		return
	}
	delete(b.subs[channel], s)
	close(s.ch)
}

// Close drops every subscription; their channels are closed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for s := range subs {
			close(s.ch)
		}
		delete(b.subs, channel)
	}
	return nil
}
