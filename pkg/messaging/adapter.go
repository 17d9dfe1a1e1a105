package messaging

import (
	"context"
)

// Handler consumes one raw payload received from a channel.
type Handler func(ctx context.Context, payload []byte) error

// Consume subscribes to channel and feeds every payload to handler until the
// subscription ends. Handler errors go to onError and do not stop consumption.
// It returns nil when ctx is cancelled and ErrClosed when the broker dropped
// the subscription first.
func Consume(ctx context.Context, broker Broker, channel string, handler Handler, onError func(error)) error {
	msgChan, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	return Drain(ctx, msgChan, handler, onError)
}

// Drain is Consume for a subscription the caller already holds.
func Drain(ctx context.Context, msgChan <-chan []byte, handler Handler, onError func(error)) error {
	for msg := range msgChan {
		if err := handler(ctx, msg); err != nil && onError != nil {
			onError(err)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return ErrClosed
}
