package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/messaging"
)

// Feed carries change signals through a message broker so every instance
// sharing the store wakes its own subscriptions.
type Feed struct {
	bus            messaging.Broker
	local          *Broker
	channel        string
	publishTimeout time.Duration
	logger         *logger.Logger
}

func NewFeed(bus messaging.Broker, local *Broker, publishTimeout time.Duration, log *logger.Logger) *Feed {
	if publishTimeout <= 0 {
		publishTimeout = time.Second
	}
	return &Feed{
		bus:            bus,
		local:          local,
		channel:        messaging.ChannelChanges,
		publishTimeout: publishTimeout,
		logger:         log.With("component", "change-feed"),
	}
}

// Notify publishes the change. When publishing fails the local broker is
// signalled directly so this instance's subscribers still see the write.
func (f *Feed) Notify(ctx context.Context, change model.Change) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.publishTimeout)
	defer cancel()

	if err := f.bus.Publish(ctx, f.channel, change); err != nil {
		f.logger.Warn(err, "publish change failed, notifying locally", "topic", string(change.Topic))
		f.local.Notify(ctx, change)
	}
}

// Listen subscribes to the bus and returns the loop that forwards received
// changes to the local broker until ctx ends. Changes published after Listen
// returns are not lost, so call it before accepting writes. If the bus drops
// the subscription, every live subscription is failed so that consumers
// re-subscribe, and the loop returns the error.
func (f *Feed) Listen(ctx context.Context) (func() error, error) {
	msgChan, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		f.local.Fail(err)
		return nil, fmt.Errorf("change feed: %w", err)
	}
	f.logger.Info("change feed started", "channel", f.channel)

	return func() error {
		err := messaging.Drain(ctx, msgChan, func(ctx context.Context, payload []byte) error {
			var change model.Change
			if err := json.Unmarshal(payload, &change); err != nil {
				return fmt.Errorf("decode change: %w", err)
			}
			f.local.Notify(ctx, change)
			return nil
		}, func(err error) {
			f.logger.Warn(err, "dropping malformed change")
		})
		if err != nil {
			f.local.Fail(err)
			return fmt.Errorf("change feed: %w", err)
		}
		f.logger.Info("change feed stopped")
		return nil
	}, nil
}

// Run is Listen followed by the forwarding loop.
func (f *Feed) Run(ctx context.Context) error {
	forward, err := f.Listen(ctx)
	if err != nil {
		return err
	}
	return forward()
}
