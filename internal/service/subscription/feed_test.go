package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/messaging"
	msgmemory "github.com/jwalitptl/moderation-engine/pkg/messaging/memory"
)

var eventChange = model.Change{Topic: model.TopicEntities, EntityKind: model.EntityKindEvent}

func TestFeed_ListenIsLiveOnReturn(t *testing.T) {
	f := newFixture(t)
	bus := msgmemory.NewBroker(8)
	t.Cleanup(func() { _ = bus.Close() })
	feed := NewFeed(bus, f.broker, time.Second, logger.Nop())

	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forward, err := feed.Listen(ctx)
	require.NoError(t, err)

	// Published before the loop runs, still delivered once it does.
	feed.Notify(context.Background(), eventChange)
	go func() { _ = forward() }()

	assert.Equal(t, uint64(2), next(t, sub).Seq)
}

func TestFeed_RunFailsSubscriptionsWhenBusIsGone(t *testing.T) {
	f := newFixture(t)
	bus := msgmemory.NewBroker(8)
	require.NoError(t, bus.Close())
	feed := NewFeed(bus, f.broker, time.Second, logger.Nop())

	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)

	err = feed.Run(context.Background())
	assert.ErrorIs(t, err, messaging.ErrClosed)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription still open")
	}
	assert.ErrorIs(t, sub.Err(), ErrBrokerUnavailable)
}

func TestFeed_RunStopsCleanlyOnCancel(t *testing.T) {
	f := newFixture(t)
	bus := msgmemory.NewBroker(8)
	t.Cleanup(func() { _ = bus.Close() })
	feed := NewFeed(bus, f.broker, time.Second, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, feed.Run(ctx))

	// The local broker keeps serving.
	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)
	sub.Close()
}
