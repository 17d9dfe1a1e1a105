package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/internal/repository/memory"
	"github.com/jwalitptl/moderation-engine/internal/service/inbox"
	apperrors "github.com/jwalitptl/moderation-engine/pkg/errors"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	msgmemory "github.com/jwalitptl/moderation-engine/pkg/messaging/memory"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

type fixture struct {
	entities repository.EntityRepository
	inbox    *inbox.Store
	broker   *Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.New("test", nil)
	entities := memory.NewEntityRepository()
	f := &fixture{entities: entities}
	f.inbox = inbox.NewStore(memory.NewNotificationRepository(), nil, inbox.NotifierFunc(func(ctx context.Context, c model.Change) {
		f.broker.Notify(ctx, c)
	}), inbox.Config{}, logger.Nop(), m)
	f.broker = NewBroker(NewStoreSource(entities, f.inbox), Config{}, logger.Nop(), m)
	t.Cleanup(f.broker.Close)
	return f
}

func (f *fixture) createEvent(t *testing.T, status model.Status) *model.ModeratableEntity {
	t.Helper()
	e := &model.ModeratableEntity{
		Base:   model.Base{ID: uuid.New(), CreatedAt: time.Now()},
		Kind:   model.EntityKindEvent,
		Status: status,
	}
	require.NoError(t, f.entities.Create(context.Background(), e))
	return e
}

func (f *fixture) setStatus(t *testing.T, e *model.ModeratableEntity, status model.Status) {
	t.Helper()
	from := e.Status
	e.Status = status
	require.NoError(t, f.entities.Update(context.Background(), e, from))
	f.broker.Notify(context.Background(), model.Change{Topic: model.TopicEntities, EntityKind: e.Kind, EntityID: e.ID})
}

func next(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		require.True(t, ok, "updates closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func assertQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		if ok {
			t.Fatalf("unexpected snapshot seq=%d", snap.Seq)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel not closed")
		}
	}
}

func TestSubscribe_PendingQueueScenario(t *testing.T) {
	f := newFixture(t)
	first := f.createEvent(t, model.StatusPending)
	f.createEvent(t, model.StatusPending)
	f.createEvent(t, model.StatusPending)
	f.createEvent(t, model.StatusApproved)

	sub, err := f.broker.Subscribe(context.Background(), Filter{
		Topic: TopicEntities, Kind: model.EntityKindEvent, Status: model.StatusPending,
	})
	require.NoError(t, err)
	assert.Len(t, sub.Initial.Entities, 3)
	assert.EqualValues(t, 1, sub.Initial.Seq)

	f.setStatus(t, first, model.StatusApproved)

	snap := next(t, sub)
	assert.EqualValues(t, 2, snap.Seq)
	require.Len(t, snap.Entities, 2)
	for _, e := range snap.Entities {
		assert.NotEqual(t, first.ID, e.ID)
		assert.Equal(t, model.StatusPending, e.Status)
	}
	assertQuiet(t, sub)
}

func TestSubscribe_IgnoresUnrelatedChanges(t *testing.T) {
	f := newFixture(t)
	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities, Kind: model.EntityKindReport})
	require.NoError(t, err)

	f.broker.Notify(context.Background(), model.Change{Topic: model.TopicEntities, EntityKind: model.EntityKindEvent})
	f.broker.Notify(context.Background(), model.Change{Topic: model.TopicNotifications, RecipientID: uuid.New()})
	assertQuiet(t, sub)
}

func TestSubscribe_SnapshotsNeverGoBackwards(t *testing.T) {
	f := newFixture(t)
	var events []*model.ModeratableEntity
	for i := 0; i < 20; i++ {
		events = append(events, f.createEvent(t, model.StatusPending))
	}

	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities, Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, sub.Initial.Entities, 20)

	go func() {
		ctx := context.Background()
		for _, e := range events {
			e.Status = model.StatusRejected
			if err := f.entities.Update(ctx, e, model.StatusPending); err != nil {
				return
			}
			f.broker.Notify(ctx, model.Change{Topic: model.TopicEntities, EntityKind: e.Kind, EntityID: e.ID})
		}
	}()

	lastSeq := sub.Initial.Seq
	lastCount := len(sub.Initial.Entities)
	for lastCount > 0 {
		snap := next(t, sub)
		assert.Greater(t, snap.Seq, lastSeq)
		assert.LessOrEqual(t, len(snap.Entities), lastCount, "snapshot older than one already delivered")
		lastSeq, lastCount = snap.Seq, len(snap.Entities)
	}
}

func TestNotify_SlowSubscriberNeverBlocksWriter(t *testing.T) {
	f := newFixture(t)
	_, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			f.broker.Notify(context.Background(), model.Change{Topic: model.TopicEntities})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked by a subscriber that never reads")
	}
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)
	assert.Equal(t, 1, f.broker.Len())

	f.broker.Unsubscribe(sub.ID)
	f.broker.Unsubscribe(sub.ID)
	sub.Close()
	f.broker.Unsubscribe(uuid.New())

	waitClosed(t, sub)
	assert.NoError(t, sub.Err())
	assert.Zero(t, f.broker.Len())

	f.broker.Notify(context.Background(), model.Change{Topic: model.TopicEntities})
}

func TestSubscribe_ContextCancelEndsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.broker.Subscribe(ctx, Filter{Topic: TopicEntities})
	require.NoError(t, err)

	cancel()
	waitClosed(t, sub)
	assert.Zero(t, f.broker.Len())
}

func TestFail_EndsSubscriptionsWithUnavailable(t *testing.T) {
	f := newFixture(t)
	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)

	f.broker.Fail(errors.New("redis gone"))
	waitClosed(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrBrokerUnavailable)

	again, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err, "re-subscribing after a failure works")
	again.Close()
}

func TestClose_RejectsNewSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.broker.Close()
	_, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}

func TestSubscribe_NotificationsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	me := uuid.New()

	list, err := f.broker.Subscribe(ctx, Filter{Topic: TopicNotifications, RecipientID: me})
	require.NoError(t, err)
	badge, err := f.broker.Subscribe(ctx, Filter{Topic: TopicStats, RecipientID: me})
	require.NoError(t, err)
	require.NotNil(t, badge.Initial.Stats)
	assert.Zero(t, badge.Initial.Stats.TotalUnread)
	assert.Empty(t, list.Initial.Notifications)

	_, err = f.inbox.Append(ctx, &model.Notification{RecipientID: me, Type: model.NotificationTypeMention})
	require.NoError(t, err)

	snap := next(t, badge)
	assert.Equal(t, 1, snap.Stats.TotalUnread)
	assert.Equal(t, 1, snap.Stats.UnreadByType[model.NotificationTypeMention])

	snap = next(t, list)
	assert.Len(t, snap.Notifications, 1)
	assert.Equal(t, 1, snap.Stats.TotalUnread)

	_, err = f.inbox.Append(ctx, &model.Notification{RecipientID: uuid.New(), Type: model.NotificationTypeMention})
	require.NoError(t, err)
	assertQuiet(t, badge)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{Topic: TopicEntities}.Validate())
	assert.True(t, apperrors.HasCode(Filter{Topic: "bogus"}.Validate(), apperrors.ErrBadRequest))
	assert.Error(t, Filter{Topic: TopicStats}.Validate())
	assert.Error(t, Filter{Topic: TopicEntities, Kind: "nope"}.Validate())
	assert.Error(t, Filter{Topic: TopicNotifications, RecipientID: uuid.New(), Type: "nope"}.Validate())
}

func TestFeed_DeliversThroughBus(t *testing.T) {
	f := newFixture(t)
	bus := msgmemory.NewBroker(16)
	feed := NewFeed(bus, f.broker, time.Second, logger.Nop())

	runErr := make(chan error, 1)
	go func() { runErr <- feed.Run(context.Background()) }()

	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)

	// Wait for the feed to be consuming before publishing through it.
	require.Eventually(t, func() bool {
		feed.Notify(context.Background(), model.Change{Topic: model.TopicEntities})
		select {
		case snap := <-sub.Updates():
			return snap.Seq > 1
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Close())
	select {
	case err := <-runErr:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
	waitClosed(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrBrokerUnavailable)
}

func TestFeed_FallsBackToLocalWhenPublishFails(t *testing.T) {
	f := newFixture(t)
	bus := msgmemory.NewBroker(1)
	require.NoError(t, bus.Close())
	feed := NewFeed(bus, f.broker, time.Second, logger.Nop())

	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)

	feed.Notify(context.Background(), model.Change{Topic: model.TopicEntities})
	snap := next(t, sub)
	assert.EqualValues(t, 2, snap.Seq)
}

// slowSource holds every query long enough for an unsubscribe to land while
// it runs.
type slowSource struct {
	delay   time.Duration
	started chan struct{}
}

func (s *slowSource) Query(ctx context.Context, _ Filter) (Snapshot, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return Snapshot{Entities: []*model.ModeratableEntity{}}, nil
}

func TestUnsubscribe_DuringQueryDeliversNothing(t *testing.T) {
	source := &slowSource{delay: 20 * time.Millisecond, started: make(chan struct{}, 1)}
	broker := NewBroker(source, Config{Buffer: 4}, logger.Nop(), metrics.New("test", nil))
	t.Cleanup(broker.Close)

	for i := 0; i < 20; i++ {
		sub, err := broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
		require.NoError(t, err)
		<-source.started // initial query

		broker.Notify(context.Background(), eventChange)
		select {
		case <-source.started:
		case <-time.After(2 * time.Second):
			t.Fatal("live query did not start")
		}
		broker.Unsubscribe(sub.ID)

		for snap := range sub.Updates() {
			t.Fatalf("snapshot seq=%d delivered after unsubscribe", snap.Seq)
		}
	}
}

func TestSlowConsumer_SeesNewestSnapshot(t *testing.T) {
	f := newFixture(t)
	sub, err := f.broker.Subscribe(context.Background(), Filter{Topic: TopicEntities})
	require.NoError(t, err)
	defer sub.Close()

	// Buffer is 1: later snapshots replace the unread one.
	for i := 0; i < 5; i++ {
		f.createEvent(t, model.StatusPending)
		f.broker.Notify(context.Background(), eventChange)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		select {
		case snap := <-sub.Updates():
			return len(snap.Entities) == 5
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
