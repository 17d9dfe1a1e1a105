// Package subscription serves live queries: a synchronous initial snapshot
// followed by a full snapshot after every relevant committed change.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

// ErrBrokerUnavailable ends subscriptions whose change feed dropped.
// The last snapshot a consumer received stays valid until it re-subscribes.
var ErrBrokerUnavailable = errors.New("subscription broker unavailable")

type Config struct {
	// Buffer is the number of snapshots queued per subscriber. A subscriber
	// that falls further behind loses its oldest queued snapshot.
	Buffer int
	// QueryTimeout bounds each snapshot query.
	QueryTimeout time.Duration
}

type Broker struct {
	source  Source
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
	wg     sync.WaitGroup
}

func NewBroker(source Source, config Config, log *logger.Logger, m *metrics.Metrics) *Broker {
	if config.Buffer <= 0 {
		config.Buffer = 1
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 5 * time.Second
	}
	return &Broker{
		source:  source,
		config:  config,
		logger:  log.With("component", "subscription-broker"),
		metrics: m,
		now:     time.Now,
		subs:    make(map[uuid.UUID]*Subscription),
	}
}

// Subscription is a live handle. Initial holds the snapshot taken at
// subscribe time; Updates delivers every later one and is closed when the
// subscription ends.
type Subscription struct {
	ID      uuid.UUID
	Filter  Filter
	Initial Snapshot

	ctx     context.Context
	broker  *Broker
	updates chan Snapshot
	signal  chan struct{}
	done    chan struct{}
	seq     uint64

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Done is closed as soon as the subscription stops.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is nil after a normal unsubscribe and ErrBrokerUnavailable when the
// feed dropped.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close is shorthand for Broker.Unsubscribe and equally safe to repeat.
func (s *Subscription) Close() {
	s.broker.Unsubscribe(s.ID)
}

func (s *Subscription) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		close(s.done)
		s.mu.Unlock()
	})
}

// Subscribe registers the filter and returns once the initial snapshot has
// been taken. The subscription also ends when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:      uuid.New(),
		Filter:  filter,
		ctx:     ctx,
		broker:  b,
		updates: make(chan Snapshot, b.config.Buffer),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	// Register before querying: a change committed in between raises the
	// signal and is picked up by the first live query.
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	initial, err := b.query(ctx, sub)
	if err != nil {
		b.remove(sub.ID)
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	sub.Initial = initial

	b.metrics.ActiveSubscriptions.Inc()
	b.metrics.SnapshotsDelivered.WithLabelValues(string(filter.Topic)).Inc()

	b.wg.Add(1)
	go b.deliver(sub)
	return sub, nil
}

// Unsubscribe stops delivery immediately. Unknown or already removed ids are ignored.
func (b *Broker) Unsubscribe(id uuid.UUID) {
	if sub := b.remove(id); sub != nil {
		sub.stop(nil)
	}
}

func (b *Broker) remove(id uuid.UUID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return nil
	}
	delete(b.subs, id)
	return sub
}

// Notify signals every subscription the change may affect. It never blocks:
// a subscription with a signal already pending absorbs this one.
func (b *Broker) Notify(_ context.Context, change model.Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.Filter.affectedBy(change) {
			continue
		}
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

// Fail ends every current subscription with ErrBrokerUnavailable. New
// subscriptions are still accepted.
func (b *Broker) Fail(cause error) {
	err := ErrBrokerUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrBrokerUnavailable, cause)
	}
	for _, sub := range b.drain() {
		sub.stop(err)
	}
	b.logger.Warn(cause, "change feed dropped, subscriptions closed")
}

// Close ends every subscription, rejects new ones and waits for the delivery
// loops to exit.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	for _, sub := range b.drain() {
		sub.stop(ErrBrokerUnavailable)
	}
	b.wg.Wait()
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) drain() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		out = append(out, sub)
		delete(b.subs, id)
	}
	return out
}

func (b *Broker) query(ctx context.Context, sub *Subscription) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.QueryTimeout)
	defer cancel()

	snap, err := b.source.Query(ctx, sub.Filter)
	if err != nil {
		return Snapshot{}, err
	}
	sub.seq++
	snap.Seq = sub.seq
	snap.Topic = sub.Filter.Topic
	snap.At = b.now().UTC()
	return snap, nil
}

// deliver is the per-subscription loop. Each wake-up queries the source
// afresh, so a delivered snapshot is never older than the previous one.
func (b *Broker) deliver(sub *Subscription) {
	defer b.wg.Done()
	defer b.metrics.ActiveSubscriptions.Dec()
	defer close(sub.updates)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.ctx.Done():
			b.Unsubscribe(sub.ID)
			return
		case <-sub.signal:
		}

		snap, err := b.query(sub.ctx, sub)
		if err != nil {
			if sub.ctx.Err() != nil {
				continue
			}
			b.logger.Warn(err, "snapshot query failed", "subscription_id", sub.ID.String())
			continue
		}

		if !sub.push(snap) {
			return
		}
		b.metrics.SnapshotsDelivered.WithLabelValues(string(sub.Filter.Topic)).Inc()
	}
}

// push queues snap unless the subscription has stopped. It holds mu, which
// stop also takes, so nothing is queued once Unsubscribe has returned. It
// never blocks: when the queue is full the oldest snapshot is replaced.
func (s *Subscription) push(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.updates <- snap:
	default:
		select {
		case <-s.updates:
		default:
		}
		// deliver is the only sender, so there is room now.
		s.updates <- snap
	}
	return true
}
