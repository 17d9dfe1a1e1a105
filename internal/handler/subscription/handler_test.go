package subscription

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/service/subscription"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

// countingSource answers every query with an empty result set and records
// the last filter it saw.
type countingSource struct {
	queries atomic.Int32
	last    atomic.Value
}

func (s *countingSource) Query(_ context.Context, filter subscription.Filter) (subscription.Snapshot, error) {
	s.queries.Add(1)
	s.last.Store(filter)
	return subscription.Snapshot{Entities: []*model.ModeratableEntity{}}, nil
}

var me = model.Actor{ID: uuid.New(), Name: "Bob"}

func newServer(t *testing.T, broker Subscriber) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		handler.SetActor(c, me)
		c.Next()
	})
	NewHandler(broker, time.Hour).RegisterRoutes(r.Group("/api/v1"))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newBroker(t *testing.T, source subscription.Source) *subscription.Broker {
	t.Helper()
	b := subscription.NewBroker(source, subscription.Config{}, logger.Nop(), metrics.New("test", nil))
	t.Cleanup(b.Close)
	return b
}

func TestEntities_StreamsInitialSnapshotThenUnavailable(t *testing.T) {
	source := &countingSource{}
	broker := newBroker(t, source)
	srv := newServer(t, broker)

	resp, err := http.Get(srv.URL + "/api/v1/subscriptions/entities?kind=report")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return broker.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	broker.Fail(stderrors.New("redis gone"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "event:snapshot")
	assert.Contains(t, text, `"seq":1`)
	assert.Contains(t, text, "event:unavailable")
	assert.True(t, strings.Index(text, "event:snapshot") < strings.Index(text, "event:unavailable"))

	filter := source.last.Load().(subscription.Filter)
	assert.Equal(t, model.EntityKindReport, filter.Kind)
}

func TestEntities_ChangeProducesNextSnapshot(t *testing.T) {
	broker := newBroker(t, &countingSource{})
	srv := newServer(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/subscriptions/entities", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return broker.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	broker.Notify(ctx, model.Change{Topic: model.TopicEntities, EntityKind: model.EntityKindEvent})

	scanner := bufio.NewScanner(resp.Body)
	seen := false
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), `"seq":2`) {
			seen = true
			break
		}
	}
	assert.True(t, seen, "second snapshot was not streamed")
}

func TestNotifications_ScopedToCaller(t *testing.T) {
	source := &countingSource{}
	broker := newBroker(t, source)
	srv := newServer(t, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/subscriptions/notifications?unread_only=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return source.queries.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	filter := source.last.Load().(subscription.Filter)
	assert.Equal(t, subscription.TopicNotifications, filter.Topic)
	assert.Equal(t, me.ID, filter.RecipientID)
	assert.True(t, filter.UnreadOnly)
}

func TestSubscribe_ClosedBrokerIsUnavailable(t *testing.T) {
	broker := newBroker(t, &countingSource{})
	broker.Close()
	srv := newServer(t, broker)

	resp, err := http.Get(srv.URL + "/api/v1/subscriptions/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEntities_RejectsUnknownKind(t *testing.T) {
	srv := newServer(t, newBroker(t, &countingSource{}))

	resp, err := http.Get(srv.URL + "/api/v1/subscriptions/entities?kind=poll")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
