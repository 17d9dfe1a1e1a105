package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/config"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/messaging"
)

var (
	adminUser  = model.User{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), DisplayName: "Ada", Role: model.UserRoleAdmin}
	memberUser = model.User{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), DisplayName: "Bob", Role: model.UserRoleMember}
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Mode: gin.TestMode, ReadTimeout: time.Second, ShutdownTimeout: time.Second},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret",
			Issuer:    "moderation-engine",
			TokenTTL:  time.Hour,
			AdminRole: model.UserRoleAdmin,
		},
		Moderation: config.ModerationConfig{MaxTitleLength: 200, MaxPayloadBytes: 1 << 10, ActorLookupTimeout: time.Second},
		Outbox: config.OutboxConfig{
			BatchSize:       10,
			PollInterval:    10 * time.Millisecond,
			RetryAttempts:   3,
			RetryDelay:      10 * time.Millisecond,
			Retention:       time.Hour,
			CleanupInterval: time.Hour,
			InProcess:       true,
		},
		Subscription: config.SubscriptionConfig{Buffer: 1, QueryTimeout: time.Second},
		Aggregator:   config.AggregatorConfig{CacheTTL: time.Minute, CleanupInterval: time.Minute},
		Users:        []model.User{adminUser, memberUser},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
}

func call(t *testing.T, h http.Handler, token, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func tokenFor(t *testing.T, a *App, u model.User) string {
	t.Helper()
	token, err := a.JWT.GenerateAccessToken(model.Actor{ID: u.ID, Name: u.DisplayName, Role: u.Role})
	require.NoError(t, err)
	return token
}

func TestApp_ApprovalReachesInboxAndPushChannel(t *testing.T) {
	a := newTestApp(t)
	r, err := a.Router()
	require.NoError(t, err)
	h := r.Engine()

	member := tokenFor(t, a, memberUser)
	admin := tokenFor(t, a, adminUser)

	code, env := call(t, h, member, http.MethodPost, "/api/v1/events", map[string]string{"title": "Bake sale", "payload": "saturday"})
	require.Equal(t, http.StatusCreated, code)
	var entity model.ModeratableEntity
	require.NoError(t, json.Unmarshal(env.Data, &entity))
	assert.Equal(t, model.StatusPending, entity.Status)

	code, _ = call(t, h, member, http.MethodPost, "/api/v1/entities/"+entity.ID.String()+"/transitions", map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call(t, h, admin, http.MethodPost, "/api/v1/entities/"+entity.ID.String()+"/transitions", map[string]string{"action": "approve"})
	require.Equal(t, http.StatusOK, code)

	code, env = call(t, h, member, http.MethodGet, "/api/v1/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Items []model.Notification    `json:"items"`
		Stats model.NotificationStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, model.NotificationTypeEventApproved, list.Items[0].Type)
	assert.Equal(t, 1, list.Stats.TotalUnread)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pushes, err := a.Bus.Subscribe(ctx, messaging.ChannelPush)
	require.NoError(t, err)

	processed, err := a.Processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	select {
	case payload := <-pushes:
		var pushed model.Notification
		require.NoError(t, json.Unmarshal(payload, &pushed))
		assert.Equal(t, list.Items[0].ID, pushed.ID)
		assert.Equal(t, memberUser.ID, pushed.RecipientID)
	case <-ctx.Done():
		t.Fatal("push hand-off was not published")
	}
}

func TestApp_RequiresToken(t *testing.T) {
	a := newTestApp(t)
	r, err := a.Router()
	require.NoError(t, err)

	code, env := call(t, r.Engine(), "", http.MethodGet, "/api/v1/notifications", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", env.Status)

	code, _ = call(t, r.Engine(), "", http.MethodGet, "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestApp_MemoryDriverHasNoReadinessChecks(t *testing.T) {
	a := newTestApp(t)
	assert.Empty(t, a.Checks())
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestApp_RunWorkerStopsOnCancel(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorker(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("RunWorker did not return after cancel")
	}
}

func TestNew_RejectsBadOutboxSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Outbox.BatchSize = 0

	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
