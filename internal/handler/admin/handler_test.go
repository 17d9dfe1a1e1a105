package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/service/moderation"
)

type fakeService struct {
	moderation.Service
	got    moderation.BroadcastInput
	result *moderation.BroadcastResult
}

func (f *fakeService) Broadcast(_ context.Context, in moderation.BroadcastInput) (*moderation.BroadcastResult, error) {
	f.got = in
	return f.result, nil
}

func post(t *testing.T, svc moderation.Service, body interface{}) (*httptest.ResponseRecorder, handler.Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	actor := model.Actor{ID: uuid.New(), Name: "Ada", Role: model.UserRoleAdmin}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		handler.SetActor(c, actor)
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1/admin"))

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/broadcast", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp handler.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestBroadcast(t *testing.T) {
	recipients := []uuid.UUID{uuid.New(), uuid.New()}
	svc := &fakeService{result: &moderation.BroadcastResult{
		Recipients:    2,
		Notifications: []*model.Notification{{}, {}},
	}}

	w, resp := post(t, svc, BroadcastRequest{Recipients: recipients, Title: "Maintenance", Message: "Down at noon"})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, recipients, svc.got.Recipients)
	assert.Equal(t, "Down at noon", svc.got.Message)
	assert.Equal(t, model.UserRoleAdmin, svc.got.Actor.Role)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["recipients"])
	assert.Equal(t, float64(2), data["notifications"])
}

func TestBroadcast_MessageRequired(t *testing.T) {
	svc := &fakeService{}

	w, resp := post(t, svc, map[string]string{"title": "Empty"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", resp.Status)
}
