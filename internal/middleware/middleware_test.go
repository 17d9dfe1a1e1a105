package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/moderation-engine/internal/handler"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/auth"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	jwt := auth.NewJWTService("secret", "moderation-engine", time.Hour)
	m := NewAuthMiddleware(jwt)
	actor := model.Actor{ID: uuid.New(), Name: "Ada", Role: model.UserRoleAdmin}
	token, err := jwt.GenerateAccessToken(actor)
	require.NoError(t, err)

	var seen model.Actor
	r := gin.New()
	r.GET("/me", m.Authenticate(), func(c *gin.Context) {
		seen, _ = handler.Actor(c)
		ok(c)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(r, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, actor.ID, seen.ID)
		assert.Equal(t, actor.Role, seen.Role)
	})

	t.Run("query parameter for event streams", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Token "+token)
		w := serve(r, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token from another issuer", func(t *testing.T) {
		foreign, err := auth.NewJWTService("secret", "someone-else", time.Hour).GenerateAccessToken(actor)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+foreign)
		w := serve(r, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(auth.NewJWTService("secret", "moderation-engine", time.Hour))

	build := func(actor model.Actor) *gin.Engine {
		r := gin.New()
		r.GET("/admin", func(c *gin.Context) {
			handler.SetActor(c, actor)
			c.Next()
		}, m.RequireRole(model.UserRoleAdmin), ok)
		return r
	}

	w := serve(build(model.Actor{ID: uuid.New(), Role: model.UserRoleAdmin}), httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(build(model.Actor{ID: uuid.New(), Role: model.UserRoleMember}), httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit_PerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2})

	first := model.Actor{ID: uuid.New()}
	second := model.Actor{ID: uuid.New()}
	build := func(actor model.Actor) *gin.Engine {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			handler.SetActor(c, actor)
			c.Next()
		}, rl.RateLimit(), ok)
		return r
	}

	r := build(first)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")

	// A different caller has its own bucket.
	assert.Equal(t, http.StatusOK, serve(build(second), httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"https://app.example.com"})))
	r.GET("/x", ok)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(r, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := serve(r, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(r, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	})
}

func TestCORS_WildcardWithCredentialsEchoesOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig(nil)))
	r.GET("/x", ok)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	w := serve(r, req)
	assert.Equal(t, "https://anywhere.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	r := gin.New()
	r.Use(RequestID(&base))
	r.GET("/x", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("handled")
		ok(c)
	})

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderXRequestID, incoming)
	w := serve(r, req)
	assert.Equal(t, incoming, w.Header().Get(HeaderXRequestID))
	assert.Contains(t, buf.String(), `"request_id":"`+incoming+`"`)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderXRequestID, "not-a-uuid")
	w = serve(r, req)
	generated := w.Header().Get(HeaderXRequestID)
	assert.NotEqual(t, "not-a-uuid", generated)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(logger.Nop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(8))
	r.POST("/x", ok)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("0123")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTimeout(t *testing.T) {
	var deadline, skipped bool
	r := gin.New()
	r.Use(Timeout(TimeoutConfig{Duration: time.Minute, SkipPrefixes: []string{"/stream"}}))
	r.GET("/x", func(c *gin.Context) {
		_, deadline = c.Request.Context().Deadline()
		ok(c)
	})
	r.GET("/stream", func(c *gin.Context) {
		_, has := c.Request.Context().Deadline()
		skipped = !has
		ok(c)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.True(t, deadline)
	assert.True(t, skipped)
}

func TestRegisterValidators_Idempotent(t *testing.T) {
	require.NoError(t, RegisterValidators())
	require.NoError(t, RegisterValidators())
}
