package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/moderation-engine/internal/middleware"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Handlers struct {
	Health       Handler
	Moderation   Handler
	Notification Handler
	Subscription Handler
	// Admin routes are mounted under /admin behind the admin role.
	Admin Handler
}

type RouterConfig struct {
	Mode             string
	AdminRole        string
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	config   RouterConfig
	limiter  *middleware.RateLimiter
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	handlers Handlers,
	log *logger.Logger,
	m *metrics.Metrics,
	config RouterConfig,
) (*Router, error) {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}

	engine := gin.New() // Use New() instead of Default() for more control

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		config:   config,
	}

	// Add core middlewares
	engine.Use(
		middleware.Recovery(log),
		middleware.RequestID(log.Zerolog()),
		middleware.Logger(log),
		middleware.Metrics(m),
		middleware.CORS(config.CORSConfig),
		middleware.Timeout(middleware.TimeoutConfig{
			Duration:     config.RequestTimeout,
			SkipPrefixes: []string{"/api/v1/subscriptions"},
		}),
	)
	if config.MaxBodyBytes > 0 {
		engine.Use(middleware.SizeLimit(config.MaxBodyBytes))
	}

	if config.RateLimitEnabled {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}

	r.setup()
	return r, nil
}

func (r *Router) setup() {
	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Health check endpoints
	if r.handlers.Health != nil {
		r.handlers.Health.RegisterRoutes(api)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	if r.limiter != nil {
		protected.Use(r.limiter.RateLimit())
	}

	for _, h := range []Handler{r.handlers.Moderation, r.handlers.Notification, r.handlers.Subscription} {
		if h != nil {
			h.RegisterRoutes(protected)
		}
	}

	if r.handlers.Admin != nil {
		admin := protected.Group("/admin")
		admin.Use(r.auth.RequireRole(r.config.AdminRole))
		r.handlers.Admin.RegisterRoutes(admin)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
