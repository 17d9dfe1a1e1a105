// Package app assembles the engine from configuration and runs its
// long-lived loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/moderation-engine/internal/config"
	"github.com/jwalitptl/moderation-engine/internal/handler/admin"
	"github.com/jwalitptl/moderation-engine/internal/handler/health"
	moderationHandler "github.com/jwalitptl/moderation-engine/internal/handler/moderation"
	notificationHandler "github.com/jwalitptl/moderation-engine/internal/handler/notification"
	promHandler "github.com/jwalitptl/moderation-engine/internal/handler/prometheus"
	subscriptionHandler "github.com/jwalitptl/moderation-engine/internal/handler/subscription"
	"github.com/jwalitptl/moderation-engine/internal/middleware"
	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
	"github.com/jwalitptl/moderation-engine/internal/repository/memory"
	"github.com/jwalitptl/moderation-engine/internal/repository/postgres"
	"github.com/jwalitptl/moderation-engine/internal/router"
	"github.com/jwalitptl/moderation-engine/internal/service/inbox"
	"github.com/jwalitptl/moderation-engine/internal/service/moderation"
	"github.com/jwalitptl/moderation-engine/internal/service/notification"
	"github.com/jwalitptl/moderation-engine/internal/service/subscription"
	"github.com/jwalitptl/moderation-engine/pkg/auth"
	"github.com/jwalitptl/moderation-engine/pkg/logger"
	"github.com/jwalitptl/moderation-engine/pkg/messaging"
	msgmemory "github.com/jwalitptl/moderation-engine/pkg/messaging/memory"
	msgredis "github.com/jwalitptl/moderation-engine/pkg/messaging/redis"
	"github.com/jwalitptl/moderation-engine/pkg/metrics"
	"github.com/jwalitptl/moderation-engine/pkg/worker"
)

const (
	metricsNamespace   = "moderation"
	localBusBuffer     = 64
	feedPublishTimeout = time.Second
)

// App holds every wired component. Fields are exported so commands and
// tests can reach the pieces they drive directly.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Entities      repository.EntityRepository
	Notifications repository.NotificationRepository
	Outbox        repository.OutboxRepository
	Directory     repository.UserDirectory

	Bus        messaging.Broker
	Inbox      *inbox.Store
	Emitter    notification.Emitter
	Moderation moderation.Service
	Broker     *subscription.Broker
	Feed       *subscription.Feed
	JWT        auth.JWTService
	Processor  *worker.OutboxProcessor
	Cleanup    *worker.OutboxCleanupWorker

	checks  map[string]health.Pinger
	closers []func() error
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Format != "console",
	})
}

// New connects storage and the bus and wires the engine on top of them.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: registry,
		Metrics:  metrics.New(metricsNamespace, registry),
		checks:   make(map[string]health.Pinger),
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBus(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Database.Driver {
	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)

		if a.Config.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}

		base := postgres.NewBaseRepository(db)
		directory := postgres.NewUserDirectory(base)
		for _, u := range a.Config.Users {
			if err := directory.Upsert(ctx, u); err != nil {
				return fmt.Errorf("seed user %s: %w", u.ID, err)
			}
		}

		a.Entities = postgres.NewEntityRepository(base)
		a.Notifications = postgres.NewNotificationRepository(base)
		a.Outbox = postgres.NewOutboxRepository(base)
		a.Directory = directory
		a.checks["database"] = &base
	default:
		a.Entities = memory.NewEntityRepository()
		a.Notifications = memory.NewNotificationRepository()
		a.Outbox = memory.NewOutboxRepository()
		a.Directory = memory.NewUserDirectory(a.Config.Users...)
	}

	a.Logger.Info("storage ready", "driver", a.Config.Database.Driver, "seed_users", len(a.Config.Users))
	return nil
}

func (a *App) openBus(ctx context.Context) error {
	if a.Config.Redis.URL == "" {
		a.Bus = msgmemory.NewBroker(localBusBuffer)
		a.closers = append(a.closers, a.Bus.Close)
		return nil
	}

	bus, err := msgredis.NewRedisBroker(ctx, a.Config.Redis.ToBrokerConfig(), a.Logger)
	if err != nil {
		return err
	}
	a.Bus = bus
	a.closers = append(a.closers, bus.Close)
	a.checks["redis"] = bus
	return nil
}

// wire builds the services. The inbox needs a change notifier before the
// subscription broker that reads from it exists, so it is handed a func
// that forwards to the feed created right after.
func (a *App) wire() error {
	cfg := a.Config
	log := a.Logger

	var feed *subscription.Feed
	relay := inbox.NotifierFunc(func(ctx context.Context, change model.Change) {
		feed.Notify(ctx, change)
	})

	a.Inbox = inbox.NewStore(a.Notifications, a.Outbox, relay, inbox.Config{
		CacheTTL:        cfg.Aggregator.CacheTTL,
		CleanupInterval: cfg.Aggregator.CleanupInterval,
	}, log, a.Metrics)

	a.Broker = subscription.NewBroker(subscription.NewStoreSource(a.Entities, a.Inbox), subscription.Config{
		Buffer:       cfg.Subscription.Buffer,
		QueryTimeout: cfg.Subscription.QueryTimeout,
	}, log, a.Metrics)
	feed = subscription.NewFeed(a.Bus, a.Broker, feedPublishTimeout, log)
	a.Feed = feed

	a.Emitter = notification.NewEmitter(a.Inbox, a.Directory, notification.Config{
		ActorLookupTimeout: cfg.Moderation.ActorLookupTimeout,
	}, log, a.Metrics)

	a.Moderation = moderation.NewService(a.Entities, a.Outbox, a.Directory, a.Emitter, nil, feed, moderation.Config{
		AdminRole:       cfg.Auth.AdminRole,
		MaxTitleLength:  cfg.Moderation.MaxTitleLength,
		MaxPayloadBytes: cfg.Moderation.MaxPayloadBytes,
	}, log, a.Metrics)

	processor, err := worker.NewOutboxProcessor(a.Outbox, cfg.Outbox.ToWorkerConfig(), log, a.Metrics)
	if err != nil {
		return err
	}
	processor.Handle(model.EventTypeNotificationPush, worker.PublishHandler(a.Bus, messaging.ChannelPush))
	processor.Handle(model.EventTypeEmissionRetry, notification.ReplayHandler(a.Emitter))
	a.Processor = processor
	a.Cleanup = worker.NewOutboxCleanupWorker(a.Outbox, cfg.Outbox.Retention, cfg.Outbox.CleanupInterval, log)

	a.JWT = auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	return nil
}

// Router builds the HTTP surface over the wired services.
func (a *App) Router() (*router.Router, error) {
	cfg := a.Config

	handlers := router.Handlers{
		Health:       health.NewHandler(a.checks, promHandler.New(a.Registry).Handler()),
		Moderation:   moderationHandler.NewHandler(a.Moderation),
		Notification: notificationHandler.NewHandler(a.Inbox),
		Subscription: subscriptionHandler.NewHandler(a.Broker, 0),
		Admin:        admin.NewHandler(a.Moderation),
	}

	return router.NewRouter(middleware.NewAuthMiddleware(a.JWT), handlers, a.Logger, a.Metrics, router.RouterConfig{
		Mode:             cfg.Server.Mode,
		AdminRole:        cfg.Auth.AdminRole,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:        cfg.RateLimit.Burst,
		CORSConfig:       middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
		RequestTimeout:   cfg.Server.WriteTimeout,
		MaxBodyBytes:     2 * int64(cfg.Moderation.MaxPayloadBytes),
	})
}

// Serve runs the HTTP server, the change feed and, when configured, the
// outbox loops until ctx ends or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	r, err := a.Router()
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	// No write timeout: subscription streams stay open. Plain requests are
	// bounded by the timeout middleware instead.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		ReadTimeout:       a.Config.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The feed must be subscribed before the first request can commit a change.
	forward, err := a.Feed.Listen(gctx)
	if err != nil {
		return err
	}
	g.Go(forward)

	g.Go(func() error {
		a.Logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		// Ending every subscription lets open streams return before Shutdown waits on them.
		a.Broker.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if a.Config.Outbox.InProcess {
		a.runOutbox(gctx, g)
	}

	return g.Wait()
}

// RunWorker drains the outbox until ctx ends. Push hand-offs and emission
// retries are handled here; change signals from replayed emissions reach
// the API instances through the bus.
func (a *App) RunWorker(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.runOutbox(gctx, g)
	return g.Wait()
}

func (a *App) runOutbox(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return a.Processor.Start(ctx)
	})
	g.Go(func() error {
		a.Cleanup.Start(ctx)
		return nil
	})
}

// Checks exposes the readiness probes, keyed by dependency name.
func (a *App) Checks() map[string]health.Pinger {
	return a.checks
}

// Close releases the bus and the database, newest first.
func (a *App) Close() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn(err, "close failed")
		}
	}
	a.closers = nil
}
