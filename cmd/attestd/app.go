package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/config"
	httptransport "github.com/example/attendance-attest/internal/http"
	"github.com/example/attendance-attest/internal/notify"
	"github.com/example/attendance-attest/internal/persistence"
	"github.com/example/attendance-attest/internal/persistence/memory"
	"github.com/example/attendance-attest/internal/persistence/postgres"
	"github.com/example/attendance-attest/internal/persistence/sqlite"
	"github.com/example/attendance-attest/internal/sharetoken"
)

// openStore connects to the backend selected by cfg and brings its schema up to date.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Backend() {
	case config.BackendMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.Open(), nil

	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, nil

	default:
		store, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.DatabaseURL), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		applied, err := store.Migrate(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("database migrations applied", "versions", applied)
		}
		return store, nil
	}
}

// app holds the wired services behind the HTTP API.
type app struct {
	handler    http.Handler
	dispatcher *notify.Dispatcher
	sessions   *application.SessionService
	meetings   *application.MeetingService
	reconciler *application.Reconciler
}

type appDeps struct {
	Store       persistence.Store
	Publisher   notify.Publisher
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

func newApp(cfg config.Config, deps appDeps) (*app, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = newPublisher(cfg, logger)
	}

	issuer, err := sharetoken.NewIssuer(cfg.PublicTokenTTL, sharetoken.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	dispatcher := notify.NewDispatcher(publisher, notify.DefaultQueueSize, logger)

	meetingRepo := newMeetingRepositoryAdapter(deps.Store)
	sessionRepo := newSessionRepositoryAdapter(deps.Store)
	syncRepo := newSyncRecordRepositoryAdapter(deps.Store)

	meetingService := application.NewMeetingServiceWithLogger(meetingRepo, deps.IDGenerator, now, cfg.DefaultRadiusMeters, logger)
	sessionService := application.NewSessionServiceWithLogger(
		sessionRepo,
		meetingRepo,
		issuer,
		newCompletionNotifier(dispatcher, now, logger),
		deps.IDGenerator,
		now,
		cfg.DefaultRadiusMeters,
		logger,
	)
	reconciler := application.NewReconcilerWithLogger(sessionService, syncRepo, now, cfg.MaxSyncBatch, logger)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions: httptransport.NewSessionHandler(sessionService, logger),
		Offline:  httptransport.NewOfflineHandler(reconciler, logger),
		Public:   httptransport.NewPublicHandler(sessionService, logger),
		Meetings: httptransport.NewMeetingHandler(meetingService, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.Recoverer(logger),
			httptransport.RequestLogger(logger),
			httptransport.CORS(cfg.CORSOrigins),
		},
	})

	return &app{
		handler:    router,
		dispatcher: dispatcher,
		sessions:   sessionService,
		meetings:   meetingService,
		reconciler: reconciler,
	}, nil
}

func newPublisher(cfg config.Config, logger *slog.Logger) notify.Publisher {
	if cfg.WebhookURL == "" {
		return notify.NewLogPublisher(logger)
	}
	return notify.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookTimeout, notify.DefaultRetryConfig())
}
