package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/attendance-attest/internal/application"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

func (f *ServiceFactory) resolve(idGen func() string, now func() time.Time) (func() string, func() time.Time) {
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return idGen, now
}

// MeetingServiceDeps captures dependencies for constructing a meeting service.
type MeetingServiceDeps struct {
	Meetings      application.MeetingRepository
	IDGenerator   func() string
	Now           func() time.Time
	DefaultRadius float64
	Logger        *slog.Logger
}

// NewMeetingService builds a meeting service from deps and the factory defaults.
func (f *ServiceFactory) NewMeetingService(deps MeetingServiceDeps) *application.MeetingService {
	idGen, now := f.resolve(deps.IDGenerator, deps.Now)
	return application.NewMeetingServiceWithLogger(
		deps.Meetings,
		idGen,
		now,
		deps.DefaultRadius,
		deps.Logger,
	)
}

// SessionServiceDeps captures dependencies for constructing a session service.
type SessionServiceDeps struct {
	Sessions      application.SessionRepository
	Meetings      application.MeetingRepository
	Tokens        application.TokenIssuer
	Notifier      application.CompletionNotifier
	IDGenerator   func() string
	Now           func() time.Time
	DefaultRadius float64
	Logger        *slog.Logger
}

// NewSessionService builds a session service from deps and the factory defaults.
func (f *ServiceFactory) NewSessionService(deps SessionServiceDeps) *application.SessionService {
	idGen, now := f.resolve(deps.IDGenerator, deps.Now)
	return application.NewSessionServiceWithLogger(
		deps.Sessions,
		deps.Meetings,
		deps.Tokens,
		deps.Notifier,
		idGen,
		now,
		deps.DefaultRadius,
		deps.Logger,
	)
}

// ReconcilerDeps captures dependencies for constructing an offline reconciler.
type ReconcilerDeps struct {
	Sessions *application.SessionService
	Syncs    application.SyncRecordRepository
	Now      func() time.Time
	MaxBatch int
	Logger   *slog.Logger
}

// NewReconciler builds a reconciler over an existing session service.
func (f *ServiceFactory) NewReconciler(deps ReconcilerDeps) *application.Reconciler {
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	return application.NewReconcilerWithLogger(deps.Sessions, deps.Syncs, now, deps.MaxBatch, deps.Logger)
}
