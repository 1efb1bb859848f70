package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/gamification-engine/internal/application"
	"github.com/example/gamification-engine/internal/experience"
	"github.com/example/gamification-engine/internal/logging"
	"github.com/example/gamification-engine/internal/persistence"
	persistencememory "github.com/example/gamification-engine/internal/persistence/memory"
	"github.com/example/gamification-engine/internal/remote"
	remotememory "github.com/example/gamification-engine/internal/remote/memory"
	"github.com/example/gamification-engine/internal/streak"
)

// ManagerFactory assists tests with constructing managers using
// deterministic identifiers and clocks.
type ManagerFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ManagerFactoryOption configures a ManagerFactory instance.
type ManagerFactoryOption func(*ManagerFactory)

// NewManagerFactory constructs a ManagerFactory with defaults.
func NewManagerFactory(opts ...ManagerFactoryOption) *ManagerFactory {
	factory := &ManagerFactory{
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
func WithClock(clock *Clock) ManagerFactoryOption {
	return func(factory *ManagerFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ManagerFactoryOption {
	return func(factory *ManagerFactory) {
		factory.IDGenerator = generator
	}
}

// StreakManagerDeps captures dependencies for constructing a streak manager.
type StreakManagerDeps struct {
	Config      application.StreakConfig
	Store       persistence.SnapshotStore
	Remote      remote.StreakRemote
	Tracker     logging.Tracker
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewStreakManager builds a streak manager using the supplied dependencies
// combined with the factory defaults. Missing store and remote dependencies
// fall back to fresh in-memory implementations.
func (f *ManagerFactory) NewStreakManager(deps StreakManagerDeps) (*application.StreakManager, error) {
	if deps.Config.GroupKey == "" {
		deps.Config.GroupKey = "fixture"
	}
	if deps.Config.EventsRequiredPerDay == 0 {
		deps.Config.EventsRequiredPerDay = 1
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	store := deps.Store
	if store == nil {
		store = persistencememory.NewStore()
	}
	remoteSvc := deps.Remote
	if remoteSvc == nil {
		remoteSvc = remotememory.NewStreakService(nil, streak.Config{
			EventsRequiredPerDay: deps.Config.EventsRequiredPerDay,
			LeewayHours:          deps.Config.LeewayHours,
			FreezeBehavior:       deps.Config.FreezeBehavior,
		}, now)
	}
	return application.NewStreakManager(deps.Config, nil, store, remoteSvc, deps.Tracker, deps.Logger, idGen, now)
}

// ExperienceManagerDeps captures dependencies for constructing an
// experience manager.
type ExperienceManagerDeps struct {
	Config      application.ExperienceConfig
	Store       persistence.SnapshotStore
	Remote      remote.ExperienceRemote
	Tracker     logging.Tracker
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewExperienceManager builds an experience manager using the supplied
// dependencies combined with the factory defaults.
func (f *ManagerFactory) NewExperienceManager(deps ExperienceManagerDeps) (*application.ExperienceManager, error) {
	if deps.Config.GroupKey == "" {
		deps.Config.GroupKey = "fixture"
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	store := deps.Store
	if store == nil {
		store = persistencememory.NewStore()
	}
	remoteSvc := deps.Remote
	if remoteSvc == nil {
		remoteSvc = remotememory.NewExperienceService(experience.NewEngine(nil), now)
	}
	return application.NewExperienceManager(deps.Config, nil, store, remoteSvc, deps.Tracker, deps.Logger, idGen, now)
}

// ProgressManagerDeps captures dependencies for constructing a progress
// manager.
type ProgressManagerDeps struct {
	Config      application.ProgressConfig
	Store       persistence.ProgressStore
	Remote      remote.ProgressRemote
	Tracker     logging.Tracker
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewProgressManager builds a progress manager using the supplied
// dependencies combined with the factory defaults.
func (f *ManagerFactory) NewProgressManager(deps ProgressManagerDeps) (*application.ProgressManager, error) {
	if deps.Config.GroupKey == "" {
		deps.Config.GroupKey = "fixture"
	}
	now := deps.Now
	if now == nil {
		now = f.Clock.NowFunc()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = f.IDGenerator.NextFunc()
	}
	store := deps.Store
	if store == nil {
		store = persistencememory.NewStore()
	}
	remoteSvc := deps.Remote
	if remoteSvc == nil {
		remoteSvc = remotememory.NewProgressService()
	}
	return application.NewProgressManager(deps.Config, store, remoteSvc, deps.Tracker, deps.Logger, idGen, now)
}
