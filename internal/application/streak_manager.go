package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/example/gamification-engine/internal/logging"
	"github.com/example/gamification-engine/internal/persistence"
	"github.com/example/gamification-engine/internal/remote"
	"github.com/example/gamification-engine/internal/sanitize"
	"github.com/example/gamification-engine/internal/streak"
)

// StreakManager owns the in-memory streak state for one grouping key. It
// is the sole writer of that state: every mutation flows memory first,
// durable cache second, remote last, serialized by the manager's mutex.
// Reads are served from an atomically replaced view and never wait on a
// mutation in flight.
type StreakManager struct {
	cfg         StreakConfig
	engineCfg   streak.Config
	engine      *streak.Engine
	store       persistence.SnapshotStore
	remote      remote.StreakRemote
	tracker     logging.Tracker
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time

	mu           sync.Mutex
	userID       string
	snapshot     streak.Snapshot
	events       []streak.Event
	freezes      []streak.Freeze
	listeners    map[string]func(streak.Snapshot)
	cancelStream context.CancelFunc

	// view holds the snapshot served to readers. It is replaced, never
	// mutated, so Snapshot does not contend with the mutation mutex.
	view atomic.Pointer[streak.Snapshot]
}

// NewStreakManager wires dependencies for one grouping key. The grouping
// key must already be sanitized; an unsanitized key is a programming
// error surfaced immediately rather than a runtime condition.
func NewStreakManager(cfg StreakConfig, engine *streak.Engine, store persistence.SnapshotStore, remoteSvc remote.StreakRemote, tracker logging.Tracker, logger *slog.Logger, idGenerator func() string, now func() time.Time) (*StreakManager, error) {
	if !sanitize.IsSanitized(cfg.GroupKey) {
		return nil, &ConfigurationError{Field: "groupKey", Message: "must be a sanitized key"}
	}
	if cfg.EventsRequiredPerDay < 1 {
		return nil, &ConfigurationError{Field: "eventsRequiredPerDay", Message: "must be at least 1"}
	}
	if cfg.LeewayHours < 0 {
		return nil, &ConfigurationError{Field: "leewayHours", Message: "must not be negative"}
	}
	if engine == nil {
		engine = streak.NewEngine(nil)
	}
	if tracker == nil {
		tracker = logging.NopTracker{}
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}

	return &StreakManager{
		cfg:    cfg,
		engine: engine,
		engineCfg: streak.Config{
			EventsRequiredPerDay: cfg.EventsRequiredPerDay,
			LeewayHours:          cfg.LeewayHours,
			FreezeBehavior:       cfg.FreezeBehavior,
		},
		store:       store,
		remote:      remoteSvc,
		tracker:     tracker,
		logger:      defaultLogger(logger),
		idGenerator: idGenerator,
		now:         now,
		listeners:   make(map[string]func(streak.Snapshot)),
	}, nil
}

// LogIn activates the manager for a user: bulk loads remote state, falls
// back to the durable cache when the remote is unreachable, and starts
// the live subscription. Logging in as a different user logs the previous
// one out first. Logging in as the current user is a no-op.
func (m *StreakManager) LogIn(ctx context.Context, userID string) error {
	if userID == "" {
		vErr := &ValidationError{}
		vErr.add("userId", "is required")
		return vErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == userID {
		return nil
	}
	if m.userID != "" {
		m.logOutLocked(ctx)
	}

	m.userID = userID
	logger := managerLogger(ctx, m.logger, "streak", "log_in", "group_key", m.cfg.GroupKey, "user_id", userID)
	m.loadLocked(ctx, logger)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, err := m.remote.StreamSnapshots(streamCtx, userID, m.cfg.GroupKey)
	if err != nil {
		cancel()
		logger.WarnContext(ctx, "live subscription unavailable", "error", err)
	} else {
		m.cancelStream = cancel
		go m.consumeUpdates(updates)
	}

	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "streak_login",
		Severity:   logging.SeverityAnalytic,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
	return nil
}

// LogOut cancels the live subscription and blanks all state for the
// active user. It is idempotent.
func (m *StreakManager) LogOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return nil
	}
	m.logOutLocked(ctx)
	return nil
}

// Snapshot returns the current in-memory aggregate. With no active user
// or before the first load it returns the zero snapshot. The read never
// waits on an in-flight mutation or remote call.
func (m *StreakManager) Snapshot() streak.Snapshot {
	if snapshot := m.view.Load(); snapshot != nil {
		return *snapshot
	}
	return streak.Snapshot{}
}

// LogEvent validates and appends one event, recomputes the aggregate
// (unless the remote calculates), and propagates the mutation outward.
// A remote failure leaves local state updated and returns a RemoteError.
func (m *StreakManager) LogEvent(ctx context.Context, input StreakEventInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	now := m.now()
	vErr := &ValidationError{}
	validateEventCore(input.Timestamp, input.Metadata, now, vErr)
	if vErr.HasErrors() {
		return vErr
	}

	event := streak.Event{
		ID:        input.ID,
		Timestamp: input.Timestamp,
		Timezone:  input.Timezone,
		Metadata:  input.Metadata,
	}
	if event.ID == "" {
		event.ID = m.idGenerator()
	}
	m.events = append(m.events, event)

	logger := managerLogger(ctx, m.logger, "streak", "log_event", "group_key", m.cfg.GroupKey, "event_id", event.ID)

	var frozenEvents []streak.Event
	var consumptions []streak.Consumption
	if !m.cfg.UseServerCalculation {
		snapshot, planned, err := m.engine.Calculate(m.events, m.freezes, m.engineCfg, now)
		if err != nil {
			return err
		}
		consumptions = planned
		frozenEvents = m.applyConsumptionsLocked(planned)
		m.setSnapshotLocked(ctx, logger, snapshot)
	}

	if err := m.remote.AppendEvent(ctx, m.userID, m.cfg.GroupKey, event); err != nil {
		return &RemoteError{Op: "append event", Err: err}
	}
	for i, consumption := range consumptions {
		if err := m.remote.MarkFreezeUsed(ctx, m.userID, m.cfg.GroupKey, consumption.FreezeID, consumption.Date); err != nil {
			return &RemoteError{Op: "mark freeze used", Err: err}
		}
		if err := m.remote.AppendEvent(ctx, m.userID, m.cfg.GroupKey, frozenEvents[i]); err != nil {
			return &RemoteError{Op: "append freeze event", Err: err}
		}
	}

	if m.cfg.UseServerCalculation {
		if err := m.remote.RequestRecomputation(ctx, m.userID, m.cfg.GroupKey); err != nil {
			return &RemoteError{Op: "request recomputation", Err: err}
		}
	} else {
		if err := m.remote.UpsertSnapshot(ctx, m.userID, m.cfg.GroupKey, m.snapshot); err != nil {
			return &RemoteError{Op: "upsert snapshot", Err: err}
		}
	}

	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "streak_event_logged",
		Severity:   logging.SeverityAnalytic,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
	return nil
}

// AddFreeze grants the user a new freeze and recomputes, since an earned
// freeze may immediately bridge an open gap under auto-consumption.
func (m *StreakManager) AddFreeze(ctx context.Context, expires *time.Time) (streak.Freeze, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return streak.Freeze{}, ErrNotLoggedIn
	}

	freeze := streak.Freeze{
		ID:          m.idGenerator(),
		EarnedDate:  m.now(),
		ExpiresDate: expires,
	}
	m.freezes = append(m.freezes, freeze)

	logger := managerLogger(ctx, m.logger, "streak", "add_freeze", "group_key", m.cfg.GroupKey, "freeze_id", freeze.ID)

	if err := m.remote.AddFreeze(ctx, m.userID, m.cfg.GroupKey, freeze); err != nil {
		return streak.Freeze{}, &RemoteError{Op: "add freeze", Err: err}
	}
	if err := m.recomputeAndPushLocked(ctx, logger); err != nil {
		return streak.Freeze{}, err
	}
	return freeze, nil
}

// ConsumeFreeze fills the gap between the last qualifying day and the
// expected day with available freezes. With no gap or no freezes it is a
// no-op.
func (m *StreakManager) ConsumeFreeze(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	plan, err := m.engine.PlanManualConsumption(m.events, m.freezes, m.engineCfg, m.now())
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		return nil
	}

	frozenEvents := m.applyConsumptionsLocked(plan)
	logger := managerLogger(ctx, m.logger, "streak", "consume_freeze", "group_key", m.cfg.GroupKey)

	for i, consumption := range plan {
		if err := m.remote.MarkFreezeUsed(ctx, m.userID, m.cfg.GroupKey, consumption.FreezeID, consumption.Date); err != nil {
			return &RemoteError{Op: "mark freeze used", Err: err}
		}
		if err := m.remote.AppendEvent(ctx, m.userID, m.cfg.GroupKey, frozenEvents[i]); err != nil {
			return &RemoteError{Op: "append freeze event", Err: err}
		}
	}
	return m.recomputeAndPushLocked(ctx, logger)
}

// DeleteAll wipes the user's series everywhere: memory, durable cache,
// and remote.
func (m *StreakManager) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	logger := managerLogger(ctx, m.logger, "streak", "delete_all", "group_key", m.cfg.GroupKey)

	m.events = nil
	m.freezes = nil
	m.setSnapshotLocked(ctx, logger, streak.Snapshot{})
	if err := m.store.DeleteSnapshot(ctx, m.userID, m.cfg.GroupKey, persistence.SnapshotKindStreak); err != nil {
		logger.WarnContext(ctx, "durable cache delete failed", "error", err)
	}
	if err := m.remote.DeleteAll(ctx, m.userID, m.cfg.GroupKey); err != nil {
		return &RemoteError{Op: "delete all", Err: err}
	}
	return nil
}

// Subscribe registers a callback invoked with each replaced snapshot.
// Callbacks run on their own goroutine and may be invoked concurrently.
// The returned function removes the subscription.
func (m *StreakManager) Subscribe(fn func(streak.Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.idGenerator()
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *StreakManager) logOutLocked(ctx context.Context) {
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}

	logger := managerLogger(ctx, m.logger, "streak", "log_out", "group_key", m.cfg.GroupKey)
	if err := m.store.DeleteSnapshot(ctx, m.userID, m.cfg.GroupKey, persistence.SnapshotKindStreak); err != nil {
		logger.WarnContext(ctx, "durable cache delete failed", "error", err)
	}

	m.userID = ""
	m.snapshot = streak.Snapshot{}
	m.view.Store(&streak.Snapshot{})
	m.events = nil
	m.freezes = nil
	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "streak_logout",
		Severity:   logging.SeverityInfo,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
}

// loadLocked performs the bulk load. Remote failures degrade to the
// durable cache so a user can keep reading offline.
func (m *StreakManager) loadLocked(ctx context.Context, logger *slog.Logger) {
	events, eventsErr := m.remote.FetchEvents(ctx, m.userID, m.cfg.GroupKey)
	freezes, freezesErr := m.remote.FetchFreezes(ctx, m.userID, m.cfg.GroupKey)
	if eventsErr != nil || freezesErr != nil {
		logger.WarnContext(ctx, "bulk load failed, serving durable cache", "events_error", eventsErr, "freezes_error", freezesErr)
		m.tracker.Track(ctx, logging.TrackedEvent{
			Name:       "streak_bulk_load_failed",
			Severity:   logging.SeveritySevere,
			Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
		})
		m.restoreFromStoreLocked(ctx, logger)
		return
	}

	m.events = events
	m.freezes = freezes

	if m.cfg.UseServerCalculation {
		snapshot, err := m.remote.FetchSnapshot(ctx, m.userID, m.cfg.GroupKey)
		switch {
		case err == nil:
			m.setSnapshotLocked(ctx, logger, snapshot)
		case errors.Is(err, remote.ErrNotFound):
			if err := m.remote.RequestRecomputation(ctx, m.userID, m.cfg.GroupKey); err != nil {
				logger.WarnContext(ctx, "initial recomputation request failed", "error", err)
			}
		default:
			logger.WarnContext(ctx, "snapshot fetch failed, serving durable cache", "error", err)
			m.restoreFromStoreLocked(ctx, logger)
		}
		return
	}

	if err := m.recomputeAndPushLocked(ctx, logger); err != nil {
		logger.WarnContext(ctx, "initial recomputation push failed", "error", err)
	}
}

func (m *StreakManager) restoreFromStoreLocked(ctx context.Context, logger *slog.Logger) {
	record, err := m.store.GetSnapshot(ctx, m.userID, m.cfg.GroupKey, persistence.SnapshotKindStreak)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			logger.WarnContext(ctx, "durable cache read failed", "error", err)
		}
		return
	}

	var snapshot streak.Snapshot
	if err := json.Unmarshal(record.Payload, &snapshot); err != nil {
		logger.WarnContext(ctx, "durable cache payload corrupt", "error", err)
		return
	}
	m.snapshot = snapshot
	m.view.Store(&snapshot)
	m.notifyLocked(snapshot)
}

// recomputeAndPushLocked recalculates from the in-memory log, applies any
// planned freeze consumption, and pushes the result to the remote.
func (m *StreakManager) recomputeAndPushLocked(ctx context.Context, logger *slog.Logger) error {
	if m.cfg.UseServerCalculation {
		if err := m.remote.RequestRecomputation(ctx, m.userID, m.cfg.GroupKey); err != nil {
			return &RemoteError{Op: "request recomputation", Err: err}
		}
		return nil
	}

	snapshot, consumptions, err := m.engine.Calculate(m.events, m.freezes, m.engineCfg, m.now())
	if err != nil {
		return err
	}
	frozenEvents := m.applyConsumptionsLocked(consumptions)
	m.setSnapshotLocked(ctx, logger, snapshot)

	for i, consumption := range consumptions {
		if err := m.remote.MarkFreezeUsed(ctx, m.userID, m.cfg.GroupKey, consumption.FreezeID, consumption.Date); err != nil {
			return &RemoteError{Op: "mark freeze used", Err: err}
		}
		if err := m.remote.AppendEvent(ctx, m.userID, m.cfg.GroupKey, frozenEvents[i]); err != nil {
			return &RemoteError{Op: "append freeze event", Err: err}
		}
	}
	if err := m.remote.UpsertSnapshot(ctx, m.userID, m.cfg.GroupKey, snapshot); err != nil {
		return &RemoteError{Op: "upsert snapshot", Err: err}
	}
	return nil
}

// applyConsumptionsLocked marks freezes used in memory and synthesizes
// the freeze events covering the bridged days.
func (m *StreakManager) applyConsumptionsLocked(consumptions []streak.Consumption) []streak.Event {
	frozenEvents := make([]streak.Event, 0, len(consumptions))
	for _, consumption := range consumptions {
		for i := range m.freezes {
			if m.freezes[i].ID == consumption.FreezeID {
				used := consumption.Date
				m.freezes[i].UsedDate = &used
			}
		}
		event := streak.Event{
			ID:        m.idGenerator(),
			Timestamp: consumption.Date,
			IsFreeze:  true,
			FreezeID:  consumption.FreezeID,
		}
		m.events = append(m.events, event)
		frozenEvents = append(frozenEvents, event)
	}
	return frozenEvents
}

func (m *StreakManager) setSnapshotLocked(ctx context.Context, logger *slog.Logger, snapshot streak.Snapshot) {
	m.snapshot = snapshot
	m.view.Store(&snapshot)
	m.persistSnapshotLocked(ctx, logger)
	m.notifyLocked(snapshot)
}

// persistSnapshotLocked writes the durable copy. Failures are logged and
// swallowed; the in-memory state stays authoritative.
func (m *StreakManager) persistSnapshotLocked(ctx context.Context, logger *slog.Logger) {
	payload, err := json.Marshal(m.snapshot)
	if err != nil {
		logger.WarnContext(ctx, "snapshot marshal failed", "error", err)
		return
	}
	record := persistence.SnapshotRecord{
		UserID:    m.userID,
		GroupKey:  m.cfg.GroupKey,
		Kind:      persistence.SnapshotKindStreak,
		Payload:   payload,
		UpdatedAt: m.now(),
	}
	if err := m.store.SaveSnapshot(ctx, record); err != nil {
		logger.WarnContext(ctx, "local persistence failed", "error", err)
	}
}

func (m *StreakManager) notifyLocked(snapshot streak.Snapshot) {
	for _, fn := range m.listeners {
		go fn(snapshot)
	}
}

func (m *StreakManager) consumeUpdates(updates <-chan streak.Snapshot) {
	for snapshot := range updates {
		m.mu.Lock()
		if m.userID != "" {
			logger := managerLogger(context.Background(), m.logger, "streak", "stream_update", "group_key", m.cfg.GroupKey)
			m.setSnapshotLocked(context.Background(), logger, snapshot)
		}
		m.mu.Unlock()
	}
}
