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

	"github.com/example/gamification-engine/internal/experience"
	"github.com/example/gamification-engine/internal/logging"
	"github.com/example/gamification-engine/internal/persistence"
	"github.com/example/gamification-engine/internal/remote"
	"github.com/example/gamification-engine/internal/sanitize"
)

// ExperienceManager owns the in-memory experience state for one grouping
// key, mirroring the streak manager's ownership and ordering rules.
type ExperienceManager struct {
	cfg         ExperienceConfig
	engine      *experience.Engine
	store       persistence.SnapshotStore
	remote      remote.ExperienceRemote
	tracker     logging.Tracker
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time

	mu           sync.Mutex
	userID       string
	snapshot     experience.Snapshot
	events       []experience.Event
	listeners    map[string]func(experience.Snapshot)
	cancelStream context.CancelFunc

	// view holds the snapshot served to readers. It is replaced, never
	// mutated, so Snapshot does not contend with the mutation mutex.
	view atomic.Pointer[experience.Snapshot]
}

// NewExperienceManager wires dependencies for one grouping key.
func NewExperienceManager(cfg ExperienceConfig, engine *experience.Engine, store persistence.SnapshotStore, remoteSvc remote.ExperienceRemote, tracker logging.Tracker, logger *slog.Logger, idGenerator func() string, now func() time.Time) (*ExperienceManager, error) {
	if !sanitize.IsSanitized(cfg.GroupKey) {
		return nil, &ConfigurationError{Field: "groupKey", Message: "must be a sanitized key"}
	}
	if engine == nil {
		engine = experience.NewEngine(nil)
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

	return &ExperienceManager{
		cfg:         cfg,
		engine:      engine,
		store:       store,
		remote:      remoteSvc,
		tracker:     tracker,
		logger:      defaultLogger(logger),
		idGenerator: idGenerator,
		now:         now,
		listeners:   make(map[string]func(experience.Snapshot)),
	}, nil
}

// LogIn activates the manager for a user. See StreakManager.LogIn for the
// load and fallback semantics.
func (m *ExperienceManager) LogIn(ctx context.Context, userID string) error {
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
	logger := managerLogger(ctx, m.logger, "experience", "log_in", "group_key", m.cfg.GroupKey, "user_id", userID)
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
		Name:       "experience_login",
		Severity:   logging.SeverityAnalytic,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
	return nil
}

// LogOut cancels the live subscription and blanks all state. Idempotent.
func (m *ExperienceManager) LogOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return nil
	}
	m.logOutLocked(ctx)
	return nil
}

// Snapshot returns the current in-memory aggregate, zero when inactive.
// The read never waits on an in-flight mutation or remote call.
func (m *ExperienceManager) Snapshot() experience.Snapshot {
	if snapshot := m.view.Load(); snapshot != nil {
		return *snapshot
	}
	return experience.Snapshot{}
}

// LogEvent validates and appends one point-earning event and propagates
// the mutation outward.
func (m *ExperienceManager) LogEvent(ctx context.Context, input ExperienceEventInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	now := m.now()
	vErr := &ValidationError{}
	validateEventCore(input.Timestamp, input.Metadata, now, vErr)
	if input.Points < 0 {
		vErr.add("points", "must not be negative")
	}
	if vErr.HasErrors() {
		return vErr
	}

	event := experience.Event{
		ID:        input.ID,
		Timestamp: input.Timestamp,
		Points:    input.Points,
		Metadata:  input.Metadata,
	}
	if event.ID == "" {
		event.ID = m.idGenerator()
	}
	m.events = append(m.events, event)

	logger := managerLogger(ctx, m.logger, "experience", "log_event", "group_key", m.cfg.GroupKey, "event_id", event.ID)

	if !m.cfg.UseServerCalculation {
		snapshot, err := m.engine.Calculate(m.events, now)
		if err != nil {
			return err
		}
		m.setSnapshotLocked(ctx, logger, snapshot)
	}

	if err := m.remote.AppendEvent(ctx, m.userID, m.cfg.GroupKey, event); err != nil {
		return &RemoteError{Op: "append event", Err: err}
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
		Name:       "experience_event_logged",
		Severity:   logging.SeverityAnalytic,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
	return nil
}

// DeleteAll wipes the user's series everywhere.
func (m *ExperienceManager) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	logger := managerLogger(ctx, m.logger, "experience", "delete_all", "group_key", m.cfg.GroupKey)

	m.events = nil
	m.setSnapshotLocked(ctx, logger, experience.Snapshot{})
	if err := m.store.DeleteSnapshot(ctx, m.userID, m.cfg.GroupKey, persistence.SnapshotKindExperience); err != nil {
		logger.WarnContext(ctx, "durable cache delete failed", "error", err)
	}
	if err := m.remote.DeleteAll(ctx, m.userID, m.cfg.GroupKey); err != nil {
		return &RemoteError{Op: "delete all", Err: err}
	}
	return nil
}

// Subscribe registers a callback invoked with each replaced snapshot.
// Callbacks run on their own goroutine. The returned function removes the
// subscription.
func (m *ExperienceManager) Subscribe(fn func(experience.Snapshot)) func() {
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

func (m *ExperienceManager) logOutLocked(ctx context.Context) {
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}

	logger := managerLogger(ctx, m.logger, "experience", "log_out", "group_key", m.cfg.GroupKey)
	if err := m.store.DeleteSnapshot(ctx, m.userID, m.cfg.GroupKey, persistence.SnapshotKindExperience); err != nil {
		logger.WarnContext(ctx, "durable cache delete failed", "error", err)
	}

	m.userID = ""
	m.snapshot = experience.Snapshot{}
	m.view.Store(&experience.Snapshot{})
	m.events = nil
	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "experience_logout",
		Severity:   logging.SeverityInfo,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
}

func (m *ExperienceManager) loadLocked(ctx context.Context, logger *slog.Logger) {
	events, err := m.remote.FetchEvents(ctx, m.userID, m.cfg.GroupKey)
	if err != nil {
		logger.WarnContext(ctx, "bulk load failed, serving durable cache", "error", err)
		m.tracker.Track(ctx, logging.TrackedEvent{
			Name:       "experience_bulk_load_failed",
			Severity:   logging.SeveritySevere,
			Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
		})
		m.restoreFromStoreLocked(ctx, logger)
		return
	}

	m.events = events

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

	snapshot, calcErr := m.engine.Calculate(m.events, m.now())
	if calcErr != nil {
		logger.WarnContext(ctx, "recomputation failed", "error", calcErr)
		return
	}
	m.setSnapshotLocked(ctx, logger, snapshot)
	if err := m.remote.UpsertSnapshot(ctx, m.userID, m.cfg.GroupKey, snapshot); err != nil {
		logger.WarnContext(ctx, "initial snapshot push failed", "error", err)
	}
}

func (m *ExperienceManager) restoreFromStoreLocked(ctx context.Context, logger *slog.Logger) {
	record, err := m.store.GetSnapshot(ctx, m.userID, m.cfg.GroupKey, persistence.SnapshotKindExperience)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			logger.WarnContext(ctx, "durable cache read failed", "error", err)
		}
		return
	}

	var snapshot experience.Snapshot
	if err := json.Unmarshal(record.Payload, &snapshot); err != nil {
		logger.WarnContext(ctx, "durable cache payload corrupt", "error", err)
		return
	}
	m.snapshot = snapshot
	m.view.Store(&snapshot)
	m.notifyLocked(snapshot)
}

func (m *ExperienceManager) setSnapshotLocked(ctx context.Context, logger *slog.Logger, snapshot experience.Snapshot) {
	m.snapshot = snapshot
	m.view.Store(&snapshot)
	m.persistSnapshotLocked(ctx, logger)
	m.notifyLocked(snapshot)
}

func (m *ExperienceManager) persistSnapshotLocked(ctx context.Context, logger *slog.Logger) {
	payload, err := json.Marshal(m.snapshot)
	if err != nil {
		logger.WarnContext(ctx, "snapshot marshal failed", "error", err)
		return
	}
	record := persistence.SnapshotRecord{
		UserID:    m.userID,
		GroupKey:  m.cfg.GroupKey,
		Kind:      persistence.SnapshotKindExperience,
		Payload:   payload,
		UpdatedAt: m.now(),
	}
	if err := m.store.SaveSnapshot(ctx, record); err != nil {
		logger.WarnContext(ctx, "local persistence failed", "error", err)
	}
}

func (m *ExperienceManager) notifyLocked(snapshot experience.Snapshot) {
	for _, fn := range m.listeners {
		go fn(snapshot)
	}
}

func (m *ExperienceManager) consumeUpdates(updates <-chan experience.Snapshot) {
	for snapshot := range updates {
		m.mu.Lock()
		if m.userID != "" {
			logger := managerLogger(context.Background(), m.logger, "experience", "stream_update", "group_key", m.cfg.GroupKey)
			m.setSnapshotLocked(context.Background(), logger, snapshot)
		}
		m.mu.Unlock()
	}
}
