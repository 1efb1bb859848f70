package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/example/gamification-engine/internal/logging"
	"github.com/example/gamification-engine/internal/persistence"
	"github.com/example/gamification-engine/internal/progress"
	"github.com/example/gamification-engine/internal/remote"
	"github.com/example/gamification-engine/internal/sanitize"
)

// ProgressManager owns the in-memory progress items for one grouping key.
// Values are monotone: whichever replica reports the greater value wins,
// and a local value that beats an incoming remote one is pushed back
// instead of being overwritten.
type ProgressManager struct {
	cfg         ProgressConfig
	store       persistence.ProgressStore
	remote      remote.ProgressRemote
	tracker     logging.Tracker
	logger      *slog.Logger
	idGenerator func() string
	now         func() time.Time

	mu              sync.Mutex
	userID          string
	items           map[string]progress.Item
	updateListeners map[string]func(progress.Item)
	deleteListeners map[string]func(string)
	cancelStream    context.CancelFunc

	// view holds the item set served to readers. It is replaced, never
	// mutated, so reads do not contend with the mutation mutex.
	view atomic.Pointer[map[string]progress.Item]
}

// NewProgressManager wires dependencies for one grouping key.
func NewProgressManager(cfg ProgressConfig, store persistence.ProgressStore, remoteSvc remote.ProgressRemote, tracker logging.Tracker, logger *slog.Logger, idGenerator func() string, now func() time.Time) (*ProgressManager, error) {
	if !sanitize.IsSanitized(cfg.GroupKey) {
		return nil, &ConfigurationError{Field: "groupKey", Message: "must be a sanitized key"}
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

	return &ProgressManager{
		cfg:             cfg,
		store:           store,
		remote:          remoteSvc,
		tracker:         tracker,
		logger:          defaultLogger(logger),
		idGenerator:     idGenerator,
		now:             now,
		items:           make(map[string]progress.Item),
		updateListeners: make(map[string]func(progress.Item)),
		deleteListeners: make(map[string]func(string)),
	}, nil
}

// LogIn activates the manager for a user: merges the remote item set with
// the durable cache, pushes back any locally ahead values, and starts the
// live subscription.
func (m *ProgressManager) LogIn(ctx context.Context, userID string) error {
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
	logger := managerLogger(ctx, m.logger, "progress", "log_in", "group_key", m.cfg.GroupKey, "user_id", userID)
	m.loadLocked(ctx, logger)
	m.publishLocked()

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, deletions, err := m.remote.StreamItems(streamCtx, userID, m.cfg.GroupKey)
	if err != nil {
		cancel()
		logger.WarnContext(ctx, "live subscription unavailable", "error", err)
	} else {
		m.cancelStream = cancel
		go m.consumeStream(updates, deletions)
	}

	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "progress_login",
		Severity:   logging.SeverityAnalytic,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
	return nil
}

// LogOut cancels the live subscription and blanks all state. Idempotent.
func (m *ProgressManager) LogOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return nil
	}
	m.logOutLocked(ctx)
	return nil
}

// GetProgress returns the current value for a raw identifier, 0.0 when
// unknown. The read never touches storage or the network and never waits
// on an in-flight mutation.
func (m *ProgressManager) GetProgress(rawID string) float64 {
	view := m.view.Load()
	if view == nil {
		return 0
	}
	item, ok := (*view)[sanitize.Sanitize(rawID)]
	if !ok {
		return 0
	}
	return item.Value
}

// Items returns the current item set ordered by key.
func (m *ProgressManager) Items() []progress.Item {
	view := m.view.Load()
	if view == nil {
		return nil
	}

	items := make([]progress.Item, 0, len(*view))
	for _, item := range *view {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

// SetProgress records a value for a raw identifier. A value below the
// current one is ignored, keeping every item monotone.
func (m *ProgressManager) SetProgress(ctx context.Context, rawID string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	vErr := &ValidationError{}
	if rawID == "" {
		vErr.add("id", "is required")
	}
	if !progress.ValidValue(value) {
		vErr.add("value", "must be between 0 and 1")
	}
	if vErr.HasErrors() {
		return vErr
	}

	key := sanitize.Sanitize(rawID)
	now := m.now()

	existing, exists := m.items[key]
	if exists && existing.Value >= value {
		return nil
	}

	item := progress.Item{
		ID:           m.idGenerator(),
		Key:          key,
		RawID:        rawID,
		Value:        value,
		DateCreated:  now,
		DateModified: now,
	}
	if exists {
		item.ID = existing.ID
		item.DateCreated = existing.DateCreated
	}

	logger := managerLogger(ctx, m.logger, "progress", "set_progress", "group_key", m.cfg.GroupKey, "item_key", key)
	m.items[key] = item
	m.publishLocked()
	m.persistItemLocked(ctx, logger, item)
	m.notifyUpdateLocked(item)

	if err := m.remote.UpsertItem(ctx, m.userID, m.cfg.GroupKey, item); err != nil {
		return &RemoteError{Op: "upsert item", Err: err}
	}

	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "progress_set",
		Severity:   logging.SeverityAnalytic,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
	return nil
}

// DeleteProgress removes one item everywhere.
func (m *ProgressManager) DeleteProgress(ctx context.Context, rawID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	key := sanitize.Sanitize(rawID)
	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}

	logger := managerLogger(ctx, m.logger, "progress", "delete_progress", "group_key", m.cfg.GroupKey, "item_key", key)
	delete(m.items, key)
	m.publishLocked()
	if err := m.store.DeleteItem(ctx, m.userID, m.cfg.GroupKey, key); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		logger.WarnContext(ctx, "local persistence failed", "error", err)
	}
	m.notifyDeleteLocked(key)

	if err := m.remote.DeleteItem(ctx, m.userID, m.cfg.GroupKey, key); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return &RemoteError{Op: "delete item", Err: err}
	}
	return nil
}

// DeleteAll wipes the user's items everywhere.
func (m *ProgressManager) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return ErrNotLoggedIn
	}

	logger := managerLogger(ctx, m.logger, "progress", "delete_all", "group_key", m.cfg.GroupKey)

	for key := range m.items {
		delete(m.items, key)
		m.notifyDeleteLocked(key)
	}
	m.publishLocked()
	if err := m.store.DeleteItems(ctx, m.userID, m.cfg.GroupKey); err != nil {
		logger.WarnContext(ctx, "durable cache delete failed", "error", err)
	}
	if err := m.remote.DeleteAll(ctx, m.userID, m.cfg.GroupKey); err != nil {
		return &RemoteError{Op: "delete all", Err: err}
	}
	return nil
}

// Subscribe registers callbacks for item updates and deletions. Either
// callback may be nil. Callbacks run on their own goroutine. The returned
// function removes the subscription.
func (m *ProgressManager) Subscribe(onUpdate func(progress.Item), onDelete func(string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.idGenerator()
	if onUpdate != nil {
		m.updateListeners[id] = onUpdate
	}
	if onDelete != nil {
		m.deleteListeners[id] = onDelete
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.updateListeners, id)
		delete(m.deleteListeners, id)
	}
}

func (m *ProgressManager) logOutLocked(ctx context.Context) {
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}

	logger := managerLogger(ctx, m.logger, "progress", "log_out", "group_key", m.cfg.GroupKey)
	if err := m.store.DeleteItems(ctx, m.userID, m.cfg.GroupKey); err != nil {
		logger.WarnContext(ctx, "durable cache delete failed", "error", err)
	}

	m.userID = ""
	m.items = make(map[string]progress.Item)
	m.publishLocked()
	m.tracker.Track(ctx, logging.TrackedEvent{
		Name:       "progress_logout",
		Severity:   logging.SeverityInfo,
		Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
	})
}

// loadLocked merges the remote item set with the durable cache. Items the
// cache knows at a higher value are pushed back; remote failures degrade
// to the cache alone.
func (m *ProgressManager) loadLocked(ctx context.Context, logger *slog.Logger) {
	cached := make(map[string]progress.Item)
	records, err := m.store.ListItems(ctx, m.userID, m.cfg.GroupKey)
	if err != nil {
		logger.WarnContext(ctx, "durable cache read failed", "error", err)
	}
	for _, record := range records {
		cached[record.ItemKey] = progress.Item{
			ID:           record.ItemKey,
			Key:          record.ItemKey,
			RawID:        record.RawID,
			Value:        record.Value,
			DateCreated:  record.DateCreated,
			DateModified: record.DateModified,
		}
	}

	remoteItems, err := m.remote.FetchItems(ctx, m.userID, m.cfg.GroupKey)
	if err != nil {
		logger.WarnContext(ctx, "bulk load failed, serving durable cache", "error", err)
		m.tracker.Track(ctx, logging.TrackedEvent{
			Name:       "progress_bulk_load_failed",
			Severity:   logging.SeveritySevere,
			Dimensions: map[string]string{"group_key": m.cfg.GroupKey},
		})
		m.items = cached
		return
	}

	m.items = make(map[string]progress.Item, len(remoteItems))
	for _, incoming := range remoteItems {
		var localValue *float64
		if local, ok := cached[incoming.Key]; ok {
			value := local.Value
			localValue = &value
		}
		merged, pushBack := progress.Merge(localValue, incoming.Value)
		item := incoming
		item.Value = merged
		m.items[item.Key] = item
		m.persistItemLocked(ctx, logger, item)
		if pushBack {
			if err := m.remote.UpsertItem(ctx, m.userID, m.cfg.GroupKey, item); err != nil {
				logger.WarnContext(ctx, "push back failed", "item_key", item.Key, "error", err)
			}
		}
		delete(cached, incoming.Key)
	}

	// Items only the cache knows are re-seeded upstream.
	for key, item := range cached {
		m.items[key] = item
		if err := m.remote.UpsertItem(ctx, m.userID, m.cfg.GroupKey, item); err != nil {
			logger.WarnContext(ctx, "push back failed", "item_key", key, "error", err)
		}
	}
}

// publishLocked replaces the read view with a copy of the current items.
func (m *ProgressManager) publishLocked() {
	view := make(map[string]progress.Item, len(m.items))
	for key, item := range m.items {
		view[key] = item
	}
	m.view.Store(&view)
}

func (m *ProgressManager) persistItemLocked(ctx context.Context, logger *slog.Logger, item progress.Item) {
	record := persistence.ProgressRecord{
		UserID:       m.userID,
		GroupKey:     m.cfg.GroupKey,
		ItemKey:      item.Key,
		RawID:        item.RawID,
		Value:        item.Value,
		DateCreated:  item.DateCreated,
		DateModified: item.DateModified,
	}
	if err := m.store.UpsertItem(ctx, record); err != nil {
		logger.WarnContext(ctx, "local persistence failed", "error", err)
	}
}

func (m *ProgressManager) notifyUpdateLocked(item progress.Item) {
	for _, fn := range m.updateListeners {
		go fn(item)
	}
}

func (m *ProgressManager) notifyDeleteLocked(key string) {
	for _, fn := range m.deleteListeners {
		go fn(key)
	}
}

func (m *ProgressManager) consumeStream(updates <-chan progress.Item, deletions <-chan string) {
	for updates != nil || deletions != nil {
		select {
		case item, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			m.applyRemoteUpdate(item)
		case key, ok := <-deletions:
			if !ok {
				deletions = nil
				continue
			}
			m.applyRemoteDeletion(key)
		}
	}
}

// applyRemoteUpdate runs the monotonic merge against a live delivery. A
// locally ahead value is pushed back to the remote instead of accepting
// the delivered one.
func (m *ProgressManager) applyRemoteUpdate(incoming progress.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return
	}

	ctx := context.Background()
	logger := managerLogger(ctx, m.logger, "progress", "stream_update", "group_key", m.cfg.GroupKey, "item_key", incoming.Key)

	var localValue *float64
	if local, ok := m.items[incoming.Key]; ok {
		value := local.Value
		localValue = &value
	}

	merged, pushBack := progress.Merge(localValue, incoming.Value)
	if pushBack {
		local := m.items[incoming.Key]
		if err := m.remote.UpsertItem(ctx, m.userID, m.cfg.GroupKey, local); err != nil {
			logger.WarnContext(ctx, "push back failed", "error", err)
		}
		return
	}

	item := incoming
	item.Value = merged
	m.items[item.Key] = item
	m.publishLocked()
	m.persistItemLocked(ctx, logger, item)
	m.notifyUpdateLocked(item)
}

func (m *ProgressManager) applyRemoteDeletion(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userID == "" {
		return
	}
	if _, ok := m.items[key]; !ok {
		return
	}

	ctx := context.Background()
	logger := managerLogger(ctx, m.logger, "progress", "stream_deletion", "group_key", m.cfg.GroupKey, "item_key", key)

	delete(m.items, key)
	m.publishLocked()
	if err := m.store.DeleteItem(ctx, m.userID, m.cfg.GroupKey, key); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		logger.WarnContext(ctx, "local persistence failed", "error", err)
	}
	m.notifyDeleteLocked(key)
}
