// Package memory provides in-process implementations of the remote
// contracts. They back tests and single-process deployments, and stand in
// for the shared store another device would write to.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/gamification-engine/internal/experience"
	"github.com/example/gamification-engine/internal/progress"
	"github.com/example/gamification-engine/internal/remote"
	"github.com/example/gamification-engine/internal/streak"
)

// subscription channels are buffered; a subscriber that falls this far
// behind misses deliveries rather than blocking the publisher.
const subscriptionBuffer = 16

type scope struct {
	userID   string
	groupKey string
}

// StreakService implements remote.StreakRemote on in-process state. When
// recomputation is requested it runs the streak engine itself, applies any
// planned freeze consumption, and broadcasts the result: the server-side
// calculation mode in miniature.
type StreakService struct {
	mu          sync.RWMutex
	engine      *streak.Engine
	cfg         streak.Config
	now         func() time.Time
	events      map[scope][]streak.Event
	freezes     map[scope][]streak.Freeze
	snapshots   map[scope]streak.Snapshot
	hasSnapshot map[scope]bool
	subs        map[scope]map[string]chan streak.Snapshot
	failure     error
}

// NewStreakService constructs a service that recomputes snapshots with the
// given engine and config. A nil engine falls back to a UTC engine and a
// nil now falls back to time.Now.
func NewStreakService(engine *streak.Engine, cfg streak.Config, now func() time.Time) *StreakService {
	if engine == nil {
		engine = streak.NewEngine(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &StreakService{
		engine:      engine,
		cfg:         cfg,
		now:         now,
		events:      make(map[scope][]streak.Event),
		freezes:     make(map[scope][]streak.Freeze),
		snapshots:   make(map[scope]streak.Snapshot),
		hasSnapshot: make(map[scope]bool),
		subs:        make(map[scope]map[string]chan streak.Snapshot),
	}
}

// SetFailure makes every subsequent call return err until cleared with nil.
func (s *StreakService) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *StreakService) FetchEvents(_ context.Context, userID, groupKey string) ([]streak.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return append([]streak.Event(nil), s.events[scope{userID, groupKey}]...), nil
}

func (s *StreakService) FetchFreezes(_ context.Context, userID, groupKey string) ([]streak.Freeze, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return append([]streak.Freeze(nil), s.freezes[scope{userID, groupKey}]...), nil
}

func (s *StreakService) FetchSnapshot(_ context.Context, userID, groupKey string) (streak.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return streak.Snapshot{}, s.failure
	}
	key := scope{userID, groupKey}
	if !s.hasSnapshot[key] {
		return streak.Snapshot{}, remote.ErrNotFound
	}
	return s.snapshots[key], nil
}

func (s *StreakService) AppendEvent(_ context.Context, userID, groupKey string, event streak.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	key := scope{userID, groupKey}
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *StreakService) AddFreeze(_ context.Context, userID, groupKey string, freeze streak.Freeze) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	key := scope{userID, groupKey}
	s.freezes[key] = append(s.freezes[key], freeze)
	return nil
}

func (s *StreakService) MarkFreezeUsed(_ context.Context, userID, groupKey, freezeID string, usedDate time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	key := scope{userID, groupKey}
	for i := range s.freezes[key] {
		if s.freezes[key][i].ID == freezeID {
			used := usedDate
			s.freezes[key][i].UsedDate = &used
			return nil
		}
	}
	return remote.ErrNotFound
}

func (s *StreakService) UpsertSnapshot(_ context.Context, userID, groupKey string, snapshot streak.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.storeAndBroadcastLocked(scope{userID, groupKey}, snapshot)
	return nil
}

func (s *StreakService) RequestRecomputation(_ context.Context, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	key := scope{userID, groupKey}
	snapshot, consumptions, err := s.engine.Calculate(s.events[key], s.freezes[key], s.cfg, s.now())
	if err != nil {
		return err
	}

	for _, consumption := range consumptions {
		for i := range s.freezes[key] {
			if s.freezes[key][i].ID == consumption.FreezeID {
				used := consumption.Date
				s.freezes[key][i].UsedDate = &used
			}
		}
		s.events[key] = append(s.events[key], streak.Event{
			ID:        uuid.NewString(),
			Timestamp: consumption.Date,
			IsFreeze:  true,
			FreezeID:  consumption.FreezeID,
		})
	}

	s.storeAndBroadcastLocked(key, snapshot)
	return nil
}

func (s *StreakService) DeleteAll(_ context.Context, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	key := scope{userID, groupKey}
	delete(s.events, key)
	delete(s.freezes, key)
	delete(s.snapshots, key)
	delete(s.hasSnapshot, key)
	return nil
}

func (s *StreakService) StreamSnapshots(ctx context.Context, userID, groupKey string) (<-chan streak.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}

	key := scope{userID, groupKey}
	id := uuid.NewString()
	ch := make(chan streak.Snapshot, subscriptionBuffer)
	if s.subs[key] == nil {
		s.subs[key] = make(map[string]chan streak.Snapshot)
	}
	s.subs[key][id] = ch

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
		close(ch)
	}()

	return ch, nil
}

func (s *StreakService) storeAndBroadcastLocked(key scope, snapshot streak.Snapshot) {
	s.snapshots[key] = snapshot
	s.hasSnapshot[key] = true
	for _, ch := range s.subs[key] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// ExperienceService implements remote.ExperienceRemote on in-process state.
type ExperienceService struct {
	mu          sync.RWMutex
	engine      *experience.Engine
	now         func() time.Time
	events      map[scope][]experience.Event
	snapshots   map[scope]experience.Snapshot
	hasSnapshot map[scope]bool
	subs        map[scope]map[string]chan experience.Snapshot
	failure     error
}

// NewExperienceService constructs a service that recomputes snapshots with
// the given engine. A nil engine falls back to a UTC engine and a nil now
// falls back to time.Now.
func NewExperienceService(engine *experience.Engine, now func() time.Time) *ExperienceService {
	if engine == nil {
		engine = experience.NewEngine(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &ExperienceService{
		engine:      engine,
		now:         now,
		events:      make(map[scope][]experience.Event),
		snapshots:   make(map[scope]experience.Snapshot),
		hasSnapshot: make(map[scope]bool),
		subs:        make(map[scope]map[string]chan experience.Snapshot),
	}
}

// SetFailure makes every subsequent call return err until cleared with nil.
func (s *ExperienceService) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *ExperienceService) FetchEvents(_ context.Context, userID, groupKey string) ([]experience.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return append([]experience.Event(nil), s.events[scope{userID, groupKey}]...), nil
}

func (s *ExperienceService) FetchSnapshot(_ context.Context, userID, groupKey string) (experience.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return experience.Snapshot{}, s.failure
	}
	key := scope{userID, groupKey}
	if !s.hasSnapshot[key] {
		return experience.Snapshot{}, remote.ErrNotFound
	}
	return s.snapshots[key], nil
}

func (s *ExperienceService) AppendEvent(_ context.Context, userID, groupKey string, event experience.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	key := scope{userID, groupKey}
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *ExperienceService) UpsertSnapshot(_ context.Context, userID, groupKey string, snapshot experience.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.storeAndBroadcastLocked(scope{userID, groupKey}, snapshot)
	return nil
}

func (s *ExperienceService) RequestRecomputation(_ context.Context, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	key := scope{userID, groupKey}
	snapshot, err := s.engine.Calculate(s.events[key], s.now())
	if err != nil {
		return err
	}
	s.storeAndBroadcastLocked(key, snapshot)
	return nil
}

func (s *ExperienceService) DeleteAll(_ context.Context, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	key := scope{userID, groupKey}
	delete(s.events, key)
	delete(s.snapshots, key)
	delete(s.hasSnapshot, key)
	return nil
}

func (s *ExperienceService) StreamSnapshots(ctx context.Context, userID, groupKey string) (<-chan experience.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}

	key := scope{userID, groupKey}
	id := uuid.NewString()
	ch := make(chan experience.Snapshot, subscriptionBuffer)
	if s.subs[key] == nil {
		s.subs[key] = make(map[string]chan experience.Snapshot)
	}
	s.subs[key][id] = ch

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
		close(ch)
	}()

	return ch, nil
}

func (s *ExperienceService) storeAndBroadcastLocked(key scope, snapshot experience.Snapshot) {
	s.snapshots[key] = snapshot
	s.hasSnapshot[key] = true
	for _, ch := range s.subs[key] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

type progressSubscriber struct {
	updates   chan progress.Item
	deletions chan string
}

// ProgressService implements remote.ProgressRemote on in-process state.
type ProgressService struct {
	mu      sync.RWMutex
	items   map[scope]map[string]progress.Item
	subs    map[scope]map[string]progressSubscriber
	failure error
}

// NewProgressService returns an empty service.
func NewProgressService() *ProgressService {
	return &ProgressService{
		items: make(map[scope]map[string]progress.Item),
		subs:  make(map[scope]map[string]progressSubscriber),
	}
}

// SetFailure makes every subsequent call return err until cleared with nil.
func (s *ProgressService) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *ProgressService) FetchItems(_ context.Context, userID, groupKey string) ([]progress.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}
	var items []progress.Item
	for _, item := range s.items[scope{userID, groupKey}] {
		items = append(items, item)
	}
	return items, nil
}

func (s *ProgressService) UpsertItem(_ context.Context, userID, groupKey string, item progress.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	key := scope{userID, groupKey}
	if s.items[key] == nil {
		s.items[key] = make(map[string]progress.Item)
	}
	s.items[key][item.Key] = item

	for _, sub := range s.subs[key] {
		select {
		case sub.updates <- item:
		default:
		}
	}
	return nil
}

func (s *ProgressService) DeleteItem(_ context.Context, userID, groupKey, itemKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	key := scope{userID, groupKey}
	if _, ok := s.items[key][itemKey]; !ok {
		return remote.ErrNotFound
	}
	delete(s.items[key], itemKey)

	for _, sub := range s.subs[key] {
		select {
		case sub.deletions <- itemKey:
		default:
		}
	}
	return nil
}

func (s *ProgressService) DeleteAll(_ context.Context, userID, groupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	delete(s.items, scope{userID, groupKey})
	return nil
}

func (s *ProgressService) StreamItems(ctx context.Context, userID, groupKey string) (<-chan progress.Item, <-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, nil, s.failure
	}

	key := scope{userID, groupKey}
	id := uuid.NewString()
	sub := progressSubscriber{
		updates:   make(chan progress.Item, subscriptionBuffer),
		deletions: make(chan string, subscriptionBuffer),
	}
	if s.subs[key] == nil {
		s.subs[key] = make(map[string]progressSubscriber)
	}
	s.subs[key][id] = sub

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[key], id)
		close(sub.updates)
		close(sub.deletions)
	}()

	return sub.updates, sub.deletions, nil
}
