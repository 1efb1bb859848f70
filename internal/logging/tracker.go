package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Severity classifies tracked events for downstream analytics.
type Severity int

const (
	// SeverityInfo marks routine lifecycle events.
	SeverityInfo Severity = iota
	// SeverityAnalytic marks events emitted for usage analysis.
	SeverityAnalytic
	// SeveritySevere marks failures that need operator attention.
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityAnalytic:
		return "analytic"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// TrackedEvent is one named occurrence with optional dimensions.
type TrackedEvent struct {
	Name       string
	Severity   Severity
	Dimensions map[string]string
}

// Tracker receives lifecycle and analytics events from the sync layer.
// Implementations must be safe for concurrent use.
type Tracker interface {
	Track(ctx context.Context, event TrackedEvent)
}

// SlogTracker forwards tracked events to a structured logger.
type SlogTracker struct {
	logger *slog.Logger
}

// NewSlogTracker wraps the provided logger, defaulting to slog.Default.
func NewSlogTracker(logger *slog.Logger) *SlogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogTracker{logger: logger}
}

func (t *SlogTracker) Track(ctx context.Context, event TrackedEvent) {
	logger := FromContext(ctx)
	if logger == nil {
		logger = t.logger
	}

	attrs := []any{"severity", event.Severity.String()}
	for key, value := range event.Dimensions {
		attrs = append(attrs, key, value)
	}

	if event.Severity == SeveritySevere {
		logger.ErrorContext(ctx, event.Name, attrs...)
		return
	}
	logger.InfoContext(ctx, event.Name, attrs...)
}

// NopTracker discards every event.
type NopTracker struct{}

func (NopTracker) Track(context.Context, TrackedEvent) {}

// RecordingTracker captures events in memory for tests.
type RecordingTracker struct {
	mu     sync.Mutex
	events []TrackedEvent
}

func (t *RecordingTracker) Track(_ context.Context, event TrackedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

// Events returns a copy of everything tracked so far.
func (t *RecordingTracker) Events() []TrackedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TrackedEvent(nil), t.events...)
}
