package application

import (
	"time"

	"github.com/example/gamification-engine/internal/streak"
)

// maxEventAge bounds how far in the past a logged event may lie.
const maxEventAge = 365 * 24 * time.Hour

// StreakConfig tunes one streak manager. GroupKey must already be in
// sanitized form; constructors reject anything else.
type StreakConfig struct {
	GroupKey             string
	EventsRequiredPerDay int
	LeewayHours          int
	FreezeBehavior       streak.FreezeBehavior
	// UseServerCalculation forwards events to the remote and lets it
	// produce snapshots instead of recomputing locally.
	UseServerCalculation bool
}

// ExperienceConfig tunes one experience manager.
type ExperienceConfig struct {
	GroupKey             string
	UseServerCalculation bool
}

// ProgressConfig tunes one progress manager.
type ProgressConfig struct {
	GroupKey string
}

// StreakEventInput describes one occurrence to append to the streak log.
// A blank ID is filled in by the manager.
type StreakEventInput struct {
	ID        string
	Timestamp time.Time
	Timezone  string
	Metadata  map[string]any
}

// ExperienceEventInput describes one point-earning occurrence.
type ExperienceEventInput struct {
	ID        string
	Timestamp time.Time
	Points    int
	Metadata  map[string]any
}

// validateEventCore checks the fields shared by every event input.
func validateEventCore(timestamp time.Time, metadata map[string]any, now time.Time, vErr *ValidationError) {
	if timestamp.IsZero() {
		vErr.add("timestamp", "is required")
	} else {
		if timestamp.After(now) {
			vErr.add("timestamp", "must not be in the future")
		}
		if now.Sub(timestamp) > maxEventAge {
			vErr.add("timestamp", "is too far in the past")
		}
	}

	for key := range metadata {
		if !validMetadataKey(key) {
			vErr.add("metadata", "key "+key+" contains unsupported characters")
		}
	}
}

func validMetadataKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
