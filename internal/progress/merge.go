// Package progress holds the merge rule for fractional progress values.
// Progress is monotone per item: a value may only ever grow, regardless of
// which replica it arrives from.
package progress

import "time"

// Item is one tracked progress entry. Key is the sanitized identifier the
// item is stored under; RawID preserves the identifier as supplied.
type Item struct {
	ID           string
	Key          string
	RawID        string
	Value        float64
	DateCreated  time.Time
	DateModified time.Time
}

// Merge reconciles a locally known value with an incoming remote value.
// The greater value wins. When the local value is nil the incoming value
// is adopted as-is. The second return reports whether the local value beat
// the incoming one and should be pushed back to the remote.
func Merge(local *float64, incoming float64) (float64, bool) {
	if local == nil {
		return incoming, false
	}
	if *local > incoming {
		return *local, true
	}
	return incoming, false
}

// ValidValue reports whether a raw progress value lies in the [0, 1]
// range accepted for writes.
func ValidValue(value float64) bool {
	return value >= 0 && value <= 1
}
