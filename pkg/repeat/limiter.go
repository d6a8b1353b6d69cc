// Package repeat provides a time-based gate that answers one question: has
// enough wall-clock time passed since the last permitted action?
//
// The alerting engine uses it to space out repeated critical and still-down
// alerts; the agent uses it to avoid hammering an entity that recently failed.
package repeat

import "time"

// Limiter permits an action once at least Interval has elapsed since the last
// Mark. A fresh or Reset limiter always permits.
//
// Limiter is not safe for concurrent use; callers own it exclusively.
type Limiter struct {
	interval time.Duration
	last     time.Time // zero value means "never"
}

// New returns a Limiter that has never been marked.
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// CanProceed reports whether now - lastPermitted >= interval.
// An elapsed time exactly equal to the interval permits the action.
func (l *Limiter) CanProceed(now time.Time) bool {
	if l.last.IsZero() {
		return true
	}
	return now.Sub(l.last) >= l.interval
}

// Mark records now as the time of the last permitted action.
func (l *Limiter) Mark(now time.Time) {
	l.last = now
}

// Reset forgets the last mark so the next CanProceed is permitted.
func (l *Limiter) Reset() {
	l.last = time.Time{}
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// LastMarked returns the time of the last Mark and whether one exists.
func (l *Limiter) LastMarked() (time.Time, bool) {
	return l.last, !l.last.IsZero()
}

// SetInterval changes the spacing without touching the last mark. Used when a
// configuration reload changes the repeat interval of a live limiter.
func (l *Limiter) SetInterval(d time.Duration) {
	l.interval = d
}
