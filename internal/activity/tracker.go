// Package activity accumulates how long a tab instance was actually in use
// and counts its focus and visibility changes.
package activity

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCeiling is the largest single delta credited as active time. Larger
// gaps come from sleep/resume or a stalled process and are dropped.
const DefaultCeiling = 5 * time.Minute

// Stats is the exported view of a Tracker. Times are unix milliseconds and
// durations are milliseconds.
type Stats struct {
	StartTime             int64  `json:"startTime"`
	CurrentTime           int64  `json:"currentTime"`
	TotalTime             int64  `json:"totalTime"`
	ActiveTime            int64  `json:"activeTime"`
	InactiveTime          int64  `json:"inactiveTime"`
	ActivePercentage      string `json:"activePercentage"`
	IsCurrentlyActive     bool   `json:"isCurrentlyActive"`
	FormattedTotalTime    string `json:"formattedTotalTime"`
	FormattedActiveTime   string `json:"formattedActiveTime"`
	FormattedInactiveTime string `json:"formattedInactiveTime"`
}

// Tracker is the Active/Inactive state machine. The zero value is not usable;
// call NewTracker.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	ceiling time.Duration

	start      time.Time
	lastActive time.Time
	activeTime time.Duration
	active     bool
}

// NewTracker starts tracking in the Active state. A nil now uses time.Now and
// a non-positive ceiling uses DefaultCeiling.
func NewTracker(now func() time.Time, ceiling time.Duration) *Tracker {
	if now == nil {
		now = time.Now
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	t := &Tracker{now: now, ceiling: ceiling}
	t.resetLocked()
	return t
}

// recordLocked credits the time since the last recorded instant while
// active. The delta is dropped unless it is below the ceiling.
func (t *Tracker) recordLocked() {
	if !t.active {
		return
	}
	now := t.now()
	if diff := now.Sub(t.lastActive); diff >= 0 && diff < t.ceiling {
		t.activeTime += diff
	}
	t.lastActive = now
}

// Focus enters Active and restarts the delta from now.
func (t *Tracker) Focus() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.lastActive = t.now()
}

// Blur credits the pending delta, then enters Inactive.
func (t *Tracker) Blur() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked()
	t.active = false
}

// Visibility maps a visibility change onto Focus or Blur.
func (t *Tracker) Visibility(visible bool) {
	if visible {
		t.Focus()
		return
	}
	t.Blur()
}

// Activity records user input.
func (t *Tracker) Activity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked()
}

// Tick is the periodic update while the instance runs.
func (t *Tracker) Tick() {
	t.Activity()
}

// Stop records one last time. The tracker stays usable.
func (t *Tracker) Stop() {
	t.Activity()
}

// Reset zeroes the accumulators and restarts the epoch in the Active state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	now := t.now()
	t.start = now
	t.lastActive = now
	t.activeTime = 0
	t.active = true
}

// Active reports the current state.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// ActiveTime returns the accumulated active duration.
func (t *Tracker) ActiveTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeTime
}

// Stats snapshots the tracker without recording a new delta.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	total := now.Sub(t.start)
	inactive := total - t.activeTime
	pct := 0.0
	if total > 0 {
		pct = float64(t.activeTime) / float64(total) * 100
	}
	return Stats{
		StartTime:             t.start.UnixMilli(),
		CurrentTime:           now.UnixMilli(),
		TotalTime:             total.Milliseconds(),
		ActiveTime:            t.activeTime.Milliseconds(),
		InactiveTime:          inactive.Milliseconds(),
		ActivePercentage:      fmt.Sprintf("%.2f", pct),
		IsCurrentlyActive:     t.active,
		FormattedTotalTime:    FormatClock(int64(total / time.Second)),
		FormattedActiveTime:   FormatClock(int64(t.activeTime / time.Second)),
		FormattedInactiveTime: FormatClock(int64(inactive / time.Second)),
	}
}
