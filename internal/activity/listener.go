package activity

import (
	"sync"
	"time"
)

// Status is the focus/visibility view of one tab instance.
type Status struct {
	IsVisible             bool  `json:"isVisible"`
	HasFocus              bool  `json:"hasFocus"`
	FocusChangeCount      int   `json:"focusChangeCount"`
	VisibilityChangeCount int   `json:"visibilityChangeCount"`
	LastFocusTime         int64 `json:"lastFocusTime"`
	LastVisibilityTime    int64 `json:"lastVisibilityTime"`
}

// Listener counts focus and visibility transitions.
type Listener struct {
	mu  sync.Mutex
	now func() time.Time

	visible           bool
	focus             bool
	focusChanges      int
	visibilityChanges int
	lastFocus         time.Time
	lastVisibility    time.Time
}

// NewListener starts visible and focused.
func NewListener(now func() time.Time) *Listener {
	if now == nil {
		now = time.Now
	}
	ts := now()
	return &Listener{now: now, visible: true, focus: true, lastFocus: ts, lastVisibility: ts}
}

func (l *Listener) Focus() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.focus = true
	l.focusChanges++
	l.lastFocus = l.now()
}

// Blur counts a focus change. lastFocusTime keeps the last gain of focus.
func (l *Listener) Blur() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.focus = false
	l.focusChanges++
}

func (l *Listener) Visibility(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visible = visible
	l.visibilityChanges++
	l.lastVisibility = l.now()
}

func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		IsVisible:             l.visible,
		HasFocus:              l.focus,
		FocusChangeCount:      l.focusChanges,
		VisibilityChangeCount: l.visibilityChanges,
		LastFocusTime:         l.lastFocus.UnixMilli(),
		LastVisibilityTime:    l.lastVisibility.UnixMilli(),
	}
}

// ResetCounters zeroes both change counters.
func (l *Listener) ResetCounters() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.focusChanges = 0
	l.visibilityChanges = 0
}
