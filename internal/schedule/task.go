// Package schedule runs periodic callbacks with an explicit start/stop
// lifecycle so that no timer outlives its owner.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task invokes fn every interval until stopped.
type Task struct {
	name     string
	interval time.Duration
	fn       func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Every creates a stopped Task.
func Every(name string, interval time.Duration, fn func()) *Task {
	return &Task{name: name, interval: interval, fn: fn}
}

// Start launches the task. Starting a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	if t.interval <= 0 {
		slog.Warn("scheduled task not started, interval must be positive", "task", t.name, "interval", t.interval)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(runCtx, t.done)
}

// Stop cancels the task and waits for an in-flight callback to return.
// Stopping a stopped task is a no-op.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the task has been started and not stopped.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce()
		}
	}
}

func (t *Task) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn()
}
