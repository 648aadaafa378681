// Package eventlog keeps the rolling, newest-first log of tab events that the
// API renders and exports.
package eventlog

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/relay"
)

// DefaultMax is the number of entries kept in memory.
const DefaultMax = 100

// Type classifies an entry.
type Type string

const (
	TypeInfo       Type = "info"
	TypeWarning    Type = "warning"
	TypeError      Type = "error"
	TypeFocus      Type = "focus"
	TypeVisibility Type = "visibility"
	TypeLifecycle  Type = "lifecycle"
	TypeDetection  Type = "detection"
	TypeAction     Type = "action"
)

// Valid reports whether t is one of the known entry types.
func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeWarning, TypeError, TypeFocus, TypeVisibility,
		TypeLifecycle, TypeDetection, TypeAction:
		return true
	}
	return false
}

// Entry is one log line.
type Entry struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Message       string         `json:"message"`
	Type          Type           `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	FormattedTime string         `json:"formattedTime"`
}

// ExportDoc is the downloadable form of the log.
type ExportDoc struct {
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	Logs      []Entry   `json:"logs"`
	Filename  string    `json:"filename"`
}

// Sink persists entries outside the process. storage.JSONLWriter satisfies it.
type Sink interface {
	Write(record any) error
}

// Options configures a Logger.
type Options struct {
	Sink Sink
	Now  func() time.Time
}

// Logger is a capped in-memory event log. A nil *Logger discards everything,
// so components can take one without checking.
type Logger struct {
	mu      sync.RWMutex
	max     int
	entries []Entry
	nextID  atomic.Int64

	sink   Sink
	now    func() time.Time
	broker *relay.Broker[Entry]
}

// New creates a Logger that keeps at most max entries (DefaultMax if max <= 0).
func New(max int, opts Options) *Logger {
	if max <= 0 {
		max = DefaultMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Logger{
		max:    max,
		sink:   opts.Sink,
		now:    opts.Now,
		broker: relay.NewBroker[Entry](),
	}
}

// Log prepends an entry, trims the log to its cap and publishes the entry to
// live subscribers. Unknown types are recorded as info.
func (l *Logger) Log(message string, typ Type, data map[string]any) Entry {
	if l == nil {
		return Entry{}
	}
	if !typ.Valid() {
		typ = TypeInfo
	}
	ts := l.now()
	e := Entry{
		ID:            l.nextID.Add(1),
		Timestamp:     ts,
		Message:       message,
		Type:          typ,
		Data:          data,
		FormattedTime: ts.Format("15:04:05.000"),
	}

	l.mu.Lock()
	l.entries = append([]Entry{e}, l.entries...)
	if len(l.entries) > l.max {
		l.entries = l.entries[:l.max]
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Write(e); err != nil {
			slog.Debug("event log sink write failed", "error", err)
		}
	}
	l.broker.Publish(e)
	return e
}

// Note is Log without data.
func (l *Logger) Note(typ Type, message string) Entry {
	return l.Log(message, typ, nil)
}

// Entries returns a copy of the log, newest first, optionally filtered by
// type and cut to limit (limit <= 0 means all).
func (l *Logger) Entries(typ Type, limit int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of entries held.
func (l *Logger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry.
func (l *Logger) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Broker exposes the live entry stream.
func (l *Logger) Broker() *relay.Broker[Entry] {
	if l == nil {
		return nil
	}
	return l.broker
}

// Export snapshots the log for download.
func (l *Logger) Export(url string) ExportDoc {
	if l == nil {
		return ExportDoc{URL: url, Logs: []Entry{}}
	}
	now := l.now()
	return ExportDoc{
		Timestamp: now.UTC(),
		URL:       url,
		Logs:      l.Entries("", 0),
		Filename:  "event-logs-" + now.UTC().Format("2006-01-02") + ".json",
	}
}
