package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/activity"
	"github.com/dgnsrekt/tab_sentinel/internal/detector"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/export"
	"github.com/dgnsrekt/tab_sentinel/internal/pageinfo"
	"github.com/dgnsrekt/tab_sentinel/internal/relay"
	"github.com/dgnsrekt/tab_sentinel/internal/schedule"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// Activity events accepted by RecordActivity.
const (
	EventFocus   = "focus"
	EventBlur    = "blur"
	EventVisible = "visible"
	EventHidden  = "hidden"
	EventInput   = "input"
)

// TabView is the tab status as rendered by the API.
type TabView struct {
	types.TabInfo
	Sources   []detector.SourceStatus `json:"sources"`
	Broadcast bool                    `json:"broadcast"`
	Page      pageinfo.Info           `json:"page"`
}

// ActivityView pairs the accumulated stats with the focus/visibility status.
type ActivityView struct {
	Stats  activity.Stats  `json:"stats"`
	Status activity.Status `json:"status"`
}

// ExportResult is a freshly built snapshot plus its stored metadata. Meta is
// nil when no export store is configured.
type ExportResult struct {
	Snapshot export.Snapshot `json:"snapshot"`
	Meta     *export.Meta    `json:"meta,omitempty"`
	Filename string          `json:"filename"`
}

// Health is the liveness summary of one instance.
type Health struct {
	Status     string `json:"status"`
	TabID      string `json:"tabId"`
	Duplicate  bool   `json:"duplicate"`
	Broadcast  bool   `json:"broadcast"`
	LogEntries int    `json:"logEntries"`
}

// Options wires a Service. Detector is required; the rest default to fresh
// in-memory instances.
type Options struct {
	Detector     *detector.Detector
	Tracker      *activity.Tracker
	Listener     *activity.Listener
	EventLog     *eventlog.Logger
	Exports      *export.Store
	UserAgent    string
	TickInterval time.Duration
	Now          func() time.Time
}

// Service is the presentation collaborator of one tab instance.
type Service struct {
	det      *detector.Detector
	tracker  *activity.Tracker
	listener *activity.Listener
	events   *eventlog.Logger
	exports  *export.Store
	ua       string
	now      func() time.Time
	ticker   *schedule.Task
}

func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracker == nil {
		opts.Tracker = activity.NewTracker(opts.Now, 0)
	}
	if opts.Listener == nil {
		opts.Listener = activity.NewListener(opts.Now)
	}
	if opts.EventLog == nil {
		opts.EventLog = eventlog.New(0, eventlog.Options{Now: opts.Now})
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	s := &Service{
		det:      opts.Detector,
		tracker:  opts.Tracker,
		listener: opts.Listener,
		events:   opts.EventLog,
		exports:  opts.Exports,
		ua:       opts.UserAgent,
		now:      opts.Now,
	}
	s.ticker = schedule.Every("activity", opts.TickInterval, s.tracker.Tick)
	return s
}

// Start begins the periodic activity update and logs the client description.
func (s *Service) Start(ctx context.Context) {
	info := pageinfo.Describe(s.ua, s.det.URL())
	s.events.Note(eventlog.TypeInfo, fmt.Sprintf("browser: %s, device: %s", info.Browser, info.Device))
	s.ticker.Start(ctx)
}

// Close records the final activity delta and stops the ticker. It does not
// close the detector.
func (s *Service) Close() {
	s.ticker.Stop()
	s.tracker.Stop()
}

func (s *Service) GetTabInfo(ctx context.Context) (TabView, error) {
	return TabView{
		TabInfo:   s.det.TabInfo(),
		Sources:   s.det.Sources(),
		Broadcast: s.det.BroadcastEnabled(),
		Page:      pageinfo.Describe(s.ua, s.det.URL()),
	}, nil
}

func (s *Service) GetActiveTabs(ctx context.Context) (types.ActiveTabsInfo, error) {
	return s.det.ActiveTabsInfo(), nil
}

func (s *Service) Recheck(ctx context.Context) (types.Verdict, error) {
	v := s.det.Recheck()
	s.events.Log("duplicate recheck requested", eventlog.TypeAction, map[string]any{"isDuplicate": v.IsDuplicate})
	return v, nil
}

// Navigate points the instance at a new URL.
func (s *Service) Navigate(ctx context.Context, url string) (types.Verdict, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return types.Verdict{}, newError(CodeValidation, "url is required", nil)
	}
	return s.det.SetURL(url), nil
}

// DetectOpener guesses how the page was opened. URL and duplicate state come
// from the instance itself.
func (s *Service) DetectOpener(ctx context.Context, hints activity.Hints) (activity.Opener, error) {
	hints.URL = s.det.URL()
	hints.IsDuplicate = s.det.Verdict().IsDuplicate
	op := activity.DetectOpener(hints)
	s.events.Log("opening detected: "+string(op.Kind), eventlog.TypeDetection, map[string]any{"referrerDomain": op.ReferrerDomain})
	return op, nil
}

// Ping asks broadcast siblings to answer.
func (s *Service) Ping(ctx context.Context) (bool, error) {
	if !s.det.Ping() {
		return false, newError(CodeUnavailable, "broadcast channel unavailable", nil)
	}
	return true, nil
}

func (s *Service) GetActivity(ctx context.Context) (ActivityView, error) {
	return ActivityView{Stats: s.tracker.Stats(), Status: s.listener.Status()}, nil
}

// RecordActivity applies one focus, visibility or input event.
func (s *Service) RecordActivity(ctx context.Context, event string) (ActivityView, error) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case EventFocus:
		s.tracker.Focus()
		s.listener.Focus()
		s.events.Note(eventlog.TypeFocus, "tab gained focus")
	case EventBlur:
		s.tracker.Blur()
		s.listener.Blur()
		s.events.Note(eventlog.TypeFocus, "tab lost focus")
	case EventVisible:
		s.tracker.Visibility(true)
		s.listener.Visibility(true)
		s.det.OnVisibilityChange(true)
		s.events.Note(eventlog.TypeVisibility, "tab became visible")
	case EventHidden:
		s.tracker.Visibility(false)
		s.listener.Visibility(false)
		s.det.OnVisibilityChange(false)
		s.events.Note(eventlog.TypeVisibility, "tab became hidden")
	case EventInput:
		s.tracker.Activity()
		s.det.TouchActivity()
	default:
		return ActivityView{}, newError(CodeValidation,
			fmt.Sprintf("event must be one of: %s, %s, %s, %s, %s", EventFocus, EventBlur, EventVisible, EventHidden, EventInput), nil)
	}
	return s.GetActivity(ctx)
}

// ResetActivity zeroes the tracker and the listener counters.
func (s *Service) ResetActivity(ctx context.Context) (ActivityView, error) {
	s.tracker.Reset()
	s.listener.ResetCounters()
	s.events.Note(eventlog.TypeAction, "statistics reset")
	return s.GetActivity(ctx)
}

func (s *Service) GetLogs(ctx context.Context, typ string, limit int) ([]eventlog.Entry, error) {
	t := eventlog.Type(strings.TrimSpace(typ))
	if t != "" && !t.Valid() {
		return nil, newError(CodeValidation, fmt.Sprintf("unknown log type %q", typ), nil)
	}
	if limit < 0 {
		return nil, newError(CodeValidation, "limit must not be negative", nil)
	}
	return s.events.Entries(t, limit), nil
}

func (s *Service) ClearLogs(ctx context.Context) error {
	s.events.Clear()
	s.events.Note(eventlog.TypeAction, "event log cleared")
	return nil
}

func (s *Service) ExportLogs(ctx context.Context) (eventlog.ExportDoc, error) {
	doc := s.events.Export(s.det.URL())
	s.events.Note(eventlog.TypeAction, "event log exported")
	return doc, nil
}

// LogBroker is the live event log stream.
func (s *Service) LogBroker() *relay.Broker[eventlog.Entry] {
	return s.events.Broker()
}

// CreateExport builds a snapshot of this instance and stores it when an
// export store is configured.
func (s *Service) CreateExport(ctx context.Context) (ExportResult, error) {
	now := s.now()
	snap := export.Build(export.Input{
		URL:        s.det.URL(),
		UserAgent:  s.ua,
		Stats:      s.tracker.Stats(),
		TabInfo:    s.det.TabInfo(),
		TabStatus:  s.listener.Status(),
		ActiveTabs: s.det.ActiveTabsInfo(),
		Logs:       s.events.Entries("", 0),
	}, now)
	res := ExportResult{Snapshot: snap, Filename: export.Filename(now)}
	if s.exports != nil {
		meta, err := s.exports.Save(snap)
		if err != nil {
			return ExportResult{}, newError(CodeStorage, "save export", err)
		}
		res.Meta = &meta
	}
	s.events.Log("statistics exported", eventlog.TypeAction, map[string]any{"id": snap.ID})
	return res, nil
}

func (s *Service) ListExports(ctx context.Context) ([]export.Meta, error) {
	if s.exports == nil {
		return nil, newError(CodeUnavailable, "export store not configured", nil)
	}
	metas, err := s.exports.List()
	if err != nil {
		return nil, newError(CodeStorage, "list exports", err)
	}
	return metas, nil
}

func (s *Service) GetExport(ctx context.Context, id string) (export.Snapshot, error) {
	if s.exports == nil {
		return export.Snapshot{}, newError(CodeUnavailable, "export store not configured", nil)
	}
	snap, err := s.exports.Get(strings.TrimSpace(id))
	if err != nil {
		return export.Snapshot{}, exportErr(err)
	}
	return snap, nil
}

func (s *Service) DeleteExport(ctx context.Context, id string) error {
	if s.exports == nil {
		return newError(CodeUnavailable, "export store not configured", nil)
	}
	if err := s.exports.Delete(strings.TrimSpace(id)); err != nil {
		return exportErr(err)
	}
	return nil
}

func exportErr(err error) error {
	switch {
	case errors.Is(err, export.ErrInvalidID):
		return newError(CodeValidation, err.Error(), nil)
	case errors.Is(err, export.ErrNotFound):
		return newError(CodeNotFound, err.Error(), nil)
	default:
		return newError(CodeStorage, "export store", err)
	}
}

// ClearTracking removes every tracking key from the shared store.
func (s *Service) ClearTracking(ctx context.Context) error {
	if err := s.det.ClearAllTracking(); err != nil {
		slog.Warn("clear tracking incomplete", "error", err)
		return newError(CodeStorage, "clear tracking data", err)
	}
	return nil
}

func (s *Service) Health(ctx context.Context) (Health, error) {
	return Health{
		Status:     "ok",
		TabID:      s.det.TabID(),
		Duplicate:  s.det.Verdict().IsDuplicate,
		Broadcast:  s.det.BroadcastEnabled(),
		LogEntries: s.events.Len(),
	}, nil
}
