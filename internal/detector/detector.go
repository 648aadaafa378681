// Package detector runs one tab instance: it registers presence in the shared
// store, merges the storage and broadcast duplicate signals, and keeps the
// instance's record alive until Close.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
	"github.com/dgnsrekt/tab_sentinel/internal/registry"
	"github.com/dgnsrekt/tab_sentinel/internal/schedule"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

const (
	DefaultRefreshInterval    = 5 * time.Second
	DefaultRecheckProbability = 0.25
)

// Config configures a Detector. Zero values fall back to the package and
// registry defaults; a RecheckProbability outside (0,1] does too.
type Config struct {
	TabID     string
	URL       string
	UserAgent string

	Store   kvstore.Store
	Channel broadcast.Channel // nil disables broadcast coordination

	RefreshInterval    time.Duration
	RecheckProbability float64
	StaleAfter         time.Duration
	ActiveWindow       time.Duration
	FallbackWindow     time.Duration
	BroadcastWindow    time.Duration

	Now  func() time.Time
	Rand func() float64

	EventLog *eventlog.Logger
	OnChange func(types.Verdict)
	Logger   *slog.Logger
}

// Detector is one tab instance. Every state transition runs under one mutex,
// so callbacks from the broadcast loop, the liveness task and API callers
// never interleave.
type Detector struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	reg      *registry.Registry
	polling  *PollingSource
	bcast    *BroadcastSource
	sources  []Source
	verdict  types.Verdict
	started  bool
	closed   bool
	coord    *broadcast.Coordinator
	liveness *schedule.Task
}

// New builds a Detector. Store is required.
func New(cfg Config) (*Detector, error) {
	if cfg.Store == nil {
		return nil, errors.New("detector: store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RecheckProbability <= 0 || cfg.RecheckProbability > 1 {
		cfg.RecheckProbability = DefaultRecheckProbability
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = registry.DefaultStaleAfter
	}
	if cfg.TabID == "" {
		cfg.TabID = registry.NewTabID(cfg.Now())
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("tab_id", cfg.TabID)

	d := &Detector{
		cfg: cfg,
		log: log,
		reg: registry.New(cfg.Store, registry.Options{
			TabID:          cfg.TabID,
			URL:            cfg.URL,
			UserAgent:      cfg.UserAgent,
			StaleAfter:     cfg.StaleAfter,
			ActiveWindow:   cfg.ActiveWindow,
			FallbackWindow: cfg.FallbackWindow,
			Now:            cfg.Now,
			Logger:         log,
		}),
		polling: &PollingSource{},
		bcast:   newBroadcastSource(cfg.StaleAfter, cfg.Now),
		verdict: types.NewVerdict(false),
	}
	d.sources = []Source{d.polling, d.bcast}
	d.coord = broadcast.NewCoordinator(cfg.Channel, broadcast.Options{
		TabID:       cfg.TabID,
		URL:         cfg.URL,
		Window:      cfg.BroadcastWindow,
		Now:         cfg.Now,
		OnDuplicate: d.onSiblingOpened,
		OnElsewhere: d.onSiblingElsewhere,
		OnClosed:    d.onSiblingClosed,
		OnCleanup:   d.onSiblingCleanup,
		OnPong:      d.onPong,
		Logger:      log,
	})
	d.liveness = schedule.Every("liveness", cfg.RefreshInterval, d.tick)
	return d, nil
}

// Start registers the instance, runs the fallback check, joins the broadcast
// topic and starts the liveness task. Later calls are no-ops.
func (d *Detector) Start(ctx context.Context) types.Verdict {
	d.mu.Lock()
	if d.started || d.closed {
		v := d.verdict
		d.mu.Unlock()
		return v
	}
	d.started = true

	v := d.reg.Register()
	fallback := d.reg.CheckWithTimestamp()
	d.polling.set(v.IsDuplicate, fallback)
	count := d.reg.IncrementTabCount()
	session := d.reg.SessionID()
	d.reg.TouchLastActivity()
	pruned := d.reg.LastPruned()
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	d.log.Info("tab instance started",
		"url", d.cfg.URL,
		"duplicate", verdict.IsDuplicate,
		"fallback", fallback,
		"tab_count", count,
		"broadcast", d.coord.Enabled())
	d.cfg.EventLog.Log("tab instance registered", eventlog.TypeLifecycle, map[string]any{
		"tabId":     d.cfg.TabID,
		"sessionId": session,
		"tabCount":  count,
	})
	if !d.coord.Enabled() {
		d.cfg.EventLog.Note(eventlog.TypeInfo, "broadcast channel unavailable, using storage polling only")
	}
	if verdict.IsDuplicate {
		d.cfg.EventLog.Log("duplicate tab detected", eventlog.TypeDetection, map[string]any{"url": d.cfg.URL})
	} else {
		d.cfg.EventLog.Log("original tab", eventlog.TypeDetection, map[string]any{"url": d.cfg.URL})
	}

	d.coord.Start(ctx)
	d.coord.AnnounceCleanup(pruned)
	d.liveness.Start(ctx)
	if changed {
		d.notify(verdict)
	}
	return verdict
}

// tick refreshes liveness, prunes stale records and, with probability
// RecheckProbability, re-evaluates the verdict.
func (d *Detector) tick() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.reg.RefreshLiveness()
	pruned := d.reg.Prune()
	if d.cfg.Rand() < d.cfg.RecheckProbability {
		d.recheckLocked()
	}
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	d.coord.AnnounceCleanup(pruned)
	if changed {
		d.report(verdict, "liveness")
	}
}

// Recheck re-evaluates the storage signals now.
func (d *Detector) Recheck() types.Verdict {
	d.mu.Lock()
	if d.closed {
		v := d.verdict
		d.mu.Unlock()
		return v
	}
	d.recheckLocked()
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	if changed {
		d.report(verdict, "recheck")
	}
	return verdict
}

// recheckLocked reads both storage signals without writing the fallback
// record, so repeated rechecks see the same state.
func (d *Detector) recheckLocked() {
	v := d.reg.Recheck()
	d.polling.set(v.IsDuplicate, d.reg.PeekTabState())
}

// OnVisibilityChange rechecks when the instance becomes visible again and
// stamps its last activity when it is hidden.
func (d *Detector) OnVisibilityChange(visible bool) types.Verdict {
	if visible {
		return d.Recheck()
	}
	d.TouchActivity()
	return d.Verdict()
}

// TouchActivity records user activity for this instance in the shared store.
func (d *Detector) TouchActivity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.reg.TouchLastActivity()
}

// SetURL moves the instance to a new URL. A started instance re-registers
// under the new URL, forgets broadcast siblings of the old one and announces
// itself again.
func (d *Detector) SetURL(url string) types.Verdict {
	d.mu.Lock()
	if d.closed {
		v := d.verdict
		d.mu.Unlock()
		return v
	}
	d.cfg.URL = url
	d.reg.SetURL(url)
	d.bcast.reset()
	if !d.started {
		v := d.verdict
		d.mu.Unlock()
		d.coord.Navigate(url)
		return v
	}
	v := d.reg.Register()
	d.polling.set(v.IsDuplicate, d.reg.CheckWithTimestamp())
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	d.coord.Navigate(url)
	d.cfg.EventLog.Log("tab navigated", eventlog.TypeLifecycle, map[string]any{"url": url})
	if changed {
		d.report(verdict, "navigate")
	}
	return verdict
}

func (d *Detector) onSiblingOpened(tabID string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.bcast.add(tabID)
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	d.cfg.EventLog.Log("sibling opened same url", eventlog.TypeDetection, map[string]any{"from": tabID})
	if changed {
		d.report(verdict, "broadcast")
	}
}

// onSiblingElsewhere drops a sibling that moved to another URL.
func (d *Detector) onSiblingElsewhere(tabID string) {
	d.mu.Lock()
	if d.closed || !d.bcast.remove(tabID) {
		d.mu.Unlock()
		return
	}
	d.recheckLocked()
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	d.log.Debug("sibling moved to another url", "from", tabID)
	if changed {
		d.report(verdict, "sibling_navigated")
	}
}

func (d *Detector) onSiblingClosed(tabID string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.reg.Deregister(tabID)
	d.reg.ReleaseTabStateOf(tabID)
	d.bcast.remove(tabID)
	d.recheckLocked()
	verdict, changed := d.evaluateLocked()
	d.mu.Unlock()

	d.log.Debug("sibling closed", "from", tabID)
	if changed {
		d.report(verdict, "sibling_closed")
	}
}

func (d *Detector) onSiblingCleanup(tabID string, removed int) {
	d.cfg.EventLog.Log("sibling pruned stale tabs", eventlog.TypeInfo, map[string]any{"from": tabID, "removed": removed})
}

func (d *Detector) onPong(tabID string) {
	d.log.Debug("pong received", "from", tabID)
	d.cfg.EventLog.Log("pong received", eventlog.TypeInfo, map[string]any{"from": tabID})
}

// evaluateLocked ORs every source into the verdict and reports whether it
// flipped.
func (d *Detector) evaluateLocked() (types.Verdict, bool) {
	dup := false
	for _, s := range d.sources {
		if s.Duplicate() {
			dup = true
			break
		}
	}
	next := types.NewVerdict(dup)
	changed := next != d.verdict
	d.verdict = next
	return next, changed
}

func (d *Detector) report(v types.Verdict, cause string) {
	d.log.Info("duplicate verdict changed", "duplicate", v.IsDuplicate, "cause", cause)
	msg := "tab is now original"
	if v.IsDuplicate {
		msg = "tab is now a duplicate"
	}
	d.cfg.EventLog.Log(msg, eventlog.TypeDetection, map[string]any{"cause": cause})
	d.notify(v)
}

func (d *Detector) notify(v types.Verdict) {
	if d.cfg.OnChange != nil {
		d.cfg.OnChange(v)
	}
}

// Ping asks live siblings to answer; answers land in the event log.
func (d *Detector) Ping() bool {
	if !d.coord.Enabled() {
		return false
	}
	d.coord.Ping()
	return true
}

// BroadcastEnabled reports whether a broadcast channel is attached.
func (d *Detector) BroadcastEnabled() bool { return d.coord.Enabled() }

func (d *Detector) TabID() string { return d.cfg.TabID }

func (d *Detector) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.URL
}

func (d *Detector) Verdict() types.Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verdict
}

// TabInfo is the presentation snapshot of this instance.
func (d *Detector) TabInfo() types.TabInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.TabInfo(d.verdict)
}

// ActiveTabsInfo lists the index records inside the active window.
func (d *Detector) ActiveTabsInfo() types.ActiveTabsInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.ActiveTabsInfo()
}

// Sources reports every duplicate signal separately.
func (d *Detector) Sources() []SourceStatus {
	return []SourceStatus{
		{Name: d.polling.Name(), Duplicate: d.polling.Duplicate()},
		{Name: d.bcast.Name(), Duplicate: d.bcast.Duplicate(), Siblings: d.bcast.Siblings()},
	}
}

// ClearAllTracking removes every key this system keeps in the shared store,
// including other instances' records. A live instance re-creates its own
// record on the next liveness tick.
func (d *Detector) ClearAllTracking() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.reg.ClearAllTracking()
	d.cfg.EventLog.Note(eventlog.TypeAction, "tracking data cleared")
	return err
}

// Close is the unload path: it stops the liveness task, removes this
// instance's records, decrements the tab count and then broadcasts
// tab_closed, so siblings never recheck against its leftovers.
func (d *Detector) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	d.liveness.Stop()
	if !started {
		d.coord.Close()
		return
	}

	d.mu.Lock()
	d.reg.Deregister(d.cfg.TabID)
	d.reg.ReleaseTabState()
	count := d.reg.DecrementTabCount()
	d.mu.Unlock()
	d.coord.Close()

	d.log.Info("tab instance closed", "tab_count", count)
	d.cfg.EventLog.Note(eventlog.TypeLifecycle, "tab instance closed")
}
