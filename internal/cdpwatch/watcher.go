package cdpwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/detector"
	"github.com/dgnsrekt/tab_sentinel/internal/schedule"
	"github.com/dgnsrekt/tab_sentinel/internal/storage"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

const DefaultPollInterval = 2 * time.Second

// Options configures a Watcher. Template carries the shared detector
// settings (store, windows, clock, event log); TabID, URL, Channel and
// OnChange are filled in per target.
type Options struct {
	Template     detector.Config
	OpenChannel  func(ctx context.Context) (broadcast.Channel, error)
	URLFilter    string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// TargetStatus is the mirrored state of one page target.
type TargetStatus struct {
	TargetID string        `json:"targetId"`
	TabID    string        `json:"tabId"`
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Verdict  types.Verdict `json:"verdict"`
}

type watched struct {
	det   *detector.Detector
	url   string
	title string
}

// Watcher keeps one detector per page target.
type Watcher struct {
	lister Lister
	opts   Options
	log    *slog.Logger

	mu     sync.Mutex
	tabs   map[string]*watched
	task   *schedule.Task
	ctx    context.Context
	closed bool
}

func NewWatcher(lister Lister, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		lister: lister,
		opts:   opts,
		log:    log.With("component", "cdpwatch"),
		tabs:   make(map[string]*watched),
		ctx:    context.Background(),
	}
	w.task = schedule.Every("cdp_sync", opts.PollInterval, func() {
		w.mu.Lock()
		ctx := w.ctx
		w.mu.Unlock()
		if err := w.Sync(ctx); err != nil {
			w.log.Warn("target sync failed", "error", err)
		}
	})
	return w
}

// Run syncs once and then on every poll interval until ctx is done or Close
// is called.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()
	if err := w.Sync(ctx); err != nil {
		return err
	}
	w.task.Start(ctx)
	return nil
}

// Sync reconciles the detector set with the browser's page targets.
func (w *Watcher) Sync(ctx context.Context) error {
	targets, err := w.lister.Targets(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]Target)
	for _, t := range targets {
		if t.Type != "page" || !w.matches(t.URL) {
			continue
		}
		seen[t.ID] = t
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	for id, tab := range w.tabs {
		if _, ok := seen[id]; ok {
			continue
		}
		tab.det.Close()
		delete(w.tabs, id)
		w.log.Info("target closed", "target_id", id, "browser_id", storage.ShortID(id), "tab_id", tab.det.TabID())
	}

	for id, t := range seen {
		tab, ok := w.tabs[id]
		if !ok {
			tab, err = w.attach(ctx, t)
			if err != nil {
				w.log.Error("failed to attach target", "target_id", id, "url", truncateURL(t.URL), "error", err)
				continue
			}
			w.tabs[id] = tab
			continue
		}
		tab.title = t.Title
		if tab.url != t.URL {
			tab.url = t.URL
			v := tab.det.SetURL(t.URL)
			w.log.Info("target navigated", "target_id", id, "url", truncateURL(t.URL), "duplicate", v.IsDuplicate)
		}
	}
	return nil
}

func (w *Watcher) attach(ctx context.Context, t Target) (*watched, error) {
	cfg := w.opts.Template
	cfg.TabID = ""
	cfg.URL = t.URL
	cfg.Logger = w.log.With("target_id", t.ID)
	template := w.opts.Template.OnChange
	cfg.OnChange = func(v types.Verdict) {
		if v.IsDuplicate {
			w.log.Warn("duplicate target", "target_id", t.ID, "browser_id", storage.ShortID(t.ID), "url", truncateURL(t.URL))
		}
		if template != nil {
			template(v)
		}
	}
	cfg.Channel = nil
	if w.opts.OpenChannel != nil {
		ch, err := w.opts.OpenChannel(ctx)
		if err != nil {
			w.log.Debug("broadcast unavailable for target", "target_id", t.ID, "error", err)
		} else {
			cfg.Channel = ch
		}
	}

	det, err := detector.New(cfg)
	if err != nil {
		if cfg.Channel != nil {
			_ = cfg.Channel.Close()
		}
		return nil, fmt.Errorf("cdpwatch: new detector: %w", err)
	}
	v := det.Start(ctx)
	w.log.Info("attached to target", "target_id", t.ID, "browser_id", storage.ShortID(t.ID), "tab_id", det.TabID(), "url", truncateURL(t.URL), "duplicate", v.IsDuplicate)
	return &watched{det: det, url: t.URL, title: t.Title}, nil
}

func (w *Watcher) matches(url string) bool {
	if w.opts.URLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(w.opts.URLFilter))
}

// Snapshot returns the mirrored targets ordered by target id.
func (w *Watcher) Snapshot() []TargetStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TargetStatus, 0, len(w.tabs))
	for id, tab := range w.tabs {
		out = append(out, TargetStatus{
			TargetID: id,
			TabID:    tab.det.TabID(),
			URL:      tab.url,
			Title:    tab.title,
			Verdict:  tab.det.Verdict(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// Duplicates counts mirrored targets currently classified as duplicates.
func (w *Watcher) Duplicates() int {
	n := 0
	for _, s := range w.Snapshot() {
		if s.Verdict.IsDuplicate {
			n++
		}
	}
	return n
}

// Close stops polling and closes every detector, releasing their records.
func (w *Watcher) Close() {
	w.task.Stop()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, tab := range w.tabs {
		tab.det.Close()
		delete(w.tabs, id)
	}
	w.log.Info("cdp watcher closed")
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
