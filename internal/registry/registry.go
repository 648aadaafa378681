// Package registry keeps the active tabs index in the shared store and
// classifies the owning tab instance as original or duplicate.
//
// Every instance reads, modifies and writes the whole index without a lock.
// Two instances writing at the same moment can drop each other's fresh
// record; the loser re-creates it on its next liveness refresh, so a lost
// update only costs a few seconds of false negatives.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// Shared store keys.
const (
	KeyTabState        = "browser_tab_state"
	KeyTabCount        = "browser_tab_count"
	KeySessionID       = "browser_session_id"
	KeyActiveTabs      = "active_tabs"
	LastActivityPrefix = "last_activity_"
)

const (
	DefaultStaleAfter     = 30 * time.Second
	DefaultActiveWindow   = 60 * time.Second
	DefaultFallbackWindow = 2 * time.Second
)

// Options configures a Registry. Zero durations fall back to the defaults.
type Options struct {
	TabID          string
	URL            string
	UserAgent      string
	StaleAfter     time.Duration
	ActiveWindow   time.Duration
	FallbackWindow time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Registry is the presence record owner for one tab instance. It is not safe
// for concurrent use; the detector serializes calls.
type Registry struct {
	store kvstore.Store
	opts  Options
	log   *slog.Logger

	openedAt   time.Time
	verdict    types.Verdict
	lastPruned int
}

// New creates a Registry for one instance. A missing TabID is generated.
func New(store kvstore.Store, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TabID == "" {
		opts.TabID = NewTabID(opts.Now())
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = DefaultActiveWindow
	}
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = DefaultFallbackWindow
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:   store,
		opts:    opts,
		log:     log.With("tab_id", opts.TabID),
		verdict: types.NewVerdict(false),
	}
}

func (r *Registry) TabID() string { return r.opts.TabID }

func (r *Registry) URL() string { return r.opts.URL }

// SetURL changes the URL used for classification; the next Register or
// RefreshLiveness writes it.
func (r *Registry) SetURL(url string) { r.opts.URL = url }

// Verdict returns the verdict of the last Register or Recheck.
func (r *Registry) Verdict() types.Verdict { return r.verdict }

// LastPruned returns how many stale records the last Register or Prune removed.
func (r *Registry) LastPruned() int { return r.lastPruned }

// Register prunes stale records, classifies this instance against the
// remaining ones and writes its own fresh record.
func (r *Registry) Register() types.Verdict {
	now := r.opts.Now()
	index, err := r.loadIndex()
	if err != nil {
		r.log.Warn("tab registration skipped, shared store unavailable", "error", err)
		r.verdict = types.NewVerdict(false)
		return r.verdict
	}

	r.lastPruned = pruneIndex(index, now, r.opts.StaleAfter)
	same := r.sameURL(index, now, r.opts.StaleAfter)
	r.verdict = types.NewVerdict(len(same) > 0)

	index[r.opts.TabID] = r.ownRecord(index, now)
	if err := r.saveIndex(index); err != nil {
		r.log.Warn("tab registration not persisted", "error", err)
	}

	r.log.Debug("tab registered",
		"url", r.opts.URL,
		"duplicate", r.verdict.IsDuplicate,
		"same_url_tabs", len(same),
		"pruned", r.lastPruned)
	return r.verdict
}

// Recheck re-runs the classification without deleting anything. Records
// older than the staleness threshold are ignored rather than removed.
func (r *Registry) Recheck() types.Verdict {
	index, err := r.loadIndex()
	if err != nil {
		r.log.Warn("duplicate recheck skipped, shared store unavailable", "error", err)
		return r.verdict
	}
	same := r.sameURL(index, r.opts.Now(), r.opts.StaleAfter)
	r.verdict = types.NewVerdict(len(same) > 0)
	return r.verdict
}

// RefreshLiveness updates lastSeen of this instance's record. A record lost
// to a concurrent writer is re-created.
func (r *Registry) RefreshLiveness() {
	now := r.opts.Now()
	index, err := r.loadIndex()
	if err != nil {
		r.log.Warn("liveness refresh skipped", "error", err)
		return
	}
	rec, ok := index[r.opts.TabID]
	if !ok {
		rec = r.ownRecord(index, now)
		r.log.Debug("own tab record missing, re-created")
	}
	rec.LastSeen = now
	rec.URL = r.opts.URL
	index[r.opts.TabID] = rec
	if err := r.saveIndex(index); err != nil {
		r.log.Warn("liveness refresh not persisted", "error", err)
	}
}

// Deregister removes one record by id.
func (r *Registry) Deregister(tabID string) {
	index, err := r.loadIndex()
	if err != nil {
		r.log.Warn("deregister skipped", "target_tab_id", tabID, "error", err)
		return
	}
	if _, ok := index[tabID]; !ok {
		return
	}
	delete(index, tabID)
	if err := r.saveIndex(index); err != nil {
		r.log.Warn("deregister not persisted", "target_tab_id", tabID, "error", err)
		return
	}
	r.log.Debug("tab deregistered", "target_tab_id", tabID)
}

// Prune removes every record whose lastSeen is older than the staleness
// threshold and returns how many were removed.
func (r *Registry) Prune() int {
	index, err := r.loadIndex()
	if err != nil {
		r.log.Warn("prune skipped", "error", err)
		return 0
	}
	r.lastPruned = pruneIndex(index, r.opts.Now(), r.opts.StaleAfter)
	if r.lastPruned == 0 {
		return 0
	}
	if err := r.saveIndex(index); err != nil {
		r.log.Warn("prune not persisted", "error", err)
	}
	return r.lastPruned
}

// CheckWithTimestamp is the index-independent fallback signal run at
// startup: it reports whether another tab holds a fresh browser_tab_state for
// the same URL, then takes that record over.
func (r *Registry) CheckWithTimestamp() bool {
	duplicate := r.PeekTabState()
	r.StampTabState()
	return duplicate
}

// PeekTabState reports a duplicate when another tab stored the same URL in
// browser_tab_state less than FallbackWindow ago. It never writes.
func (r *Registry) PeekTabState() bool {
	var prev types.TabState
	ok, err := kvstore.GetJSON(r.store, KeyTabState, &prev)
	switch {
	case errors.Is(err, kvstore.ErrMalformed):
		r.log.Debug("tab state malformed, treated as absent", "error", err)
		return false
	case err != nil:
		r.log.Warn("fallback duplicate check failed", "error", err)
		return false
	}
	return ok &&
		prev.TabID != r.opts.TabID &&
		prev.URL == r.opts.URL &&
		r.opts.Now().Sub(time.UnixMilli(prev.Timestamp)) < r.opts.FallbackWindow
}

// StampTabState writes this instance into browser_tab_state.
func (r *Registry) StampTabState() {
	state := types.TabState{
		TabID:     r.opts.TabID,
		URL:       r.opts.URL,
		Timestamp: r.opts.Now().UnixMilli(),
		UserAgent: r.opts.UserAgent,
	}
	if err := kvstore.SetJSON(r.store, KeyTabState, state); err != nil {
		r.log.Warn("tab state not persisted", "error", err)
	}
}

// ReleaseTabState removes the fallback record if this instance wrote it last,
// so an unloaded tab does not mark the next one as a duplicate.
func (r *Registry) ReleaseTabState() {
	r.ReleaseTabStateOf(r.opts.TabID)
}

// ReleaseTabStateOf removes the fallback record if tabID wrote it last. A
// sibling that announced tab_closed calls it on behalf of the closing tab.
func (r *Registry) ReleaseTabStateOf(tabID string) {
	var prev types.TabState
	ok, err := kvstore.GetJSON(r.store, KeyTabState, &prev)
	if err != nil || !ok || prev.TabID != tabID {
		return
	}
	if err := r.store.Remove(KeyTabState); err != nil {
		r.log.Warn("tab state not released", "error", err, "owner", tabID)
	}
}

// IncrementTabCount bumps the best-effort open tab counter.
func (r *Registry) IncrementTabCount() int {
	n := r.TabCount() + 1
	if err := r.store.Set(KeyTabCount, strconv.Itoa(n)); err != nil {
		r.log.Warn("tab count not updated", "error", err)
	}
	return n
}

// DecrementTabCount lowers the counter, never below zero.
func (r *Registry) DecrementTabCount() int {
	raw, ok, err := r.store.Get(KeyTabCount)
	if err != nil {
		r.log.Warn("tab count not updated", "error", err)
		return 0
	}
	n := 1
	if ok {
		if v, err := strconv.Atoi(raw); err == nil {
			n = v
		}
	}
	n = max(0, n-1)
	if err := r.store.Set(KeyTabCount, strconv.Itoa(n)); err != nil {
		r.log.Warn("tab count not updated", "error", err)
	}
	return n
}

// TabCount reads the counter; absent or unreadable values count as zero.
func (r *Registry) TabCount() int {
	raw, ok, err := r.store.Get(KeyTabCount)
	if err != nil {
		r.log.Warn("tab count unreadable", "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// SessionID returns the shared session id, creating it if this is the first
// instance of the session. The first writer wins.
func (r *Registry) SessionID() string {
	id, ok, err := r.store.Get(KeySessionID)
	if err != nil {
		r.log.Warn("session id unreadable", "error", err)
		return ""
	}
	if ok && id != "" {
		return id
	}
	id = NewSessionID(r.opts.Now())
	if err := r.store.Set(KeySessionID, id); err != nil {
		r.log.Warn("session id not persisted", "error", err)
	}
	return id
}

// TouchLastActivity writes last_activity_<tabId> for this instance.
func (r *Registry) TouchLastActivity() {
	rec := types.ActivityRecord{
		TabID:      r.opts.TabID,
		LastActive: r.opts.Now().UnixMilli(),
		URL:        r.opts.URL,
	}
	if err := kvstore.SetJSON(r.store, LastActivityPrefix+r.opts.TabID, rec); err != nil {
		r.log.Warn("last activity not persisted", "error", err)
	}
}

// ActiveInstances returns every last-activity record younger than the active window.
func (r *Registry) ActiveInstances() []types.ActivityRecord {
	keys, err := r.store.Keys(LastActivityPrefix)
	if err != nil {
		r.log.Warn("active instances unreadable", "error", err)
		return []types.ActivityRecord{}
	}
	now := r.opts.Now()
	out := make([]types.ActivityRecord, 0, len(keys))
	for _, k := range keys {
		var rec types.ActivityRecord
		ok, err := kvstore.GetJSON(r.store, k, &rec)
		if err != nil || !ok {
			continue
		}
		if now.Sub(time.UnixMilli(rec.LastActive)) < r.opts.ActiveWindow {
			out = append(out, rec)
		}
	}
	return out
}

// TabInfo assembles the presentation snapshot for the given verdict.
func (r *Registry) TabInfo(v types.Verdict) types.TabInfo {
	session, _, err := r.store.Get(KeySessionID)
	if err != nil {
		r.log.Warn("session id unreadable", "error", err)
	}
	instances := r.ActiveInstances()
	return types.TabInfo{
		TabID:           r.opts.TabID,
		URL:             r.opts.URL,
		IsDuplicate:     v.IsDuplicate,
		IsOriginalTab:   v.IsOriginalTab,
		TabCount:        r.TabCount(),
		SessionID:       session,
		ActiveInstances: len(instances),
		Instances:       instances,
	}
}

// ActiveTabsInfo lists index records seen within the active window. This
// window is wider than the staleness threshold used at registration.
func (r *Registry) ActiveTabsInfo() types.ActiveTabsInfo {
	now := r.opts.Now()
	info := types.ActiveTabsInfo{Tabs: []types.TabRecord{}, CheckedAt: now}
	index, err := r.loadIndex()
	if err != nil {
		r.log.Warn("active tabs unreadable", "error", err)
		return info
	}
	for _, rec := range index {
		if now.Sub(rec.LastSeen) >= r.opts.ActiveWindow {
			continue
		}
		info.Tabs = append(info.Tabs, rec)
		if rec.TabID != r.opts.TabID && rec.URL == r.opts.URL {
			info.SameURL++
		}
	}
	sort.Slice(info.Tabs, func(i, j int) bool {
		if info.Tabs[i].OpenedAt.Equal(info.Tabs[j].OpenedAt) {
			return info.Tabs[i].TabID < info.Tabs[j].TabID
		}
		return info.Tabs[i].OpenedAt.Before(info.Tabs[j].OpenedAt)
	})
	info.Total = len(info.Tabs)
	return info
}

// ClearAllTracking removes every key this system owns from the shared store.
func (r *Registry) ClearAllTracking() error {
	var errs []error
	for _, k := range []string{KeyTabState, KeyTabCount, KeySessionID, KeyActiveTabs} {
		if err := r.store.Remove(k); err != nil {
			errs = append(errs, err)
		}
	}
	keys, err := r.store.Keys(LastActivityPrefix)
	if err != nil {
		errs = append(errs, err)
	}
	for _, k := range keys {
		if err := r.store.Remove(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) ownRecord(index types.ActiveTabsIndex, now time.Time) types.TabRecord {
	if r.openedAt.IsZero() {
		if prev, ok := index[r.opts.TabID]; ok && !prev.OpenedAt.IsZero() {
			r.openedAt = prev.OpenedAt
		} else {
			r.openedAt = now
		}
	}
	return types.TabRecord{
		TabID:    r.opts.TabID,
		URL:      r.opts.URL,
		OpenedAt: r.openedAt,
		LastSeen: now,
	}
}

// sameURL lists the other records with exactly this URL seen within window.
func (r *Registry) sameURL(index types.ActiveTabsIndex, now time.Time, window time.Duration) []types.TabRecord {
	var out []types.TabRecord
	for id, rec := range index {
		if id == r.opts.TabID || rec.URL != r.opts.URL {
			continue
		}
		if now.Sub(rec.LastSeen) > window {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// loadIndex reads the index. A corrupt value is treated as an empty index;
// only backend failures are returned.
func (r *Registry) loadIndex() (types.ActiveTabsIndex, error) {
	index := types.ActiveTabsIndex{}
	_, err := kvstore.GetJSON(r.store, KeyActiveTabs, &index)
	if errors.Is(err, kvstore.ErrMalformed) {
		r.log.Debug("active tabs index malformed, starting empty", "error", err)
		return types.ActiveTabsIndex{}, nil
	}
	if err != nil {
		return nil, err
	}
	if index == nil {
		index = types.ActiveTabsIndex{}
	}
	return index, nil
}

func (r *Registry) saveIndex(index types.ActiveTabsIndex) error {
	return kvstore.SetJSON(r.store, KeyActiveTabs, index)
}

// pruneIndex deletes records whose lastSeen age exceeds staleAfter.
func pruneIndex(index types.ActiveTabsIndex, now time.Time, staleAfter time.Duration) int {
	removed := 0
	for id, rec := range index {
		if now.Sub(rec.LastSeen) > staleAfter {
			delete(index, id)
			removed++
		}
	}
	return removed
}
