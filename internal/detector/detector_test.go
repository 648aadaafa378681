package detector

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
	"github.com/dgnsrekt/tab_sentinel/internal/registry"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

const pageURL = "https://x/y"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type verdicts struct {
	ch chan types.Verdict
}

func newVerdicts() *verdicts { return &verdicts{ch: make(chan types.Verdict, 16)} }

func (v *verdicts) record(x types.Verdict) { v.ch <- x }

func (v *verdicts) wait(t *testing.T, want bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-v.ch:
			if got.IsDuplicate == want {
				return
			}
		case <-deadline:
			t.Fatalf("no verdict change to duplicate=%v", want)
		}
	}
}

// newTab builds a detector whose liveness task never fires on its own.
func newTab(t *testing.T, store kvstore.Store, clock *fakeClock, id string, ch broadcast.Channel, onChange func(types.Verdict)) *Detector {
	t.Helper()
	d, err := New(Config{
		TabID:           id,
		URL:             pageURL,
		Store:           store,
		Channel:         ch,
		RefreshInterval: time.Hour,
		Now:             clock.Now,
		Rand:            func() float64 { return 1 },
		OnChange:        onChange,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without store = nil error; want error")
	}
}

func TestDuplicateScenario(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	ctx := context.Background()

	a := newTab(t, store, clock, "tab_a", nil, nil)
	if v := a.Start(ctx); v.IsDuplicate {
		t.Fatalf("A.Start() = %+v; want original", v)
	}

	clock.Advance(time.Second)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	if v := b.Start(ctx); !v.IsDuplicate || v.IsOriginalTab {
		t.Fatalf("B.Start() = %+v; want duplicate", v)
	}

	clock.Advance(500 * time.Millisecond)
	if v := a.Recheck(); !v.IsDuplicate {
		t.Fatalf("A.Recheck() = %+v; want duplicate", v)
	}

	clock.Advance(118500 * time.Millisecond)
	c := newTab(t, store, clock, "tab_c", nil, nil)
	if v := c.Start(ctx); v.IsDuplicate || !v.IsOriginalTab {
		t.Fatalf("C.Start() = %+v; want original", v)
	}
}

func TestCloseRemovesRecord(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	ctx := context.Background()

	a := newTab(t, store, clock, "tab_a", nil, nil)
	a.Start(ctx)
	a.Close()
	a.Close()

	d := newTab(t, store, clock, "tab_d", nil, nil)
	if v := d.Start(ctx); v.IsDuplicate {
		t.Fatalf("D.Start() after A.Close = %+v; want original", v)
	}
	if n := d.TabInfo().TabCount; n != 1 {
		t.Fatalf("TabCount = %d; want 1", n)
	}
}

func TestRecheckAfterCloseKeepsVerdict(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	a := newTab(t, store, clock, "tab_a", nil, nil)
	a.Start(context.Background())
	a.Close()
	if v := a.Recheck(); v.IsDuplicate {
		t.Fatalf("Recheck() after Close = %+v", v)
	}
}

func TestBroadcastMarksDuplicateWithoutPolling(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	hub := broadcast.NewLocal()
	ctx := context.Background()

	changes := newVerdicts()
	a := newTab(t, store, clock, "tab_a", hub.Open(broadcast.DefaultTopic), changes.record)
	a.Start(ctx)

	b := newTab(t, store, clock, "tab_b", hub.Open(broadcast.DefaultTopic), nil)
	if v := b.Start(ctx); !v.IsDuplicate {
		t.Fatalf("B.Start() = %+v; want duplicate", v)
	}

	changes.wait(t, true)
	var bcast SourceStatus
	for _, s := range a.Sources() {
		if s.Name == "broadcast" {
			bcast = s
		}
	}
	if !bcast.Duplicate || len(bcast.Siblings) != 1 || bcast.Siblings[0] != "tab_b" {
		t.Fatalf("broadcast source = %+v; want sibling tab_b", bcast)
	}

	clock.Advance(3 * time.Second)
	b.Close()
	changes.wait(t, false)
	if v := a.Verdict(); v.IsDuplicate || !v.IsOriginalTab {
		t.Fatalf("A.Verdict() after B closed = %+v; want original", v)
	}
	if got := a.ActiveTabsInfo(); got.Total != 1 {
		t.Fatalf("ActiveTabsInfo().Total = %d; want 1", got.Total)
	}
}

func TestTickRechecksWhenSampled(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	ctx := context.Background()

	a := newTab(t, store, clock, "tab_a", nil, nil)
	a.Start(ctx)
	clock.Advance(time.Second)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	b.Start(ctx)

	a.tick()
	if a.Verdict().IsDuplicate {
		t.Fatal("tick() rechecked although the sample missed")
	}

	a.cfg.Rand = func() float64 { return 0 }
	a.tick()
	if !a.Verdict().IsDuplicate {
		t.Fatal("tick() did not recheck when sampled")
	}
}

func TestTickPrunesStaleSiblings(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	ctx := context.Background()

	hub := broadcast.NewLocal()
	raw := hub.Open(broadcast.DefaultTopic)
	defer raw.Close()

	a := newTab(t, store, clock, "tab_a", hub.Open(broadcast.DefaultTopic), nil)
	a.Start(ctx)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	b.Start(ctx)

	clock.Advance(45 * time.Second)
	a.tick()

	index := types.ActiveTabsIndex{}
	if _, err := kvstore.GetJSON(store, registry.KeyActiveTabs, &index); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if _, ok := index["tab_b"]; ok {
		t.Fatal("stale tab_b survived the liveness tick")
	}
	if got := index["tab_a"].LastSeen; !got.Equal(clock.Now()) {
		t.Fatalf("tab_a lastSeen = %v; want %v", got, clock.Now())
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-raw.Messages():
			if msg.Type == types.MessageCleanupCompleted {
				if msg.Removed != 1 || msg.TabID != "tab_a" {
					t.Fatalf("cleanup message = %+v; want 1 removed by tab_a", msg)
				}
				return
			}
		case <-deadline:
			t.Fatal("no cleanup_completed broadcast")
		}
	}
}

func TestStorageFailureDegrades(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	store := kvstore.NewMemory()
	store.FailWith(errors.New("quota exceeded"))

	d, err := New(Config{TabID: "tab_a", URL: pageURL, Store: store, RefreshInterval: time.Hour, Logger: logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()
	if v := d.Start(context.Background()); v.IsDuplicate || !v.IsOriginalTab {
		t.Fatalf("Start() with failing store = %+v; want original", v)
	}
	if !strings.Contains(buf.String(), "shared store unavailable") {
		t.Fatalf("log missing storage warning: %s", buf.String())
	}
}

func TestSetURLReclassifies(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	ctx := context.Background()

	a := newTab(t, store, clock, "tab_a", nil, nil)
	a.Start(ctx)
	clock.Advance(5 * time.Second)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	b.SetURL("https://x/other")
	b.Start(ctx)
	if b.Verdict().IsDuplicate {
		t.Fatal("B on another URL is a duplicate")
	}

	clock.Advance(5 * time.Second)
	if v := b.SetURL(pageURL); !v.IsDuplicate {
		t.Fatalf("SetURL(same as A) = %+v; want duplicate", v)
	}
	if b.URL() != pageURL || b.TabInfo().URL != pageURL {
		t.Fatalf("URL() = %q; want %q", b.URL(), pageURL)
	}
}

func TestVisibilityAndEventLog(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	events := eventlog.New(0, eventlog.Options{Now: clock.Now})

	a, err := New(Config{TabID: "tab_a", URL: pageURL, Store: store, RefreshInterval: time.Hour, Now: clock.Now, EventLog: events})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()
	a.Start(context.Background())

	clock.Advance(10 * time.Second)
	a.OnVisibilityChange(false)
	info := a.TabInfo()
	if info.ActiveInstances != 1 || info.Instances[0].LastActive != clock.Now().UnixMilli() {
		t.Fatalf("TabInfo().Instances = %+v; want activity stamped at hide", info.Instances)
	}

	clock.Advance(time.Second)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	b.Start(context.Background())
	if v := a.OnVisibilityChange(true); !v.IsDuplicate {
		t.Fatalf("OnVisibilityChange(true) = %+v; want duplicate", v)
	}

	if got := events.Entries(eventlog.TypeDetection, 1); len(got) != 1 || got[0].Message != "tab is now a duplicate" {
		t.Fatalf("latest detection entry = %+v", got)
	}
	if a.Ping() {
		t.Fatal("Ping() without broadcast = true; want false")
	}
	if a.BroadcastEnabled() {
		t.Fatal("BroadcastEnabled() = true; want false")
	}
}

func TestClearAllTracking(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	a := newTab(t, store, clock, "tab_a", nil, nil)
	a.Start(context.Background())
	if err := a.ClearAllTracking(); err != nil {
		t.Fatalf("ClearAllTracking() error = %v", err)
	}
	if n := store.Len(); n != 0 {
		t.Fatalf("store.Len() = %d; want 0", n)
	}
	a.tick()
	if _, ok, _ := store.Get(registry.KeyActiveTabs); !ok {
		t.Fatal("liveness tick did not re-create the index")
	}
}

func TestSiblingNavigatingAwayClearsBroadcastDuplicate(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	hub := broadcast.NewLocal()
	ctx := context.Background()

	changes := newVerdicts()
	a := newTab(t, store, clock, "tab_a", hub.Open(broadcast.DefaultTopic), changes.record)
	a.Start(ctx)
	b := newTab(t, store, clock, "tab_b", hub.Open(broadcast.DefaultTopic), nil)
	b.Start(ctx)
	changes.wait(t, true)

	clock.Advance(3 * time.Second)
	b.SetURL("https://x/elsewhere")
	changes.wait(t, false)
	if v := a.Verdict(); v.IsDuplicate {
		t.Fatalf("A.Verdict() after B navigated = %+v; want original", v)
	}
}

func TestRecheckIsIdempotentWhenIndexRecordIsLost(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	ctx := context.Background()

	a := newTab(t, store, clock, "tab_a", nil, nil)
	a.Start(ctx)
	clock.Advance(time.Second)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	b.Start(ctx)

	// a concurrent writer dropped B from the index; only the scalar remains
	b.reg.Deregister("tab_b")

	clock.Advance(500 * time.Millisecond)
	first := a.Recheck()
	second := a.Recheck()
	if !first.IsDuplicate || first != second {
		t.Fatalf("Recheck() = %+v then %+v; want duplicate twice", first, second)
	}

	var state types.TabState
	if ok, err := kvstore.GetJSON(store, registry.KeyTabState, &state); err != nil || !ok {
		t.Fatalf("GetJSON(tab state) = %v, %v; want record", ok, err)
	}
	if state.TabID != "tab_b" {
		t.Fatalf("tab state owner = %q after Recheck; want tab_b", state.TabID)
	}
}

func TestSiblingClosedBeforeItsCleanupLeavesOriginal(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	hub := broadcast.NewLocal()
	ctx := context.Background()

	changes := newVerdicts()
	a := newTab(t, store, clock, "tab_a", hub.Open(broadcast.DefaultTopic), changes.record)
	a.Start(ctx)
	clock.Advance(time.Second)
	b := newTab(t, store, clock, "tab_b", nil, nil)
	b.Start(ctx)

	if v := a.Recheck(); !v.IsDuplicate {
		t.Fatalf("A.Recheck() = %+v; want duplicate", v)
	}
	changes.wait(t, true)

	raw := hub.Open(broadcast.DefaultTopic)
	defer raw.Close()
	raw.Publish(types.BroadcastMessage{Type: types.MessageTabClosed, TabID: "tab_b", Timestamp: clock.Now().UnixMilli()})
	changes.wait(t, false)

	b.Close()
	if v := a.Recheck(); v.IsDuplicate {
		t.Fatalf("A.Recheck() after B closed = %+v; want original", v)
	}
	if _, ok, _ := store.Get(registry.KeyTabState); ok {
		t.Fatal("closed sibling's tab state still stored")
	}
}

func TestCloseInsideFallbackWindowLeavesSiblingOriginal(t *testing.T) {
	store := kvstore.NewMemory()
	clock := newFakeClock()
	hub := broadcast.NewLocal()
	ctx := context.Background()

	changes := newVerdicts()
	a := newTab(t, store, clock, "tab_a", hub.Open(broadcast.DefaultTopic), changes.record)
	a.Start(ctx)
	b := newTab(t, store, clock, "tab_b", hub.Open(broadcast.DefaultTopic), nil)
	b.Start(ctx)
	changes.wait(t, true)

	b.Close()
	changes.wait(t, false)
	if v := a.Verdict(); v.IsDuplicate {
		t.Fatalf("A.Verdict() after B closed = %+v; want original", v)
	}
}

func TestZeroRecheckProbabilityUsesDefault(t *testing.T) {
	d, err := New(Config{Store: kvstore.NewMemory()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := d.cfg.RecheckProbability; got != DefaultRecheckProbability {
		t.Fatalf("RecheckProbability = %v; want %v", got, DefaultRecheckProbability)
	}
}
