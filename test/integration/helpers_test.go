//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/detector"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// Env is one simulated browser profile: a SQLite file shared by every
// instance plus a broadcast hub.
type Env struct {
	StorePath string
	Hub       *broadcast.Hub
	HubURL    string
}

func newEnv(t *testing.T) *Env {
	t.Helper()
	hub := broadcast.NewHub(nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &Env{
		StorePath: filepath.Join(t.TempDir(), "profile", "tab_sentinel.db"),
		Hub:       hub,
		HubURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// Instance is one tab instance with its own store handle, as a separate
// process would have.
type Instance struct {
	Det     *detector.Detector
	Events  *eventlog.Logger
	changes chan types.Verdict
}

func (e *Env) open(t *testing.T, url string) *Instance {
	t.Helper()
	store, err := kvstore.OpenSQLite(e.StorePath, kvstore.WithMkdirAll())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ch, err := broadcast.Dial(ctx, e.HubURL, broadcast.DefaultTopic)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	inst := &Instance{
		Events:  eventlog.New(0, eventlog.Options{}),
		changes: make(chan types.Verdict, 16),
	}
	det, err := detector.New(detector.Config{
		URL:             url,
		Store:           store,
		Channel:         ch,
		RefreshInterval: time.Hour,
		Rand:            func() float64 { return 1 },
		EventLog:        inst.Events,
		OnChange:        func(v types.Verdict) { inst.changes <- v },
	})
	if err != nil {
		t.Fatalf("detector.New() error = %v", err)
	}
	inst.Det = det
	t.Cleanup(det.Close)
	members := e.Hub.Members(broadcast.DefaultTopic)
	det.Start(ctx)
	waitFor(t, func() bool { return e.Hub.Members(broadcast.DefaultTopic) > members })
	return inst
}

func (i *Instance) waitVerdict(t *testing.T, duplicate bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if i.Det.Verdict().IsDuplicate == duplicate {
			return
		}
		select {
		case <-i.changes:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("tab %s never reached duplicate=%v", i.Det.TabID(), duplicate)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within 3s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
