package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/activity"
	"github.com/dgnsrekt/tab_sentinel/internal/detector"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/export"
	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
)

const pageURL = "https://x/y"

func newService(t *testing.T, withExports bool) (*Service, *kvstore.Memory) {
	t.Helper()
	store := kvstore.NewMemory()
	det, err := detector.New(detector.Config{TabID: "tab_a", URL: pageURL, Store: store, RefreshInterval: time.Hour})
	if err != nil {
		t.Fatalf("detector.New() error = %v", err)
	}
	det.Start(context.Background())
	t.Cleanup(det.Close)

	opts := Options{Detector: det, UserAgent: "Mozilla/5.0 Firefox/128.0", TickInterval: time.Hour}
	if withExports {
		exports, err := export.NewStore(t.TempDir())
		if err != nil {
			t.Fatalf("export.NewStore() error = %v", err)
		}
		opts.Exports = exports
	}
	svc := NewService(opts)
	svc.Start(context.Background())
	t.Cleanup(svc.Close)
	return svc, store
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error = %v (%T); want *CodedError", err, err)
	}
	if coded.Code != code {
		t.Fatalf("code = %q; want %q", coded.Code, code)
	}
}

func TestCodedErrorFormat(t *testing.T) {
	cause := errors.New("disk full")
	err := newError(CodeStorage, "save export", cause)
	if got := err.Error(); got != "STORAGE_FAILURE: save export: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(cause) = false; want Unwrap to expose the cause")
	}
	if got := newError(CodeNotFound, "x", nil).Error(); got != "NOT_FOUND: x" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestGetTabInfo(t *testing.T) {
	svc, _ := newService(t, false)
	view, err := svc.GetTabInfo(context.Background())
	if err != nil {
		t.Fatalf("GetTabInfo() error = %v", err)
	}
	if view.TabID != "tab_a" || view.IsDuplicate || !view.IsOriginalTab {
		t.Fatalf("GetTabInfo() = %+v", view)
	}
	if len(view.Sources) != 2 || view.Broadcast || view.Page.Browser != "Firefox" {
		t.Fatalf("GetTabInfo() sources/broadcast/page = %+v/%v/%+v", view.Sources, view.Broadcast, view.Page)
	}
}

func TestRecordActivity(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()
	for _, ev := range []string{EventBlur, EventFocus, EventHidden, " Visible ", EventInput} {
		if _, err := svc.RecordActivity(ctx, ev); err != nil {
			t.Fatalf("RecordActivity(%q) error = %v", ev, err)
		}
	}
	view, _ := svc.GetActivity(ctx)
	if view.Status.FocusChangeCount != 2 || view.Status.VisibilityChangeCount != 2 {
		t.Fatalf("Status = %+v; want 2 focus and 2 visibility changes", view.Status)
	}
	if !view.Stats.IsCurrentlyActive {
		t.Fatal("IsCurrentlyActive = false after visible")
	}

	_, err := svc.RecordActivity(ctx, "scroll")
	wantCode(t, err, CodeValidation)

	view, _ = svc.ResetActivity(ctx)
	if view.Status.FocusChangeCount != 0 || view.Stats.ActiveTime != 0 {
		t.Fatalf("ResetActivity() = %+v", view)
	}
}

func TestLogs(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()
	svc.RecordActivity(ctx, EventBlur)

	entries, err := svc.GetLogs(ctx, "focus", 0)
	if err != nil {
		t.Fatalf("GetLogs() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "tab lost focus" {
		t.Fatalf("GetLogs(focus) = %+v", entries)
	}
	_, err = svc.GetLogs(ctx, "bogus", 0)
	wantCode(t, err, CodeValidation)
	_, err = svc.GetLogs(ctx, "", -1)
	wantCode(t, err, CodeValidation)

	if err := svc.ClearLogs(ctx); err != nil {
		t.Fatalf("ClearLogs() error = %v", err)
	}
	entries, _ = svc.GetLogs(ctx, "", 0)
	if len(entries) != 1 || entries[0].Type != eventlog.TypeAction {
		t.Fatalf("GetLogs() after clear = %+v; want only the clear action", entries)
	}
	doc, _ := svc.ExportLogs(ctx)
	if doc.URL != pageURL || len(doc.Logs) != 1 {
		t.Fatalf("ExportLogs() = %+v", doc)
	}
}

func TestExportLifecycle(t *testing.T) {
	svc, _ := newService(t, true)
	ctx := context.Background()

	res, err := svc.CreateExport(ctx)
	if err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}
	if res.Meta == nil || res.Snapshot.TabInfo.TabID != "tab_a" {
		t.Fatalf("CreateExport() = %+v", res)
	}

	list, err := svc.ListExports(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListExports() = %v, %v; want one", list, err)
	}
	if _, err := svc.GetExport(ctx, res.Snapshot.ID); err != nil {
		t.Fatalf("GetExport() error = %v", err)
	}
	if err := svc.DeleteExport(ctx, res.Snapshot.ID); err != nil {
		t.Fatalf("DeleteExport() error = %v", err)
	}
	_, err = svc.GetExport(ctx, res.Snapshot.ID)
	wantCode(t, err, CodeNotFound)
	_, err = svc.GetExport(ctx, "not-a-uuid")
	wantCode(t, err, CodeValidation)
}

func TestExportWithoutStore(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()
	res, err := svc.CreateExport(ctx)
	if err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}
	if res.Meta != nil || res.Filename == "" {
		t.Fatalf("CreateExport() = %+v; want snapshot only", res)
	}
	_, err = svc.ListExports(ctx)
	wantCode(t, err, CodeUnavailable)
}

func TestClearTrackingAndHealth(t *testing.T) {
	svc, store := newService(t, false)
	ctx := context.Background()
	if err := svc.ClearTracking(ctx); err != nil {
		t.Fatalf("ClearTracking() error = %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store.Len() = %d; want 0", store.Len())
	}

	store.FailWith(errors.New("privacy mode"))
	wantCode(t, svc.ClearTracking(ctx), CodeStorage)

	h, _ := svc.Health(ctx)
	if h.Status != "ok" || h.TabID != "tab_a" || h.LogEntries == 0 {
		t.Fatalf("Health() = %+v", h)
	}
	_, err := svc.Ping(ctx)
	wantCode(t, err, CodeUnavailable)
}

func TestNavigateAndOpener(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.Navigate(ctx, "  ")
	wantCode(t, err, CodeValidation)
	if _, err := svc.Navigate(ctx, "https://x/z"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}

	op, err := svc.DetectOpener(ctx, activity.Hints{Referrer: "https://x/a"})
	if err != nil {
		t.Fatalf("DetectOpener() error = %v", err)
	}
	if op.Kind != activity.OpenedInternalNavigation {
		t.Fatalf("DetectOpener() = %+v; want internal navigation", op)
	}
}
