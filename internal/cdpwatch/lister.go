// Package cdpwatch mirrors the page targets of a running Chromium into tab
// instances, so duplicate pages open in a real browser are reported the same
// way as tab_instance processes.
package cdpwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Target is one browser target as reported by CDP.
type Target struct {
	ID    string
	Type  string
	URL   string
	Title string
}

// Lister enumerates browser targets.
type Lister interface {
	Targets(ctx context.Context) ([]Target, error)
}

// ChromeLister lists targets of a remote Chromium through the DevTools
// protocol.
type ChromeLister struct {
	cdpURL string

	mu          sync.Mutex
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

func NewChromeLister(cdpURL string) *ChromeLister {
	return &ChromeLister{cdpURL: cdpURL}
}

// Connect attaches to the browser. It must succeed before Targets is called.
func (l *ChromeLister) Connect(ctx context.Context) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()

	slog.Info("Connecting to Chromium", "url", l.cdpURL)
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), l.cdpURL)
	browserCtx, browserStop := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserStop()
		allocCancel()
		return fmt.Errorf("cdpwatch: connect %s: %w", l.cdpURL, err)
	}
	l.allocCancel, l.browserCtx, l.browserStop = allocCancel, browserCtx, browserStop
	return nil
}

func (l *ChromeLister) Targets(ctx context.Context) ([]Target, error) {
	l.mu.Lock()
	browserCtx := l.browserCtx
	l.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("cdpwatch: not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("cdpwatch: enumerate targets: %w", err)
	}
	out := make([]Target, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		out = append(out, fromInfo(info))
	}
	return out, nil
}

func fromInfo(info *target.Info) Target {
	return Target{
		ID:    string(info.TargetID),
		Type:  info.Type,
		URL:   info.URL,
		Title: info.Title,
	}
}

func (l *ChromeLister) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.browserStop != nil {
		l.browserStop()
	}
	if l.allocCancel != nil {
		l.allocCancel()
	}
	l.browserCtx = nil
	slog.Info("CDP lister closed")
	return nil
}
