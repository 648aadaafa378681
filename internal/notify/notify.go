// Package notify pushes duplicate-tab alerts to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// ErrNoEndpoint is returned when a message is sent without an endpoint.
var ErrNoEndpoint = errors.New("notify: endpoint is required")

// DuplicateMessage is the alert body for a tab that became a duplicate.
func DuplicateMessage(tabID, url string) string {
	return fmt.Sprintf("Tab %s is a duplicate: %s is already open in another tab.", tabID, url)
}

// Notifier sends an alert whenever a tab turns into a duplicate. A Notifier
// with an empty endpoint is disabled.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func NewNotifier(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// Verdict alerts on duplicate verdicts and ignores the rest.
func (n *Notifier) Verdict(ctx context.Context, tabID, url string, v types.Verdict) error {
	if !n.Enabled() || !v.IsDuplicate {
		return nil
	}
	return send(ctx, n.client, n.endpoint, "Duplicate tab", DuplicateMessage(tabID, url))
}

// Send posts a plain-text message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	return send(ctx, client, endpoint, "", message)
}

func send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return ErrNoEndpoint
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
		req.Header.Set("Tags", "warning")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
