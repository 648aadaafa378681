// Package broadcast carries best-effort notifications between tab instances.
// Nothing sent here is the system of record: delivery is at-most-once with
// no ordering, and the registry in the shared store stays authoritative.
package broadcast

import (
	"errors"

	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// DefaultTopic is the channel name every tab instance joins.
const DefaultTopic = "tab_detection"

var (
	// ErrUnsupported reports that no broadcast transport is available. Callers
	// disable coordination instead of failing.
	ErrUnsupported = errors.New("broadcast: unsupported")
	ErrClosed      = errors.New("broadcast: channel closed")
)

// Channel is one instance's membership in a topic. A channel never receives
// its own publications. Messages is closed once the channel shuts down.
type Channel interface {
	Publish(msg types.BroadcastMessage) error
	Messages() <-chan types.BroadcastMessage
	Close() error
}
