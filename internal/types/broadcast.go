package types

// MessageType identifies a broadcast notification.
type MessageType string

const (
	MessageTabOpened        MessageType = "tab_opened"
	MessageTabClosed        MessageType = "tab_closed"
	MessagePing             MessageType = "ping"
	MessagePong             MessageType = "pong"
	MessageCleanupCompleted MessageType = "cleanup_completed"
)

// BroadcastMessage is a transient cross-instance notification. Delivery is
// at-most-once per listener with no ordering guarantee.
type BroadcastMessage struct {
	Type      MessageType `json:"type"`
	TabID     string      `json:"tabId"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
	URL       string      `json:"url,omitempty"`
	Removed   int         `json:"removed,omitempty"`
}

// Valid reports whether the message carries a known type and a sender.
func (m BroadcastMessage) Valid() bool {
	switch m.Type {
	case MessageTabOpened, MessageTabClosed, MessagePing, MessagePong, MessageCleanupCompleted:
		return m.TabID != ""
	default:
		return false
	}
}
