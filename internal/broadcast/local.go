package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tab_sentinel/internal/relay"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// Local is an in-process hub. Every Open on the same topic shares a broker.
type Local struct {
	mu     sync.Mutex
	topics map[string]*relay.Broker[types.BroadcastMessage]
}

func NewLocal() *Local {
	return &Local{topics: make(map[string]*relay.Broker[types.BroadcastMessage])}
}

// Open joins topic and returns the new member's channel.
func (l *Local) Open(topic string) Channel {
	if topic == "" {
		topic = DefaultTopic
	}
	l.mu.Lock()
	b, ok := l.topics[topic]
	if !ok {
		b = relay.NewBrokerSize[types.BroadcastMessage](64)
		l.topics[topic] = b
	}
	l.mu.Unlock()

	id, ch := b.Subscribe()
	return &localChannel{broker: b, id: id, ch: ch}
}

// Members returns how many channels are open on topic.
func (l *Local) Members(topic string) int {
	l.mu.Lock()
	b, ok := l.topics[topic]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return b.ClientCount()
}

type localChannel struct {
	broker *relay.Broker[types.BroadcastMessage]
	id     int64
	ch     <-chan types.BroadcastMessage
	closed atomic.Bool
}

func (c *localChannel) Publish(msg types.BroadcastMessage) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.broker.PublishExcept(c.id, msg)
	return nil
}

func (c *localChannel) Messages() <-chan types.BroadcastMessage { return c.ch }

func (c *localChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.broker.Unsubscribe(c.id)
	return nil
}
