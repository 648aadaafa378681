package relay

import (
	"sync"
	"sync/atomic"
)

const defaultBufSize = 256

// Broker fans out values to every subscriber. Publishing never blocks: a
// subscriber whose buffer is full misses the value.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[int64]chan T
	nextID      atomic.Int64
	bufSize     int
	dropped     atomic.Int64
}

// NewBroker creates a broker with the default per-subscriber buffer.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerSize[T](defaultBufSize)
}

// NewBrokerSize creates a broker with the given per-subscriber buffer.
func NewBrokerSize[T any](bufSize int) *Broker[T] {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Broker[T]{
		subscribers: make(map[int64]chan T),
		bufSize:     bufSize,
	}
}

// Subscribe registers a new subscriber and returns its ID and receive channel.
func (b *Broker[T]) Subscribe() (int64, <-chan T) {
	id := b.nextID.Add(1)
	ch := make(chan T, b.bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs are ignored.
func (b *Broker[T]) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends v to every subscriber.
func (b *Broker[T]) Publish(v T) {
	b.PublishExcept(0, v)
}

// PublishExcept sends v to every subscriber but skip. IDs start at 1, so 0
// skips nobody.
func (b *Broker[T]) PublishExcept(skip int64, v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		if id == skip {
			continue
		}
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker[T]) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}
