package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// DefaultWindow bounds how old a tab_opened announcement may be and still
// mark the receiver as a duplicate.
const DefaultWindow = 3 * time.Second

// Options configures a Coordinator. Every callback is optional.
type Options struct {
	TabID  string
	URL    string
	Window time.Duration
	Now    func() time.Time

	OnDuplicate func(tabID string)
	OnElsewhere func(tabID string) // sibling announced a different URL
	OnClosed    func(tabID string)
	OnCleanup   func(tabID string, removed int)
	OnPong      func(tabID string)

	Logger *slog.Logger
}

// Coordinator turns broadcast traffic into registry events for one tab
// instance. With a nil channel every method is a no-op and detection relies
// on storage polling alone.
type Coordinator struct {
	ch   Channel
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	url     string
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewCoordinator(ch Channel, opts Options) *Coordinator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("tab_id", opts.TabID)
	}
	return &Coordinator{
		ch:   ch,
		opts: opts,
		log:  log.With("component", "coordinator"),
		url:  opts.URL,
	}
}

// Enabled reports whether a channel is attached.
func (c *Coordinator) Enabled() bool {
	return c != nil && c.ch != nil
}

// Start announces this instance and begins handling notifications until ctx
// ends or Close is called.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	url := c.url
	c.mu.Unlock()

	c.send(types.BroadcastMessage{Type: types.MessageTabOpened, URL: url})

	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()
	msgs := c.ch.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.log.Debug("broadcast channel closed")
				return
			}
			c.handle(msg)
		}
	}
}

func (c *Coordinator) handle(msg types.BroadcastMessage) {
	if !msg.Valid() || msg.TabID == c.opts.TabID {
		return
	}
	switch msg.Type {
	case types.MessageTabOpened:
		c.mu.Lock()
		url := c.url
		c.mu.Unlock()
		if msg.URL != url {
			if c.opts.OnElsewhere != nil {
				c.opts.OnElsewhere(msg.TabID)
			}
			return
		}
		age := c.opts.Now().Sub(time.UnixMilli(msg.Timestamp))
		if age < 0 {
			age = -age
		}
		if age >= c.opts.Window {
			c.log.Debug("stale tab_opened ignored", "from", msg.TabID, "age", age)
			return
		}
		c.log.Info("same url announced by sibling", "from", msg.TabID, "url", url)
		if c.opts.OnDuplicate != nil {
			c.opts.OnDuplicate(msg.TabID)
		}
	case types.MessageTabClosed:
		if c.opts.OnClosed != nil {
			c.opts.OnClosed(msg.TabID)
		}
	case types.MessagePing:
		c.send(types.BroadcastMessage{Type: types.MessagePong})
	case types.MessagePong:
		if c.opts.OnPong != nil {
			c.opts.OnPong(msg.TabID)
		}
	case types.MessageCleanupCompleted:
		if c.opts.OnCleanup != nil {
			c.opts.OnCleanup(msg.TabID, msg.Removed)
		}
	}
}

// send stamps and publishes msg. Failures are logged and otherwise ignored.
func (c *Coordinator) send(msg types.BroadcastMessage) {
	msg.TabID = c.opts.TabID
	msg.Timestamp = c.opts.Now().UnixMilli()
	if err := c.ch.Publish(msg); err != nil {
		c.log.Debug("broadcast publish failed", "type", msg.Type, "error", err)
	}
}

// Ping asks every sibling to answer with pong.
func (c *Coordinator) Ping() {
	if !c.Enabled() {
		return
	}
	c.send(types.BroadcastMessage{Type: types.MessagePing})
}

// AnnounceCleanup tells siblings this instance pruned removed stale records.
func (c *Coordinator) AnnounceCleanup(removed int) {
	if !c.Enabled() || removed <= 0 {
		return
	}
	c.send(types.BroadcastMessage{Type: types.MessageCleanupCompleted, Removed: removed})
}

// Navigate switches the URL compared against announcements and announces the
// new location.
func (c *Coordinator) Navigate(url string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	c.url = url
	started := c.started && !c.closed
	c.mu.Unlock()
	if started {
		c.send(types.BroadcastMessage{Type: types.MessageTabOpened, URL: url})
	}
}

// Close announces tab_closed, closes the channel and waits for the receive
// loop. It is safe to call more than once.
func (c *Coordinator) Close() {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if started {
		c.send(types.BroadcastMessage{Type: types.MessageTabClosed})
	}
	if cancel != nil {
		cancel()
	}
	if err := c.ch.Close(); err != nil {
		c.log.Debug("broadcast channel close failed", "error", err)
	}
	c.wg.Wait()
}
