package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

const clientBuffer = 64

type wsChannel struct {
	conn   net.Conn
	w      *lockedWriter
	rw     io.ReadWriter
	msgs   chan types.BroadcastMessage
	closed atomic.Bool
	once   sync.Once
	log    *slog.Logger
}

// Dial joins topic on the hub at hubURL (ws:// or wss://). An empty URL or an
// unreachable hub reports ErrUnsupported so the caller can fall back to
// storage polling alone.
func Dial(ctx context.Context, hubURL, topic string) (Channel, error) {
	if hubURL == "" {
		return nil, ErrUnsupported
	}
	if topic == "" {
		topic = DefaultTopic
	}
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse hub url: %v", ErrUnsupported, err)
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnsupported, u.Redacted(), err)
	}

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	w := &lockedWriter{w: conn}
	c := &wsChannel{
		conn: conn,
		w:    w,
		rw:   readWriter{Reader: r, Writer: w},
		msgs: make(chan types.BroadcastMessage, clientBuffer),
		log:  slog.Default().With("component", "broadcast", "topic", topic),
	}
	go c.readLoop()
	return c, nil
}

func (c *wsChannel) readLoop() {
	defer close(c.msgs)
	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			if !c.closed.Load() {
				c.log.Debug("broadcast read loop exit", "error", err)
			}
			return
		}
		var msg types.BroadcastMessage
		if err := json.Unmarshal(data, &msg); err != nil || !msg.Valid() {
			c.log.Debug("broadcast message dropped", "reason", "malformed")
			continue
		}
		select {
		case c.msgs <- msg:
		default:
			c.log.Debug("broadcast message dropped", "reason", "buffer full", "type", msg.Type)
		}
	}
}

func (c *wsChannel) Publish(msg types.BroadcastMessage) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broadcast: marshal: %w", err)
	}
	if err := c.w.writeText(data, true); err != nil {
		return fmt.Errorf("broadcast: send: %w", err)
	}
	return nil
}

func (c *wsChannel) Messages() <-chan types.BroadcastMessage { return c.msgs }

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}
