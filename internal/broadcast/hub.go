package broadcast

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/tab_sentinel/internal/relay"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
)

// Hub relays text frames between WebSocket clients joined to the same topic.
// A frame is never echoed back to its sender.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*relay.Broker[[]byte]
	conns  map[net.Conn]struct{}
	log    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics: make(map[string]*relay.Broker[[]byte]),
		conns:  make(map[net.Conn]struct{}),
		log:    logger.With("component", "broadcast_hub"),
	}
}

func (h *Hub) broker(topic string) *relay.Broker[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.topics[topic]
	if !ok {
		b = relay.NewBroker[[]byte]()
		h.topics[topic] = b
	}
	return b
}

// Members returns the number of connections on topic.
func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	b, ok := h.topics[topic]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return b.ClientCount()
}

// Topics returns the member count of every topic seen so far.
func (h *Hub) Topics() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.topics))
	for name, b := range h.topics {
		out[name] = b.ClientCount()
	}
	return out
}

// ServeHTTP upgrades the request and relays frames until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = DefaultTopic
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.track(conn, true)
	defer h.track(conn, false)

	b := h.broker(topic)
	id, out := b.Subscribe()
	log := h.log.With("topic", topic, "member", id)
	log.Info("member joined", "members", b.ClientCount())

	lw := &lockedWriter{w: conn}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range out {
			if err := lw.writeText(data, false); err != nil {
				log.Debug("member write failed", "error", err)
				conn.Close()
				return
			}
		}
	}()

	rw := readWriter{Reader: conn, Writer: lw}
	for {
		data, err := wsutil.ReadClientText(rw)
		if err != nil {
			log.Debug("member read loop exit", "error", err)
			break
		}
		var msg types.BroadcastMessage
		if err := json.Unmarshal(data, &msg); err != nil || !msg.Valid() {
			log.Debug("frame dropped", "reason", "malformed")
			continue
		}
		b.PublishExcept(id, data)
	}

	b.Unsubscribe(id)
	<-writerDone
	conn.Close()
	log.Info("member left", "members", b.ClientCount())
}

func (h *Hub) track(conn net.Conn, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.conns[conn] = struct{}{}
	} else {
		delete(h.conns, conn)
	}
}

// Close drops every open connection. The handlers unwind on their own.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
}
