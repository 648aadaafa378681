package detector

import (
	"sort"
	"sync"
	"time"
)

// Source is one independent duplicate signal. The detector ORs every source.
type Source interface {
	Name() string
	Duplicate() bool
}

// SourceStatus is a point-in-time view of one source.
type SourceStatus struct {
	Name      string   `json:"name"`
	Duplicate bool     `json:"duplicate"`
	Siblings  []string `json:"siblings,omitempty"`
}

// PollingSource holds the last storage-based verdicts: the active tabs index
// classification and the scalar fallback record.
type PollingSource struct {
	mu       sync.RWMutex
	registry bool
	fallback bool
}

func (p *PollingSource) Name() string { return "polling" }

func (p *PollingSource) Duplicate() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry || p.fallback
}

func (p *PollingSource) set(registry, fallback bool) {
	p.mu.Lock()
	p.registry, p.fallback = registry, fallback
	p.mu.Unlock()
}

// BroadcastSource remembers siblings that announced the same URL. A sibling
// is forgotten on tab_closed or once its announcement is older than ttl, so
// a crashed sibling cannot pin the verdict.
type BroadcastSource struct {
	mu       sync.RWMutex
	siblings map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

func newBroadcastSource(ttl time.Duration, now func() time.Time) *BroadcastSource {
	return &BroadcastSource{siblings: make(map[string]time.Time), ttl: ttl, now: now}
}

func (b *BroadcastSource) Name() string { return "broadcast" }

func (b *BroadcastSource) Duplicate() bool {
	return len(b.Siblings()) > 0
}

// Siblings returns the live sibling ids, sorted.
func (b *BroadcastSource) Siblings() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	now := b.now()
	var out []string
	for id, at := range b.siblings {
		if now.Sub(at) < b.ttl {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (b *BroadcastSource) add(id string) {
	b.mu.Lock()
	b.siblings[id] = b.now()
	b.mu.Unlock()
}

func (b *BroadcastSource) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.siblings[id]
	delete(b.siblings, id)
	return ok
}

func (b *BroadcastSource) reset() {
	b.mu.Lock()
	b.siblings = make(map[string]time.Time)
	b.mu.Unlock()
}
