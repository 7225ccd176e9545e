package app

import (
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

// ring is a bounded, oldest-first message buffer. Not safe for concurrent use.
type ring struct {
	items []domain.Message
	size  int
}

func (r *ring) push(m domain.Message) {
	r.items = append(r.items, m)
	if over := len(r.items) - r.size; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

func (r *ring) attach(localID string, id domain.MessageID) (domain.Message, bool) {
	for i := range r.items {
		if r.items[i].LocalID == localID {
			r.items[i] = r.items[i].WithID(id)
			return r.items[i], true
		}
	}
	return domain.Message{}, false
}

func (r *ring) redact(id domain.MessageID) int {
	n := 0
	for i := range r.items {
		if r.items[i].ID == id && !r.items[i].Deleted {
			r.items[i] = r.items[i].Redacted()
			n++
		}
	}
	return n
}

// History is the in-memory public history used when the store is unavailable.
type History struct {
	mu       sync.RWMutex
	buf      ring
	deleted  map[domain.MessageID]struct{}
	lifetime time.Duration
	now      func() time.Time
}

func NewHistory(size int, lifetime time.Duration) *History {
	if size <= 0 {
		size = 500
	}
	return &History{
		buf:      ring{size: size},
		deleted:  make(map[domain.MessageID]struct{}),
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (h *History) Append(m domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.push(m)
}

// AttachID sets the persisted id on the entry created under localID.
func (h *History) AttachID(localID string, id domain.MessageID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.buf.attach(localID, id)
	return ok
}

// Redact replaces every copy of id with its redacted form and remembers
// the id so Scrub can redact copies coming from elsewhere.
func (h *History) Redact(id domain.MessageID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted[id] = struct{}{}
	return h.buf.redact(id) > 0
}

// Scrub redacts, in place, any message of msgs deleted since startup.
func (h *History) Scrub(msgs []domain.Message) []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i, m := range msgs {
		if _, gone := h.deleted[m.ID]; gone && m.ID != 0 && !m.Deleted {
			msgs[i] = m.Redacted()
		}
	}
	return msgs
}

// Recent returns up to limit messages older than before (0 = newest), ascending.
// Entries older than the configured lifetime are skipped.
func (h *History) Recent(limit int, before domain.MessageID) []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var cutoff time.Time
	if h.lifetime > 0 {
		cutoff = h.now().Add(-h.lifetime)
	}
	out := make([]domain.Message, 0, limit)
	for i := len(h.buf.items) - 1; i >= 0 && len(out) < limit; i-- {
		m := h.buf.items[i]
		if m.CreatedAt.Before(cutoff) {
			break
		}
		if before != 0 && (m.ID == 0 || m.ID >= before) {
			continue
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// DMCache keeps the most recent direct messages per thread.
type DMCache struct {
	mu      sync.RWMutex
	threads map[domain.ThreadKey]*ring
	size    int
}

func NewDMCache(size int) *DMCache {
	if size <= 0 {
		size = 500
	}
	return &DMCache{threads: make(map[domain.ThreadKey]*ring), size: size}
}

func (c *DMCache) Append(m domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.threads[m.Thread]
	if !ok {
		r = &ring{size: c.size}
		c.threads[m.Thread] = r
	}
	r.push(m)
}

func (c *DMCache) AttachID(key domain.ThreadKey, localID string, id domain.MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.threads[key]
	if !ok {
		return false
	}
	_, ok = r.attach(localID, id)
	return ok
}

func (c *DMCache) Redact(id domain.MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.threads {
		n += r.redact(id)
	}
	return n > 0
}

// Thread returns a copy of the cached messages of key, ascending.
func (c *DMCache) Thread(key domain.ThreadKey) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.threads[key]
	if !ok {
		return []domain.Message{}
	}
	return append([]domain.Message(nil), r.items...)
}
