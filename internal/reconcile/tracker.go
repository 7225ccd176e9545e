// Package reconcile matches a client's optimistic local copies with the
// server's echoes of them, so each sent message is rendered once.
//
// Tokens live as long as one connection. After Reset a late echo for an
// earlier token is rendered as a new entry.
package reconcile

import (
	"errors"
	"sync"

	"github.com/dkeye/Parley/internal/domain"
)

var (
	ErrNoToken       = errors.New("correlation token required")
	ErrTokenInFlight = errors.New("correlation token already awaiting confirmation")
)

// Entry is one rendered message.
type Entry struct {
	Message domain.Message
	// Pending is set until the server's copy replaced the optimistic one.
	Pending bool
}

// Display is the text to render.
func (e Entry) Display() string {
	if e.Message.Deleted {
		return domain.DeletedPlaceholder
	}
	return e.Message.Text
}

type Tracker struct {
	mu      sync.Mutex
	self    domain.ClientID
	entries []*Entry
	pending map[string]*Entry
	byLocal map[string]*Entry
	byID    map[domain.MessageID]*Entry
}

func NewTracker(self domain.ClientID) *Tracker {
	return &Tracker{
		self:    self,
		pending: make(map[string]*Entry),
		byLocal: make(map[string]*Entry),
		byID:    make(map[domain.MessageID]*Entry),
	}
}

// Submit records the optimistic copy of a message about to be sent.
func (t *Tracker) Submit(token string, provisional domain.Message) (Entry, error) {
	if token == "" {
		return Entry{}, ErrNoToken
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[token]; ok {
		return Entry{}, ErrTokenInFlight
	}
	provisional.From = t.self
	provisional.CorrelationToken = token
	e := &Entry{Message: provisional, Pending: true}
	t.entries = append(t.entries, e)
	t.pending[token] = e
	return *e, nil
}

// Receive takes a message arriving from the server. It reports whether the
// message replaced a pending optimistic copy.
func (t *Tracker) Receive(m domain.Message) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.LocalID != "" {
		if e, ok := t.byLocal[m.LocalID]; ok {
			return *e, false
		}
	}
	if m.From == t.self && m.CorrelationToken != "" {
		if e, ok := t.pending[m.CorrelationToken]; ok {
			delete(t.pending, m.CorrelationToken)
			e.Message, e.Pending = m, false
			t.index(e)
			return *e, true
		}
	}
	e := &Entry{Message: m}
	t.entries = append(t.entries, e)
	t.index(e)
	return *e, false
}

func (t *Tracker) index(e *Entry) {
	if e.Message.LocalID != "" {
		t.byLocal[e.Message.LocalID] = e
	}
	if e.Message.ID != 0 {
		t.byID[e.Message.ID] = e
	}
}

// ApplyPersisted attaches the persisted id announced for localID.
func (t *Tracker) ApplyPersisted(localID string, id domain.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byLocal[localID]
	if !ok {
		return false
	}
	e.Message = e.Message.WithID(id)
	t.byID[id] = e
	return true
}

// ApplyDelete redacts the entry with id, if rendered.
func (t *Tracker) ApplyDelete(id domain.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	e.Message = e.Message.Redacted()
	return true
}

// Reset forgets every in-flight token; call it when the connection is replaced.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.pending)
}

// Entries returns the rendered entries in arrival order.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}
