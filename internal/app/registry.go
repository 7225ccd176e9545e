package app

import (
	"sync"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps client ids to their live session and tracks every open
// session, handshaken or not.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ClientID]*core.Session
	open     map[*core.Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.ClientID]*core.Session),
		open:     make(map[*core.Session]struct{}),
	}
}

// Attach records a freshly accepted connection.
func (r *Registry) Attach(sess *core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[sess] = struct{}{}
}

// Register maps id to sess. A previous session under the same id is
// orphaned, not closed. It returns the replaced session, if any.
func (r *Registry) Register(id domain.ClientID, sess *core.Session) *core.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[id]
	r.sessions[id] = sess
	r.open[sess] = struct{}{}
	if prev != nil && prev != sess {
		log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("replaced session")
		return prev
	}
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("registered session")
	return nil
}

func (r *Registry) Lookup(id domain.ClientID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Unregister drops sess. The id mapping is removed only while it still
// points at sess, so a newer registration survives a late close.
func (r *Registry) Unregister(sess *core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, sess)
	id, ok := sess.ClientID()
	if !ok {
		return
	}
	if cur, ok := r.sessions[id]; ok && cur == sess {
		delete(r.sessions, id)
		log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("unregistered session")
	}
}

// Each calls fn for every registered session while holding the read lock,
// so the visited set is never observed mid-mutation. fn must not block.
func (r *Registry) Each(fn func(id domain.ClientID, sess *core.Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.sessions {
		fn(id, s)
	}
}

// Open returns every open session.
func (r *Registry) Open() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.open))
	for s := range r.open {
		out = append(out, s)
	}
	return out
}

// OpenFrom returns every open session whose normalized address is addr.
func (r *Registry) OpenFrom(addr string) []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.Session
	for s := range r.open {
		if s.Address() == addr {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Snapshot() []core.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnectionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		info := s.Info()
		info.ClientID = id
		out = append(out, info)
	}
	return out
}

func (r *Registry) Count() (registered, open int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.open)
}
