package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Parley/internal/domain"
)

// ThreadIndex keeps, per client, the partners it has exchanged direct
// messages with. Links are always written for both sides under one lock.
type ThreadIndex struct {
	mu       sync.RWMutex
	partners map[domain.ClientID]map[domain.ClientID]struct{}
}

func NewThreadIndex() *ThreadIndex {
	return &ThreadIndex{partners: make(map[domain.ClientID]map[domain.ClientID]struct{})}
}

// Link records a<->b and reports which sides gained a partner.
func (t *ThreadIndex) Link(a, b domain.ClientID) (changedA, changedB bool) {
	if a == "" || b == "" || a == b {
		return false, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(a, b), t.addLocked(b, a)
}

func (t *ThreadIndex) addLocked(of, partner domain.ClientID) bool {
	set, ok := t.partners[of]
	if !ok {
		set = make(map[domain.ClientID]struct{})
		t.partners[of] = set
	}
	if _, ok := set[partner]; ok {
		return false
	}
	set[partner] = struct{}{}
	return true
}

// Merge reconciles persisted threads of id into the index and reports
// whether id's partner set grew.
func (t *ThreadIndex) Merge(id domain.ClientID, threads []domain.Thread) bool {
	changed := false
	for _, th := range threads {
		p, ok := th.Partner(id)
		if !ok {
			continue
		}
		if a, _ := t.Link(id, p); a {
			changed = true
		}
	}
	return changed
}

// Partners returns id's partners in sorted order.
func (t *ThreadIndex) Partners(id domain.ClientID) []domain.ClientID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ClientID, 0, len(t.partners[id]))
	for p := range t.partners[id] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *ThreadIndex) Linked(a, b domain.ClientID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.partners[a][b]
	return ok
}
