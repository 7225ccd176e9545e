package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type memRow struct {
	msg       domain.Message
	deletedBy domain.ClientID
}

// Memory is a process-local MessageStore for development and tests.
type Memory struct {
	mu       sync.RWMutex
	nextID   domain.MessageID
	messages []memRow
	threads  map[domain.ThreadKey]domain.Thread
	bans     map[string]domain.BanRecord
	audit    []domain.ModerationLogEntry
}

func NewMemory() *Memory {
	return &Memory{
		threads: make(map[domain.ThreadKey]domain.Thread),
		bans:    make(map[string]domain.BanRecord),
	}
}

func (m *Memory) insert(msg domain.Message) core.Inserted {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = nowOr(msg.CreatedAt)
	msg.CorrelationToken = ""
	m.messages = append(m.messages, memRow{msg: msg})
	return core.Inserted{ID: msg.ID, CreatedAt: msg.CreatedAt}
}

func (m *Memory) InsertPublic(_ context.Context, msg domain.Message) (core.Inserted, error) {
	msg.Scope, msg.To, msg.Thread = domain.ScopePublic, "", ""
	return m.insert(msg), nil
}

func (m *Memory) InsertDirect(_ context.Context, msg domain.Message) (core.Inserted, error) {
	msg.Scope = domain.ScopeDirect
	if msg.Thread == "" {
		msg.Thread = domain.NewThreadKey(msg.From, msg.To)
	}
	return m.insert(msg), nil
}

func (m *Memory) QueryPublicHistory(_ context.Context, limit int, before domain.MessageID) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, 0, limit)
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.messages[i]
		if r.msg.Scope != domain.ScopePublic || r.msg.Deleted {
			continue
		}
		if before != 0 && r.msg.ID >= before {
			continue
		}
		msg := r.msg
		msg.LocalID = ""
		out = append(out, msg)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Memory) SoftDelete(_ context.Context, id domain.MessageID, by domain.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].msg.ID == id {
			if !m.messages[i].msg.Deleted {
				m.messages[i].msg.Deleted = true
				m.messages[i].deletedBy = by
			}
			return nil
		}
	}
	return ErrMessageNotFound
}

func (m *Memory) UpsertThread(_ context.Context, t domain.Thread) error {
	t, err := t.Normalized()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[t.Key]; !ok {
		m.threads[t.Key] = t
	}
	return nil
}

func (m *Memory) ListThreads(_ context.Context, id domain.ClientID) ([]domain.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Thread
	for _, t := range m.threads {
		if t.A == id || t.B == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) ListBans(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bans))
	for ip := range m.bans {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) UpsertBan(_ context.Context, b domain.BanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.IssuedAt = nowOr(b.IssuedAt)
	m.bans[b.Address] = b
	return nil
}

func (m *Memory) DeleteBan(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, address)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e domain.ModerationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) AuditLog(context.Context) ([]domain.ModerationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ModerationLogEntry(nil), m.audit...), nil
}

// Ban returns the stored record for address.
func (m *Memory) Ban(address string) (domain.BanRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bans[address]
	return b, ok
}

func (m *Memory) Close() error { return nil }
