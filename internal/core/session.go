package core

import (
	"sync"

	"github.com/dkeye/Parley/internal/domain"
)

// Session is the per-connection state. Identity and privilege are
// independent; the moderator id is bound once both are known.
type Session struct {
	conn    SignalConnection
	address string
	token   domain.ClientID

	mu          sync.RWMutex
	clientID    domain.ClientID
	moderator   bool
	moderatorID domain.ClientID
}

// NewSession wraps a freshly accepted connection. token is the id minted
// by the HTTP layer, used when the client does not pick its own.
func NewSession(conn SignalConnection, address string, token domain.ClientID) *Session {
	return &Session{conn: conn, address: domain.NormalizeAddress(address), token: token}
}

func (s *Session) Conn() SignalConnection { return s.conn }
func (s *Session) Address() string        { return s.address }

// FallbackID is the id to use when hello carries none.
func (s *Session) FallbackID() domain.ClientID {
	if s.token != "" {
		return s.token
	}
	return domain.MintClientID()
}

func (s *Session) ClientID() (domain.ClientID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID, s.clientID != ""
}

// Identify sets the client id. It reports whether the id was accepted
// (only the first call is) and whether a moderator id got bound by it.
func (s *Session) Identify(id domain.ClientID) (accepted, boundModerator bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientID != "" {
		return false, false
	}
	s.clientID = id
	return true, s.bindLocked()
}

// GrantModerator flips the one-way privilege flag and reports whether the
// moderator id got bound by this call.
func (s *Session) GrantModerator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderator = true
	return s.bindLocked()
}

func (s *Session) bindLocked() bool {
	if !s.moderator || s.clientID == "" || s.moderatorID != "" {
		return false
	}
	s.moderatorID = s.clientID
	return true
}

func (s *Session) IsModerator() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.moderator
}

func (s *Session) ModeratorID() domain.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.moderatorID
}

// ConnectionInfo is the moderator-facing view of a session.
type ConnectionInfo struct {
	ClientID    domain.ClientID `json:"clientId"`
	Address     string          `json:"address"`
	IsModerator bool            `json:"isModerator"`
}

func (s *Session) Info() ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConnectionInfo{ClientID: s.clientID, Address: s.address, IsModerator: s.moderator}
}
