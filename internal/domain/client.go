// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxClientIDLen = 64

var (
	ErrClientIDTooLong = errors.New("client id too long")
	ErrClientIDEmpty   = errors.New("client id empty")
)

type ClientID string

// ParseClientID validates a client-chosen identifier.
func ParseClientID(raw string) (ClientID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrClientIDEmpty
	}
	if len(raw) > MaxClientIDLen {
		return "", ErrClientIDTooLong
	}
	return ClientID(raw), nil
}

// MintClientID is used when a client performs the handshake without an id.
func MintClientID() ClientID {
	return ClientID("s_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
