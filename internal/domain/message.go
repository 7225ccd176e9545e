package domain

import (
	"errors"
	"time"
)

type (
	MessageID int64
	Scope     string
)

const (
	ScopePublic Scope = "public"
	ScopeDirect Scope = "direct"
)

// DeletedPlaceholder is what clients render in place of a removed message.
const DeletedPlaceholder = "[message deleted]"

var (
	ErrEmptyMessage     = errors.New("message has neither text nor media")
	ErrMessageTooLong   = errors.New("message text too long")
	ErrInvalidMedia     = errors.New("media reference incomplete")
	ErrInvalidRecipient = errors.New("direct message needs a distinct recipient")
)

// MediaRef points at an object owned by the blob store.
type MediaRef struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	URL  string `json:"url,omitempty"`
}

func (m *MediaRef) Validate() error {
	if m == nil {
		return nil
	}
	if m.Kind == "" || m.Key == "" {
		return ErrInvalidMedia
	}
	return nil
}

// Message is never mutated after it was handed to a connection;
// enrichment produces a copy.
type Message struct {
	LocalID          string    `json:"localId"`
	ID               MessageID `json:"messageId,omitempty"`
	Scope            Scope     `json:"scope"`
	From             ClientID  `json:"from"`
	To               ClientID  `json:"to,omitempty"`
	Thread           ThreadKey `json:"threadKey,omitempty"`
	Text             string    `json:"text,omitempty"`
	Media            *MediaRef `json:"media,omitempty"`
	CorrelationToken string    `json:"correlationToken,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Deleted          bool      `json:"deleted,omitempty"`
}

// Validate checks the body constraints shared by both scopes.
func (m *Message) Validate(maxLen int) error {
	if m.Text == "" && m.Media == nil {
		return ErrEmptyMessage
	}
	if maxLen > 0 && len(m.Text) > maxLen {
		return ErrMessageTooLong
	}
	if err := m.Media.Validate(); err != nil {
		return err
	}
	if m.Scope == ScopeDirect && (m.To == "" || m.To == m.From) {
		return ErrInvalidRecipient
	}
	return nil
}

// WithID returns a copy carrying the persisted id.
func (m Message) WithID(id MessageID) Message {
	m.ID = id
	return m
}

// Redacted returns a copy with the body removed.
func (m Message) Redacted() Message {
	m.Text = ""
	m.Media = nil
	m.Deleted = true
	return m
}
