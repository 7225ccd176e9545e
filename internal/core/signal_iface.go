package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// ErrMessageNotFound is returned by a MessageStore for an unknown message id.
var ErrMessageNotFound = errors.New("message not found")

// Frame is one encoded outbound message.
type Frame []byte

// Close codes sent to clients the server disconnects.
const (
	CloseGoingAway = 1001
	CloseBanned    = 4003
	CloseKicked    = 4004
	CloseSlow      = 4008
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// CloseWith closes the transport, telling the peer why when the transport supports it.
	CloseWith(code int, reason string)
	Close()
}
