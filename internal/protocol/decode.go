package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound type tags.
const (
	TypeHello              = "hello"
	TypeLogin              = "login"
	TypePing               = "ping"
	TypePublic             = "public"
	TypeDirect             = "direct"
	TypeRequestMoreHistory = "request-more-history"
	TypeRequestDMHistory   = "request-dm-history"
	TypeModerateDelete     = "moderate-delete"
	TypeModerateBan        = "moderate-ban"
	TypeModerateUnban      = "moderate-unban"
	TypeModerateKick       = "moderate-kick"
	TypeModerateAnnounce   = "moderate-announce"
	TypeModerateList       = "moderate-list"
)

func decodeAs[T Inbound](data []byte, check func(T) bool) (Inbound, error) {
	var m T
	// the kind is known from here on, so a malformed body still yields a
	// message the caller can apply its privilege guard to
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if check != nil && !check(m) {
		return m, fmt.Errorf("%w: missing or invalid field", ErrMalformed)
	}
	return m, nil
}

// Decode parses one frame. A nil message means the frame could not be
// classified at all. A non-nil message with an error means the kind is
// known but the body is invalid.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeHello:
		return decodeAs[Hello](data, nil)
	case TypeLogin:
		return decodeAs(data, func(m Login) bool { return m.Secret != "" })
	case TypePing:
		return decodeAs[Ping](data, nil)
	case TypePublic:
		return decodeAs(data, func(m Public) bool {
			return (m.Text != "" || m.Media != nil) && m.Media.Validate() == nil
		})
	case TypeDirect:
		return decodeAs(data, func(m Direct) bool {
			return m.To != "" && (m.Text != "" || m.Media != nil) && m.Media.Validate() == nil
		})
	case TypeRequestMoreHistory:
		return decodeAs(data, func(m RequestMoreHistory) bool { return m.Before > 0 })
	case TypeRequestDMHistory:
		return decodeAs(data, func(m RequestDMHistory) bool { return m.With != "" })
	case TypeModerateDelete:
		return decodeAs(data, func(m ModerateDelete) bool { return m.MessageID > 0 })
	case TypeModerateBan:
		return decodeAs(data, func(m ModerateBan) bool { return m.TargetID != "" || m.Address != "" })
	case TypeModerateUnban:
		return decodeAs(data, func(m ModerateUnban) bool { return m.Address != "" })
	case TypeModerateKick:
		return decodeAs(data, func(m ModerateKick) bool { return m.TargetID != "" })
	case TypeModerateAnnounce:
		return decodeAs(data, func(m ModerateAnnounce) bool { return m.Text != "" })
	case TypeModerateList:
		return decodeAs[ModerateList](data, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
