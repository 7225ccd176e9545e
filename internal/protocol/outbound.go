package protocol

import (
	"encoding/json"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

// Generic reason codes. They never carry more detail than this.
const (
	ErrCodeNotAuthorized = "not-authorized"
	ErrCodeInvalid       = "invalid"
	ErrCodeNotFound      = "not-found"
)

// Notice kinds carried by ModerationNotice.
const (
	NoticeBan      = "ban"
	NoticeAnnounce = "announce"
)

type HelloAck struct {
	Type     string          `json:"type"`
	ClientID domain.ClientID `json:"clientId"`
}

func NewHelloAck(id domain.ClientID) HelloAck { return HelloAck{Type: "hello-ack", ClientID: id} }

type DMThreads struct {
	Type     string            `json:"type"`
	Partners []domain.ClientID `json:"partners"`
}

func NewDMThreads(partners []domain.ClientID) DMThreads {
	if partners == nil {
		partners = []domain.ClientID{}
	}
	return DMThreads{Type: "dm-threads", Partners: partners}
}

type History struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
}

func NewPublicHistory(msgs []domain.Message) History {
	return History{Type: "public-history", Messages: nonNil(msgs)}
}

func NewMorePublicHistory(msgs []domain.Message) History {
	return History{Type: "more-public-history", Messages: nonNil(msgs)}
}

type DMHistory struct {
	Type     string           `json:"type"`
	With     domain.ClientID  `json:"with"`
	Messages []domain.Message `json:"messages"`
}

func NewDMHistory(with domain.ClientID, msgs []domain.Message) DMHistory {
	return DMHistory{Type: "dm-history", With: with, Messages: nonNil(msgs)}
}

// Chat carries a routed message. Echoed is set on the sender's own copy of
// a direct message.
type Chat struct {
	Type string `json:"type"`
	domain.Message
	Echoed bool `json:"echoed,omitempty"`
}

func NewChat(m domain.Message, echoed bool) Chat {
	return Chat{Type: string(m.Scope), Message: m, Echoed: echoed}
}

// MessagePersisted attaches a persisted id to an already delivered message.
type MessagePersisted struct {
	Type      string           `json:"type"`
	LocalID   string           `json:"localId"`
	MessageID domain.MessageID `json:"messageId"`
	Scope     domain.Scope     `json:"scope"`
	Thread    domain.ThreadKey `json:"threadKey,omitempty"`
}

func NewMessagePersisted(m domain.Message) MessagePersisted {
	return MessagePersisted{Type: "message-persisted", LocalID: m.LocalID, MessageID: m.ID, Scope: m.Scope, Thread: m.Thread}
}

type LoginAck struct {
	Type        string          `json:"type"`
	OK          bool            `json:"ok"`
	ModeratorID domain.ClientID `json:"moderatorId,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func NewLoginAck(moderatorID domain.ClientID) LoginAck {
	return LoginAck{Type: "login-ack", OK: true, ModeratorID: moderatorID}
}

func NewLoginRejected() LoginAck {
	return LoginAck{Type: "login-ack", Error: ErrCodeInvalid}
}

type ModerateAck struct {
	Type      string                  `json:"type"`
	Action    domain.ModerationAction `json:"action"`
	TargetID  domain.ClientID         `json:"targetId,omitempty"`
	Address   string                  `json:"address,omitempty"`
	MessageID domain.MessageID        `json:"messageId,omitempty"`
}

func NewModerateAck(action domain.ModerationAction) ModerateAck {
	return ModerateAck{Type: "moderate-ack", Action: action}
}

type ModerateError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewModerateError(code string) ModerateError {
	return ModerateError{Type: "moderate-error", Error: code}
}

type ConnectionList struct {
	Type        string                `json:"type"`
	Connections []core.ConnectionInfo `json:"connections"`
}

func NewConnectionList(conns []core.ConnectionInfo) ConnectionList {
	if conns == nil {
		conns = []core.ConnectionInfo{}
	}
	return ConnectionList{Type: "connection-list", Connections: conns}
}

type DeleteNotice struct {
	Type      string           `json:"type"`
	MessageID domain.MessageID `json:"messageId"`
}

func NewDeleteNotice(id domain.MessageID) DeleteNotice {
	return DeleteNotice{Type: "delete-notice", MessageID: id}
}

type ModerationNotice struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func NewModerationNotice(kind, text string) ModerationNotice {
	return ModerationNotice{Type: "moderation-notice", Kind: kind, Text: text}
}

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong { return Pong{Type: "pong"} }

// Encode marshals an outbound message into a frame.
func Encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

func nonNil(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return []domain.Message{}
	}
	return msgs
}
