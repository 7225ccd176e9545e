// Package protocol defines the JSON wire messages exchanged over the
// WebSocket. Inbound messages form a closed set: each kind implements
// Inbound by dispatching itself to the matching Handler method, so adding
// a kind without handling it does not compile.
package protocol

import "github.com/dkeye/Parley/internal/domain"

// Handler receives decoded inbound messages.
type Handler interface {
	Hello(Hello)
	Login(Login)
	Ping(Ping)
	Public(Public)
	Direct(Direct)
	RequestMoreHistory(RequestMoreHistory)
	RequestDMHistory(RequestDMHistory)
	ModerateDelete(ModerateDelete)
	ModerateBan(ModerateBan)
	ModerateUnban(ModerateUnban)
	ModerateKick(ModerateKick)
	ModerateAnnounce(ModerateAnnounce)
	ModerateList(ModerateList)
}

type Inbound interface {
	Accept(Handler)
	// Privileged reports whether only moderators may send it.
	Privileged() bool
}

type open struct{}

func (open) Privileged() bool { return false }

type privileged struct{}

func (privileged) Privileged() bool { return true }

type Hello struct {
	open
	ClientID string `json:"clientId,omitempty"`
}

type Login struct {
	open
	Secret string `json:"secret"`
}

type Ping struct{ open }

type Public struct {
	open
	Text             string           `json:"text,omitempty"`
	Media            *domain.MediaRef `json:"media,omitempty"`
	CorrelationToken string           `json:"correlationToken,omitempty"`
}

type Direct struct {
	open
	To               string           `json:"to"`
	Text             string           `json:"text,omitempty"`
	Media            *domain.MediaRef `json:"media,omitempty"`
	CorrelationToken string           `json:"correlationToken,omitempty"`
}

type RequestMoreHistory struct {
	open
	Before domain.MessageID `json:"before"`
}

type RequestDMHistory struct {
	open
	With string `json:"with"`
}

type ModerateDelete struct {
	privileged
	MessageID domain.MessageID `json:"messageId"`
}

type ModerateBan struct {
	privileged
	TargetID string `json:"targetId,omitempty"`
	Address  string `json:"address,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type ModerateUnban struct {
	privileged
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

type ModerateKick struct {
	privileged
	TargetID string `json:"targetId"`
	Reason   string `json:"reason,omitempty"`
}

type ModerateAnnounce struct {
	privileged
	Text string `json:"text"`
}

type ModerateList struct{ privileged }

func (m Hello) Accept(h Handler)              { h.Hello(m) }
func (m Login) Accept(h Handler)              { h.Login(m) }
func (m Ping) Accept(h Handler)               { h.Ping(m) }
func (m Public) Accept(h Handler)             { h.Public(m) }
func (m Direct) Accept(h Handler)             { h.Direct(m) }
func (m RequestMoreHistory) Accept(h Handler) { h.RequestMoreHistory(m) }
func (m RequestDMHistory) Accept(h Handler)   { h.RequestDMHistory(m) }
func (m ModerateDelete) Accept(h Handler)     { h.ModerateDelete(m) }
func (m ModerateBan) Accept(h Handler)        { h.ModerateBan(m) }
func (m ModerateUnban) Accept(h Handler)      { h.ModerateUnban(m) }
func (m ModerateKick) Accept(h Handler)       { h.ModerateKick(m) }
func (m ModerateAnnounce) Accept(h Handler)   { h.ModerateAnnounce(m) }
func (m ModerateList) Accept(h Handler)       { h.ModerateList(m) }
