package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

// connHandler binds decoded messages of one connection to the orchestrator.
type connHandler struct {
	ctl  *SignalWSController
	sess *core.Session
}

var _ protocol.Handler = (*connHandler)(nil)

func (h *connHandler) Hello(m protocol.Hello) { h.ctl.Orch.Hello(h.sess, m.ClientID) }

func (h *connHandler) Login(m protocol.Login) {
	if l := h.ctl.limiter; l != nil && !l.Allow(h.sess.Address()) {
		metrics.RequestsRejected.WithLabelValues("login_rate").Inc()
		log.Warn().Str("module", "signal").Str("addr", h.sess.Address()).Msg("login attempts throttled")
		h.ctl.Orch.RejectLogin(h.sess)
		return
	}
	h.ctl.Orch.Login(h.sess, m.Secret)
}

func (h *connHandler) Ping(protocol.Ping)       { h.ctl.Orch.Ping(h.sess) }
func (h *connHandler) Public(m protocol.Public) { h.ctl.Orch.Public(h.sess, m) }
func (h *connHandler) Direct(m protocol.Direct) { h.ctl.Orch.Direct(h.sess, m) }

func (h *connHandler) RequestMoreHistory(m protocol.RequestMoreHistory) {
	h.ctl.Orch.MoreHistory(h.sess, m.Before)
}

func (h *connHandler) RequestDMHistory(m protocol.RequestDMHistory) {
	h.ctl.Orch.DMHistory(h.sess, m.With)
}

func (h *connHandler) ModerateDelete(m protocol.ModerateDelete)     { h.ctl.Orch.Delete(h.sess, m) }
func (h *connHandler) ModerateBan(m protocol.ModerateBan)           { h.ctl.Orch.Ban(h.sess, m) }
func (h *connHandler) ModerateUnban(m protocol.ModerateUnban)       { h.ctl.Orch.Unban(h.sess, m) }
func (h *connHandler) ModerateKick(m protocol.ModerateKick)         { h.ctl.Orch.Kick(h.sess, m) }
func (h *connHandler) ModerateAnnounce(m protocol.ModerateAnnounce) { h.ctl.Orch.Announce(h.sess, m) }
func (h *connHandler) ModerateList(protocol.ModerateList)           { h.ctl.Orch.ListConnections(h.sess) }
