package orch

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

// Connect records a freshly upgraded connection. It stays invisible to
// routing until Hello.
func (o *Orchestrator) Connect(sess *core.Session) {
	o.Registry.Attach(sess)
	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsTotal.Inc()
	log.Info().Str("module", "orch").Str("addr", sess.Address()).Msg("connection opened")
}

// Disconnect forgets sess. A newer connection holding the same id is kept.
func (o *Orchestrator) Disconnect(sess *core.Session) {
	o.Registry.Unregister(sess)
	metrics.ConnectionsActive.Dec()
	id, _ := sess.ClientID()
	log.Info().Str("module", "orch").Str("client", string(id)).Str("addr", sess.Address()).Msg("connection closed")
}

// Hello completes the handshake. Repeated hellos on one connection are ignored.
func (o *Orchestrator) Hello(sess *core.Session, raw string) {
	id := sess.FallbackID()
	if strings.TrimSpace(raw) != "" {
		parsed, err := domain.ParseClientID(raw)
		if err != nil {
			metrics.FramesDiscarded.WithLabelValues("invalid").Inc()
			return
		}
		id = parsed
	}
	accepted, bound := sess.Identify(id)
	if !accepted {
		return
	}
	if prev := o.Registry.Register(id, sess); prev != nil {
		log.Info().Str("module", "orch").Str("client", string(id)).Msg("connection replaced")
	}
	if bound {
		o.audit(domain.ModerationLogEntry{Action: domain.ActionAdminLogin, Actor: id, TargetAddress: sess.Address()})
	}
	log.Info().Str("module", "orch").Str("client", string(id)).Str("addr", sess.Address()).Msg("handshake")

	o.send(sess, protocol.NewHelloAck(id))
	o.send(sess, protocol.NewDMThreads(o.Threads.Partners(id)))
	o.background(func() {
		o.reconcileThreads(id)
		o.send(sess, protocol.NewPublicHistory(o.publicHistory(0)))
	})
}

// reconcileThreads merges persisted thread membership into the index and
// pushes the list again when it grew.
func (o *Orchestrator) reconcileThreads(id domain.ClientID) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
	defer cancel()
	threads, err := o.Store.ListThreads(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("client", string(id)).Msg("list threads failed")
		return
	}
	if o.Threads.Merge(id, threads) {
		o.sendTo(id, protocol.NewDMThreads(o.Threads.Partners(id)))
	}
}

// publicHistory reads from the store, falling back to the in-memory ring.
func (o *Orchestrator) publicHistory(before domain.MessageID) []domain.Message {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
	defer cancel()
	msgs, err := o.Store.QueryPublicHistory(ctx, o.opts.HistoryLimit, before)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("history query failed, serving ring")
		return o.History.Recent(o.opts.HistoryLimit, before)
	}
	return o.History.Scrub(msgs)
}

// MoreHistory pages public history backwards from before.
func (o *Orchestrator) MoreHistory(sess *core.Session, before domain.MessageID) {
	o.background(func() {
		o.send(sess, protocol.NewMorePublicHistory(o.publicHistory(before)))
	})
}

// DMHistory returns the cached thread between the caller and with.
func (o *Orchestrator) DMHistory(sess *core.Session, with string) {
	me, _ := sess.ClientID()
	other, err := domain.ParseClientID(with)
	if err != nil || other == me {
		metrics.FramesDiscarded.WithLabelValues("invalid").Inc()
		return
	}
	o.send(sess, protocol.NewDMHistory(other, o.DMs.Thread(domain.NewThreadKey(me, other))))
}

func (o *Orchestrator) Ping(sess *core.Session) {
	o.send(sess, protocol.NewPong())
}
