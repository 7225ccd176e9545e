package orch

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

// compose builds a message from sess with a fresh local id. Invalid bodies
// are counted and reported as not ok.
func (o *Orchestrator) compose(sess *core.Session, m domain.Message) (domain.Message, bool) {
	from, _ := sess.ClientID()
	m.LocalID = uuid.NewString()
	m.From = from
	m.CreatedAt = o.now()
	if err := m.Validate(o.opts.MaxMessageLength); err != nil {
		metrics.FramesDiscarded.WithLabelValues("invalid").Inc()
		log.Debug().Err(err).Str("module", "orch").Str("client", string(from)).Msg("message rejected")
		return m, false
	}
	return m, true
}

// Public routes a message to every registered connection, the sender
// included. Persistence runs afterwards and never delays delivery.
func (o *Orchestrator) Public(sess *core.Session, p protocol.Public) {
	m, ok := o.compose(sess, domain.Message{
		Scope:            domain.ScopePublic,
		Text:             p.Text,
		Media:            p.Media,
		CorrelationToken: p.CorrelationToken,
	})
	if !ok {
		return
	}
	o.History.Append(m)
	o.broadcast(protocol.NewChat(m, false))
	metrics.MessagesRouted.WithLabelValues(string(domain.ScopePublic)).Inc()

	o.writer.Submit(string(domain.ScopePublic), "insert_public", func(ctx context.Context) error {
		ins, err := o.Store.InsertPublic(ctx, m)
		if err != nil {
			return err
		}
		o.History.AttachID(m.LocalID, ins.ID)
		o.broadcast(protocol.NewMessagePersisted(m.WithID(ins.ID)))
		return nil
	}, nil)
}
