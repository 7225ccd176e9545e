package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

// Direct routes a message to the recipient, if connected, and echoes it
// to the sending connection. The thread is recorded on first contact.
func (o *Orchestrator) Direct(sess *core.Session, d protocol.Direct) {
	from, _ := sess.ClientID()
	to, err := domain.ParseClientID(d.To)
	if err != nil {
		metrics.FramesDiscarded.WithLabelValues("invalid").Inc()
		return
	}
	m, ok := o.compose(sess, domain.Message{
		Scope:            domain.ScopeDirect,
		To:               to,
		Thread:           domain.NewThreadKey(from, to),
		Text:             d.Text,
		Media:            d.Media,
		CorrelationToken: d.CorrelationToken,
	})
	if !ok {
		return
	}

	if changedFrom, changedTo := o.Threads.Link(from, to); changedFrom || changedTo {
		if changedFrom {
			o.send(sess, protocol.NewDMThreads(o.Threads.Partners(from)))
		}
		if changedTo {
			o.sendTo(to, protocol.NewDMThreads(o.Threads.Partners(to)))
		}
		th := domain.Thread{Key: m.Thread, A: from, B: to}
		o.writer.Submit(string(th.Key), "upsert_thread", func(ctx context.Context) error {
			return o.Store.UpsertThread(ctx, th)
		}, nil)
	}

	o.DMs.Append(m)
	o.sendTo(to, protocol.NewChat(m, false))
	o.send(sess, protocol.NewChat(m, true))
	metrics.MessagesRouted.WithLabelValues(string(domain.ScopeDirect)).Inc()
	log.Debug().Str("module", "orch").Str("from", string(from)).Str("to", string(to)).Msg("direct routed")

	o.writer.Submit(string(m.Thread), "insert_direct", func(ctx context.Context) error {
		ins, err := o.Store.InsertDirect(ctx, m)
		if err != nil {
			return err
		}
		o.DMs.AttachID(m.Thread, m.LocalID, ins.ID)
		note := protocol.NewMessagePersisted(m.WithID(ins.ID))
		o.sendTo(from, note)
		o.sendTo(to, note)
		return nil
	}, nil)
}
