package orch

import (
	"context"
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

const (
	banNoticeText = "A user has been banned by a moderator."
	auditRetries  = 3
)

// checkSecret compares against a bcrypt hash when the configured secret
// is one, else in constant time. An empty configured secret disables login.
func (o *Orchestrator) checkSecret(given string) bool {
	want := o.opts.ModeratorSecret
	if want == "" || given == "" {
		return false
	}
	if strings.HasPrefix(want, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(want), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(given)) == 1
}

// Login grants moderator privilege to sess on a matching secret.
func (o *Orchestrator) Login(sess *core.Session, secret string) {
	if !o.checkSecret(secret) {
		log.Warn().Str("module", "orch").Str("addr", sess.Address()).Msg("moderator login rejected")
		o.RejectLogin(sess)
		return
	}
	if sess.GrantModerator() {
		o.audit(domain.ModerationLogEntry{
			Action:        domain.ActionAdminLogin,
			Actor:         sess.ModeratorID(),
			TargetAddress: sess.Address(),
		})
	}
	log.Info().Str("module", "orch").Str("addr", sess.Address()).Msg("moderator login")
	o.send(sess, protocol.NewLoginAck(sess.ModeratorID()))
}

// RejectLogin answers a login attempt that will not be honoured.
func (o *Orchestrator) RejectLogin(sess *core.Session) {
	metrics.LoginFailures.Inc()
	o.send(sess, protocol.NewLoginRejected())
}

// authorized replies not-authorized to non-moderators.
func (o *Orchestrator) authorized(sess *core.Session) bool {
	if sess.IsModerator() {
		return true
	}
	metrics.RequestsRejected.WithLabelValues("not_authorized").Inc()
	o.send(sess, protocol.NewModerateError(protocol.ErrCodeNotAuthorized))
	return false
}

// Unauthorized answers a privileged request from a non-moderator.
func (o *Orchestrator) Unauthorized(sess *core.Session) {
	o.authorized(sess)
}

func (o *Orchestrator) actor(sess *core.Session) domain.ClientID {
	if id := sess.ModeratorID(); id != "" {
		return id
	}
	id, _ := sess.ClientID()
	return id
}

func (o *Orchestrator) fail(sess *core.Session, code string) {
	o.send(sess, protocol.NewModerateError(code))
}

// Ban blocks an address, given directly or resolved from a connected
// client, closes every open connection from it and tells everyone.
func (o *Orchestrator) Ban(sess *core.Session, b protocol.ModerateBan) {
	if !o.authorized(sess) {
		return
	}
	var (
		addr   string
		target domain.ClientID
	)
	switch {
	case b.Address != "":
		addr = domain.NormalizeAddress(b.Address)
	case b.TargetID != "":
		target = domain.ClientID(b.TargetID)
		ts, ok := o.Registry.Lookup(target)
		if !ok {
			o.fail(sess, protocol.ErrCodeNotFound)
			return
		}
		addr = ts.Address()
	}
	if addr == "" || addr == domain.UnknownAddress {
		o.fail(sess, protocol.ErrCodeNotFound)
		return
	}

	actor := o.actor(sess)
	rec := domain.BanRecord{Address: addr, Reason: b.Reason, IssuedBy: actor, IssuedAt: o.now()}
	ticket := o.Bans.Add(addr)
	o.writer.Submit("ban:"+addr, "upsert_ban", func(ctx context.Context) error {
		return o.Store.UpsertBan(ctx, rec)
	}, func(err error) {
		if err == nil {
			o.Bans.Confirm(addr, ticket)
		}
	})

	ack := protocol.NewModerateAck(domain.ActionBan)
	ack.TargetID, ack.Address = target, addr
	o.send(sess, ack)

	closed := o.Registry.OpenFrom(addr)
	for _, s := range closed {
		s.Conn().CloseWith(core.CloseBanned, "banned")
	}
	o.broadcast(protocol.NewModerationNotice(protocol.NoticeBan, banNoticeText))
	o.audit(domain.ModerationLogEntry{
		Action: domain.ActionBan, Actor: actor, TargetID: target, TargetAddress: addr, Reason: b.Reason,
	})
	metrics.ModerationActions.WithLabelValues(string(domain.ActionBan)).Inc()
	log.Info().Str("module", "orch").Str("moderator", string(actor)).Str("addr", addr).
		Int("closed", len(closed)).Msg("address banned")
}

// Unban lifts a ban. Lifting an absent ban still succeeds.
func (o *Orchestrator) Unban(sess *core.Session, u protocol.ModerateUnban) {
	if !o.authorized(sess) {
		return
	}
	addr := domain.NormalizeAddress(u.Address)
	if addr == domain.UnknownAddress {
		o.fail(sess, protocol.ErrCodeInvalid)
		return
	}
	actor := o.actor(sess)
	ticket := o.Bans.Remove(addr)
	o.writer.Submit("ban:"+addr, "delete_ban", func(ctx context.Context) error {
		return o.Store.DeleteBan(ctx, addr)
	}, func(err error) {
		if err == nil {
			o.Bans.Confirm(addr, ticket)
		}
	})
	o.audit(domain.ModerationLogEntry{Action: domain.ActionUnban, Actor: actor, TargetAddress: addr, Reason: u.Reason})
	metrics.ModerationActions.WithLabelValues(string(domain.ActionUnban)).Inc()
	log.Info().Str("module", "orch").Str("moderator", string(actor)).Str("addr", addr).Msg("address unbanned")

	ack := protocol.NewModerateAck(domain.ActionUnban)
	ack.Address = addr
	o.send(sess, ack)
}

// Kick closes the target's current connection. Reconnecting is allowed.
func (o *Orchestrator) Kick(sess *core.Session, k protocol.ModerateKick) {
	if !o.authorized(sess) {
		return
	}
	target := domain.ClientID(k.TargetID)
	ts, ok := o.Registry.Lookup(target)
	if !ok {
		o.fail(sess, protocol.ErrCodeNotFound)
		return
	}
	actor := o.actor(sess)
	ack := protocol.NewModerateAck(domain.ActionKick)
	ack.TargetID = target
	o.send(sess, ack)

	ts.Conn().CloseWith(core.CloseKicked, "kicked")
	o.audit(domain.ModerationLogEntry{
		Action: domain.ActionKick, Actor: actor, TargetID: target, TargetAddress: ts.Address(), Reason: k.Reason,
	})
	metrics.ModerationActions.WithLabelValues(string(domain.ActionKick)).Inc()
	log.Info().Str("module", "orch").Str("moderator", string(actor)).Str("client", string(target)).Msg("client kicked")
}

// Delete redacts a message everywhere it is held and notifies every
// connection. Unknown ids are reported back as not-found.
func (o *Orchestrator) Delete(sess *core.Session, d protocol.ModerateDelete) {
	if !o.authorized(sess) {
		return
	}
	id := d.MessageID
	actor := o.actor(sess)
	cached := o.History.Redact(id)
	if o.DMs.Redact(id) {
		cached = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
	err := o.Store.SoftDelete(ctx, id, actor)
	cancel()
	switch {
	case errors.Is(err, core.ErrMessageNotFound):
		if !cached {
			o.fail(sess, protocol.ErrCodeNotFound)
			return
		}
	case err != nil:
		metrics.PersistFailures.WithLabelValues("soft_delete").Inc()
		log.Error().Err(err).Str("module", "orch").Int64("message", int64(id)).Msg("soft delete failed")
	}

	o.broadcast(protocol.NewDeleteNotice(id))
	o.audit(domain.ModerationLogEntry{Action: domain.ActionDelete, Actor: actor, MessageID: id})
	metrics.ModerationActions.WithLabelValues(string(domain.ActionDelete)).Inc()
	log.Info().Str("module", "orch").Str("moderator", string(actor)).Int64("message", int64(id)).Msg("message deleted")

	ack := protocol.NewModerateAck(domain.ActionDelete)
	ack.MessageID = id
	o.send(sess, ack)
}

// Announce broadcasts a moderator notice.
func (o *Orchestrator) Announce(sess *core.Session, a protocol.ModerateAnnounce) {
	if !o.authorized(sess) {
		return
	}
	text := strings.TrimSpace(a.Text)
	if text == "" || (o.opts.MaxMessageLength > 0 && len(text) > o.opts.MaxMessageLength) {
		o.fail(sess, protocol.ErrCodeInvalid)
		return
	}
	actor := o.actor(sess)
	o.broadcast(protocol.NewModerationNotice(protocol.NoticeAnnounce, text))
	o.audit(domain.ModerationLogEntry{Action: domain.ActionAnnounce, Actor: actor, Reason: text})
	metrics.ModerationActions.WithLabelValues(string(domain.ActionAnnounce)).Inc()
	o.send(sess, protocol.NewModerateAck(domain.ActionAnnounce))
}

// ListConnections replies with every registered connection.
func (o *Orchestrator) ListConnections(sess *core.Session) {
	if !o.authorized(sess) {
		return
	}
	conns := o.Registry.Snapshot()
	sort.Slice(conns, func(i, j int) bool { return conns[i].ClientID < conns[j].ClientID })
	o.send(sess, protocol.NewConnectionList(conns))
}

// audit appends to the moderation log with retries, off the caller's path.
func (o *Orchestrator) audit(e domain.ModerationLogEntry) {
	if e.At.IsZero() {
		e.At = o.now()
	}
	o.writer.Submit("audit", "audit", func(ctx context.Context) error {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 50 * time.Millisecond
		policy := backoff.WithContext(backoff.WithMaxRetries(eb, auditRetries), ctx)
		return backoff.Retry(func() error {
			return o.Store.AppendAudit(ctx, e)
		}, policy)
	}, nil)
}
