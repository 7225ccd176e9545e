package orch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/protocol"
	"github.com/dkeye/Parley/internal/store"
)

func TestHelloSendsAckThreadsThenHistory(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	sess, conn := join(t, o, "alice", "10.0.0.1")

	assert.Equal(t, []string{"hello-ack", "dm-threads", "public-history"}, conn.types())
	assert.Equal(t, "alice", conn.ofType("hello-ack")[0]["clientId"])

	o.Hello(sess, "mallory")
	id, _ := sess.ClientID()
	assert.Equal(t, domain.ClientID("alice"), id, "second hello is ignored")
	assert.Len(t, conn.ofType("hello-ack"), 1)
}

func TestHelloWithoutIDUsesSessionToken(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	conn := &fakeConn{}
	sess := core.NewSession(conn, "10.0.0.1", "tok-123")
	o.Connect(sess)
	o.Hello(sess, "")

	id, ok := sess.ClientID()
	require.True(t, ok)
	assert.Equal(t, domain.ClientID("tok-123"), id)
	_, ok = o.Registry.Lookup("tok-123")
	assert.True(t, ok)
}

func TestPublicReachesEveryRegisteredConnectionOnce(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	alice, ac := join(t, o, "alice", "10.0.0.1")
	_, bc := join(t, o, "bob", "10.0.0.2")
	_, lurker := connect(o, "10.0.0.3")

	o.Public(alice, protocol.Public{Text: "hi all", CorrelationToken: "c1"})

	for _, c := range []*fakeConn{ac, bc} {
		got := c.ofType("public")
		require.Len(t, got, 1)
		assert.Equal(t, "hi all", got[0]["text"])
		assert.Equal(t, "alice", got[0]["from"])
		assert.Equal(t, "c1", got[0]["correlationToken"])
		assert.NotEmpty(t, got[0]["localId"])
	}
	assert.Empty(t, lurker.ofType("public"), "connections without a handshake get nothing")

	localID := ac.ofType("public")[0]["localId"]
	for _, c := range []*fakeConn{ac, bc} {
		require.Eventually(t, func() bool { return len(c.ofType("message-persisted")) == 1 }, timeout, tick)
		note := c.ofType("message-persisted")[0]
		assert.Equal(t, localID, note["localId"])
		assert.EqualValues(t, 1, note["messageId"])
	}
	recent := o.History.Recent(10, 0)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.MessageID(1), recent[0].ID)
}

func TestInvalidMessagesAreDropped(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	alice, ac := join(t, o, "alice", "10.0.0.1")

	o.Public(alice, protocol.Public{})
	o.Public(alice, protocol.Public{Text: string(make([]byte, 201))})
	o.Public(alice, protocol.Public{Media: &domain.MediaRef{Kind: "image"}})
	o.Direct(alice, protocol.Direct{To: "alice", Text: "me"})

	assert.Empty(t, ac.ofType("public"))
	assert.Empty(t, ac.ofType("direct"))
}

func TestDirectReachesOnlyParticipants(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)
	alice, ac := join(t, o, "alice", "10.0.0.1")
	_, bc := join(t, o, "bob", "10.0.0.2")
	_, cc := join(t, o, "carol", "10.0.0.3")

	o.Direct(alice, protocol.Direct{To: "bob", Text: "psst"})

	require.Len(t, bc.ofType("direct"), 1)
	assert.Equal(t, "psst", bc.ofType("direct")[0]["text"])
	assert.Nil(t, bc.ofType("direct")[0]["echoed"])
	require.Len(t, ac.ofType("direct"), 1)
	assert.Equal(t, true, ac.ofType("direct")[0]["echoed"])
	assert.Empty(t, cc.ofType("direct"))

	// first contact pushes the thread list to both sides
	assert.Len(t, ac.ofType("dm-threads"), 2)
	assert.Len(t, bc.ofType("dm-threads"), 2)
	assert.Equal(t, []any{"alice"}, bc.ofType("dm-threads")[1]["partners"])

	o.Direct(alice, protocol.Direct{To: "bob", Text: "again"})
	assert.Len(t, ac.ofType("dm-threads"), 2, "known thread is not announced again")

	for _, c := range []*fakeConn{ac, bc} {
		require.Eventually(t, func() bool { return len(c.ofType("message-persisted")) == 2 }, timeout, tick)
	}
	assert.Empty(t, cc.ofType("message-persisted"))

	require.Eventually(t, func() bool {
		threads, _ := st.ListThreads(context.Background(), "bob")
		return len(threads) == 1
	}, timeout, tick)

	o.DMHistory(alice, "bob")
	hist := ac.ofType("dm-history")
	require.Len(t, hist, 1)
	assert.Len(t, hist[0]["messages"], 2)
}

func TestDirectToOfflineRecipientStillEchoes(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	alice, ac := join(t, o, "alice", "10.0.0.1")

	o.Direct(alice, protocol.Direct{To: "ghost", Text: "hello?", CorrelationToken: "t1"})
	echoes := ac.ofType("direct")
	require.Len(t, echoes, 1)
	assert.Equal(t, "t1", echoes[0]["correlationToken"])
	assert.True(t, o.Threads.Linked("ghost", "alice"))

	// the recipient learns about the thread but gets no backlog
	_, gc := join(t, o, "ghost", "10.0.0.9")
	assert.Equal(t, []any{"alice"}, gc.ofType("dm-threads")[0]["partners"])
	assert.Empty(t, gc.ofType("direct"))
}

func TestPersistedThreadsAreMergedOnHello(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.UpsertThread(context.Background(),
		domain.Thread{Key: domain.NewThreadKey("alice", "dave"), A: "alice", B: "dave"}))
	o := newTestOrch(t, st)

	sess, ac := connect(o, "10.0.0.1")
	o.Hello(sess, "alice")

	require.Eventually(t, func() bool { return len(ac.ofType("dm-threads")) == 2 }, timeout, tick)
	assert.Equal(t, []any{"dave"}, ac.ofType("dm-threads")[1]["partners"])
}

func TestReconnectReplacesRoute(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	first, c1 := join(t, o, "x", "10.0.0.1")
	_, c2 := join(t, o, "x", "10.0.0.1")
	alice, _ := join(t, o, "alice", "10.0.0.2")

	o.Direct(alice, protocol.Direct{To: "x", Text: "one"})
	assert.Empty(t, c1.ofType("direct"))
	assert.Len(t, c2.ofType("direct"), 1)

	// the orphaned connection closing late keeps the newer route
	o.Disconnect(first)
	o.Direct(alice, protocol.Direct{To: "x", Text: "two"})
	assert.Len(t, c2.ofType("direct"), 2)
}

func TestPrivilegedOperationsRequireModerator(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)
	eve, ec := join(t, o, "eve", "10.0.0.9")
	_, bc := join(t, o, "bob", "10.0.0.2")

	o.Ban(eve, protocol.ModerateBan{TargetID: "bob"})
	o.Kick(eve, protocol.ModerateKick{TargetID: "bob"})
	o.Delete(eve, protocol.ModerateDelete{MessageID: 1})
	o.Announce(eve, protocol.ModerateAnnounce{Text: "x"})
	o.ListConnections(eve)
	o.Unauthorized(eve)

	errs := ec.ofType("moderate-error")
	require.Len(t, errs, 6)
	for _, e := range errs {
		assert.Equal(t, protocol.ErrCodeNotAuthorized, e["error"])
	}
	assert.Zero(t, bc.code())
	assert.True(t, o.Admit("10.0.0.2"))
}

func TestLoginBeforeOrAfterHello(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)

	early, ec := connect(o, "10.0.0.1")
	o.Login(early, secret)
	assert.True(t, early.IsModerator())
	assert.Empty(t, early.ModeratorID())
	o.Hello(early, "mod1")
	assert.Equal(t, domain.ClientID("mod1"), early.ModeratorID())
	require.Len(t, ec.ofType("login-ack"), 1)

	late, _ := moderator(t, o, "mod2", "10.0.0.2")
	assert.Equal(t, domain.ClientID("mod2"), late.ModeratorID())

	require.Eventually(t, func() bool { return len(auditActions(t, st)) == 2 }, timeout, tick)
	assert.Equal(t, []domain.ModerationAction{domain.ActionAdminLogin, domain.ActionAdminLogin}, auditActions(t, st))
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	sess, conn := join(t, o, "eve", "10.0.0.9")
	o.Login(sess, "guess")
	assert.False(t, sess.IsModerator())
	acks := conn.ofType("login-ack")
	require.Len(t, acks, 1)
	assert.Equal(t, protocol.ErrCodeInvalid, acks[0]["error"])
}

func TestLoginAcceptsBcryptSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	o := newTestOrch(t, store.NewMemory(), func(opts *Options) { opts.ModeratorSecret = string(hash) })

	sess, _ := join(t, o, "mod", "10.0.0.1")
	o.Login(sess, "nope")
	assert.False(t, sess.IsModerator())
	o.Login(sess, "hunter2")
	assert.True(t, sess.IsModerator())
}

func TestEmptySecretDisablesLogin(t *testing.T) {
	o := newTestOrch(t, store.NewMemory(), func(opts *Options) { opts.ModeratorSecret = "" })
	sess, _ := join(t, o, "mod", "10.0.0.1")
	o.Login(sess, "")
	assert.False(t, sess.IsModerator())
}

func TestBanClosesEveryConnectionFromAddress(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)
	mod, mc := moderator(t, o, "mod", "10.0.0.1")
	_, tc := join(t, o, "troll", "203.0.113.7")
	_, lurker := connect(o, "::ffff:203.0.113.7")
	_, bc := join(t, o, "bob", "10.0.0.2")

	o.Ban(mod, protocol.ModerateBan{TargetID: "troll", Reason: "spam"})

	assert.Equal(t, core.CloseBanned, tc.code())
	assert.Equal(t, core.CloseBanned, lurker.code())
	assert.Zero(t, bc.code())
	assert.False(t, o.Admit("203.0.113.7"))
	assert.False(t, o.Admit("[::ffff:203.0.113.7]:5555"))

	notices := bc.ofType("moderation-notice")
	require.Len(t, notices, 1)
	assert.Equal(t, protocol.NoticeBan, notices[0]["kind"])
	assert.NotContains(t, notices[0]["text"], "203.0.113.7")

	acks := mc.ofType("moderate-ack")
	require.Len(t, acks, 1)
	assert.Equal(t, "203.0.113.7", acks[0]["address"])

	require.Eventually(t, func() bool {
		rec, ok := st.Ban("203.0.113.7")
		return ok && rec.Reason == "spam" && rec.IssuedBy == "mod"
	}, timeout, tick)
	require.NoError(t, o.Bans.Refresh(context.Background()))
	assert.False(t, o.Admit("203.0.113.7"), "refresh after confirmation keeps the ban")
}

func TestBanByAddressAndUnban(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)
	mod, mc := moderator(t, o, "mod", "10.0.0.1")

	o.Ban(mod, protocol.ModerateBan{Address: "198.51.100.4"})
	assert.False(t, o.Admit("198.51.100.4"))

	o.Unban(mod, protocol.ModerateUnban{Address: "198.51.100.4"})
	assert.True(t, o.Admit("198.51.100.4"))
	require.Eventually(t, func() bool {
		_, ok := st.Ban("198.51.100.4")
		return !ok
	}, timeout, tick)

	o.Ban(mod, protocol.ModerateBan{TargetID: "nobody"})
	errs := mc.ofType("moderate-error")
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrCodeNotFound, errs[0]["error"])
}

func TestKickClosesOnlyCurrentConnection(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	mod, _ := moderator(t, o, "mod", "10.0.0.1")
	_, tc := join(t, o, "bob", "10.0.0.2")

	o.Kick(mod, protocol.ModerateKick{TargetID: "bob"})
	assert.Equal(t, core.CloseKicked, tc.code())
	assert.True(t, o.Admit("10.0.0.2"), "kick is not a ban")
}

func TestDeleteRedactsEverywhere(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)
	mod, mc := moderator(t, o, "mod", "10.0.0.1")
	alice, ac := join(t, o, "alice", "10.0.0.2")

	o.Public(alice, protocol.Public{Text: "rude words"})
	require.Eventually(t, func() bool { return len(ac.ofType("message-persisted")) == 1 }, timeout, tick)

	o.Delete(mod, protocol.ModerateDelete{MessageID: 1})
	for _, c := range []*fakeConn{mc, ac} {
		notes := c.ofType("delete-notice")
		require.Len(t, notes, 1)
		assert.EqualValues(t, 1, notes[0]["messageId"])
	}

	recent := o.History.Recent(10, 0)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Deleted)
	assert.NotContains(t, recent[0].Text, "rude")

	_, late := join(t, o, "carol", "10.0.0.3")
	hist := late.ofType("public-history")[0]["messages"].([]any)
	assert.Empty(t, hist)

	o.Delete(mod, protocol.ModerateDelete{MessageID: 99})
	errs := mc.ofType("moderate-error")
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrCodeNotFound, errs[0]["error"])
}

func TestDeleteRedactsDirectCache(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	mod, _ := moderator(t, o, "mod", "10.0.0.1")
	alice, ac := join(t, o, "alice", "10.0.0.2")
	_, bc := join(t, o, "bob", "10.0.0.3")

	o.Direct(alice, protocol.Direct{To: "bob", Text: "secret plan"})
	require.Eventually(t, func() bool { return len(bc.ofType("message-persisted")) == 1 }, timeout, tick)

	o.Delete(mod, protocol.ModerateDelete{MessageID: 1})
	o.DMHistory(alice, "bob")
	msgs := ac.ofType("dm-history")[0]["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, true, msgs[0].(map[string]any)["deleted"])
	assert.Nil(t, msgs[0].(map[string]any)["text"])
}

func TestStoreFailureNeverBlocksDelivery(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(), inserts: true, queries: true}
	o := newTestOrch(t, st)
	alice, ac := join(t, o, "alice", "10.0.0.1")

	o.Public(alice, protocol.Public{Text: "still here"})
	assert.Len(t, ac.ofType("public"), 1)

	// served from the ring since the store query fails
	_, bc := join(t, o, "bob", "10.0.0.2")
	hist := bc.ofType("public-history")[0]["messages"].([]any)
	require.Len(t, hist, 1)
	assert.Equal(t, "still here", hist[0].(map[string]any)["text"])

	o.Close()
	assert.Empty(t, ac.ofType("message-persisted"))
}

func TestAuditRetriesTransientFailures(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(), auditErr: 2}
	o := newTestOrch(t, st)
	mod, _ := moderator(t, o, "mod", "10.0.0.1")
	o.Announce(mod, protocol.ModerateAnnounce{Text: "maintenance at noon"})

	require.Eventually(t, func() bool { return len(auditActions(t, st.Memory)) == 2 }, timeout, tick)
}

func TestAnnounceAndList(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	mod, mc := moderator(t, o, "mod", "10.0.0.1")
	_, bc := join(t, o, "bob", "10.0.0.2")
	connect(o, "10.0.0.3")

	o.Announce(mod, protocol.ModerateAnnounce{Text: "  be nice  "})
	notices := bc.ofType("moderation-notice")
	require.Len(t, notices, 1)
	assert.Equal(t, "be nice", notices[0]["text"])
	assert.Equal(t, protocol.NoticeAnnounce, notices[0]["kind"])

	o.ListConnections(mod)
	lists := mc.ofType("connection-list")
	require.Len(t, lists, 1)
	conns := lists[0]["connections"].([]any)
	require.Len(t, conns, 2)
	first := conns[0].(map[string]any)
	assert.Equal(t, "bob", first["clientId"])
	assert.Equal(t, "10.0.0.2", first["address"])
	assert.Equal(t, true, conns[1].(map[string]any)["isModerator"])
}

func TestKickPolicyDisconnectsSlowConsumers(t *testing.T) {
	o := newTestOrch(t, store.NewMemory(), func(opts *Options) { opts.Policy = app.KickPolicy{} })
	alice, _ := join(t, o, "alice", "10.0.0.1")
	_, slow := join(t, o, "slow", "10.0.0.2")
	slow.setFull(true)

	o.Public(alice, protocol.Public{Text: "flood"})
	assert.Equal(t, core.CloseSlow, slow.code())
}

func TestDropPolicyKeepsSlowConsumers(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	alice, _ := join(t, o, "alice", "10.0.0.1")
	_, slow := join(t, o, "slow", "10.0.0.2")
	slow.setFull(true)

	o.Public(alice, protocol.Public{Text: "flood"})
	assert.Zero(t, slow.code())
}

func TestMoreHistoryPagesBackwards(t *testing.T) {
	o := newTestOrch(t, store.NewMemory(), func(opts *Options) { opts.HistoryLimit = 2 })
	alice, ac := join(t, o, "alice", "10.0.0.1")
	for _, text := range []string{"a", "b", "c"} {
		o.Public(alice, protocol.Public{Text: text})
	}
	require.Eventually(t, func() bool { return len(ac.ofType("message-persisted")) == 3 }, timeout, tick)

	o.MoreHistory(alice, 3)
	require.Eventually(t, func() bool { return len(ac.ofType("more-public-history")) == 1 }, timeout, tick)
	msgs := ac.ofType("more-public-history")[0]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].(map[string]any)["text"])
	assert.Equal(t, "b", msgs[1].(map[string]any)["text"])
}

func TestPing(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	sess, conn := join(t, o, "alice", "10.0.0.1")
	o.Ping(sess)
	assert.Len(t, conn.ofType("pong"), 1)
}

func TestThreadKeysDoNotMixPairsWithSeparator(t *testing.T) {
	st := store.NewMemory()
	o := newTestOrch(t, st)
	ab, _ := join(t, o, "a|b", "10.0.0.1")
	eve, ec := join(t, o, "a", "10.0.0.2")
	_, cc := join(t, o, "c", "10.0.0.3")

	o.Direct(ab, protocol.Direct{To: "c", Text: "secret for c"})
	require.Len(t, cc.ofType("direct"), 1)
	require.Eventually(t, func() bool { return len(cc.ofType("message-persisted")) == 1 }, timeout, tick)

	o.DMHistory(eve, "b|c")
	hist := ec.ofType("dm-history")
	require.Len(t, hist, 1)
	assert.Empty(t, hist[0]["messages"])

	threads, err := st.ListThreads(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	partner, ok := threads[0].Partner("c")
	require.True(t, ok)
	assert.Equal(t, domain.ClientID("a|b"), partner)

	threads, err = st.ListThreads(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestBlankHelloFallsBackToSessionToken(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	conn := &fakeConn{}
	sess := core.NewSession(conn, "10.0.0.1", "tok-9")
	o.Connect(sess)
	o.Hello(sess, "   ")

	id, ok := sess.ClientID()
	require.True(t, ok)
	assert.Equal(t, domain.ClientID("tok-9"), id)
	require.Len(t, conn.ofType("hello-ack"), 1)
}

func TestCloseDisconnectsOpenConnections(t *testing.T) {
	o := newTestOrch(t, store.NewMemory())
	alice, ac := join(t, o, "alice", "10.0.0.1")
	_, lurker := connect(o, "10.0.0.2")

	o.Close()
	assert.Equal(t, core.CloseGoingAway, ac.code())
	assert.Equal(t, core.CloseGoingAway, lurker.code())

	// reads requested after Close are not started
	o.MoreHistory(alice, 0)
	late := &fakeConn{}
	o.Hello(core.NewSession(late, "10.0.0.3", ""), "late")
	require.Len(t, late.ofType("hello-ack"), 1)
	assert.Never(t, func() bool { return len(late.ofType("public-history")) > 0 }, 50*time.Millisecond, tick)
}
