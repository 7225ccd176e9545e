// Package orch wires the registry, caches and store into the chat
// operations invoked by the transport adapter.
package orch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

type Options struct {
	HistoryLimit     int
	HistoryRingSize  int
	HistoryLifetime  time.Duration
	DMCacheSize      int
	MaxMessageLength int
	StoreTimeout     time.Duration
	// ModeratorSecret is either plain text or a bcrypt hash.
	ModeratorSecret string
	BlockedIPs      []string
	PersistWorkers  int
	PersistQueue    int
	Policy          app.Policy
}

type Orchestrator struct {
	Registry *app.Registry
	Threads  *app.ThreadIndex
	Bans     *app.BanCache
	History  *app.History
	DMs      *app.DMCache
	Policy   app.Policy
	Store    core.MessageStore

	opts   Options
	writer *Writer
	now    func() time.Time

	readersMu sync.RWMutex
	closing   bool
	readers   conc.WaitGroup
}

func New(store core.MessageStore, opts Options) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.PersistWorkers <= 0 {
		opts.PersistWorkers = 4
	}
	if opts.PersistQueue <= 0 {
		opts.PersistQueue = 1024
	}
	policy := opts.Policy
	if policy == nil {
		policy = app.DropPolicy{}
	}
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Threads:  app.NewThreadIndex(),
		Bans:     app.NewBanCache(store, opts.BlockedIPs),
		History:  app.NewHistory(opts.HistoryRingSize, opts.HistoryLifetime),
		DMs:      app.NewDMCache(opts.DMCacheSize),
		Policy:   policy,
		Store:    store,
		opts:     opts,
		writer:   NewWriter(opts.PersistWorkers, opts.PersistQueue, opts.StoreTimeout),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close disconnects every open connection, waits for background reads and
// drains pending writes. The store itself is closed by its owner.
func (o *Orchestrator) Close() {
	o.readersMu.Lock()
	o.closing = true
	o.readersMu.Unlock()

	for _, sess := range o.Registry.Open() {
		sess.Conn().CloseWith(core.CloseGoingAway, "server shutting down")
	}
	o.readers.Wait()
	o.writer.Close()
}

// background runs fn off the connection's read loop unless Close started.
func (o *Orchestrator) background(fn func()) {
	o.readersMu.RLock()
	defer o.readersMu.RUnlock()
	if o.closing {
		return
	}
	o.readers.Go(fn)
}

// Admit reports whether a connection from the raw remote address may be accepted.
func (o *Orchestrator) Admit(remote string) bool {
	return !o.Bans.Contains(domain.NormalizeAddress(remote))
}

func encode(v any) (core.Frame, bool) {
	f, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode failed")
		return nil, false
	}
	return f, true
}

// send delivers v to one session, best-effort.
func (o *Orchestrator) send(sess *core.Session, v any) {
	f, ok := encode(v)
	if !ok {
		return
	}
	if err := sess.Conn().TrySend(f); err != nil {
		o.onSendFailed(sess, err)
	}
}

// sendTo delivers v to whichever connection currently holds id.
func (o *Orchestrator) sendTo(id domain.ClientID, v any) {
	if sess, ok := o.Registry.Lookup(id); ok {
		o.send(sess, v)
	}
}

// broadcast delivers v to every registered session.
func (o *Orchestrator) broadcast(v any) {
	f, ok := encode(v)
	if !ok {
		return
	}
	var slow []*core.Session
	o.Registry.Each(func(_ domain.ClientID, sess *core.Session) {
		if err := sess.Conn().TrySend(f); err != nil {
			metrics.DeliveriesDropped.Inc()
			if errors.Is(err, core.ErrBackpressure) {
				slow = append(slow, sess)
			}
		}
	})
	for _, sess := range slow {
		o.applyPolicy(sess)
	}
}

func (o *Orchestrator) onSendFailed(sess *core.Session, err error) {
	metrics.DeliveriesDropped.Inc()
	if errors.Is(err, core.ErrBackpressure) {
		o.applyPolicy(sess)
	}
}

func (o *Orchestrator) applyPolicy(sess *core.Session) {
	switch o.Policy.OnBackPressure(sess) {
	case app.KickMember:
		id, _ := sess.ClientID()
		log.Warn().Str("module", "orch").Str("client", string(id)).Msg("slow consumer disconnected")
		sess.Conn().CloseWith(core.CloseSlow, "too slow")
	case app.DropFrame, app.NoAction:
	}
}
