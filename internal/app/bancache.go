package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/rs/zerolog/log"
)

type BanSource interface {
	ListBans(ctx context.Context) ([]string, error)
}

// banDelta is an optimistic change not yet known to be visible in the store.
type banDelta struct {
	banned    bool
	seq       uint64
	confirmed bool
	// settledAt is the fetch counter at confirmation; a fetch started
	// after it already reflects the change.
	settledAt uint64
}

// BanCache mirrors the durable ban collection. Local bans and unbans apply
// immediately and are replayed over every fetched snapshot until a fetch
// started after their durable write confirmed them.
type BanCache struct {
	src BanSource

	mu      sync.RWMutex
	set     map[string]struct{}
	static  map[string]struct{}
	pending map[string]*banDelta
	seq     uint64
	fetches uint64
	applied uint64
}

func NewBanCache(src BanSource, static []string) *BanCache {
	c := &BanCache{
		src:     src,
		set:     make(map[string]struct{}),
		static:  make(map[string]struct{}),
		pending: make(map[string]*banDelta),
	}
	for _, a := range static {
		if a == "" {
			continue
		}
		c.static[domain.NormalizeAddress(a)] = struct{}{}
	}
	return c
}

// Contains expects a normalized address.
func (c *BanCache) Contains(addr string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.static[addr]; ok {
		return true
	}
	_, ok := c.set[addr]
	return ok
}

// Add bans addr immediately and returns a ticket for Confirm.
func (c *BanCache) Add(addr string) uint64 {
	return c.apply(addr, true)
}

// Remove unbans addr immediately and returns a ticket for Confirm.
func (c *BanCache) Remove(addr string) uint64 {
	return c.apply(addr, false)
}

func (c *BanCache) apply(addr string, banned bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.pending[addr] = &banDelta{banned: banned, seq: c.seq}
	if banned {
		c.set[addr] = struct{}{}
	} else {
		delete(c.set, addr)
	}
	metrics.BanCacheSize.Set(float64(len(c.set)))
	return c.seq
}

// Confirm marks the change behind ticket as durably written. A newer
// change to the same address keeps its own ticket.
func (c *BanCache) Confirm(addr string, ticket uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.pending[addr]; ok && d.seq == ticket {
		d.confirmed = true
		d.settledAt = c.fetches
	}
}

// Refresh replaces the set with the store's view. On failure the current
// set is kept. A fetch that finishes after a newer one was applied is ignored.
func (c *BanCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.fetches++
	mine := c.fetches
	c.mu.Unlock()

	addrs, err := c.src.ListBans(ctx)
	if err != nil {
		metrics.BanRefreshFailures.Inc()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mine < c.applied {
		return nil
	}
	next := make(map[string]struct{}, len(addrs)+len(c.pending))
	for _, a := range addrs {
		next[domain.NormalizeAddress(a)] = struct{}{}
	}
	for addr, d := range c.pending {
		if d.confirmed && mine > d.settledAt {
			delete(c.pending, addr)
			continue
		}
		if d.banned {
			next[addr] = struct{}{}
		} else {
			delete(next, addr)
		}
	}
	c.set = next
	c.applied = mine
	metrics.BanCacheSize.Set(float64(len(next)))
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *BanCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("module", "app.bans").Msg("ban cache refresh failed")
		} else if err == nil {
			log.Debug().Str("module", "app.bans").Int("size", c.Len()).Msg("ban cache refreshed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (c *BanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.set)
}
