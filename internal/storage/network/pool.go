package network

import (
	"context"
	"sync"
	"time"

	"nmfstore/internal/constants"
)

type idleClient struct {
	c     Client
	since time.Time
}

// hostPool bounds the sessions open to one endpoint.
type hostPool struct {
	slots chan struct{}
	mu    sync.Mutex
	idle  []idleClient
}

// pool keeps authenticated sessions per endpoint. At most max sessions per
// endpoint are busy at once; acquire blocks until one frees up or ctx ends.
type pool struct {
	max         int
	idleTimeout time.Duration
	now         func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostPool
}

func newPool(max int) *pool {
	if max <= 0 {
		max = constants.DefaultMaxConnsPerHost
	}
	return &pool{
		max:         max,
		idleTimeout: constants.IdleConnTimeout,
		now:         time.Now,
		hosts:       make(map[string]*hostPool),
	}
}

func (p *pool) host(key string) *hostPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hosts[key]
	if !ok {
		h = &hostPool{slots: make(chan struct{}, p.max)}
		p.hosts[key] = h
	}
	return h
}

// acquire reserves a slot for key and returns an idle session if one is
// still fresh. A nil Client means the caller must dial; it owns the slot
// either way and must call release.
func (p *pool) acquire(ctx context.Context, key string) (Client, error) {
	h := p.host(key)
	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := p.now()
	for len(h.idle) > 0 {
		last := h.idle[len(h.idle)-1]
		h.idle = h.idle[:len(h.idle)-1]
		if now.Sub(last.since) <= p.idleTimeout {
			return last.c, nil
		}
		last.c.Close()
	}
	return nil, nil
}

// release returns the slot. A healthy client is kept for reuse; a broken
// one (or nil, after a failed dial) is closed and dropped.
func (p *pool) release(key string, c Client, broken bool) {
	h := p.host(key)
	if c != nil {
		if broken {
			c.Close()
		} else {
			h.mu.Lock()
			h.idle = append(h.idle, idleClient{c: c, since: p.now()})
			h.mu.Unlock()
		}
	}
	<-h.slots
}

// drop closes every idle session for key, used after credentials change.
func (p *pool) drop(key string) {
	h := p.host(key)
	h.mu.Lock()
	idle := h.idle
	h.idle = nil
	h.mu.Unlock()
	for _, ic := range idle {
		ic.c.Close()
	}
}

// closeAll closes every idle session.
func (p *pool) closeAll() {
	p.mu.Lock()
	keys := make([]string, 0, len(p.hosts))
	for k := range p.hosts {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	for _, k := range keys {
		p.drop(k)
	}
}
