package keypool

import (
	"context"
	"fmt"
	"sync"

	"gembalance/internal/monitoring"

	log "github.com/sirupsen/logrus"
)

// Loader fetches the key list and failure threshold from the external store.
type Loader func(ctx context.Context) (keys []string, maxFailures int, err error)

// Provider owns the process-wide pool instance. The pool is built lazily on
// first use; concurrent callers during an in-flight build converge on that
// build instead of constructing duplicates. Reset discards the instance so
// the next access rebuilds from the store, picking up administrative
// credential changes.
type Provider struct {
	mu       sync.Mutex
	loader   Loader
	pool     *Pool
	inflight chan struct{}
}

// NewProvider creates a provider around the given loader.
func NewProvider(loader Loader) *Provider {
	return &Provider{loader: loader}
}

// Get returns the current pool, building it if necessary. When a build is
// already in flight the caller waits for it rather than starting another.
func (p *Provider) Get(ctx context.Context) (*Pool, error) {
	for {
		p.mu.Lock()
		if p.pool != nil {
			pool := p.pool
			p.mu.Unlock()
			return pool, nil
		}
		if p.inflight == nil {
			done := make(chan struct{})
			p.inflight = done
			p.mu.Unlock()

			pool, err := p.build(ctx)

			p.mu.Lock()
			if err == nil {
				p.pool = pool
			}
			p.inflight = nil
			close(done)
			p.mu.Unlock()
			return pool, err
		}
		wait := p.inflight
		p.mu.Unlock()

		select {
		case <-wait:
			// Loop: either the build succeeded and p.pool is set, or it
			// failed and this caller retries the build itself.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Provider) build(ctx context.Context) (*Pool, error) {
	keys, maxFailures, err := p.loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("load key pool: %w", err)
	}
	pool := NewPool(keys, maxFailures)
	log.WithFields(log.Fields{
		"keys":         pool.Len(),
		"max_failures": pool.MaxFailures(),
	}).Info("key pool built")
	monitoring.PoolKeys.Set(float64(pool.Len()))
	monitoring.PoolUnhealthyKeys.Set(0)
	return pool, nil
}

// Reset discards the current pool so the next Get rebuilds it. Counters and
// the cursor of the discarded pool are not carried over.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		log.Info("key pool reset; next access rebuilds from store")
	}
	p.pool = nil
}

// Rebuild is Reset followed by an immediate Get, for the management surface.
func (p *Provider) Rebuild(ctx context.Context) (*Pool, error) {
	p.Reset()
	return p.Get(ctx)
}
