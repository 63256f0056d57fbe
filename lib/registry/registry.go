// Package registry creates, looks up, and tears down named pools.
//
// Pools come in two ownership modes. Self-managed pools are created from
// static configuration at process startup and drained at process shutdown;
// the registry owns their whole lifecycle. Externally-supervised pools are
// created and destroyed by caller-issued lifecycle calls; for those the
// registry only supplies a declarative child spec and never manages crash
// recovery.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/config"
	"github.com/connkeeper/connkeeper/lib/errors"
	"github.com/connkeeper/connkeeper/lib/metrics"
	"github.com/connkeeper/connkeeper/lib/pool"
)

// Mode is a pool's ownership mode.
type Mode int

const (
	// SelfManaged pools are owned by the registry: created from
	// configuration at startup, drained at shutdown.
	SelfManaged Mode = iota
	// ExternallySupervised pools are owned by a caller-provided
	// supervision mechanism; the registry only tracks them by name.
	ExternallySupervised
)

func (m Mode) String() string {
	switch m {
	case SelfManaged:
		return "self-managed"
	case ExternallySupervised:
		return "externally-supervised"
	default:
		return "unknown"
	}
}

type entry struct {
	pool *pool.Pool
	mode Mode
}

// Registry maps pool names to pools. All lookups and mutations are safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*entry
	closed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pools: make(map[string]*entry),
	}
}

// AddPool registers and starts a new pool under cfg.Name, connecting its
// workers with params. Returns ErrAlreadyExists if the name is taken.
func (r *Registry) AddPool(cfg pool.Config, params client.Params, mode Mode) (*pool.Pool, error) {
	connector, err := client.ForParams(params)
	if err != nil {
		return nil, err
	}
	return r.AddPoolWithConnector(cfg, connector, mode)
}

// AddPoolWithConnector is AddPool with a caller-supplied connector, for
// custom clients.
func (r *Registry) AddPoolWithConnector(cfg pool.Config, connector client.Connector, mode Mode) (*pool.Pool, error) {
	p, err := pool.New(connector, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = p.Close()
		return nil, errors.ErrRegistryClosed
	}
	if _, ok := r.pools[p.Name()]; ok {
		r.mu.Unlock()
		_ = p.Close()
		return nil, errors.WithContextf(errors.ErrDuplicatePool, "%q", p.Name())
	}
	r.pools[p.Name()] = &entry{pool: p, mode: mode}
	n := len(r.pools)
	r.mu.Unlock()

	metrics.PoolsRegistered.Set(int64(n))
	log.WithField("pool", p.Name()).
		WithField("mode", mode.String()).
		Info("pool registered")
	return p, nil
}

// RemovePool drains and tears down the named pool. Returns ErrNotFound if
// no such pool is registered. Busy workers not returned before ctx ends
// are force-closed; the pool is removed either way and the drain error is
// returned.
func (r *Registry) RemovePool(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.pools[name]
	if !ok {
		r.mu.Unlock()
		return errors.WithContextf(errors.ErrNotFound, "pool %q", name)
	}
	delete(r.pools, name)
	n := len(r.pools)
	r.mu.Unlock()

	metrics.PoolsRegistered.Set(int64(n))
	err := e.pool.Drain(ctx)
	log.WithField("pool", name).Info("pool removed")
	return err
}

// Lookup returns the named pool or ErrPoolNotFound.
func (r *Registry) Lookup(name string) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.pools[name]
	if !ok {
		return nil, errors.WithContextf(errors.ErrPoolNotFound, "%q", name)
	}
	return e.pool, nil
}

// Names returns the registered pool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every registered pool, ordered by name.
func (r *Registry) Stats() []pool.Stats {
	names := r.Names()
	stats := make([]pool.Stats, 0, len(names))
	for _, name := range names {
		if p, err := r.Lookup(name); err == nil {
			stats = append(stats, p.Stats())
		}
	}
	return stats
}

// LoadConfig registers one self-managed pool per configured definition.
// Registration order across entries is unspecified; no definition may rely
// on another. Failing definitions are collected and reported together.
func (r *Registry) LoadConfig(cfg *config.Config) error {
	var errs []error
	for name, def := range cfg.Pools {
		if _, err := r.AddPool(def.PoolConfig(name), def.ClientParams(), SelfManaged); err != nil {
			log.WithError(err).WithField("pool", name).Error("failed to register configured pool")
			errs = append(errs, errors.WithContextf(err, "pool %q", name))
		}
	}
	return errors.Join(errs...)
}

// Shutdown drains every self-managed pool concurrently and deregisters all
// pools. Externally-supervised pools are deregistered but not drained;
// their owner does that.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrRegistryClosed
	}
	r.closed = true
	entries := r.pools
	r.pools = make(map[string]*entry)
	r.mu.Unlock()

	metrics.PoolsRegistered.Set(0)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, e := range entries {
		if e.mode != SelfManaged {
			continue
		}
		wg.Add(1)
		go func(name string, p *pool.Pool) {
			defer wg.Done()
			if err := p.Drain(ctx); err != nil {
				mu.Lock()
				errs = append(errs, errors.WithContextf(err, "pool %q", name))
				mu.Unlock()
			}
		}(name, e.pool)
	}
	wg.Wait()

	log.Info("registry shut down")
	return errors.Join(errs...)
}
