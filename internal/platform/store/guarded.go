package store

import (
	"context"
	"sync"
)

// Guarded wraps a TxRunner with a mutex that is only acquired when the
// underlying dialect reports it is not multi-thread safe (sqlite). It also
// carries the ambient-transaction marker described in context.go: RunInTransaction
// sets it for the duration of fn and clears it on every exit path.
//
// When two queues are configured against the same (dialect, connection
// string) pair, they must share one Guarded instance (spec §4.3) — see the
// package-level registry below.
type Guarded struct {
	inner TxRunner
	mu    sync.Mutex

	refMu sync.Mutex
	refs  int
}

func newGuarded(inner TxRunner) *Guarded {
	return &Guarded{inner: inner, refs: 1}
}

func (g *Guarded) Dialect() Dialect { return g.inner.Dialect() }

func (g *Guarded) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	if q, ok := CurrentTx(ctx); ok {
		return q.Exec(ctx, sql, args...)
	}
	return g.inner.Exec(ctx, sql, args...)
}

func (g *Guarded) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	if q, ok := CurrentTx(ctx); ok {
		return q.Query(ctx, sql, args...)
	}
	return g.inner.Query(ctx, sql, args...)
}

func (g *Guarded) QueryRow(ctx context.Context, sql string, args ...any) Row {
	if q, ok := CurrentTx(ctx); ok {
		return q.QueryRow(ctx, sql, args...)
	}
	return g.inner.QueryRow(ctx, sql, args...)
}

// Tx acquires the serialization mutex (if the dialect requires it), begins
// a transaction, runs fn with a transactional RowQuerier, and commits on
// normal return. The mutex is released on every exit path
func (g *Guarded) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	if !g.Dialect().MultiThreadSafe() {
		g.mu.Lock()
		defer g.mu.Unlock()
	}
	return g.inner.Tx(ctx, fn)
}

func (g *Guarded) Ping(ctx context.Context) error {
	if p, ok := g.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (g *Guarded) acquire() {
	g.refMu.Lock()
	g.refs++
	g.refMu.Unlock()
}

// registryKey identifies a shared Guarded wrapper by dialect and connection string
type registryKey struct {
	dialect Dialect
	dsn     string
}

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*Guarded{}
)

// sharedGuarded returns the Guarded wrapper for (dialect, dsn), creating
// one via open if none exists yet, and adopting (refcounting) it otherwise
func sharedGuarded(key registryKey, open func() (TxRunner, error)) (*Guarded, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if g, ok := registry[key]; ok {
		g.acquire()
		return g, nil
	}

	inner, err := open()
	if err != nil {
		return nil, err
	}
	g := newGuarded(inner)
	registry[key] = g
	return g, nil
}

// release decrements the Guarded wrapper's refcount, closing and evicting
// it from the registry once the last referencing queue has released it
func release(g *Guarded) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	g.refMu.Lock()
	g.refs--
	remaining := g.refs
	g.refMu.Unlock()

	if remaining > 0 {
		return nil
	}

	for k, v := range registry {
		if v == g {
			delete(registry, k)
			break
		}
	}
	if c, ok := g.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// resetRegistryForTests clears the shared-wrapper registry; test-only
func resetRegistryForTests() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[registryKey]*Guarded{}
}
