package store

import (
	"context"
	"errors"

	"github.com/jmehdipour/nyx-sync/internal/breaker"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
)

// Guarded wraps the remote store with a circuit breaker. While the breaker is
// open every call fails fast with syncerr.ErrBreakerOpen.
type Guarded struct {
	inner Store
	b     *breaker.MicroBreaker
}

var _ Store = (*Guarded)(nil)

func NewGuarded(inner Store, b *breaker.MicroBreaker) *Guarded {
	return &Guarded{inner: inner, b: b}
}

func (g *Guarded) Breaker() *breaker.MicroBreaker { return g.b }

func (g *Guarded) do(ctx context.Context, fn func() error) error {
	if !g.b.TryAcquire() {
		return syncerr.ErrBreakerOpen
	}
	err := fn()
	switch {
	case err == nil, errors.Is(err, syncerr.ErrNotFound):
		g.b.OnSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil,
		errors.Is(err, syncerr.ErrTableNotFound):
		// not the remote's fault
		g.b.Release()
	default:
		g.b.OnFailure()
	}
	return err
}

func (g *Guarded) Put(ctx context.Context, table, id string, doc model.Record) error {
	return g.do(ctx, func() error { return g.inner.Put(ctx, table, id, doc) })
}

func (g *Guarded) Get(ctx context.Context, table, id string) (rec model.Record, err error) {
	err = g.do(ctx, func() error {
		rec, err = g.inner.Get(ctx, table, id)
		return err
	})
	return rec, err
}

func (g *Guarded) List(ctx context.Context, table string) (recs []model.Record, err error) {
	err = g.do(ctx, func() error {
		recs, err = g.inner.List(ctx, table)
		return err
	})
	return recs, err
}

func (g *Guarded) Delete(ctx context.Context, table, id string) error {
	return g.do(ctx, func() error { return g.inner.Delete(ctx, table, id) })
}

func (g *Guarded) EnsureTable(ctx context.Context, def model.SchemaDefinition) error {
	return g.do(ctx, func() error { return g.inner.EnsureTable(ctx, def) })
}

func (g *Guarded) ListTableNames(ctx context.Context) (names []string, err error) {
	err = g.do(ctx, func() error {
		names, err = g.inner.ListTableNames(ctx)
		return err
	})
	return names, err
}
