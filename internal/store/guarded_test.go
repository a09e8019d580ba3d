package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/breaker"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every write with err.
type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Put(context.Context, string, string, model.Record) error { return f.err }

func TestGuarded_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	b := breaker.New(2, time.Minute).WithClock(func() time.Time { return now })

	inner := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection refused")}
	require.NoError(t, inner.EnsureTable(ctx, proxiesDef()))
	g := NewGuarded(inner, b)

	require.Error(t, g.Put(ctx, "proxies", "p1", model.Record{}))
	require.Error(t, g.Put(ctx, "proxies", "p1", model.Record{}))
	assert.Equal(t, breaker.Open, b.State())

	err := g.Put(ctx, "proxies", "p1", model.Record{})
	assert.ErrorIs(t, err, syncerr.ErrBreakerOpen)

	// after the window one probe goes through; it succeeds and closes
	now = now.Add(2 * time.Minute)
	inner.err = nil
	require.NoError(t, g.Put(ctx, "proxies", "p1", model.Record{}))
	assert.Equal(t, breaker.Closed, b.State())
}

func TestGuarded_NotFoundIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	b := breaker.New(1, time.Minute)
	m := NewMemoryStore()
	require.NoError(t, m.EnsureTable(ctx, proxiesDef()))
	g := NewGuarded(m, b)

	for i := 0; i < 3; i++ {
		_, err := g.Get(ctx, "proxies", "missing")
		require.ErrorIs(t, err, syncerr.ErrNotFound)
	}
	_, err := g.Get(ctx, "nope", "x")
	require.ErrorIs(t, err, syncerr.ErrTableNotFound)
	assert.Equal(t, breaker.Closed, b.State())
}
