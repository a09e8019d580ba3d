package store

import (
	"context"
	"testing"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	err := m.Put(ctx, "proxies", "p1", model.Record{"host": "h"})
	require.ErrorIs(t, err, syncerr.ErrTableNotFound)

	require.NoError(t, m.EnsureTable(ctx, proxiesDef()))
	in := model.Record{"host": "h"}
	require.NoError(t, m.Put(ctx, "proxies", "p1", in))
	in["host"] = "mutated"

	got, err := m.Get(ctx, "proxies", "p1")
	require.NoError(t, err)
	assert.Equal(t, model.Record{"id": "p1", "host": "h"}, got)

	got["host"] = "mutated too"
	again, _ := m.Get(ctx, "proxies", "p1")
	assert.Equal(t, "h", again["host"])

	require.NoError(t, m.Delete(ctx, "proxies", "p1"))
	_, err = m.Get(ctx, "proxies", "p1")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.List(cctx, "proxies")
	assert.ErrorIs(t, err, context.Canceled)
}
