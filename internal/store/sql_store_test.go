package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmehdipour/nyx-sync/internal/db"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dbx, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), "local.db"), db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })
	return NewSQLStore(dbx, SQLite{}, nil)
}

func TestSQLStore_EnsureTableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.EnsureTable(ctx, proxiesDef()))
	require.NoError(t, s.EnsureTable(ctx, proxiesDef()))

	names, err := s.ListTableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"proxies"}, names)
}

func TestSQLStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, proxiesDef()))

	err := s.Put(ctx, "proxies", "p1", model.Record{
		"host":       "10.0.0.1",
		"port":       8080,
		"is_active":  true,
		"meta":       map[string]any{"region": "eu"},
		"updated_at": "2024-05-01T10:00:00+02:00",
		"not_a_col":  "dropped",
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "proxies", "p1")
	require.NoError(t, err)

	assert.Equal(t, "p1", got.ID())
	assert.Equal(t, "10.0.0.1", got["host"])
	assert.Equal(t, int64(8080), got["port"])
	assert.Equal(t, true, got["is_active"])
	assert.Equal(t, map[string]any{"region": "eu"}, got["meta"])
	assert.Equal(t, "2024-05-01T08:00:00Z", got["updated_at"])
	assert.Equal(t, "n/a", got["note"], "column default applies")
	assert.Nil(t, got["email"])
	assert.NotContains(t, got, "not_a_col")
}

func TestSQLStore_PutUpdatesOnlyGivenColumns(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, proxiesDef()))

	require.NoError(t, s.Put(ctx, "proxies", "p1", model.Record{
		"host": "a", "port": 1, "updated_at": "2024-01-01T00:00:00Z",
	}))
	require.NoError(t, s.Put(ctx, "proxies", "p1", model.Record{
		"host": "b", "updated_at": "2024-01-02T00:00:00Z",
	}))

	got, err := s.Get(ctx, "proxies", "p1")
	require.NoError(t, err)
	assert.Equal(t, "b", got["host"])
	assert.Equal(t, int64(1), got["port"])
}

func TestSQLStore_ListDeleteAndErrors(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.EnsureTable(ctx, proxiesDef()))

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, "proxies", id, model.Record{
			"host": "h-" + id, "port": 1, "updated_at": "2024-01-01T00:00:00Z",
		}))
	}

	recs, err := s.List(ctx, "proxies")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{recs[0].ID(), recs[1].ID(), recs[2].ID()})

	require.NoError(t, s.Delete(ctx, "proxies", "b"))
	require.NoError(t, s.Delete(ctx, "proxies", "b"), "delete is idempotent")

	_, err = s.Get(ctx, "proxies", "b")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)

	_, err = s.List(ctx, "campaigns")
	assert.ErrorIs(t, err, syncerr.ErrTableNotFound)
}

func TestSQLStore_UsesSchemaLookupBeforeEnsure(t *testing.T) {
	ctx := context.Background()
	dbx, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), "local.db"), db.SQLiteOpts{})
	require.NoError(t, err)
	defer dbx.Close()

	// another process created the table; this store only knows the schema
	require.NoError(t, NewSQLStore(dbx, SQLite{}, nil).EnsureTable(ctx, proxiesDef()))

	s := NewSQLStore(dbx, SQLite{}, lookup{proxiesDef()})
	require.NoError(t, s.Put(ctx, "proxies", "p1", model.Record{
		"host": "h", "port": 1, "updated_at": "2024-01-01T00:00:00Z",
	}))
	_, err = s.Get(ctx, "proxies", "p1")
	require.NoError(t, err)
}

type lookup []model.SchemaDefinition

func (l lookup) Get(table string) (model.SchemaDefinition, bool) {
	for _, d := range l {
		if d.TableName == table {
			return d, true
		}
	}
	return model.SchemaDefinition{}, false
}
