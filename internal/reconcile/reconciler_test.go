package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downStore fails every read like an unreachable remote.
type downStore struct{ *store.MemoryStore }

var errDown = errors.New("dial tcp: connection refused")

func (downStore) List(context.Context, string) ([]model.Record, error) { return nil, errDown }

func (downStore) Get(context.Context, string, string) (model.Record, error) { return nil, errDown }

func newStores(t *testing.T) (*store.MemoryStore, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	def := model.SchemaDefinition{TableName: "profiles"}
	local, remote := store.NewMemoryStore(), store.NewMemoryStore()
	require.NoError(t, local.EnsureTable(ctx, def))
	require.NoError(t, remote.EnsureTable(ctx, def))
	return local, remote
}

func put(t *testing.T, s store.Store, id string, fields model.Record) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), "profiles", id, fields))
}

func ids(recs []model.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

func TestReconciler_ListMergesRemoteOverLocal(t *testing.T) {
	local, remote := newStores(t)
	put(t, local, "A", model.Record{"name": "a"})
	put(t, local, "B", model.Record{"name": "b-local"})
	put(t, remote, "B", model.Record{"name": "b-remote"})
	put(t, remote, "C", model.Record{"name": "c"})

	res, err := New(local, remote, Options{}).List(context.Background(), "profiles")
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ids(res.Records))

	for _, rec := range res.Records {
		if rec.ID() == "B" {
			assert.Equal(t, "b-remote", rec["name"])
		}
	}
}

func TestReconciler_ListKeepsNewerLocalCopy(t *testing.T) {
	local, remote := newStores(t)
	put(t, local, "B", model.Record{"name": "edited offline", "updated_at": "2024-05-02T00:00:00Z"})
	put(t, remote, "B", model.Record{"name": "stale", "updated_at": "2024-05-01T00:00:00Z"})

	res, err := New(local, remote, Options{}).List(context.Background(), "profiles")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "edited offline", res.Records[0]["name"])
}

func TestReconciler_ListDegradesToLocal(t *testing.T) {
	local, remote := newStores(t)
	put(t, local, "A", model.Record{"name": "a"})

	r := New(local, downStore{remote}, Options{})
	res, err := r.List(context.Background(), "profiles")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Warning, "connection refused")
	assert.Equal(t, []string{"A"}, ids(res.Records))
}

func TestReconciler_ListFailsWhenBothFail(t *testing.T) {
	local, remote := newStores(t)
	_, err := New(local, downStore{remote}, Options{}).List(context.Background(), "campaigns")
	assert.ErrorIs(t, err, syncerr.ErrTableNotFound)
}

func TestReconciler_Get(t *testing.T) {
	ctx := context.Background()
	local, remote := newStores(t)
	put(t, local, "A", model.Record{"name": "local"})
	put(t, remote, "A", model.Record{"name": "remote"})
	put(t, remote, "C", model.Record{"name": "c"})
	r := New(local, remote, Options{})

	res, err := r.Get(ctx, "profiles", "A")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, res.Source)
	assert.Equal(t, "local", res.Record["name"])

	res, err = r.Get(ctx, "profiles", "C")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)

	res, err = r.Get(ctx, "profiles", "Z")
	require.ErrorIs(t, err, syncerr.ErrNotFound)
	assert.False(t, res.Degraded)

	_, err = r.Get(ctx, "campaigns", "A")
	assert.ErrorIs(t, err, syncerr.ErrTableNotFound)
}

func TestReconciler_GetDegradedNotFound(t *testing.T) {
	local, remote := newStores(t)
	r := New(local, downStore{remote}, Options{})

	res, err := r.Get(context.Background(), "profiles", "Z")
	require.ErrorIs(t, err, syncerr.ErrNotFound)
	require.NotNil(t, res)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Warning)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		local  []model.Record
		remote []model.Record
		want   []model.Record
	}{
		{
			name:   "disjoint sets are unioned, remote first",
			local:  []model.Record{{"id": "A"}},
			remote: []model.Record{{"id": "C"}},
			want:   []model.Record{{"id": "C"}, {"id": "A"}},
		},
		{
			name:   "remote wins without timestamps",
			local:  []model.Record{{"id": "B", "v": 1}},
			remote: []model.Record{{"id": "B", "v": 2}},
			want:   []model.Record{{"id": "B", "v": 2}},
		},
		{
			name:   "remote wins on equal timestamps",
			local:  []model.Record{{"id": "B", "v": 1, "updated_at": "2024-01-01T00:00:00Z"}},
			remote: []model.Record{{"id": "B", "v": 2, "updated_at": "2024-01-01T00:00:00Z"}},
			want:   []model.Record{{"id": "B", "v": 2, "updated_at": "2024-01-01T00:00:00Z"}},
		},
		{
			name:   "remote wins when only local has a timestamp",
			local:  []model.Record{{"id": "B", "v": 1, "updated_at": "2030-01-01T00:00:00Z"}},
			remote: []model.Record{{"id": "B", "v": 2}},
			want:   []model.Record{{"id": "B", "v": 2}},
		},
		{
			name:   "empty",
			local:  nil,
			remote: nil,
			want:   []model.Record{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.local, tt.remote))
		})
	}
}
