package queue

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/db"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tables []string

func (ts tables) Has(table string) bool {
	for _, t := range ts {
		if t == table {
			return true
		}
	}
	return false
}

func newService(t *testing.T, onEnqueue func()) (*Service, *repository.QueueRepositoryImpl) {
	t.Helper()
	dbx, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), "queue.db"), db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })

	repo := repository.NewQueueRepository(dbx)
	require.NoError(t, repo.Migrate(context.Background()))

	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := New(repo, tables{"proxies", "profiles"}, Options{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Millisecond)
			return now
		},
		OnEnqueue: onEnqueue,
	})
	return svc, repo
}

func TestService_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	_, err := svc.Enqueue(ctx, "proxies", "upsert", "p1", []byte(`{}`))
	assert.ErrorIs(t, err, syncerr.ErrInvalidOperation)

	_, err = svc.Enqueue(ctx, "proxies", model.OpInsert, "", []byte(`{}`))
	assert.ErrorIs(t, err, syncerr.ErrInvalidOperation)

	_, err = svc.Enqueue(ctx, "campaigns", model.OpInsert, "c1", []byte(`{}`))
	assert.ErrorIs(t, err, syncerr.ErrTableNotFound)

	_, err = svc.Enqueue(ctx, "proxies", model.OpUpdate, "p1", nil)
	assert.ErrorIs(t, err, syncerr.ErrInvalidOperation)
}

func TestService_CoalescesPerRecord(t *testing.T) {
	ctx := context.Background()
	var pokes int
	svc, _ := newService(t, func() { pokes++ })

	first, err := svc.EnqueueRecord(ctx, "proxies", model.OpInsert, model.Record{"id": "p1", "port": 1})
	require.NoError(t, err)
	second, err := svc.EnqueueRecord(ctx, "proxies", model.OpUpdate, model.Record{"id": "p1", "port": 2})
	require.NoError(t, err)
	third, err := svc.EnqueueRecord(ctx, "proxies", model.OpDelete, model.Record{"id": "p1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, model.OpDelete, third.Operation)
	assert.Empty(t, third.Payload)
	assert.Equal(t, 3, pokes)

	list, err := svc.List(ctx, model.QueueFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	active, err := svc.HasActive(ctx, "proxies", "p1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestService_RequeueResetsErrorEntry(t *testing.T) {
	ctx := context.Background()
	var pokes int
	svc, repo := newService(t, func() { pokes++ })

	e, err := svc.EnqueueRecord(ctx, "profiles", model.OpInsert, model.Record{"id": "pr1", "name": "a"})
	require.NoError(t, err)

	_, err = svc.Requeue(ctx, e.ID)
	require.ErrorIs(t, err, syncerr.ErrNotRequeueable)

	ok, err := repo.MarkFailed(ctx, e.ID, e.Version, repository.Failure{Retries: 5, Status: model.QueueError, LastError: "boom"})
	require.NoError(t, err)
	require.True(t, ok)

	back, err := svc.Requeue(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, back.Status)
	assert.Zero(t, back.Retries)
	assert.Equal(t, 2, pokes)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[model.QueuePending])
}

func TestService_EnqueueAbsorbsErrorEntry(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, nil)

	e, err := svc.EnqueueRecord(ctx, "proxies", model.OpInsert, model.Record{"id": "p1"})
	require.NoError(t, err)
	_, err = repo.MarkFailed(ctx, e.ID, e.Version, repository.Failure{Retries: 5, Status: model.QueueError, LastError: "boom"})
	require.NoError(t, err)

	again, err := svc.EnqueueRecord(ctx, "proxies", model.OpUpdate, model.Record{"id": "p1", "port": 9})
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.ID)
	assert.Equal(t, model.QueuePending, again.Status)
	assert.Zero(t, again.Retries)
	assert.Nil(t, again.LastError)
}

func TestService_ConcurrentEnqueueKeepsOneActiveEntry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	const writers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []model.SyncQueueEntry
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			e, err := svc.Enqueue(ctx, "proxies", model.OpUpdate, "p1", []byte(`{"id":"p1","port":`+strconv.Itoa(port)+`}`))
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, e)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.Len(t, results, writers)

	// every call landed on the same entry and each bumped its version once
	var last model.SyncQueueEntry
	versions := make(map[int64]bool, writers)
	for _, e := range results {
		assert.Equal(t, results[0].ID, e.ID)
		versions[e.Version] = true
		if e.Version > last.Version {
			last = e
		}
	}
	assert.Len(t, versions, writers)
	assert.Equal(t, int64(writers), last.Version)

	list, err := svc.List(ctx, model.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.QueuePending, list[0].Status)
	assert.Equal(t, last.Version, list[0].Version)
	assert.JSONEq(t, string(last.Payload), string(list[0].Payload))
}

func TestDecodePayload(t *testing.T) {
	rec, err := DecodePayload(model.SyncQueueEntry{Payload: []byte(`{"id":"p1","port":2}`)})
	require.NoError(t, err)
	assert.Equal(t, model.Record{"id": "p1", "port": float64(2)}, rec)

	_, err = DecodePayload(model.SyncQueueEntry{})
	assert.ErrorIs(t, err, syncerr.ErrInvalidOperation)

	_, err = DecodePayload(model.SyncQueueEntry{Payload: []byte(`not json`)})
	assert.Error(t, err)
}
