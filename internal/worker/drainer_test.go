package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/breaker"
	"github.com/jmehdipour/nyx-sync/internal/db"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmehdipour/nyx-sync/internal/service/queue"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// remoteStore counts writes and can fail or stall them.
type remoteStore struct {
	*store.MemoryStore
	err   error
	delay time.Duration
	// onPut runs inside Put, while the replay is in flight
	onPut func()

	puts     atomic.Int32
	deletes  atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newRemote(t *testing.T) *remoteStore {
	t.Helper()
	m := store.NewMemoryStore()
	require.NoError(t, m.EnsureTable(context.Background(), model.SchemaDefinition{TableName: "proxies"}))
	return &remoteStore{MemoryStore: m}
}

func (r *remoteStore) enter() func() {
	n := r.inFlight.Add(1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return func() { r.inFlight.Add(-1) }
}

func (r *remoteStore) Put(ctx context.Context, table, id string, doc model.Record) error {
	defer r.enter()()
	r.puts.Add(1)
	if r.onPut != nil {
		r.onPut()
	}
	if r.err != nil {
		return r.err
	}
	return r.MemoryStore.Put(ctx, table, id, doc)
}

func (r *remoteStore) Delete(ctx context.Context, table, id string) error {
	defer r.enter()()
	r.deletes.Add(1)
	if r.err != nil {
		return r.err
	}
	return r.MemoryStore.Delete(ctx, table, id)
}

type rowRecorder struct {
	mu   sync.Mutex
	rows []model.SyncLogRow
}

func (r *rowRecorder) Record(row model.SyncLogRow) {
	r.mu.Lock()
	r.rows = append(r.rows, row)
	r.mu.Unlock()
}

type notified struct {
	mu      sync.Mutex
	entries []model.SyncQueueEntry
}

func (n *notified) Notify(_ context.Context, e model.SyncQueueEntry) {
	n.mu.Lock()
	n.entries = append(n.entries, e)
	n.mu.Unlock()
}

type fixture struct {
	clk    *clock
	repo   *repository.QueueRepositoryImpl
	queue  *queue.Service
	remote *remoteStore
	d      *Drainer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dbx, err := db.NewSQLiteConnection(filepath.Join(t.TempDir(), "queue.db"), db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbx.Close() })

	repo := repository.NewQueueRepository(dbx)
	require.NoError(t, repo.Migrate(context.Background()))

	clk := newClock()
	remote := newRemote(t)
	d := NewDrainer(repo, remote, nil)
	d.Now = clk.Now
	d.BaseDelay = time.Second
	d.MaxDelay = time.Minute

	return &fixture{
		clk:    clk,
		repo:   repo,
		queue:  queue.New(repo, nil, queue.Options{Now: clk.Now}),
		remote: remote,
		d:      d,
	}
}

func (f *fixture) enqueue(t *testing.T, op model.Operation, rec model.Record) model.SyncQueueEntry {
	t.Helper()
	e, err := f.queue.EnqueueRecord(context.Background(), "proxies", op, rec)
	require.NoError(t, err)
	f.clk.Advance(time.Millisecond)
	return e
}

func TestDrainer_ReplaysOnlyTheCoalescedMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.enqueue(t, model.OpInsert, model.Record{"id": "p1", "port": 1})
	f.enqueue(t, model.OpUpdate, model.Record{"id": "p1", "port": 2})

	res, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 1, Synced: 1}, res)
	assert.Equal(t, int32(1), f.remote.puts.Load())

	got, err := f.remote.Get(ctx, "proxies", "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got["port"])
}

func TestDrainer_SecondDrainIsANoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enqueue(t, model.OpInsert, model.Record{"id": "p1"})
	f.enqueue(t, model.OpInsert, model.Record{"id": "p2"})

	_, err := f.d.Drain(ctx)
	require.NoError(t, err)
	res, err := f.d.Drain(ctx)
	require.NoError(t, err)

	assert.Zero(t, res.Attempted)
	assert.Equal(t, int32(2), f.remote.puts.Load())

	stats, err := f.repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[model.QueueSynced])
}

func TestDrainer_MutationCoalescedDuringReplayStaysPending(t *testing.T) {
	for name, remoteErr := range map[string]error{
		"replay succeeds": nil,
		"replay fails":    errors.New("connection reset"),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.d.MaxRetries = 1
			f.remote.err = remoteErr

			e := f.enqueue(t, model.OpInsert, model.Record{"id": "p1", "port": 1})

			var once sync.Once
			f.remote.onPut = func() {
				once.Do(func() {
					_, err := f.queue.EnqueueRecord(context.Background(), "proxies", model.OpUpdate, model.Record{"id": "p1", "port": 2})
					assert.NoError(t, err)
				})
			}

			res, err := f.d.Drain(ctx)
			require.NoError(t, err)
			assert.Equal(t, DrainResult{Attempted: 1, Superseded: 1}, res)

			got, err := f.repo.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, model.QueuePending, got.Status)
			assert.Equal(t, model.OpUpdate, got.Operation)
			assert.Zero(t, got.Retries)
			assert.Nil(t, got.SyncedAt)
			assert.JSONEq(t, `{"id":"p1","port":2}`, string(got.Payload))

			f.remote.err = nil
			res, err = f.d.Drain(ctx)
			require.NoError(t, err)
			assert.Equal(t, DrainResult{Attempted: 1, Synced: 1}, res)

			rec, err := f.remote.Get(ctx, "proxies", "p1")
			require.NoError(t, err)
			assert.Equal(t, float64(2), rec["port"])

			done, err := f.repo.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, model.QueueSynced, done.Status)
		})
	}
}

func TestDrainer_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.err = errors.New("connection reset")
	f.d.MaxRetries = 3
	rec := &rowRecorder{}
	f.d.Recorder = rec

	e := f.enqueue(t, model.OpInsert, model.Record{"id": "p1"})

	// not due again before the backoff elapses
	_, err := f.d.Drain(ctx)
	require.NoError(t, err)
	res, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)

	for i := 0; i < 5; i++ {
		f.clk.Advance(time.Hour)
		_, err := f.d.Drain(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), f.remote.puts.Load())

	got, err := f.repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueError, got.Status)
	assert.Equal(t, 3, got.Retries)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "connection reset")

	require.Len(t, rec.rows, 3)
	assert.Equal(t, "retry", rec.rows[0].Outcome)
	assert.Equal(t, uint32(1), rec.rows[0].Attempt)
	assert.Equal(t, "error", rec.rows[2].Outcome)
}

func TestDrainer_RespectsWorkerLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.delay = 20 * time.Millisecond
	f.d.Workers = 2

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		f.enqueue(t, model.OpInsert, model.Record{"id": id})
	}

	res, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Synced)
	assert.LessOrEqual(t, f.remote.maxSeen.Load(), int32(2))
}

func TestDrainer_SkipsWhileBreakerOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := breaker.New(1, time.Minute).WithClock(f.clk.Now)
	require.True(t, b.TryAcquire())
	b.OnFailure()
	f.d.Remote = store.NewGuarded(f.remote, b)

	e := f.enqueue(t, model.OpInsert, model.Record{"id": "p1"})

	res, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Skipped: 1}, res)
	assert.Zero(t, f.remote.puts.Load())

	got, err := f.repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, got.Status)
	assert.Zero(t, got.Retries, "an open breaker does not burn retries")
}

func TestDrainer_DeleteOfMissingRecordSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := &notified{}
	f.d.Notifier = n

	f.enqueue(t, model.OpDelete, model.Record{"id": "ghost"})

	res, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, int32(1), f.remote.deletes.Load())

	require.Len(t, n.entries, 1)
	assert.Equal(t, "ghost", n.entries[0].RecordID)
	assert.Equal(t, model.OpDelete, n.entries[0].Operation)
}

func TestDrainer_UndecodablePayloadGoesStraightToError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.queue.Enqueue(ctx, "proxies", model.OpInsert, "p1", []byte(`{broken`))
	require.NoError(t, err)

	res, err := f.d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, f.remote.puts.Load())

	got, err := f.repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueError, got.Status)
}

func TestDrainer_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, model.OpInsert, model.Record{"id": "p1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.d.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, f.remote.puts.Load())
}

func TestDrainer_Backoff(t *testing.T) {
	d := &Drainer{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, time.Second, d.Backoff(0))
	assert.Equal(t, 2*time.Second, d.Backoff(1))
	assert.Equal(t, 8*time.Second, d.Backoff(3))
	assert.Equal(t, 10*time.Second, d.Backoff(4))
	assert.Equal(t, 10*time.Second, d.Backoff(40))
}

func TestDrainer_RunDrainsOnTrigger(t *testing.T) {
	f := newFixture(t)
	f.d.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.d.Run(ctx)
		close(done)
	}()

	f.enqueue(t, model.OpInsert, model.Record{"id": "p1"})
	f.d.Trigger()

	assert.Eventually(t, func() bool { return f.remote.puts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestDrainer_RunReturnsAfterInFlightReplayIsMarked(t *testing.T) {
	f := newFixture(t)
	f.d.Interval = time.Hour
	f.remote.delay = 20 * time.Millisecond
	e := f.enqueue(t, model.OpInsert, model.Record{"id": "p1"})

	ctx, cancel := context.WithCancel(context.Background())
	f.remote.onPut = cancel

	require.NoError(t, f.d.Run(ctx))

	got, err := f.repo.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSynced, got.Status)
	assert.Equal(t, int32(1), f.remote.puts.Load())
}
