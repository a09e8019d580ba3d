package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmehdipour/nyx-sync/internal/service/queue"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"go.uber.org/zap"
)

// Recorder receives one row per replay attempt. Record must not block.
type Recorder interface {
	Record(row model.SyncLogRow)
}

type nopRecorder struct{}

func (nopRecorder) Record(model.SyncLogRow) {}

// Notifier is told about every mutation that reached the remote store.
type Notifier interface {
	Notify(ctx context.Context, e model.SyncQueueEntry)
}

// DrainResult summarises one Drain call.
type DrainResult struct {
	Attempted  int `json:"attempted"`
	Synced     int `json:"synced"`
	Retried    int `json:"retried"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`    // breaker open or cancelled before start
	Superseded int `json:"superseded"` // coalesced while the replay was in flight
}

func (r *DrainResult) add(o DrainResult) {
	r.Attempted += o.Attempted
	r.Synced += o.Synced
	r.Retried += o.Retried
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Superseded += o.Superseded
}

// Drainer replays queue entries against the remote store:
// - a single pass at a time (drain is serialised),
// - due pending entries, oldest first, fanned out to Workers goroutines,
// - at most one in-flight replay per (table, record).
type Drainer struct {
	// Dependencies
	Repo     repository.QueueRepository
	Remote   store.Store
	Recorder Recorder
	Notifier Notifier // optional
	Log      *zap.Logger

	// Behavior
	Workers       int           // concurrent replays
	MaxRetries    int           // failed attempts before an entry goes to error
	BaseDelay     time.Duration // backoff base: BaseDelay * 2^retries
	MaxDelay      time.Duration // backoff cap
	BatchSize     int           // entries fetched per round
	Interval      time.Duration // periodic drain in Run
	ReplayTimeout time.Duration // per remote call
	PruneAfter    time.Duration // synced entries older than this are deleted; 0 keeps them
	Now           func() time.Time

	drainMu sync.Mutex
	trigger chan struct{}
}

// NewDrainer builds a drainer with sane defaults.
func NewDrainer(repo repository.QueueRepository, remote store.Store, log *zap.Logger) *Drainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Drainer{
		Repo:          repo,
		Remote:        remote,
		Recorder:      nopRecorder{},
		Log:           log.Named("drainer"),
		Workers:       4,
		MaxRetries:    5,
		BaseDelay:     time.Second,
		MaxDelay:      5 * time.Minute,
		BatchSize:     100,
		Interval:      10 * time.Second,
		ReplayTimeout: 15 * time.Second,
		Now:           time.Now,
		trigger:       make(chan struct{}, 1),
	}
}

// Trigger asks Run for an immediate drain, e.g. when connectivity comes back.
// Triggers that arrive while one is pending are merged.
func (d *Drainer) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Backoff is the delay before the next attempt of an entry that has failed
// retries times.
func (d *Drainer) Backoff(retries int) time.Duration {
	delay := d.BaseDelay
	for i := 0; i < retries; i++ {
		delay *= 2
		if d.MaxDelay > 0 && delay >= d.MaxDelay {
			return d.MaxDelay
		}
	}
	if d.MaxDelay > 0 && delay > d.MaxDelay {
		return d.MaxDelay
	}
	return delay
}

// Run drains on every Interval tick and on Trigger, until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	if d.Interval <= 0 {
		d.Interval = 10 * time.Second
	}
	tick := time.NewTicker(d.Interval)
	defer tick.Stop()

	d.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		case <-d.trigger:
		}
		d.pass(ctx)
	}
}

func (d *Drainer) pass(ctx context.Context) {
	res, err := d.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		d.Log.Warn("drain failed", zap.Error(err))
	}
	if res.Attempted > 0 {
		d.Log.Info("drain finished",
			zap.Int("attempted", res.Attempted),
			zap.Int("synced", res.Synced),
			zap.Int("retried", res.Retried),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
			zap.Int("superseded", res.Superseded),
		)
	}

	if d.PruneAfter > 0 && ctx.Err() == nil {
		if n, err := d.Repo.PruneSynced(ctx, d.Now().Add(-d.PruneAfter)); err != nil {
			d.Log.Warn("prune synced entries failed", zap.Error(err))
		} else if n > 0 {
			d.Log.Debug("pruned synced entries", zap.Int64("count", n))
		}
	}

	if stats, err := d.Repo.Stats(context.WithoutCancel(ctx)); err == nil {
		for st, n := range stats {
			metrics.QueueDepth.WithLabelValues(st.String()).Set(float64(n))
		}
	}
}

// Drain replays every due pending entry once. After ctx is cancelled no new
// replay starts; replays already started run to completion.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.ReplayTimeout <= 0 {
		d.ReplayTimeout = 15 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	var total DrainResult
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		entries, err := d.Repo.Due(ctx, d.Now(), d.BatchSize)
		if err != nil {
			return total, fmt.Errorf("load due entries: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		res := d.round(ctx, entries)
		total.add(res)

		// A short batch means the queue is exhausted; a round without
		// progress means the remote is refusing calls.
		progressed := res.Synced + res.Retried + res.Failed + res.Superseded
		if len(entries) < d.BatchSize || progressed == 0 {
			return total, ctx.Err()
		}
	}
}

func (d *Drainer) round(ctx context.Context, entries []model.SyncQueueEntry) DrainResult {
	var (
		mu  sync.Mutex
		res DrainResult
		wg  sync.WaitGroup
	)
	collect := func(r DrainResult) {
		mu.Lock()
		res.add(r)
		mu.Unlock()
	}

	jobs := make(chan model.SyncQueueEntry)
	for i := 0; i < d.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range jobs {
				if ctx.Err() != nil {
					collect(DrainResult{Skipped: 1})
					continue
				}
				collect(d.replayOne(ctx, e))
			}
		}()
	}

	// The queue holds one active entry per record; inFlight keeps the
	// one-replay-per-record rule even if that ever stops being true.
	inFlight := make(map[string]struct{}, len(entries))
dispatch:
	for _, e := range entries {
		key := e.TableName + "\x00" + e.RecordID
		if _, dup := inFlight[key]; dup {
			collect(DrainResult{Skipped: 1})
			continue
		}
		inFlight[key] = struct{}{}

		select {
		case jobs <- e:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	return res
}

func (d *Drainer) replayOne(ctx context.Context, e model.SyncQueueEntry) DrainResult {
	// In-flight work is detached from the caller's cancellation so a remote
	// write is never abandoned half way; the timeout still bounds it.
	base := context.WithoutCancel(ctx)
	rctx, cancel := context.WithTimeout(base, d.ReplayTimeout)
	defer cancel()

	start := time.Now()
	err := d.apply(rctx, e)
	elapsed := time.Since(start)
	metrics.ReplayDuration.WithLabelValues(e.Operation.String()).Observe(elapsed.Seconds())

	if errors.Is(err, syncerr.ErrBreakerOpen) {
		return DrainResult{Skipped: 1}
	}

	mctx, mcancel := context.WithTimeout(base, 5*time.Second)
	defer mcancel()

	attempt := e.Retries + 1
	row := model.SyncLogRow{
		EntryID:    e.ID,
		TableName:  e.TableName,
		RecordID:   e.RecordID,
		Operation:  e.Operation.String(),
		Attempt:    uint32(attempt),
		DurationMs: uint32(elapsed.Milliseconds()),
		OccurredAt: d.Now().UTC(),
	}

	if err == nil {
		ok, merr := d.Repo.MarkSynced(mctx, e.ID, e.Version, d.Now())
		if merr != nil {
			d.Log.Error("mark synced failed", zap.Int64("entry_id", e.ID), zap.Error(merr))
			return DrainResult{Attempted: 1}
		}
		row.Outcome = model.OutcomeSynced.String()
		d.Recorder.Record(row)
		metrics.ReplayTotal.WithLabelValues(e.TableName, model.OutcomeSynced.String()).Inc()
		if d.Notifier != nil {
			d.Notifier.Notify(mctx, e)
		}
		if !ok {
			// a newer mutation was coalesced in; it stays pending
			return DrainResult{Attempted: 1, Superseded: 1}
		}
		return DrainResult{Attempted: 1, Synced: 1}
	}

	rerr := &syncerr.ReplayError{EntryID: e.ID, Table: e.TableName, Record: e.RecordID, Attempt: attempt, Err: err}

	f := repository.Failure{
		Retries:   attempt,
		Status:    model.QueuePending,
		LastError: err.Error(),
	}
	outcome := model.OutcomeRetry
	if attempt >= d.MaxRetries || errors.Is(err, errPoison) {
		f.Status = model.QueueError
		outcome = model.OutcomeError
	} else {
		f.NextAttemptAt = d.Now().Add(d.Backoff(attempt))
	}

	ok, merr := d.Repo.MarkFailed(mctx, e.ID, e.Version, f)
	if merr != nil {
		d.Log.Error("mark failed failed", zap.Int64("entry_id", e.ID), zap.Error(merr))
		return DrainResult{Attempted: 1}
	}

	row.Outcome = outcome.String()
	row.Error = err.Error()
	d.Recorder.Record(row)
	metrics.ReplayTotal.WithLabelValues(e.TableName, outcome.String()).Inc()

	if !ok {
		return DrainResult{Attempted: 1, Superseded: 1}
	}
	if outcome == model.OutcomeError {
		d.Log.Error("replay gave up", zap.Error(rerr), zap.Int("retries", attempt))
		return DrainResult{Attempted: 1, Failed: 1}
	}
	d.Log.Warn("replay failed, will retry",
		zap.Error(rerr),
		zap.Time("next_attempt_at", f.NextAttemptAt),
	)
	return DrainResult{Attempted: 1, Retried: 1}
}

var errPoison = errors.New("undecodable payload")

func (d *Drainer) apply(ctx context.Context, e model.SyncQueueEntry) error {
	switch e.Operation {
	case model.OpInsert, model.OpUpdate:
		rec, err := queue.DecodePayload(e)
		if err != nil {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		return d.Remote.Put(ctx, e.TableName, e.RecordID, rec)
	case model.OpDelete:
		err := d.Remote.Delete(ctx, e.TableName, e.RecordID)
		if errors.Is(err, syncerr.ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: %q", errPoison, e.Operation)
	}
}
