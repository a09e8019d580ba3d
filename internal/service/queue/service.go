package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"go.uber.org/zap"
)

// TableSet tells the queue which tables it may accept mutations for.
type TableSet interface {
	Has(table string) bool
}

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// OnEnqueue is called after every durable enqueue, typically to poke
	// the drainer. It must not block.
	OnEnqueue func()
}

// Service is the MutationQueue: the durable outbox of local writes that still
// have to reach the remote store.
type Service struct {
	repo   repository.QueueRepository
	tables TableSet

	// mu serialises coalescing so two concurrent enqueues for the same record
	// never both insert or overwrite each other's payload.
	mu sync.Mutex

	now       func() time.Time
	onEnqueue func()
	log       *zap.Logger
}

// New constructs the queue service.
func New(repo repository.QueueRepository, tables TableSet, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:      repo,
		tables:    tables,
		now:       opts.Now,
		onEnqueue: opts.OnEnqueue,
		log:       opts.Logger.Named("queue"),
	}
}

// Enqueue durably records a mutation. An active (pending or error) entry for
// the same record absorbs it: operation and payload are overwritten, retries
// reset, and the entry goes back to pending.
func (s *Service) Enqueue(ctx context.Context, table string, op model.Operation, recordID string, payload []byte) (model.SyncQueueEntry, error) {
	if !op.Valid() {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: %q", syncerr.ErrInvalidOperation, op)
	}
	if recordID == "" {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: empty record id", syncerr.ErrInvalidOperation)
	}
	if s.tables != nil && !s.tables.Has(table) {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}
	if op != model.OpDelete && len(payload) == 0 {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: %s needs a payload", syncerr.ErrInvalidOperation, op)
	}
	if op == model.OpDelete {
		payload = nil
	}

	s.mu.Lock()
	entry, coalesced, err := s.repo.Upsert(ctx, model.SyncQueueEntry{
		TableName:  table,
		Operation:  op,
		RecordID:   recordID,
		Payload:    payload,
		EnqueuedAt: s.now().UTC(),
	})
	s.mu.Unlock()
	if err != nil {
		return model.SyncQueueEntry{}, fmt.Errorf("enqueue %s/%s: %w", table, recordID, err)
	}

	metrics.QueueEnqueued.WithLabelValues(table, op.String()).Inc()
	if coalesced {
		metrics.QueueCoalesced.WithLabelValues(table).Inc()
	}
	s.log.Debug("mutation enqueued",
		zap.Int64("entry_id", entry.ID),
		zap.String("table", table),
		zap.String("record_id", recordID),
		zap.String("operation", op.String()),
		zap.Bool("coalesced", coalesced),
	)

	if s.onEnqueue != nil {
		s.onEnqueue()
	}
	return entry, nil
}

// EnqueueRecord serialises rec as the entry payload.
func (s *Service) EnqueueRecord(ctx context.Context, table string, op model.Operation, rec model.Record) (model.SyncQueueEntry, error) {
	var payload []byte
	if op != model.OpDelete {
		b, err := json.Marshal(rec)
		if err != nil {
			return model.SyncQueueEntry{}, fmt.Errorf("marshal record: %w", err)
		}
		payload = b
	}
	return s.Enqueue(ctx, table, op, rec.ID(), payload)
}

// Requeue moves an error entry back to pending with zero retries.
func (s *Service) Requeue(ctx context.Context, id int64) (model.SyncQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.repo.Requeue(ctx, id, s.now().UTC())
	if err != nil {
		return model.SyncQueueEntry{}, err
	}
	s.log.Info("entry requeued", zap.Int64("entry_id", id), zap.String("table", e.TableName), zap.String("record_id", e.RecordID))
	if s.onEnqueue != nil {
		s.onEnqueue()
	}
	return e, nil
}

// Discard drops an error entry the operator decided not to replay.
func (s *Service) Discard(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Discard(ctx, id); err != nil {
		return err
	}
	s.log.Info("entry discarded", zap.Int64("entry_id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.SyncQueueEntry, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f model.QueueFilter) ([]model.SyncQueueEntry, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (map[model.QueueStatus]int64, error) {
	return s.repo.Stats(ctx)
}

// HasActive reports whether the record still has a mutation waiting to reach
// the remote store; the local copy owns the record until then.
func (s *Service) HasActive(ctx context.Context, table, recordID string) (bool, error) {
	return s.repo.HasActive(ctx, table, recordID)
}

// Prune deletes synced entries older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PruneSynced(ctx, s.now().Add(-retention))
}

// DecodePayload turns an entry payload back into a record.
func DecodePayload(e model.SyncQueueEntry) (model.Record, error) {
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("%w: entry %d has no payload", syncerr.ErrInvalidOperation, e.ID)
	}
	var rec model.Record
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return nil, fmt.Errorf("decode entry %d payload: %w", e.ID, err)
	}
	return rec, nil
}
