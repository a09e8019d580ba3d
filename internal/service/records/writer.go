// Package records is the local write path: every change lands in the local
// store first and is then queued for the remote store.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/jmehdipour/nyx-sync/internal/util"
	"go.uber.org/zap"
)

// Enqueuer is the part of the queue service the writer needs.
type Enqueuer interface {
	EnqueueRecord(ctx context.Context, table string, op model.Operation, rec model.Record) (model.SyncQueueEntry, error)
}

type Writer struct {
	local   store.Store
	queue   Enqueuer
	schemas store.SchemaLookup
	now     func() time.Time
	newID   func() string
	locks   *store.RecordLocks
	log     *zap.Logger
}

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
	// Locks is shared with whatever else writes the local store, e.g. the
	// live refresher. Nil disables record locking.
	Locks *store.RecordLocks
}

func NewWriter(local store.Store, queue Enqueuer, schemas store.SchemaLookup, opts Options) *Writer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	return &Writer{
		local:   local,
		queue:   queue,
		schemas: schemas,
		now:     opts.Now,
		newID:   opts.NewID,
		locks:   opts.Locks,
		log:     opts.Logger.Named("records"),
	}
}

// Save writes rec locally and queues it. A record without id gets a fresh
// ULID and is an insert; otherwise it is an update if the id exists locally.
// updated_at is always stamped.
//
// The local write and the enqueue are two transactions. If the enqueue fails
// the local row stays and the error is returned; saving again queues it.
func (w *Writer) Save(ctx context.Context, table string, rec model.Record) (model.Record, model.SyncQueueEntry, error) {
	def, ok := w.schemas.Get(table)
	if !ok {
		return nil, model.SyncQueueEntry{}, fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}

	rec = rec.Clone()
	now := model.FormatTimestamp(w.now())
	op := model.OpUpdate

	id := rec.ID()
	if id == "" {
		id = w.newID()
		rec[model.FieldID] = id
		op = model.OpInsert
	}
	unlock := w.locks.Lock(table, id)
	defer unlock()

	if op == model.OpUpdate {
		existing, err := w.local.Get(ctx, table, id)
		switch {
		case errors.Is(err, syncerr.ErrNotFound):
			op = model.OpInsert
		case err != nil:
			return nil, model.SyncQueueEntry{}, fmt.Errorf("load %s/%s: %w", table, id, err)
		default:
			// a partial update keeps the stored fields
			for k, v := range existing {
				if _, set := rec[k]; !set {
					rec[k] = v
				}
			}
		}
	}

	if _, has := def.Column("created_at"); has && op == model.OpInsert {
		if _, set := rec["created_at"]; !set {
			rec["created_at"] = now
		}
	}
	if _, has := def.Column(model.FieldUpdatedAt); has {
		rec[model.FieldUpdatedAt] = now
	}

	if err := checkRequired(def, rec); err != nil {
		return nil, model.SyncQueueEntry{}, err
	}

	if err := w.local.Put(ctx, table, id, rec); err != nil {
		return nil, model.SyncQueueEntry{}, fmt.Errorf("write %s/%s locally: %w", table, id, err)
	}
	entry, err := w.queue.EnqueueRecord(ctx, table, op, rec)
	if err != nil {
		w.log.Error("local write not queued",
			zap.String("table", table), zap.String("record_id", id), zap.Error(err))
		return rec, model.SyncQueueEntry{}, err
	}
	return rec, entry, nil
}

// Delete removes the local copy and queues the remote delete.
func (w *Writer) Delete(ctx context.Context, table, id string) (model.SyncQueueEntry, error) {
	if _, ok := w.schemas.Get(table); !ok {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}
	if id == "" {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: empty record id", syncerr.ErrInvalidOperation)
	}
	unlock := w.locks.Lock(table, id)
	defer unlock()

	if err := w.local.Delete(ctx, table, id); err != nil {
		return model.SyncQueueEntry{}, fmt.Errorf("delete %s/%s locally: %w", table, id, err)
	}
	return w.queue.EnqueueRecord(ctx, table, model.OpDelete, model.Record{model.FieldID: id})
}

func checkRequired(def model.SchemaDefinition, rec model.Record) error {
	for _, c := range def.Columns {
		if !c.Has(model.ConstraintNotNull) || c.Default != nil || c.Name == def.PK() {
			continue
		}
		if v, ok := rec[c.Name]; !ok || v == nil {
			return fmt.Errorf("%w: %s.%s is required", syncerr.ErrInvalidOperation, def.TableName, c.Name)
		}
	}
	return nil
}
