package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/jmoiron/sqlx"
)

// QueueRepository persists the sync outbox in the local SQLite store.
//
// Entries are versioned: every coalesce or requeue bumps version, and the
// Mark* methods only apply when the caller still holds the current version.
type QueueRepository interface {
	Migrate(ctx context.Context) error
	// Upsert inserts e, or folds it into the active entry for the same
	// (table, record) and reports coalesced=true.
	Upsert(ctx context.Context, e model.SyncQueueEntry) (entry model.SyncQueueEntry, coalesced bool, err error)
	// Due returns pending entries whose next attempt is at or before now,
	// oldest enqueued first.
	Due(ctx context.Context, now time.Time, limit int) ([]model.SyncQueueEntry, error)
	MarkSynced(ctx context.Context, id, version int64, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, version int64, f Failure) (bool, error)
	Requeue(ctx context.Context, id int64, at time.Time) (model.SyncQueueEntry, error)
	Discard(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (model.SyncQueueEntry, error)
	List(ctx context.Context, f model.QueueFilter) ([]model.SyncQueueEntry, error)
	HasActive(ctx context.Context, table, recordID string) (bool, error)
	Stats(ctx context.Context) (map[model.QueueStatus]int64, error)
	PruneSynced(ctx context.Context, before time.Time) (int64, error)
}

// Failure is the state a failed replay leaves behind.
type Failure struct {
	Retries       int
	Status        model.QueueStatus // pending (will retry) | error (gave up)
	LastError     string
	NextAttemptAt time.Time
}

// QueueRepositoryImpl is a sqlx-backed implementation.
type QueueRepositoryImpl struct {
	db *sqlx.DB
}

var _ QueueRepository = (*QueueRepositoryImpl)(nil)

// NewQueueRepository constructs a QueueRepositoryImpl.
func NewQueueRepository(db *sqlx.DB) *QueueRepositoryImpl {
	return &QueueRepositoryImpl{db: db}
}

// Timestamps are stored as unix nanoseconds so ordering never depends on
// driver time parsing.
var queueDDL = []string{
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name      TEXT    NOT NULL,
		operation       TEXT    NOT NULL,
		record_id       TEXT    NOT NULL,
		payload         BLOB,
		enqueued_at     INTEGER NOT NULL,
		status          TEXT    NOT NULL DEFAULT 'pending',
		retries         INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT,
		version         INTEGER NOT NULL DEFAULT 1,
		next_attempt_at INTEGER NOT NULL DEFAULT 0,
		synced_at       INTEGER
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_queue_active
		ON sync_queue (table_name, record_id) WHERE status IN ('pending', 'error')`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_due
		ON sync_queue (status, next_attempt_at, enqueued_at)`,
}

const queueColumns = `id, table_name, operation, record_id, payload, enqueued_at, status,
	retries, last_error, version, next_attempt_at, synced_at`

type queueRow struct {
	ID            int64          `db:"id"`
	TableName     string         `db:"table_name"`
	Operation     string         `db:"operation"`
	RecordID      string         `db:"record_id"`
	Payload       []byte         `db:"payload"`
	EnqueuedAt    int64          `db:"enqueued_at"`
	Status        string         `db:"status"`
	Retries       int            `db:"retries"`
	LastError     sql.NullString `db:"last_error"`
	Version       int64          `db:"version"`
	NextAttemptAt int64          `db:"next_attempt_at"`
	SyncedAt      sql.NullInt64  `db:"synced_at"`
}

func (r queueRow) entry() model.SyncQueueEntry {
	e := model.SyncQueueEntry{
		ID:            r.ID,
		TableName:     r.TableName,
		Operation:     model.Operation(r.Operation),
		RecordID:      r.RecordID,
		Payload:       r.Payload,
		EnqueuedAt:    time.Unix(0, r.EnqueuedAt).UTC(),
		Status:        model.QueueStatus(r.Status),
		Retries:       r.Retries,
		Version:       r.Version,
		NextAttemptAt: time.Unix(0, r.NextAttemptAt).UTC(),
	}
	if r.LastError.Valid {
		msg := r.LastError.String
		e.LastError = &msg
	}
	if r.SyncedAt.Valid {
		t := time.Unix(0, r.SyncedAt.Int64).UTC()
		e.SyncedAt = &t
	}
	return e
}

// withTx runs fn in a new transaction and commits when fn succeeds.
func (r *QueueRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *QueueRepositoryImpl) Migrate(ctx context.Context) error {
	for _, stmt := range queueDDL {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sync_queue: %w", err)
		}
	}
	return nil
}

func (r *QueueRepositoryImpl) Upsert(ctx context.Context, e model.SyncQueueEntry) (model.SyncQueueEntry, bool, error) {
	const (
		qActive = `SELECT ` + queueColumns + ` FROM sync_queue
			WHERE table_name = ? AND record_id = ? AND status IN ('pending', 'error')
			LIMIT 1`
		qCoalesce = `UPDATE sync_queue
			SET operation = ?, payload = ?, enqueued_at = ?, status = 'pending', retries = 0,
				last_error = NULL, next_attempt_at = ?, version = version + 1
			WHERE id = ?`
		qInsert = `INSERT INTO sync_queue
			(table_name, operation, record_id, payload, enqueued_at, status, retries, version, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, 'pending', 0, 1, ?)`
	)

	var (
		out       model.SyncQueueEntry
		coalesced bool
	)
	enq := e.EnqueuedAt.UnixNano()

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur queueRow
		err := tx.GetContext(ctx, &cur, qActive, e.TableName, e.RecordID)
		switch {
		case err == nil:
			coalesced = true
			if _, err := tx.ExecContext(ctx, qCoalesce, e.Operation.String(), []byte(e.Payload), enq, enq, cur.ID); err != nil {
				return fmt.Errorf("coalesce entry %d: %w", cur.ID, err)
			}
			out, err = getEntry(ctx, tx, cur.ID)
			return err

		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, qInsert, e.TableName, e.Operation.String(), e.RecordID, []byte(e.Payload), enq, enq)
			if err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			out, err = getEntry(ctx, tx, id)
			return err

		default:
			return err
		}
	})
	return out, coalesced, err
}

func getEntry(ctx context.Context, q sqlx.QueryerContext, id int64) (model.SyncQueueEntry, error) {
	var row queueRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncQueueEntry{}, fmt.Errorf("%w: queue entry %d", syncerr.ErrNotFound, id)
	}
	if err != nil {
		return model.SyncQueueEntry{}, err
	}
	return row.entry(), nil
}

func (r *QueueRepositoryImpl) Due(ctx context.Context, now time.Time, limit int) ([]model.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + queueColumns + ` FROM sync_queue
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY enqueued_at, id
		LIMIT ?`

	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, q, now.UnixNano(), limit); err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

func (r *QueueRepositoryImpl) MarkSynced(ctx context.Context, id, version int64, at time.Time) (bool, error) {
	const q = `UPDATE sync_queue
		SET status = 'synced', synced_at = ?, last_error = NULL
		WHERE id = ? AND version = ? AND status = 'pending'`
	return r.execOne(ctx, q, at.UnixNano(), id, version)
}

func (r *QueueRepositoryImpl) MarkFailed(ctx context.Context, id, version int64, f Failure) (bool, error) {
	if f.Status != model.QueuePending && f.Status != model.QueueError {
		return false, fmt.Errorf("%w: failure status %q", syncerr.ErrInvalidOperation, f.Status)
	}
	const q = `UPDATE sync_queue
		SET retries = ?, status = ?, last_error = ?, next_attempt_at = ?
		WHERE id = ? AND version = ? AND status = 'pending'`
	return r.execOne(ctx, q, f.Retries, f.Status.String(), f.LastError, f.NextAttemptAt.UnixNano(), id, version)
}

func (r *QueueRepositoryImpl) execOne(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepositoryImpl) Requeue(ctx context.Context, id int64, at time.Time) (model.SyncQueueEntry, error) {
	const q = `UPDATE sync_queue
		SET status = 'pending', retries = 0, last_error = NULL, next_attempt_at = ?, version = version + 1
		WHERE id = ?`

	var out model.SyncQueueEntry
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status != model.QueueError {
			return fmt.Errorf("%w: entry %d is %s", syncerr.ErrNotRequeueable, id, cur.Status)
		}
		if _, err := tx.ExecContext(ctx, q, at.UnixNano(), id); err != nil {
			return err
		}
		out, err = getEntry(ctx, tx, id)
		return err
	})
	return out, err
}

func (r *QueueRepositoryImpl) Discard(ctx context.Context, id int64) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status != model.QueueError {
			return fmt.Errorf("%w: entry %d is %s", syncerr.ErrNotRequeueable, id, cur.Status)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
		return err
	})
}

func (r *QueueRepositoryImpl) Get(ctx context.Context, id int64) (model.SyncQueueEntry, error) {
	return getEntry(ctx, r.db, id)
}

func (r *QueueRepositoryImpl) List(ctx context.Context, f model.QueueFilter) ([]model.SyncQueueEntry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + queueColumns + ` FROM sync_queue WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	if f.TableName != "" {
		q += " AND table_name = ?"
		args = append(args, f.TableName)
	}
	q += " ORDER BY enqueued_at, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

func (r *QueueRepositoryImpl) HasActive(ctx context.Context, table, recordID string) (bool, error) {
	const q = `SELECT COUNT(1) FROM sync_queue
		WHERE table_name = ? AND record_id = ? AND status IN ('pending', 'error')`
	var n int
	if err := r.db.GetContext(ctx, &n, q, table, recordID); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *QueueRepositoryImpl) Stats(ctx context.Context) (map[model.QueueStatus]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int64  `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(1) AS n FROM sync_queue GROUP BY status`); err != nil {
		return nil, err
	}
	out := map[model.QueueStatus]int64{
		model.QueuePending: 0,
		model.QueueSynced:  0,
		model.QueueError:   0,
	}
	for _, row := range rows {
		out[model.QueueStatus(row.Status)] = row.N
	}
	return out, nil
}

func (r *QueueRepositoryImpl) PruneSynced(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = 'synced' AND synced_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toEntries(rows []queueRow) []model.SyncQueueEntry {
	out := make([]model.SyncQueueEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.entry())
	}
	return out
}
