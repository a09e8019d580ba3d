package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// SyncLogRepository stores replay attempts in ClickHouse for reporting.
type SyncLogRepository interface {
	Migrate(ctx context.Context) error
	InsertBatch(ctx context.Context, rows []model.SyncLogRow) error
	List(ctx context.Context, table string, outcome model.ReplayOutcome, limit, offset int) ([]model.SyncLogRow, error)
}

type chSyncLogRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewSyncLogRepository(ch *sqlx.DB) SyncLogRepository {
	return &chSyncLogRepository{ch: ch}
}

const chSyncLogDDL = `
	CREATE TABLE IF NOT EXISTS sync_log (
		entry_id    Int64,
		table_name  LowCardinality(String),
		record_id   String,
		operation   LowCardinality(String),
		outcome     LowCardinality(String),
		attempt     UInt32,
		error       String,
		duration_ms UInt32,
		occurred_at DateTime64(3, 'UTC')
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (table_name, occurred_at, entry_id)
`

func (r *chSyncLogRepository) Migrate(ctx context.Context) error {
	_, err := r.ch.ExecContext(ctx, chSyncLogDDL)
	return err
}

// InsertBatch sends rows as one ClickHouse block: with the std driver a
// prepared INSERT inside a transaction is buffered and flushed on Commit.
func (r *chSyncLogRepository) InsertBatch(ctx context.Context, rows []model.SyncLogRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_log (entry_id, table_name, record_id, operation, outcome, attempt, error, duration_ms, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare sync_log insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.EntryID,
			row.TableName,
			row.RecordID,
			row.Operation,
			row.Outcome,
			row.Attempt,
			row.Error,
			row.DurationMs,
			row.OccurredAt,
		); err != nil {
			return fmt.Errorf("append sync_log row: %w", err)
		}
	}

	return tx.Commit()
}

func (r *chSyncLogRepository) List(ctx context.Context, table string, outcome model.ReplayOutcome, limit, offset int) ([]model.SyncLogRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT entry_id, table_name, record_id, operation, outcome, attempt, error, duration_ms, occurred_at
		FROM sync_log
		WHERE 1 = 1
	`
	var args []any

	if table != "" {
		q += " AND table_name = ?"
		args = append(args, table)
	}
	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome.String())
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.SyncLogRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
