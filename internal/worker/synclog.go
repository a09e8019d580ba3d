package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	"go.uber.org/zap"
)

// SyncLogWriter buffers replay rows and writes them to ClickHouse in batches,
// flushing on size or on BatchWait, whichever comes first.
type SyncLogWriter struct {
	Repo      repository.SyncLogRepository
	BatchSize int
	BatchWait time.Duration
	Log       *zap.Logger

	in chan model.SyncLogRow
}

func NewSyncLogWriter(repo repository.SyncLogRepository, batchSize int, batchWait time.Duration, log *zap.Logger) *SyncLogWriter {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncLogWriter{
		Repo:      repo,
		BatchSize: batchSize,
		BatchWait: batchWait,
		Log:       log.Named("synclog"),
		in:        make(chan model.SyncLogRow, batchSize*4),
	}
}

// Record enqueues row; when the buffer is full the row is dropped, since the
// log is for reporting only and must never slow down replays.
func (w *SyncLogWriter) Record(row model.SyncLogRow) {
	select {
	case w.in <- row:
	default:
		w.Log.Warn("sync log buffer full, dropping row", zap.Int64("entry_id", row.EntryID))
	}
}

// Run flushes until ctx is cancelled, then flushes what is left.
func (w *SyncLogWriter) Run(ctx context.Context) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	buf := make([]model.SyncLogRow, 0, w.BatchSize)

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := w.Repo.InsertBatch(ctx, buf); err != nil {
			w.Log.Warn("sync log flush failed", zap.Int("rows", len(buf)), zap.Error(err))
		} else {
			w.Log.Debug("sync log flushed", zap.Int("rows", len(buf)))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// drain whatever is already buffered
			for {
				select {
				case row := <-w.in:
					buf = append(buf, row)
					continue
				default:
				}
				break
			}
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(fctx)
			cancel()
			return

		case row := <-w.in:
			buf = append(buf, row)
			if len(buf) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}
