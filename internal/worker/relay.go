package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/kafka"
	"github.com/jmehdipour/nyx-sync/internal/live"
	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"go.uber.org/zap"
)

// MessageSource is the consumer side of the change topic.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// ChangeRelay:
// - fetches change events from Kafka,
// - drops anything that is not a well formed frame (commit and skip),
// - broadcasts the rest to every live client of the hub,
// - commits after the broadcast (at-least-once; refreshes are idempotent).
type ChangeRelay struct {
	Source MessageSource
	Hub    live.Broadcaster
	Log    *zap.Logger

	RetryWait time.Duration // pause after a fetch error
}

func NewChangeRelay(src MessageSource, hub live.Broadcaster, log *zap.Logger) *ChangeRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChangeRelay{
		Source:    src,
		Hub:       hub,
		Log:       log.Named("relay"),
		RetryWait: 200 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (r *ChangeRelay) Run(ctx context.Context) error {
	for {
		m, err := r.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.RetryWait):
			}
			continue
		}
		r.relayOne(ctx, m)
	}
}

func (r *ChangeRelay) relayOne(ctx context.Context, m kafka.Message) {
	f, err := live.ParseFrame(m.Value)
	if err != nil || f.Reserved() {
		// poison → commit, skip
		metrics.RelayedEvents.WithLabelValues("invalid").Inc()
		r.Log.Warn("dropping change event",
			zap.Int64("offset", m.Offset),
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	} else {
		r.Hub.Broadcast(f.Raw)
		metrics.RelayedEvents.WithLabelValues("broadcast").Inc()
	}

	if err := r.Source.Commit(ctx, m); err != nil && ctx.Err() == nil {
		r.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
