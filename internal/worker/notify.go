package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/live"
	"github.com/jmehdipour/nyx-sync/internal/model"
	"go.uber.org/zap"
)

// Publisher writes one keyed message to the change topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// ChangeNotifier publishes a change event for every replayed mutation so
// other devices refresh their local copy.
type ChangeNotifier struct {
	Pub     Publisher
	Log     *zap.Logger
	Now     func() time.Time
	Timeout time.Duration
}

func NewChangeNotifier(pub Publisher, log *zap.Logger) *ChangeNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChangeNotifier{Pub: pub, Log: log.Named("notifier"), Now: time.Now, Timeout: 5 * time.Second}
}

// Notify only logs publish errors; the replay already succeeded.
func (n *ChangeNotifier) Notify(ctx context.Context, e model.SyncQueueEntry) {
	ev := live.NewChangeEvent(e.TableName, e.RecordID, e.Operation, n.Now())
	b, err := ev.Encode()
	if err != nil {
		n.Log.Error("encode change event", zap.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()
	if err := n.Pub.Publish(pctx, e.TableName+"/"+e.RecordID, b); err != nil {
		n.Log.Warn("publish change event failed",
			zap.String("table", e.TableName),
			zap.String("record_id", e.RecordID),
			zap.Error(err),
		)
	}
}
