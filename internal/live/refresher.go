package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/store"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"go.uber.org/zap"
)

// ActiveChecker reports whether a record still has an unsynced local mutation.
type ActiveChecker interface {
	HasActive(ctx context.Context, table, recordID string) (bool, error)
}

type Broadcaster interface {
	Broadcast(msg []byte)
}

// Subscriber is the subscription half of Channel.
type Subscriber interface {
	On(msgType string, h Handler) SubscriptionID
	Off(msgType string, id SubscriptionID)
}

// Refresher pulls remotely changed records into the local store. Records with
// a pending local mutation are left alone: the queued write wins once it
// replays.
type Refresher struct {
	Local   store.Store
	Remote  store.Store
	Queue   ActiveChecker
	UI      Broadcaster // optional; receives every applied event
	Locks   *store.RecordLocks
	Timeout time.Duration
	Log     *zap.Logger
}

// Attach subscribes to the change and delete frames of every table and
// returns a func that removes those subscriptions.
func (r *Refresher) Attach(sub Subscriber, tables []string) func() {
	type subscription struct {
		typ string
		id  SubscriptionID
	}
	subs := make([]subscription, 0, 2*len(tables))
	for _, t := range tables {
		for _, typ := range []string{ChangedType(t), DeletedType(t)} {
			subs = append(subs, subscription{typ, sub.On(typ, r.handle)})
		}
	}
	return func() {
		for _, s := range subs {
			sub.Off(s.typ, s.id)
		}
	}
}

func (r *Refresher) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Refresher) handle(f Frame) {
	var ev ChangeEvent
	if err := f.Decode(&ev); err != nil {
		r.logger().Warn("bad change frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.Apply(ctx, ev); err != nil {
		r.logger().Warn("refresh failed",
			zap.String("table", ev.Table),
			zap.String("record_id", ev.ID),
			zap.Error(err),
		)
		return
	}
	if r.UI != nil {
		r.UI.Broadcast(f.Raw)
	}
}

// Apply brings the local copy of one record in line with the remote store.
func (r *Refresher) Apply(ctx context.Context, ev ChangeEvent) error {
	if ev.Table == "" {
		ev.Table, _, _ = strings.Cut(ev.Type, ".")
	}
	if ev.ID == "" || ev.Table == "" {
		return fmt.Errorf("%w: change event without table or id", ErrInvalidFrame)
	}

	var (
		rec model.Record
		err error
	)
	deleted := ev.Type == DeletedType(ev.Table)
	if !deleted {
		// read the remote copy before taking the record lock so a slow
		// remote never stalls local saves
		rec, err = r.Remote.Get(ctx, ev.Table, ev.ID)
		switch {
		case errors.Is(err, syncerr.ErrNotFound):
			deleted = true
		case err != nil:
			return err
		}
	}

	unlock := r.Locks.Lock(ev.Table, ev.ID)
	defer unlock()

	if r.Queue != nil {
		active, err := r.Queue.HasActive(ctx, ev.Table, ev.ID)
		if err != nil {
			return err
		}
		if active {
			r.logger().Debug("local mutation pending, skipping refresh",
				zap.String("table", ev.Table), zap.String("record_id", ev.ID))
			return nil
		}
	}

	if deleted {
		return r.Local.Delete(ctx, ev.Table, ev.ID)
	}
	return r.Local.Put(ctx, ev.Table, ev.ID, rec)
}
