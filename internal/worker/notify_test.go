package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	key, value string
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, key string, value []byte) error {
	p.calls = append(p.calls, publishCall{key, string(value)})
	return p.err
}

func TestChangeNotifier_PublishesKeyedEvent(t *testing.T) {
	pub := &fakePublisher{}
	n := NewChangeNotifier(pub, nil)
	n.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	n.Notify(context.Background(), model.SyncQueueEntry{TableName: "proxies", RecordID: "p1", Operation: model.OpUpdate})
	n.Notify(context.Background(), model.SyncQueueEntry{TableName: "proxies", RecordID: "p2", Operation: model.OpDelete})

	require.Len(t, pub.calls, 2)
	assert.Equal(t, "proxies/p1", pub.calls[0].key)
	assert.JSONEq(t,
		`{"type":"proxies.changed","table":"proxies","id":"p1","op":"update","at":"2024-05-01T12:00:00Z"}`,
		pub.calls[0].value)
	assert.JSONEq(t,
		`{"type":"proxies.deleted","table":"proxies","id":"p2","op":"delete","at":"2024-05-01T12:00:00Z"}`,
		pub.calls[1].value)
}

func TestChangeNotifier_SwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("leader not available")}
	n := NewChangeNotifier(pub, nil)

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), model.SyncQueueEntry{TableName: "proxies", RecordID: "p1", Operation: model.OpInsert})
	})
	assert.Len(t, pub.calls, 1)
}
