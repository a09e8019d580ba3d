package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/nyx-sync/internal/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	failFirst bool
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if s.failFirst {
		s.failFirst = false
		s.mu.Unlock()
		return kafka.Message{}, errors.New("broker not available")
	}
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *fakeSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	s.committed = append(s.committed, m.Offset)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeHub struct {
	mu   sync.Mutex
	sent []string
}

func (h *fakeHub) Broadcast(b []byte) {
	h.mu.Lock()
	h.sent = append(h.sent, string(b))
	h.mu.Unlock()
}

func (h *fakeHub) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sent...)
}

func TestChangeRelay_BroadcastsValidFramesAndCommitsAll(t *testing.T) {
	src := &fakeSource{
		failFirst: true,
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"type":"proxies.changed","table":"proxies","id":"p1"}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"type":"ping"}`)},
			{Offset: 4, Value: []byte(`{"table":"proxies"}`)},
			{Offset: 5, Value: []byte(`{"type":"proxies.deleted","table":"proxies","id":"p2"}`)},
		},
	}
	hub := &fakeHub{}
	r := NewChangeRelay(src, hub, nil)
	r.RetryWait = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(src.commits()) == 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, src.commits())
	assert.Equal(t, []string{
		`{"type":"proxies.changed","table":"proxies","id":"p1"}`,
		`{"type":"proxies.deleted","table":"proxies","id":"p2"}`,
	}, hub.messages())
}
