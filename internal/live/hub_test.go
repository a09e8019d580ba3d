package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, token string) (*Hub, string) {
	t.Helper()
	hub := NewHub(HubOptions{Token: token})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialHub(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHub_RejectsMissingToken(t *testing.T) {
	_, url := startHub(t, "secret")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer wrong"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	hub, url := startHub(t, "secret")

	a := dialHub(t, url, http.Header{"Authorization": {"Bearer secret"}})
	b := dialHub(t, url+"?token=secret", nil)
	assert.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"proxies.changed","id":"p1"}`))
	assert.Equal(t, `{"type":"proxies.changed","id":"p1"}`, readText(t, a))
	assert.Equal(t, `{"type":"proxies.changed","id":"p1"}`, readText(t, b))
}

func TestHub_AnswersPing(t *testing.T) {
	_, url := startHub(t, "")
	conn := dialHub(t, url, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.JSONEq(t, `{"type":"pong"}`, readText(t, conn))
}

func TestHub_ForgetsClosedClients(t *testing.T) {
	hub, url := startHub(t, "")
	conn := dialHub(t, url, nil)
	assert.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RunClosesClientsOnShutdown(t *testing.T) {
	hub, url := startHub(t, "")
	conn := dialHub(t, url, nil)
	assert.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hub.Run(ctx); close(done) }()
	cancel()
	<-done

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, hub.Len())
}

func TestChannel_AgainstHub(t *testing.T) {
	hub, url := startHub(t, "secret")

	ch := NewChannel(Config{URL: url, HeartbeatInterval: time.Hour})
	defer ch.Disconnect()

	got := make(chan ChangeEvent, 1)
	ch.On("profiles.deleted", func(f Frame) {
		var ev ChangeEvent
		if f.Decode(&ev) == nil {
			got <- ev
		}
	})
	require.NoError(t, ch.Connect(context.Background(), "secret"))
	assert.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast([]byte(`{"type":"profiles.deleted","table":"profiles","id":"pr9"}`))
	select {
	case ev := <-got:
		assert.Equal(t, "pr9", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
