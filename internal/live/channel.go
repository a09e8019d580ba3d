package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmehdipour/nyx-sync/internal/metrics"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"go.uber.org/zap"
)

// State of the channel's single transport connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Conn is the part of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// DialFunc opens a transport connection.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// DialWebsocket dials with gorilla's default dialer.
func DialWebsocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler receives frames of the type it subscribed to.
type Handler func(Frame)

type SubscriptionID uint64

type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration // default 30s
	ReconnectInterval    time.Duration // default 5s
	MaxReconnectAttempts int           // failed dials before giving up; 0 means never give up
	DialTimeout          time.Duration // default 10s

	Dial   DialFunc
	Logger *zap.Logger

	// OnConnected runs after every successful (re)connect.
	OnConnected func()
	// OnConnectivityLost runs once the reconnect attempts are exhausted.
	OnConnectivityLost func(error)
}

// Channel is a reconnecting push connection with typed subscriptions.
type Channel struct {
	cfg Config
	log *zap.Logger

	mu            sync.Mutex
	state         State
	conn          Conn
	token         string
	attempts      int
	epoch         uint64 // bumped by Disconnect; stale timers and loops compare it
	timer         *time.Timer
	stopHeartbeat chan struct{}
	wg            sync.WaitGroup

	writeMu sync.Mutex

	subsMu  sync.RWMutex
	subs    map[string]map[SubscriptionID]Handler
	nextSub atomic.Uint64
}

func NewChannel(cfg Config) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Channel{
		cfg:  cfg,
		log:  cfg.Logger.Named("live"),
		subs: make(map[string]map[SubscriptionID]Handler),
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On subscribes h to frames of msgType. The returned id unsubscribes it.
func (c *Channel) On(msgType string, h Handler) SubscriptionID {
	id := SubscriptionID(c.nextSub.Add(1))
	c.subsMu.Lock()
	if c.subs[msgType] == nil {
		c.subs[msgType] = make(map[SubscriptionID]Handler)
	}
	c.subs[msgType][id] = h
	c.subsMu.Unlock()
	return id
}

// Off removes one subscription; other handlers of the same type stay.
func (c *Channel) Off(msgType string, id SubscriptionID) {
	c.subsMu.Lock()
	if hs := c.subs[msgType]; hs != nil {
		delete(hs, id)
		if len(hs) == 0 {
			delete(c.subs, msgType)
		}
	}
	c.subsMu.Unlock()
}

// Connect opens the transport unless the channel is already connected or
// connecting. It resets the reconnect counter, so it also revives a channel
// that gave up. A failed dial is returned and schedules a retry.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.token = token
	c.attempts = 0
	c.stopTimerLocked()
	c.state = StateConnecting
	epoch := c.epoch
	c.mu.Unlock()

	return c.dial(ctx, epoch)
}

func (c *Channel) dial(ctx context.Context, epoch uint64) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	c.mu.Lock()
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	conn, err := c.cfg.Dial(dctx, c.cfg.URL, header)

	c.mu.Lock()
	if epoch != c.epoch {
		// Disconnect ran while we were dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return syncerr.ErrChannelDisconnected
	}

	if err != nil && ctx.Err() != nil {
		// the caller gave up; not a connectivity failure
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Debug("live channel connect cancelled", zap.String("url", c.cfg.URL))
		return fmt.Errorf("dial %s: %w", c.cfg.URL, ctx.Err())
	}
	if err != nil {
		c.attempts++
		c.state = StateDisconnected
		attempt := c.attempts
		scheduled := c.scheduleReconnectLocked(epoch)
		c.mu.Unlock()

		metrics.LiveReconnects.Inc()
		c.log.Warn("live channel dial failed",
			zap.String("url", c.cfg.URL),
			zap.Int("attempt", attempt),
			zap.Bool("will_retry", scheduled),
			zap.Error(err),
		)
		if !scheduled {
			c.lost(fmt.Errorf("%w: gave up after %d attempts: %v", syncerr.ErrChannelDisconnected, attempt, err))
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	c.wg.Add(2)
	go c.readLoop(conn, stop)
	go c.heartbeat(conn, stop)
	c.mu.Unlock()

	metrics.LiveConnected.Set(1)
	c.log.Info("live channel connected", zap.String("url", c.cfg.URL))
	if c.cfg.OnConnected != nil {
		go c.cfg.OnConnected()
	}
	return nil
}

// scheduleReconnectLocked arms the reconnect timer unless the attempt cap is
// reached. Caller holds c.mu.
func (c *Channel) scheduleReconnectLocked(epoch uint64) bool {
	if c.cfg.MaxReconnectAttempts > 0 && c.attempts >= c.cfg.MaxReconnectAttempts {
		return false
	}
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.cfg.ReconnectInterval, func() { c.reconnect(epoch) })
	return true
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) reconnect(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.mu.Unlock()

	_ = c.dial(context.Background(), epoch)
}

func (c *Channel) lost(err error) {
	c.log.Error("live channel connectivity lost", zap.Error(err))
	if c.cfg.OnConnectivityLost != nil {
		go c.cfg.OnConnectivityLost(err)
	}
}

// Disconnect closes the transport and cancels the heartbeat and any pending
// reconnect. It waits for the connection goroutines, so it must not be called
// from inside a Handler.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
	metrics.LiveConnected.Set(0)
}

// dropped handles an unexpected end of conn: back to disconnected and a
// reconnect scheduled.
func (c *Channel) dropped(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// replaced or closed by Disconnect
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	c.state = StateDisconnected
	scheduled := c.scheduleReconnectLocked(c.epoch)
	c.mu.Unlock()

	_ = conn.Close()
	metrics.LiveConnected.Set(0)
	c.log.Warn("live channel dropped", zap.Bool("will_retry", scheduled), zap.Error(cause))
	if !scheduled {
		c.lost(fmt.Errorf("%w: %v", syncerr.ErrChannelDisconnected, cause))
	}
}

func (c *Channel) readLoop(conn Conn, stop <-chan struct{}) {
	defer c.wg.Done()

	dl, canDeadline := conn.(deadliner)
	for {
		if canDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(2 * c.cfg.HeartbeatInterval))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// closed on purpose
			default:
				c.dropped(conn, err)
			}
			return
		}
		c.handle(conn, data)
	}
}

func (c *Channel) handle(conn Conn, data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		c.log.Debug("ignoring frame", zap.Error(err))
		return
	}
	metrics.LiveFrames.WithLabelValues(f.Type).Inc()

	switch f.Type {
	case TypePing:
		if err := c.write(conn, pongFrame); err != nil {
			c.log.Debug("pong failed", zap.Error(err))
		}
		return
	case TypePong:
		return
	}

	c.subsMu.RLock()
	hs := make([]Handler, 0, len(c.subs[f.Type]))
	for _, h := range c.subs[f.Type] {
		hs = append(hs, h)
	}
	c.subsMu.RUnlock()

	for _, h := range hs {
		c.dispatch(h, f)
	}
}

func (c *Channel) dispatch(h Handler, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("live handler panicked", zap.String("type", f.Type), zap.Any("panic", r))
		}
	}()
	h(f)
}

func (c *Channel) heartbeat(conn Conn, stop <-chan struct{}) {
	defer c.wg.Done()

	tick := time.NewTicker(c.cfg.HeartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if err := c.write(conn, pingFrame); err != nil {
				// the read loop notices the closed conn and reconnects
				c.log.Debug("ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) write(conn Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
