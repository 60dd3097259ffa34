package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"qms/token-sync/internal/hub"
	"qms/token-sync/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("channel closed")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ReconnectPolicy bounds automatic reconnection after a dropped connection.
// MaxTries 0 disables it; the next Connect call reconnects instead.
type ReconnectPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Options struct {
	URL              string
	Framing          Framing
	Header           http.Header
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	PingInterval     time.Duration
	Reconnect        ReconnectPolicy
}

// Channel owns the single push connection shared by every view and fans
// parsed events out to its subscribers.
type Channel struct {
	opts   Options
	hub    *hub.Hub
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	closed       bool
	reconnecting bool
	wg           sync.WaitGroup
}

func New(opts Options) (*Channel, error) {
	framing, err := ParseFraming(string(opts.Framing))
	if err != nil {
		return nil, err
	}
	opts.Framing = framing
	if _, err := endpointURL(opts.URL, opts.Framing); err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Reconnect.InitialInterval <= 0 {
		opts.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if opts.Reconnect.MaxInterval <= 0 {
		opts.Reconnect.MaxInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		opts:   opts,
		hub:    hub.New(),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Subscribe(listener hub.Listener) *hub.Subscription {
	return c.hub.Register(listener)
}

func (c *Channel) Unsubscribe(sub *hub.Subscription) {
	c.hub.Unregister(sub)
}

func (c *Channel) Subscribers() int {
	return c.hub.Len()
}

// Connect opens the push connection unless one is already open or being
// opened, in which case it returns nil immediately.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDisconnected
		log.Printf("realtime connect error url=%s err=%v", c.opts.URL, err)
		return fmt.Errorf("realtime connect: %w", err)
	}
	if c.closed {
		c.state = StateDisconnected
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	connectsTotal.Add(1)
	log.Printf("realtime connected url=%s framing=%s", c.opts.URL, c.opts.Framing)

	c.wg.Add(1)
	go c.readLoop(conn)
	if c.opts.PingInterval > 0 && c.opts.Framing == FramingRaw {
		c.wg.Add(1)
		go c.pingLoop(conn)
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := endpointURL(c.opts.URL, c.opts.Framing)
	if err != nil {
		return nil, err
	}
	if c.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close tears down the connection and stops reconnection. The channel
// cannot be reused afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	conn.SetPongHandler(func(string) error {
		c.touch(conn)
		return nil
	})
	c.touch(conn)

	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.touch(conn)
		if !c.handleFrame(data) {
			readErr = errors.New("closed by server frame")
			break
		}
	}
	c.handleClose(conn, readErr)
}

// handleFrame returns false when the frame asks for the connection to end.
func (c *Channel) handleFrame(data []byte) bool {
	f, err := decodeFrame(c.opts.Framing, data)
	if err != nil {
		eventsDroppedTotal.Add(1)
		log.Printf("realtime drop frame err=%v", err)
		return true
	}
	switch f.kind {
	case frameOpen, frameHeartbeat:
		return true
	case frameClose:
		log.Printf("realtime server close code=%d reason=%s", f.closeCode, f.closeReason)
		return false
	}
	for _, msg := range f.messages {
		c.dispatch(msg)
	}
	return true
}

func (c *Channel) dispatch(msg []byte) {
	event, err := models.ParseEvent(msg)
	if err != nil {
		eventsDroppedTotal.Add(1)
		log.Printf("realtime parse error err=%v", err)
		return
	}
	eventsReceivedTotal.Add(1)
	c.hub.Broadcast(event)
}

func (c *Channel) touch(conn *websocket.Conn) {
	if c.opts.IdleTimeout <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
}

func (c *Channel) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
	}
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()
	if closed {
		return
	}
	disconnectsTotal.Add(1)
	log.Printf("realtime disconnected err=%v", err)
	if c.opts.Reconnect.MaxTries > 0 {
		c.scheduleReconnect()
	}
}

func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnecting || c.closed {
		return
	}
	c.reconnecting = true
	c.wg.Add(1)
	go c.reconnectLoop()
}

func (c *Channel) reconnectLoop() {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	policy := c.opts.Reconnect
	timer := time.NewTimer(policy.InitialInterval)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return
	case <-timer.C:
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	_, err := backoff.Retry(c.ctx, func() (struct{}, error) {
		if err := c.Connect(c.ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("realtime reconnect retry in=%s err=%v", next, err)
		}),
	)
	if err != nil && !errors.Is(err, ErrClosed) {
		log.Printf("realtime reconnect gave up tries=%d err=%v", policy.MaxTries, err)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			deadline := time.Now().Add(c.opts.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("realtime ping error err=%v", err)
				return
			}
		}
	}
}
