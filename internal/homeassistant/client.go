// Package homeassistant talks to a Home Assistant instance over its
// websocket API and exposes it as the host event bus and service caller.
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"notitap/internal/host"
)

var ErrAuthInvalid = errors.New("home assistant rejected the access token")

var (
	_ host.Bus           = (*Client)(nil)
	_ host.ServiceCaller = (*Client)(nil)
)

type Options struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
}

type listener struct {
	id      int
	handler host.EventHandler
}

type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	haVersion string
	nextID    int
	pending   map[int]chan result
	// event type -> subscription id on the current connection
	subscriptions map[string]int
	listeners     map[string][]listener
	listenerSeq   int

	connected atomic.Bool
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Client{
		opts:          opts,
		dialer:        &websocket.Dialer{HandshakeTimeout: opts.RequestTimeout},
		logger:        logger,
		pending:       make(map[int]chan result),
		subscriptions: make(map[string]int),
		listeners:     make(map[string][]listener),
	}
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) HAVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haVersion
}

// Run connects and keeps the connection open until ctx is done. After a
// disconnect it waits ReconnectDelay and dials again; listened event types
// are subscribed again on every new connection.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthInvalid) {
			return err
		}
		c.logger.Warn("Home Assistant connection lost", "error", err, "retryIn", c.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, version, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.disconnect(conn)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close() //nolint:errcheck
	})
	defer stop()

	c.mu.Lock()
	c.conn = conn
	c.haVersion = version
	c.nextID = 0
	c.subscriptions = make(map[string]int)
	eventTypes := make([]string, 0, len(c.listeners))
	for eventType := range c.listeners {
		eventTypes = append(eventTypes, eventType)
	}
	c.mu.Unlock()
	c.connected.Store(true)

	c.logger.Info("Connected to Home Assistant", "url", c.opts.URL, "version", version)

	for _, eventType := range eventTypes {
		if err := c.subscribe(eventType); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}

	return c.readLoop(ctx, conn)
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, string, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to dial %s: %w", c.opts.URL, err)
	}

	version, err := c.authenticate(conn)
	if err != nil {
		_ = conn.Close() //nolint:errcheck
		return nil, "", err
	}
	return conn, version, nil
}

func (c *Client) authenticate(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(c.opts.RequestTimeout)
	_ = conn.SetReadDeadline(deadline)      //nolint:errcheck
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	var msg incoming
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth request: %w", err)
	}
	if msg.Type != msgAuthRequired {
		return "", fmt.Errorf("unexpected message %q during handshake", msg.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: msgAuth, AccessToken: c.opts.Token}); err != nil {
		return "", fmt.Errorf("failed to send auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case msgAuthOK:
		return msg.HAVersion, nil
	case msgAuthInvalid:
		return "", fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return "", fmt.Errorf("unexpected message %q during handshake", msg.Type)
	}
}

func (c *Client) disconnect(conn *websocket.Conn) {
	c.connected.Store(false)
	_ = conn.Close() //nolint:errcheck

	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int]chan result)
	c.subscriptions = make(map[string]int)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: host.ErrNotConnected}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg incoming
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		switch msg.Type {
		case msgResult:
			c.resolve(msg)
		case msgEvent:
			if msg.Event != nil {
				c.dispatch(ctx, msg.Event)
			}
		case msgPong:
		default:
			c.logger.Debug("Ignoring Home Assistant message", "type", msg.Type, "id", msg.ID)
		}
	}
}

func (c *Client) resolve(msg incoming) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()

	var res result
	if !msg.Success {
		res.err = msg.Error
		if msg.Error == nil {
			res.err = &ResultError{Code: "unknown_error", Message: "command failed"}
		}
	}

	if ok {
		ch <- res
		return
	}
	if res.err != nil {
		c.logger.Warn("Home Assistant command failed", "id", msg.ID, "error", res.err)
	}
}

// dispatch runs the listeners registered for the event type when the event
// arrives, in registration order, on the read loop.
func (c *Client) dispatch(ctx context.Context, ev *eventPayload) {
	c.mu.Lock()
	ls := append([]listener(nil), c.listeners[ev.EventType]...)
	c.mu.Unlock()

	c.logger.Debug("Received event", "eventType", ev.EventType, "listeners", len(ls))

	event := host.Event{Type: ev.EventType, Data: ev.Data}
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	for _, l := range ls {
		l.handler(ctx, event)
	}
}

type sentCommand struct {
	id     int
	conn   *websocket.Conn
	result chan result
}

// send writes a command with the next id on the current connection. When
// wait is true the returned result channel receives the reply. Ids are
// assigned under writeMu so they reach Home Assistant in increasing order.
func (c *Client) send(msg map[string]any, wait bool) (sentCommand, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return sentCommand{}, host.ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	var ch chan result
	if wait {
		ch = make(chan result, 1)
		c.pending[id] = ch
	}
	c.mu.Unlock()

	msg["id"] = id
	if err := conn.WriteJSON(msg); err != nil {
		if wait {
			c.forget(id)
		}
		return sentCommand{}, fmt.Errorf("failed to write %v: %w", msg["type"], err)
	}
	return sentCommand{id: id, conn: conn, result: ch}, nil
}

func (c *Client) await(ctx context.Context, id int, ch chan result) error {
	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.err
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-timer.C:
		c.forget(id)
		return fmt.Errorf("timed out waiting for result %d", id)
	}
}

func (c *Client) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Fire sends fire_event and returns once it is written. A failed result is
// only logged.
func (c *Client) Fire(_ context.Context, eventType string, data map[string]any) error {
	msg := map[string]any{
		"type":       cmdFireEvent,
		"event_type": eventType,
	}
	if data != nil {
		msg["event_data"] = data
	}

	if _, err := c.send(msg, false); err != nil {
		return err
	}
	c.logger.Debug("Fired event", "eventType", eventType)
	return nil
}

func (c *Client) Call(ctx context.Context, domain, service string, data map[string]any) error {
	msg := map[string]any{
		"type":         cmdCallService,
		"domain":       domain,
		"service":      service,
		"service_data": data,
	}

	sent, err := c.send(msg, true)
	if err != nil {
		return err
	}
	if err := c.await(ctx, sent.id, sent.result); err != nil {
		return fmt.Errorf("call %s.%s failed: %w", domain, service, err)
	}
	return nil
}

// Listen registers handler for eventType. The first listener of a type
// subscribes on the current connection, if there is one; otherwise the
// subscription is made when Run connects.
func (c *Client) Listen(eventType string, handler host.EventHandler) (func(), error) {
	c.mu.Lock()
	c.listenerSeq++
	id := c.listenerSeq
	first := len(c.listeners[eventType]) == 0
	c.listeners[eventType] = append(c.listeners[eventType], listener{id: id, handler: handler})
	connected := c.conn != nil
	c.mu.Unlock()

	if first && connected {
		if err := c.subscribe(eventType); err != nil {
			c.removeListener(eventType, id)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.removeListener(eventType, id) })
	}, nil
}

func (c *Client) subscribe(eventType string) error {
	sent, err := c.send(map[string]any{
		"type":       cmdSubscribeEvents,
		"event_type": eventType,
	}, false)
	if err != nil {
		return err
	}

	if c.recordSubscription(sent.conn, eventType, sent.id) {
		c.logger.Debug("Subscribed to events", "eventType", eventType, "subscription", sent.id)
	}
	return nil
}

// recordSubscription stores the subscription id only while conn is still the
// current connection. Ids from a dropped connection mean nothing on the next.
func (c *Client) recordSubscription(conn *websocket.Conn, eventType string, subID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	c.subscriptions[eventType] = subID
	return true
}

func (c *Client) removeListener(eventType string, id int) {
	c.mu.Lock()
	ls := c.listeners[eventType]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}

	var subID int
	if len(ls) == 0 {
		delete(c.listeners, eventType)
		subID = c.subscriptions[eventType]
		delete(c.subscriptions, eventType)
	} else {
		c.listeners[eventType] = ls
	}
	c.mu.Unlock()

	if subID == 0 {
		return
	}
	if _, err := c.send(map[string]any{
		"type":         cmdUnsubscribeEvents,
		"subscription": subID,
	}, false); err != nil && !errors.Is(err, host.ErrNotConnected) {
		c.logger.Warn("Failed to unsubscribe", "eventType", eventType, "error", err)
	}
}
