// Package rosbridge publishes control messages through a rosbridge v2 websocket.
package rosbridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robot-control/rcp/internal/channel"
)

// defaultWriteTimeout bounds a write when ctx has no deadline.
const defaultWriteTimeout = 2 * time.Second

type advertiseOp struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type publishOp struct {
	Op    string                 `json:"op"`
	Topic string                 `json:"topic"`
	Msg   map[string]interface{} `json:"msg"`
}

// lane is one websocket connection with its own writer slot. Emergency stops
// travel on a lane of their own so they never queue behind other commands.
type lane struct {
	name string

	// slot holds a token while a publish is in flight; one writer per conn.
	slot chan struct{}

	mu         sync.Mutex
	conn       *websocket.Conn
	advertised map[string]bool
}

func newLane(name string) *lane {
	return &lane{
		name:       name,
		slot:       make(chan struct{}, 1),
		advertised: make(map[string]bool),
	}
}

// acquire waits for the writer slot or ctx, whichever comes first.
func (l *lane) acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s lane: %w", l.name, ctx.Err())
	}
}

func (l *lane) release() {
	<-l.slot
}

// Client is a lazily connected rosbridge publisher. A broken connection is
// dropped and redialled on the next Publish.
type Client struct {
	url    string
	dialer *websocket.Dialer

	control *lane
	stop    *lane

	mu     sync.Mutex
	closed bool
}

// Compile-time assertion
var _ channel.Publisher = (*Client)(nil)

// New creates a client for a ws:// or wss:// rosbridge URL.
func New(url string, dialTimeout time.Duration) *Client {
	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
		control: newLane("control"),
		stop:    newLane("stop"),
	}
}

func (c *Client) laneFor(msg channel.Message) *lane {
	if msg.Topic == channel.TopicStop {
		return c.stop
	}
	return c.control
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Publish advertises the topic on first use and sends msg. Waiting for a busy
// connection honours ctx.
func (c *Client) Publish(ctx context.Context, msg channel.Message) error {
	l := c.laneFor(msg)
	if err := l.acquire(ctx); err != nil {
		return channel.Normalize(err)
	}
	defer l.release()

	if c.isClosed() {
		return fmt.Errorf("rosbridge client closed: %w", channel.ErrUnavailable)
	}

	conn, err := c.connect(ctx, l)
	if err != nil {
		return channel.Normalize(fmt.Errorf("dial %s: %w", c.url, err))
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		c.drop(l, conn)
		return channel.Normalize(err)
	}

	l.mu.Lock()
	advertised := l.advertised[msg.Topic]
	l.mu.Unlock()
	if !advertised {
		if err := conn.WriteJSON(advertiseOp{Op: "advertise", Topic: msg.Topic, Type: msg.Type}); err != nil {
			c.drop(l, conn)
			return channel.Normalize(fmt.Errorf("advertise %s: %w", msg.Topic, err))
		}
		l.mu.Lock()
		if l.conn == conn {
			l.advertised[msg.Topic] = true
		}
		l.mu.Unlock()
	}

	if err := conn.WriteJSON(publishOp{Op: "publish", Topic: msg.Topic, Msg: msg.Payload()}); err != nil {
		c.drop(l, conn)
		return channel.Normalize(fmt.Errorf("publish %s: %w", msg.Topic, err))
	}
	return nil
}

// Close closes both connections; later publishes fail with ErrUnavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	for _, l := range []*lane{c.control, c.stop} {
		l.mu.Lock()
		conn := l.conn
		l.conn = nil
		l.mu.Unlock()
		if conn == nil {
			continue
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// connect returns the lane's live connection, dialling if needed. Caller
// holds the lane's slot.
func (c *Client) connect(ctx context.Context, l *lane) (*websocket.Conn, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	log.Printf("rosbridge: %s lane connected to %s", l.name, c.url)

	l.mu.Lock()
	l.conn = conn
	l.advertised = make(map[string]bool)
	l.mu.Unlock()
	go c.readLoop(l, conn)
	return conn, nil
}

// readLoop drains status frames so control frames are processed, and drops
// the connection once the peer goes away.
func (c *Client) readLoop(l *lane, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.drop(l, conn)
			return
		}
	}
}

// drop forgets conn if it is still the lane's current connection.
func (c *Client) drop(l *lane, conn *websocket.Conn) {
	l.mu.Lock()
	current := l.conn == conn
	if current {
		l.conn = nil
	}
	l.mu.Unlock()
	_ = conn.Close()
	if current && !c.isClosed() {
		log.Printf("rosbridge: %s lane connection to %s dropped", l.name, c.url)
	}
}
