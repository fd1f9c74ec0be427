package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const rwBufferSize = 1 << 14 // 16KB

// ErrWebsocketClosed is returned if the websocket is already closed.
var ErrWebsocketClosed = errors.New("websocket is closed")

// Connection is an interface that abstracts around a generic Websocket driver.
// The implementation doesn't have to be safe for concurrent sends; callers are
// expected to funnel all writes through one goroutine.
type Connection interface {
	// Dial dials the address. The returned channel is closed once the
	// connection is gone. If the connection was not closed by Close, the last
	// Op sent is a CloseEvent.
	Dial(context.Context, string) (<-chan Op, error)
	// Send sends a text frame.
	Send(context.Context, []byte) error
	// Close closes the connection. If gracefully is true, a close frame is
	// sent first.
	Close(gracefully bool) error
}

// Conn is the default Websocket connection, backed by gorilla/websocket.
type Conn struct {
	dialer websocket.Dialer
	codec  Codec

	mut  sync.Mutex
	conn *connState

	// CloseTimeout is the timeout for graceful closing. It's defaulted to 5s.
	CloseTimeout time.Duration
}

type connState struct {
	*websocket.Conn
	// wrmut is a semaphore for writing, since the close frame may be written
	// concurrently with a Send.
	wrmut  chan struct{}
	cancel context.CancelFunc
}

var _ Connection = (*Conn)(nil)

// NewConn creates a new default websocket connection with a default dialer.
func NewConn(codec Codec) *Conn {
	return NewConnWithDialer(codec, websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   rwBufferSize,
		WriteBufferSize:  rwBufferSize,
	})
}

// NewConnWithDialer creates a new default websocket connection with a custom
// dialer.
func NewConnWithDialer(codec Codec, dialer websocket.Dialer) *Conn {
	return &Conn{
		dialer:       dialer,
		codec:        codec,
		CloseTimeout: 5 * time.Second,
	}
}

// Dial implements Connection. If the websocket is already dialed, the old
// connection is closed first.
func (c *Conn) Dial(ctx context.Context, addr string) (<-chan Op, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.conn != nil {
		c.conn.close(c.CloseTimeout, false)
		c.conn = nil
	}

	conn, _, err := c.dialer.DialContext(ctx, addr, c.codec.Headers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial WS")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	ops := make(chan Op, 1)
	go readLoop(loopCtx, conn, c.codec, ops)

	c.conn = &connState{
		Conn:   conn,
		wrmut:  make(chan struct{}, 1),
		cancel: cancel,
	}

	return ops, nil
}

// Send implements Connection.
func (c *Conn) Send(ctx context.Context, b []byte) error {
	c.mut.Lock()
	conn := c.conn
	c.mut.Unlock()

	if conn == nil {
		return ErrWebsocketClosed
	}

	select {
	case conn.wrmut <- struct{}{}:
		defer func() { <-conn.wrmut }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if d, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(d)
		defer conn.SetWriteDeadline(time.Time{})
	}

	return conn.WriteMessage(websocket.TextMessage, b)
}

// Close implements Connection.
func (c *Conn) Close(gracefully bool) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.conn == nil {
		return ErrWebsocketClosed
	}

	err := c.conn.close(c.CloseTimeout, gracefully)
	c.conn = nil
	return err
}

func (c *connState) close(timeout time.Duration, gracefully bool) error {
	WSDebug("Conn: Close is called; shutting down the Websocket connection.")

	// Cancel the read loop first, so that it doesn't report our own closure
	// as a CloseEvent.
	c.cancel()

	if gracefully {
		deadline := time.Now().Add(timeout)
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case c.wrmut <- struct{}{}:
			c.SetWriteDeadline(deadline)

			if err := c.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			); err != nil {
				WSError(errors.Wrap(err, "failed to send close frame"))
			}

			<-c.wrmut
		case <-timer.C:
			// A Send is stuck; close the connection directly.
		}
	}

	err := c.Conn.Close()
	if err != nil {
		WSDebug("Conn: Websocket closed; error:", err)
	} else {
		WSDebug("Conn: Websocket closed successfully")
	}

	return err
}

func readLoop(ctx context.Context, conn *websocket.Conn, codec Codec, ops chan<- Op) {
	defer close(ops)

	for {
		t, b, err := conn.ReadMessage()
		if err != nil {
			// Closed by us; the caller already knows.
			if ctx.Err() != nil {
				return
			}

			WSDebug("Conn: fatal Conn error:", err)

			ev := &CloseEvent{Err: err, Code: -1}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				ev.Code = closeErr.Code
				ev.Err = fmt.Errorf("%d %s", closeErr.Code, closeErr.Text)
			}

			select {
			case ops <- Op{Code: ev.Op(), Data: ev}:
			case <-ctx.Done():
			}

			return
		}

		var op Op
		if t == websocket.TextMessage {
			op = codec.Decode(b)
		} else {
			op = newErrOp(fmt.Errorf("unexpected message type %d", t), "")
		}

		select {
		case ops <- op:
		case <-ctx.Done():
			return
		}
	}
}
