// Package ws provides abstractions around the Websocket, including the Op
// codec and rate limits.
package ws

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var (
	// WSError is the default error handler.
	WSError = func(err error) { log.Println("Gateway error:", err) }
	// WSDebug is used for extra debug logging. This is expected to behave
	// similarly to log.Println().
	WSDebug = func(v ...interface{}) {}
)

// Websocket is a wrapper around a websocket Connection with rate limiting for
// sending and dialing.
type Websocket struct {
	mutex sync.Mutex
	conn  Connection
	codec Codec
	addr  string
	limit SendLimit

	sendLimiter *rate.Limiter
	dialLimiter *rate.Limiter
}

// NewWebsocket creates a default Websocket with the given address.
func NewWebsocket(c Codec, addr string) *Websocket {
	return NewCustomWebsocket(NewConn(c), c, addr, DefaultSendLimit())
}

// NewCustomWebsocket creates a new undialed Websocket. Events given to
// SendEvent are encoded with c.
func NewCustomWebsocket(conn Connection, c Codec, addr string, limit SendLimit) *Websocket {
	return &Websocket{
		conn:  conn,
		codec: c,
		addr:  addr,
		limit: limit,

		sendLimiter: limit.newLimiter(),
		dialLimiter: NewDialLimiter(),
	}
}

// Addr returns the address that the Websocket dials.
func (ws *Websocket) Addr() string { return ws.addr }

// Dial waits until the rate limiter allows then dials the websocket.
func (ws *Websocket) Dial(ctx context.Context) (<-chan Op, error) {
	if err := ws.dialLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to wait for dial rate limiter")
	}

	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	ws.sendLimiter = ws.limit.newLimiter()

	return ws.conn.Dial(ctx, ws.addr)
}

// Send sends b over the Websocket once the send rate limiter allows it.
func (ws *Websocket) Send(ctx context.Context, b []byte) error {
	return ws.send(ctx, b, true)
}

// SendEvent encodes ev and sends it. It waits for the send rate limiter unless
// the SendLimit leaves the Op code of ev unthrottled.
func (ws *Websocket) SendEvent(ctx context.Context, ev Event) error {
	b, err := ws.codec.Encode(ev)
	if err != nil {
		return err
	}

	return ws.send(ctx, b, ws.limit.Throttles(ev.Op()))
}

func (ws *Websocket) send(ctx context.Context, b []byte, throttle bool) error {
	ws.mutex.Lock()
	sendLimiter := ws.sendLimiter
	conn := ws.conn
	ws.mutex.Unlock()

	if throttle {
		if err := sendLimiter.Wait(ctx); err != nil {
			WSDebug("Send rate limiter timed out.")
			return errors.Wrap(err, "SendLimiter failed")
		}
	}

	return conn.Send(ctx, b)
}

// Close closes the websocket connection without a close frame. If the
// Websocket was already closed before, ErrWebsocketClosed is returned.
func (ws *Websocket) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	return ws.conn.Close(false)
}

// CloseGracefully is similar to Close, but a proper close frame is sent to
// Discord, invalidating the voice session and voiding resumes.
func (ws *Websocket) CloseGracefully() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	return ws.conn.Close(true)
}
