package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-csync"

	"github.com/diamondburned/voicelink/utils/ws"
)

// DiscoveryTimeout is the default time to wait for an IP discovery response.
var DiscoveryTimeout = 10 * time.Second

type writeReq struct {
	b    []byte
	errc chan error
}

// Connection is a UDP connection to a voice server. A single goroutine reads
// the socket and another is the only one that writes to it, so a Connection is
// safe for concurrent use.
type Connection struct {
	conn    net.Conn
	inbound chan []byte
	sendq   chan writeReq
	stop    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once

	discoverMu csync.Mutex
	discovered *Discovery

	// DiscoveryTimeout is the time DiscoverIP waits for a response.
	DiscoveryTimeout time.Duration
}

// Discovery is the external address of the local socket as seen by the voice
// server.
type Discovery struct {
	Address string
	Port    uint16
}

// Dial dials the UDP connection using the given address.
func Dial(ctx context.Context, addr string) (*Connection, error) {
	return DialCustom(ctx, &Dialer, addr)
}

// DialCustom dials the UDP connection with a custom dialer.
func DialCustom(ctx context.Context, dialer *net.Dialer, addr string) (*Connection, error) {
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial host")
	}

	c := &Connection{
		conn:    conn,
		inbound: make(chan []byte, 64),
		sendq:   make(chan writeReq),
		stop:    make(chan struct{}),

		DiscoveryTimeout: DiscoveryTimeout,
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// LocalAddr returns the local address of the socket.
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the address of the voice server.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Inbound returns the channel of received datagrams. The channel is closed
// once the connection is closed.
func (c *Connection) Inbound() <-chan []byte { return c.inbound }

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.inbound)

	buf := make([]byte, MaxPacketSize)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			// ICMP errors surface on connected UDP sockets but do not end
			// them.
			ws.WSError(errors.Wrap(err, "voice UDP read error"))
			continue
		}

		b := make([]byte, n)
		copy(b, buf[:n])

		select {
		case c.inbound <- b:
		case <-c.stop:
			return
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			return
		case req := <-c.sendq:
			_, err := c.conn.Write(req.b)
			req.errc <- err
		}
	}
}

// Write sends a single datagram. It blocks until the datagram is written or
// ctx expires.
func (c *Connection) Write(ctx context.Context, b []byte) error {
	req := writeReq{b: b, errc: make(chan error, 1)}

	select {
	case c.sendq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrClosed
	}

	select {
	case err := <-req.errc:
		if err != nil {
			return errors.Wrap(err, "failed to write datagram")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return ErrClosed
	}
}

// DiscoverIP asks the voice server for the external address of this socket.
// The result is cached, so only the first call sends a probe. It must be called
// before any voice packet arrives, since it consumes the next inbound
// datagram as the response.
func (c *Connection) DiscoverIP(ctx context.Context, ssrc uint32) (Discovery, error) {
	if err := c.discoverMu.CLock(ctx); err != nil {
		return Discovery{}, err
	}
	defer c.discoverMu.Unlock()

	if c.discovered != nil {
		return *c.discovered, nil
	}

	if err := c.Write(ctx, DiscoveryProbe(ssrc)); err != nil {
		return Discovery{}, errors.Wrap(err, "failed to write discovery probe")
	}

	timeout := c.DiscoveryTimeout
	if timeout <= 0 {
		timeout = DiscoveryTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var b []byte
	var ok bool

	select {
	case b, ok = <-c.inbound:
		if !ok {
			return Discovery{}, ErrClosed
		}
	case <-timer.C:
		return Discovery{}, ErrDiscoveryTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Discovery{}, ErrDiscoveryTimeout
		}
		return Discovery{}, ctx.Err()
	}

	d, err := ParseDiscovery(b)
	if err != nil {
		return Discovery{}, err
	}

	c.discovered = &d
	return d, nil
}

// Close closes the connection. Calling Close more than once returns
// ErrClosed.
func (c *Connection) Close() error {
	err := ErrClosed

	c.closeOnce.Do(func() {
		close(c.stop)
		err = c.conn.Close()
		c.wg.Wait()
	})

	return err
}
