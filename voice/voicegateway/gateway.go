// Package voicegateway implements the control connection of a Discord voice
// session: the Hello, Identify, Ready and SessionDescription handshake, the
// heartbeat, and the commands that go over it.
package voicegateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/internal/heart"
	"github.com/diamondburned/voicelink/utils/ws"
)

var (
	ErrNoSessionID = errors.New("no sessionID was received")
	ErrNoEndpoint  = errors.New("no endpoint was received")
	// ErrClosed is returned by Send once the gateway has stopped.
	ErrClosed = errors.New("voice gateway is closed")
	// ErrSSRCAlreadySet is logged if a second Ready tries to change the SSRC.
	ErrSSRCAlreadySet = errors.New("SSRC is already set")
)

// DefaultTimeout is the default timeout for each command sent during the
// handshake.
const DefaultTimeout = 25 * time.Second

// State contains state information of a voice gateway.
type State struct {
	GuildID   discord.GuildID
	ChannelID discord.ChannelID
	UserID    discord.UserID

	SessionID string
	Token     string
	Endpoint  string
}

type sendReq struct {
	ctx  context.Context
	cmd  ws.Event
	errc chan error
}

// Gateway is a single voice gateway connection. A Gateway can only be
// connected once; reconnecting requires a new Gateway.
type Gateway struct {
	state  State // constant
	ws     *ws.Websocket
	resume bool

	status  atomic.Uint32
	ssrc    atomic.Uint32
	ssrcSet atomic.Bool
	beat    atomic.Uint64
	pace    *heart.Pacemaker // event loop only

	sendq chan sendReq
	done  chan struct{}

	outer struct {
		sync.Mutex
		ch        chan ws.Op
		started   bool
		lastError error
	}

	// Timeout is the timeout for each handshake command.
	Timeout time.Duration
	// MaxMissedHeartbeats is the number of consecutive unacknowledged
	// heartbeats after which the connection is considered dead.
	MaxMissedHeartbeats int
}

// New creates a new voice gateway that identifies once connected.
func New(state State) (*Gateway, error) {
	addr, err := EndpointURL(state.Endpoint)
	if err != nil {
		return nil, err
	}

	return NewCustom(ws.NewCustomWebsocket(ws.NewConn(Codec), Codec, addr, SendLimit()), state), nil
}

// NewResuming creates a new voice gateway that resumes the session described
// by state instead of identifying. ssrc is the SSRC given by the Ready event of
// the session being resumed, since no new Ready will arrive.
func NewResuming(state State, ssrc uint32) (*Gateway, error) {
	g, err := New(state)
	if err != nil {
		return nil, err
	}

	g.resume = true
	g.setSSRC(ssrc)

	return g, nil
}

// NewCustom creates a new voice gateway over the given websocket.
func NewCustom(websocket *ws.Websocket, state State) *Gateway {
	g := &Gateway{
		state: state,
		ws:    websocket,
		sendq: make(chan sendReq),
		done:  make(chan struct{}),

		Timeout:             DefaultTimeout,
		MaxMissedHeartbeats: heart.DefaultMaxMissed,
	}
	g.status.Store(uint32(Connecting))

	return g
}

// Resuming returns true if the gateway resumes instead of identifying.
func (g *Gateway) Resuming() bool { return g.resume }

// State returns the state that the gateway was created with.
func (g *Gateway) State() State { return g.state }

// Status returns the current handshake status.
func (g *Gateway) Status() Status { return Status(g.status.Load()) }

func (g *Gateway) setStatus(s Status) {
	g.status.Store(uint32(s))
	ws.WSDebug("Voice gateway status:", s)
}

// SSRC returns the SSRC given by Ready. ok is false if Ready hasn't arrived.
func (g *Gateway) SSRC() (ssrc uint32, ok bool) {
	if !g.ssrcSet.Load() {
		return 0, false
	}
	return g.ssrc.Load(), true
}

// setSSRC stores the SSRC once. Later calls return ErrSSRCAlreadySet.
func (g *Gateway) setSSRC(ssrc uint32) error {
	if g.ssrcSet.Load() {
		return ErrSSRCAlreadySet
	}
	g.ssrc.Store(ssrc)
	g.ssrcSet.Store(true)
	return nil
}

// Latency returns the round trip time of the last acknowledged heartbeat.
func (g *Gateway) Latency() time.Duration {
	g.outer.Lock()
	defer g.outer.Unlock()

	if g.pace == nil {
		return 0
	}
	return g.pace.Latency()
}

// Done returns a channel that is closed once the gateway has stopped.
func (g *Gateway) Done() <-chan struct{} { return g.done }

// LastError returns the error that stopped the gateway. It returns nil if the
// gateway is still running or was stopped by cancelling its context.
func (g *Gateway) LastError() error {
	g.outer.Lock()
	defer g.outer.Unlock()

	return g.outer.lastError
}

// Connect starts the gateway in the background and returns the channel of
// incoming Ops. The channel must be drained until it is closed. Cancelling ctx
// stops the gateway and sends a close frame. If the gateway stops for any other
// reason, the last Op is a *ws.CloseEvent.
//
// Malformed frames are logged and dropped. Decoded events, including unknown
// ones, are forwarded after the gateway has acted on them, except for a Ready
// arriving once the SSRC is already set, which is dropped.
func (g *Gateway) Connect(ctx context.Context) <-chan ws.Op {
	g.outer.Lock()
	defer g.outer.Unlock()

	if !g.outer.started {
		g.outer.started = true
		g.outer.ch = make(chan ws.Op, 4)
		go g.spin(ctx, g.outer.ch)
	}

	return g.outer.ch
}

func (g *Gateway) spin(ctx context.Context, out chan<- ws.Op) {
	var wg sync.WaitGroup

	inner, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
		g.finalize(ctx, out)
	}()

	// Exactly one goroutine writes to the websocket.
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.writeLoop(inner)
	}()

	g.setStatus(Connecting)

	src, err := g.ws.Dial(ctx)
	if err != nil {
		g.fail(ctx, out, errors.Wrap(err, "failed to connect to voice gateway"))
		return
	}

	g.setStatus(AwaitHello)

	dead := make(chan error, 1)
	beating := false

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-dead:
			g.fail(ctx, out, err)
			return

		case op, ok := <-src:
			if !ok {
				g.fail(ctx, out, ws.ErrWebsocketClosed)
				return
			}

			switch data := op.Data.(type) {
			case *ws.CloseEvent:
				g.setLastError(data)
				g.forward(ctx, out, op)
				return
			case *ws.BackgroundErrorEvent:
				ws.WSError(data)
				continue
			case *HelloEvent:
				if beating {
					ws.WSDebug("Voice gateway: ignoring repeated Hello")
					continue
				}
				beating = true

				wg.Add(1)
				go func() {
					defer wg.Done()
					g.heartbeatLoop(inner, data.HeartbeatInterval.Duration(), dead)
				}()
			}

			forward, err := g.handleOp(inner, op)
			if err != nil {
				g.fail(ctx, out, err)
				return
			}

			if forward {
				g.forward(ctx, out, op)
			}
		}
	}
}

// handleOp acts on op. A returned error is fatal. forward is false for ops
// the gateway rejected, which must not reach the caller.
func (g *Gateway) handleOp(ctx context.Context, op ws.Op) (forward bool, err error) {
	switch data := op.Data.(type) {
	case *HelloEvent:
		ctx, cancel := context.WithTimeout(ctx, g.Timeout)
		defer cancel()

		if g.resume {
			g.setStatus(Resuming)
			if err := g.Resume(ctx); err != nil {
				return false, errors.Wrap(err, "failed to resume")
			}
			return true, nil
		}

		g.setStatus(Identifying)
		if err := g.Identify(ctx); err != nil {
			return false, errors.Wrap(err, "failed to identify")
		}
		g.setStatus(AwaitReady)

	case *ReadyEvent:
		if err := g.setSSRC(data.SSRC); err != nil {
			ws.WSError(errors.Wrapf(err, "ignoring SSRC %d from Ready", data.SSRC))
			return false, nil
		}
		g.setStatus(AwaitSessionDescription)

	case *SessionDescriptionEvent:
		g.setStatus(Connected)

	case *HeartbeatAckEvent:
		g.outer.Lock()
		if g.pace != nil {
			g.pace.Echo()
		}
		g.outer.Unlock()

	case *ResumedEvent:
		ws.WSDebug("Voice gateway connection has been resumed.")
		g.setStatus(Connected)

	case *SpeakingEvent:
		ws.WSDebug("Voice gateway: SSRC", data.SSRC, "speaking:", data.Speaking)

	case *ClientConnectEvent:
		ws.WSDebug("Voice gateway: user", data.UserID, "connected")

	case *ClientDisconnectEvent:
		ws.WSDebug("Voice gateway: user", data.UserID, "disconnected")

	case *UnknownEvent:
		ws.WSDebug("Voice gateway: ignoring unknown op", data.Code, "data:", data.Data)
	}

	return true, nil
}

func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration, dead chan<- error) {
	p := heart.NewPacemaker(interval, func(ctx context.Context) error {
		beat := HeartbeatCommand(g.beat.Inc())
		return g.Send(ctx, &beat)
	})
	p.MaxMissed = g.MaxMissedHeartbeats
	defer p.Stop()

	g.outer.Lock()
	g.pace = p
	g.outer.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Ticks:
		}

		if err := pace(ctx, p); err != nil {
			if errors.Is(err, heart.ErrDead) {
				dead <- errors.Wrapf(err, "%d heartbeats missed", p.Missed())
				return
			}

			if ctx.Err() != nil {
				return
			}

			ws.WSError(errors.Wrap(err, "failed to send heartbeat"))
		}
	}
}

func pace(ctx context.Context, p *heart.Pacemaker) error {
	ctx, cancel := context.WithTimeout(ctx, p.Heartrate)
	defer cancel()

	return p.PaceCtx(ctx)
}

func (g *Gateway) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.sendq:
			req.errc <- g.ws.SendEvent(req.ctx, req.cmd)
		}
	}
}

// Send queues the given command for the single websocket writer and waits
// until it is written.
func (g *Gateway) Send(ctx context.Context, cmd ws.Event) error {
	ws.WSDebug("Voice gateway: sending op", cmd.Op())

	req := sendReq{ctx: ctx, cmd: cmd, errc: make(chan error, 1)}

	select {
	case g.sendq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrClosed
	}

	select {
	case err := <-req.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrClosed
	}
}

// Identify sends an Identify command built from the gateway's state.
func (g *Gateway) Identify(ctx context.Context) error {
	s := g.state
	if !s.GuildID.IsValid() || !s.UserID.IsValid() || s.SessionID == "" || s.Token == "" {
		return ErrMissingForIdentify
	}

	return g.Send(ctx, &IdentifyCommand{
		GuildID:   s.GuildID,
		UserID:    s.UserID,
		SessionID: s.SessionID,
		Token:     s.Token,
	})
}

// Resume sends a Resume command built from the gateway's state.
func (g *Gateway) Resume(ctx context.Context) error {
	s := g.state
	if !s.GuildID.IsValid() || s.SessionID == "" || s.Token == "" {
		return ErrMissingForResume
	}

	return g.Send(ctx, &ResumeCommand{
		GuildID:   s.GuildID,
		SessionID: s.SessionID,
		Token:     s.Token,
	})
}

// SelectProtocol sends a SelectProtocol command for the UDP protocol.
func (g *Gateway) SelectProtocol(ctx context.Context, data SelectProtocolData) error {
	return g.Send(ctx, &SelectProtocolCommand{
		Protocol: "udp",
		Data:     data,
	})
}

// Speaking sends a Speaking command with the SSRC given by Ready.
func (g *Gateway) Speaking(ctx context.Context, flag SpeakingFlag) error {
	ssrc, ok := g.SSRC()
	if !ok {
		return errors.New("cannot send Speaking before Ready")
	}

	return g.Send(ctx, &SpeakingCommand{
		Speaking: flag,
		Delay:    0,
		SSRC:     ssrc,
	})
}

func (g *Gateway) forward(ctx context.Context, out chan<- ws.Op, op ws.Op) {
	select {
	case out <- op:
	case <-ctx.Done():
	}
}

// fail records err and emits it as a CloseEvent.
func (g *Gateway) fail(ctx context.Context, out chan<- ws.Op, err error) {
	ws.WSDebug("Voice gateway failed:", err)

	ev := &ws.CloseEvent{Err: err, Code: -1}
	g.setLastError(ev)
	g.forward(ctx, out, ws.Op{Code: ev.Op(), Data: ev})
}

func (g *Gateway) setLastError(err error) {
	g.outer.Lock()
	g.outer.lastError = err
	g.outer.Unlock()
}

func (g *Gateway) finalize(ctx context.Context, out chan<- ws.Op) {
	var err error
	if ctx.Err() != nil {
		// Stopped by the caller: tell Discord we're leaving.
		err = g.ws.CloseGracefully()
	} else {
		err = g.ws.Close()
	}

	if err != nil && !errors.Is(err, ws.ErrWebsocketClosed) {
		ws.WSDebug("Voice gateway: error closing websocket:", err)
	}

	g.setStatus(Closed)
	close(g.done)
	close(out)
}
