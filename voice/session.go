package voice

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-csync"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/gateway"
	"github.com/diamondburned/voicelink/utils/handler"
	"github.com/diamondburned/voicelink/utils/ws"
	"github.com/diamondburned/voicelink/voice/udp"
	"github.com/diamondburned/voicelink/voice/voicegateway"
)

// Protocol is the encryption protocol that this library uses.
const Protocol = "xsalsa20_poly1305"

// WSTimeout is the default duration to wait for a join or reconnect to
// complete when the given context has no deadline.
const WSTimeout = 25 * time.Second

var (
	// ErrAlreadyJoined is returned if JoinChannel is called on a Session
	// that has already joined. A Session is good for a single join.
	ErrAlreadyJoined = errors.New("session has already joined a channel")
	// ErrNotConnected is returned when a Session is used before it joins or
	// after it shuts down.
	ErrNotConnected = errors.New("session is not connected")
)

// MainSession is the main Discord gateway as seen by a voice session: it
// dispatches voice state and voice server updates and accepts voice state
// commands.
type MainSession interface {
	handler.Handler[gateway.Event]
	// SendGateway sends a command over the main gateway.
	SendGateway(ctx context.Context, cmd gateway.Command) error
}

var _ MainSession = (*gateway.Bus)(nil)

// UDPDialer is the UDP dialer function type. It's the function signature for
// udp.Dial.
type UDPDialer = func(ctx context.Context, addr string) (*udp.Connection, error)

// JoinOptions configures a join.
type JoinOptions struct {
	Mute bool
	Deaf bool

	// Provider supplies outgoing audio. If nil, nothing is sent.
	Provider AudioProvider
	// Receiver gets incoming audio. If nil, incoming packets are dropped.
	Receiver AudioReceiver
}

// Session is a single voice session that wraps around the voice gateway and UDP
// connection. Events from the voice gateway and DisconnectedEvent are
// dispatched to its handlers.
type Session struct {
	*handler.Handlers[ws.Event]
	session MainSession
	userID  discord.UserID

	// ctx is cancelled by Shutdown to abort a pending join or reconnect.
	ctx    context.Context
	cancel context.CancelFunc

	mut    csync.Mutex
	joined bool
	opts   JoinOptions

	stateMu sync.Mutex
	state   voicegateway.State

	gwMu    sync.Mutex
	gateway *voicegateway.Gateway

	gwCancel context.CancelFunc
	gwDone   chan struct{}

	conn        *udp.Connection
	transformer *udp.Transformer
	audioCancel context.CancelFunc
	audioDone   chan struct{}

	detach       []func()
	shutdownOnce sync.Once

	// DialUDP is the custom function for dialing up a UDP connection.
	DialUDP UDPDialer
	// FrameDuration is the cadence of outgoing packets.
	FrameDuration time.Duration
	// WSTimeout is used when the context given to JoinChannel or Reconnect
	// has no deadline.
	WSTimeout time.Duration
}

// NewSession creates a new voice session for the given user.
func NewSession(ses MainSession, userID discord.UserID) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		Handlers: handler.New[ws.Event](),
		session:  ses,
		userID:   userID,
		ctx:      ctx,
		cancel:   cancel,
		state: voicegateway.State{
			UserID: userID,
		},
		DialUDP:       udp.Dial,
		FrameDuration: udp.FrameDuration,
		WSTimeout:     WSTimeout,
	}
}

// State returns the voice state of the session.
func (s *Session) State() voicegateway.State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.state
}

// Gateway returns the current voice gateway, or nil if the session is not
// connected.
func (s *Session) Gateway() *voicegateway.Gateway {
	s.gwMu.Lock()
	defer s.gwMu.Unlock()

	return s.gateway
}

func (s *Session) setGateway(g *voicegateway.Gateway) {
	s.gwMu.Lock()
	s.gateway = g
	s.gwMu.Unlock()
}

// withTimeout binds ctx to the lifetime of the session and applies WSTimeout
// if ctx has no deadline.
func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc

	if _, ok := ctx.Deadline(); !ok && s.WSTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.WSTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	stop := context.AfterFunc(s.ctx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

// JoinChannel joins the given voice channel. It sends a voice state update,
// waits for both the voice state and the voice server of the guild in either
// order, then connects. Nothing is retried; ctx bounds the whole join.
func (s *Session) JoinChannel(
	ctx context.Context, guildID discord.GuildID, chID discord.ChannelID, opts JoinOptions) error {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.mut.CLock(ctx); err != nil {
		return errors.Wrap(err, "failed to acquire session")
	}
	defer s.mut.Unlock()

	if s.joined {
		return ErrAlreadyJoined
	}
	s.joined = true
	s.opts = opts

	stateEv, serverEv, err := s.askDiscord(ctx, &gateway.UpdateVoiceStateCommand{
		GuildID:   guildID,
		ChannelID: chID,
		SelfMute:  opts.Mute,
		SelfDeaf:  opts.Deaf,
	})
	if err != nil {
		return err
	}

	s.stateMu.Lock()
	s.state = voicegateway.State{
		GuildID:   guildID,
		ChannelID: stateEv.ChannelID,
		UserID:    s.userID,
		SessionID: stateEv.SessionID,
		Token:     serverEv.Token,
		Endpoint:  serverEv.Endpoint,
	}
	s.stateMu.Unlock()

	s.detach = []func(){
		handler.AddSynchronous[gateway.Event](s.session, s.updateState),
		handler.AddSynchronous[gateway.Event](s.session, s.updateServer),
	}

	return s.connect(ctx)
}

// askDiscord sends the voice state update and waits for both replies.
func (s *Session) askDiscord(ctx context.Context, cmd *gateway.UpdateVoiceStateCommand) (
	*gateway.VoiceStateUpdateEvent, *gateway.VoiceServerUpdateEvent, error) {

	// Listen before sending, so that no reply can be missed.
	waitState := handler.Expect[gateway.Event](s.session,
		func(ev *gateway.VoiceStateUpdateEvent) bool {
			return ev.GuildID == cmd.GuildID && ev.UserID == s.userID
		},
	)
	waitServer := handler.Expect[gateway.Event](s.session,
		func(ev *gateway.VoiceServerUpdateEvent) bool {
			return ev.GuildID == cmd.GuildID
		},
	)

	var (
		wg       sync.WaitGroup
		stateEv  *gateway.VoiceStateUpdateEvent
		serverEv *gateway.VoiceServerUpdateEvent
		stateErr error
		servErr  error
	)

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	wg.Add(2)
	go func() {
		defer wg.Done()
		stateEv, stateErr = waitState(waitCtx)
	}()
	go func() {
		defer wg.Done()
		serverEv, servErr = waitServer(waitCtx)
	}()

	// https://discord.com/developers/docs/topics/voice-connections#retrieving-voice-server-information
	if err := s.session.SendGateway(ctx, cmd); err != nil {
		cancelWait()
		wg.Wait()
		return nil, nil, errors.Wrap(err, "failed to send Voice State Update event")
	}

	wg.Wait()

	if stateErr != nil {
		return nil, nil, errors.Wrap(stateErr, "failed to wait for Voice State Update event")
	}
	if servErr != nil {
		return nil, nil, errors.Wrap(servErr, "failed to wait for Voice Server Update event")
	}

	return stateEv, serverEv, nil
}

// updateState keeps track of the channel and session ID in case the user is
// moved. The change is applied on the next Reconnect.
func (s *Session) updateState(ev *gateway.VoiceStateUpdateEvent) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state.GuildID != ev.GuildID || s.state.UserID != ev.UserID {
		return
	}

	s.state.ChannelID = ev.ChannelID
	s.state.SessionID = ev.SessionID
}

// updateServer keeps track of the voice server in case it changes. The change
// is applied on the next Reconnect.
func (s *Session) updateServer(ev *gateway.VoiceServerUpdateEvent) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state.GuildID != ev.GuildID {
		return
	}

	s.state.Endpoint = ev.Endpoint
	s.state.Token = ev.Token
}

// connect opens a new voice gateway, identifies and runs the handshake until
// audio is flowing. It is called with the mutex held.
func (s *Session) connect(ctx context.Context) error {
	state := s.State()

	g, err := voicegateway.New(state)
	if err != nil {
		return errors.Wrap(err, "failed to create voice gateway")
	}

	gwctx, gwcancel := context.WithCancel(context.Background())
	ch := g.Connect(gwctx)
	s.setGateway(g)

	if err := s.handshake(ctx, g, ch); err != nil {
		gwcancel()
		for range ch {
		}

		s.setGateway(nil)
		s.stopAudio()
		s.closeUDP()

		return err
	}

	s.startDispatch(state.GuildID, gwcancel, ch)
	return nil
}

// handshake drives the gateway from Hello to SessionDescription.
func (s *Session) handshake(ctx context.Context, g *voicegateway.Gateway, ch <-chan ws.Op) error {
	for {
		op, err := ws.ReadOp(ctx, ch)
		if err != nil {
			if lastErr := g.LastError(); lastErr != nil {
				return errors.Wrap(lastErr, "voice gateway closed during handshake")
			}
			return errors.Wrap(err, "failed to wait for voice handshake")
		}

		switch data := op.Data.(type) {
		case *ws.CloseEvent:
			return errors.Wrap(data, "voice gateway closed during handshake")

		case *voicegateway.ReadyEvent:
			s.Dispatch(data)

			if err := s.setupUDP(ctx, g, data); err != nil {
				return err
			}

		case *voicegateway.SessionDescriptionEvent:
			s.Dispatch(data)

			if err := s.startAudio(data); err != nil {
				return err
			}

			if err := g.Speaking(ctx, voicegateway.Microphone); err != nil {
				return errors.Wrap(err, "failed to send Speaking")
			}

			return nil

		default:
			s.Dispatch(op.Data)
		}
	}
}

// setupUDP opens the media socket for a Ready event and selects the protocol
// with the discovered address.
func (s *Session) setupUDP(ctx context.Context, g *voicegateway.Gateway, ready *voicegateway.ReadyEvent) error {
	if s.conn != nil {
		ws.WSDebug("Voice session: ignoring repeated Ready")
		return nil
	}

	if len(ready.Modes) > 0 && !ready.SupportsMode(Protocol) {
		return errors.Errorf("voice server does not support %s", Protocol)
	}

	ssrc, ok := g.SSRC()
	if !ok {
		return errors.New("voice gateway has no SSRC after Ready")
	}

	conn, err := s.DialUDP(ctx, ready.Addr())
	if err != nil {
		return errors.Wrap(err, "failed to open voice UDP connection")
	}
	s.conn = conn
	s.transformer = udp.NewTransformer(ssrc)

	// https://discord.com/developers/docs/topics/voice-connections#ip-discovery
	d, err := conn.DiscoverIP(ctx, ssrc)
	if err != nil {
		return errors.Wrap(err, "failed to discover IP")
	}

	err = g.SelectProtocol(ctx, voicegateway.SelectProtocolData{
		Address: d.Address,
		Port:    d.Port,
		Mode:    Protocol,
	})
	if err != nil {
		return errors.Wrap(err, "failed to send SelectProtocolCommand")
	}

	return nil
}

// startAudio sets the secret and starts the audio loops.
func (s *Session) startAudio(desc *voicegateway.SessionDescriptionEvent) error {
	if s.transformer == nil || s.conn == nil {
		return errors.New("received SessionDescription before Ready")
	}

	if err := s.transformer.UseSecret(desc.SecretKey); err != nil {
		ws.WSError(errors.Wrap(err, "ignoring SessionDescription"))
		return nil
	}

	a := &audio{
		transformer:   s.transformer,
		conn:          s.conn,
		speaker:       s,
		provider:      s.opts.Provider,
		receiver:      s.opts.Receiver,
		frameDuration: s.FrameDuration,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.audioCancel = cancel
	s.audioDone = done

	go func() {
		defer close(done)

		if err := a.run(ctx); err != nil {
			ws.WSError(errors.Wrap(err, "voice audio stopped"))
		}
	}()

	return nil
}

// startDispatch dispatches the rest of the gateway events in the background.
func (s *Session) startDispatch(guildID discord.GuildID, cancel context.CancelFunc, ch <-chan ws.Op) {
	done := make(chan struct{})
	s.gwCancel = cancel
	s.gwDone = done

	transformer := s.transformer

	go func() {
		defer close(done)

		for op := range ch {
			switch data := op.Data.(type) {
			case *voicegateway.SessionDescriptionEvent:
				if err := transformer.UseSecret(data.SecretKey); err != nil {
					ws.WSError(errors.Wrap(err, "ignoring SessionDescription"))
				}

			case *ws.CloseEvent:
				s.Dispatch(data)
				s.Dispatch(&DisconnectedEvent{GuildID: guildID, Err: data})
				continue
			}

			s.Dispatch(op.Data)
		}
	}()
}

// Reconnect reconnects the voice gateway after it was disconnected. It tries
// to resume the session first, keeping the media socket and audio running; if
// the server refuses, it identifies again with a new media socket. Voice
// state changes seen since the join are applied.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrNotConnected
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.mut.CLock(ctx); err != nil {
		return errors.Wrap(err, "failed to acquire session")
	}
	defer s.mut.Unlock()

	if !s.joined || s.ctx.Err() != nil {
		return ErrNotConnected
	}

	var ssrc uint32
	var canResume bool

	if g := s.Gateway(); g != nil {
		ssrc, canResume = g.SSRC()
	}
	canResume = canResume && s.transformer != nil && s.transformer.HasSecret()

	s.stopGateway()

	if canResume {
		err := s.resume(ctx, ssrc)
		if err == nil {
			return nil
		}

		ws.WSDebug("Voice resume failed, identifying again:", err)
	}

	s.stopAudio()
	s.closeUDP()

	return s.connect(ctx)
}

func (s *Session) resume(ctx context.Context, ssrc uint32) error {
	state := s.State()

	g, err := voicegateway.NewResuming(state, ssrc)
	if err != nil {
		return errors.Wrap(err, "failed to create voice gateway")
	}

	gwctx, gwcancel := context.WithCancel(context.Background())
	ch := g.Connect(gwctx)
	s.setGateway(g)

	fail := func(err error) error {
		gwcancel()
		for range ch {
		}
		s.setGateway(nil)
		return err
	}

	for {
		op, err := ws.ReadOp(ctx, ch)
		if err != nil {
			if lastErr := g.LastError(); lastErr != nil {
				err = lastErr
			}
			return fail(errors.Wrap(err, "failed to resume"))
		}

		switch data := op.Data.(type) {
		case *ws.CloseEvent:
			return fail(errors.Wrap(data, "failed to resume"))
		case *voicegateway.ResumedEvent:
			s.Dispatch(data)
			s.startDispatch(state.GuildID, gwcancel, ch)
			return nil
		default:
			s.Dispatch(op.Data)
		}
	}
}

// Speaking tells Discord we're speaking. The audio loop already does this on
// its own; this is for changing the flag.
func (s *Session) Speaking(ctx context.Context, flag voicegateway.SpeakingFlag) error {
	g := s.Gateway()
	if g == nil {
		return ErrNotConnected
	}

	return g.Speaking(ctx, flag)
}

// Leave tells Discord that we're leaving the channel and shuts the session
// down.
func (s *Session) Leave(ctx context.Context) error {
	if !s.hasJoined(ctx) {
		s.Shutdown()
		return nil
	}

	state := s.State()

	err := s.session.SendGateway(ctx, &gateway.UpdateVoiceStateCommand{
		GuildID:   state.GuildID,
		ChannelID: discord.NullChannelID,
		SelfMute:  true,
		SelfDeaf:  true,
	})

	s.Shutdown()

	if err != nil {
		return errors.Wrap(err, "failed to update voice state")
	}

	return nil
}

func (s *Session) hasJoined(ctx context.Context) bool {
	if err := s.mut.CLock(ctx); err != nil {
		return false
	}
	defer s.mut.Unlock()

	return s.joined && s.State().GuildID.IsValid()
}

// Shutdown stops the session: the audio loops first, so that a final
// Speaking update can still be sent, then the voice gateway and the media
// socket. Only the first call does anything.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()

		s.mut.Lock()
		defer s.mut.Unlock()

		for _, detach := range s.detach {
			detach()
		}
		s.detach = nil

		s.stopAudio()
		s.stopGateway()
		s.closeUDP()
	})
}

// Done returns a channel that is closed once Shutdown is called.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) stopAudio() {
	if s.audioCancel == nil {
		return
	}

	s.audioCancel()
	<-s.audioDone

	s.audioCancel = nil
	s.audioDone = nil
}

func (s *Session) stopGateway() {
	if s.gwCancel == nil {
		return
	}

	s.gwCancel()
	<-s.gwDone

	s.gwCancel = nil
	s.gwDone = nil
	s.setGateway(nil)
}

func (s *Session) closeUDP() {
	if s.conn == nil {
		return
	}

	if err := s.conn.Close(); err != nil {
		ws.WSDebug("Voice UDP close error:", err)
	}

	s.conn = nil
	s.transformer = nil
}
