// Package voicetest provides a fake Discord voice server for tests. It serves
// the voice gateway over a websocket and answers IP discovery over UDP.
package voicetest

import (
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"nhooyr.io/websocket"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/ws"
	"github.com/diamondburned/voicelink/voice/voicegateway"
)

// Options configures a Server.
type Options struct {
	// HeartbeatInterval is sent in Hello. Default 1 minute.
	HeartbeatInterval time.Duration
	// SSRC is sent in Ready. Default 0xC0FFEE.
	SSRC uint32
	// SecretKey is sent in SessionDescription. Default 0, 1, ..., 31.
	SecretKey [32]byte
	// DiscoveryAddress is the address reported by IP discovery. Default
	// "203.0.113.5".
	DiscoveryAddress string
	// DisableAcks stops the server from acknowledging heartbeats.
	DisableAcks bool
	// DisableDiscovery stops the server from answering IP discovery probes.
	DisableDiscovery bool
	// RejectResume makes the server close the connection with 4006 (session
	// no longer valid) instead of resuming.
	RejectResume bool
	// ExtraEvents are sent right after Ready.
	ExtraEvents []ws.Event
}

// Server is a fake voice server.
type Server struct {
	opts Options
	http *httptest.Server
	udp  *net.UDPConn

	mut     sync.Mutex
	conn    *websocket.Conn
	peer    *net.UDPAddr
	ops     []ws.Event
	packets [][]byte
	probes  int
	dials   int
}

// DefaultSecretKey is the default secret key.
var DefaultSecretKey = func() (key [32]byte) {
	for i := range key {
		key[i] = byte(i)
	}
	return
}()

// NewServer starts a new Server that is closed on test cleanup.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if opts.SSRC == 0 {
		opts.SSRC = 0xC0FFEE
	}
	if opts.SecretKey == ([32]byte{}) {
		opts.SecretKey = DefaultSecretKey
	}
	if opts.DiscoveryAddress == "" {
		opts.DiscoveryAddress = "203.0.113.5"
	}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal("failed to listen UDP:", err)
	}

	s := &Server{opts: opts, udp: udp}
	s.http = httptest.NewServer(http.HandlerFunc(s.serveWS))
	go s.serveUDP()

	t.Cleanup(s.Close)
	return s
}

// Close stops the server.
func (s *Server) Close() {
	s.http.CloseClientConnections()
	s.http.Close()
	s.udp.Close()
}

// Endpoint returns the endpoint to put in a VoiceServerUpdate.
func (s *Server) Endpoint() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// UDPAddr returns the address of the media socket.
func (s *Server) UDPAddr() *net.UDPAddr {
	return s.udp.LocalAddr().(*net.UDPAddr)
}

// Options returns the options of the server, including defaults.
func (s *Server) Options() Options { return s.opts }

// Dials returns the number of websocket connections accepted so far.
func (s *Server) Dials() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.dials
}

// Probes returns the number of IP discovery probes received so far.
func (s *Server) Probes() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.probes
}

// Ops returns a copy of all commands received so far.
func (s *Server) Ops() []ws.Event {
	s.mut.Lock()
	defer s.mut.Unlock()

	return append([]ws.Event(nil), s.ops...)
}

// Packets returns a copy of all audio datagrams received so far.
func (s *Server) Packets() [][]byte {
	s.mut.Lock()
	defer s.mut.Unlock()

	return append([][]byte(nil), s.packets...)
}

// WaitFor polls until cond returns true or fails the test after timeout.
func (s *Server) WaitFor(t testing.TB, timeout time.Duration, cond func(s *Server) bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond(s) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the fake voice server")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Send writes an event to the current websocket connection.
func (s *Server) Send(ctx context.Context, ev ws.Event) error {
	s.mut.Lock()
	conn := s.conn
	s.mut.Unlock()

	if conn == nil {
		return ws.ErrWebsocketClosed
	}

	return s.write(ctx, conn, ev)
}

// Kick closes the current websocket connection with the given close code.
func (s *Server) Kick(code websocket.StatusCode) {
	s.mut.Lock()
	conn := s.conn
	s.conn = nil
	s.mut.Unlock()

	if conn != nil {
		conn.Close(code, "kicked")
	}
}

// SendAudio seals frame like the client does and sends it to the last peer
// of the media socket.
func (s *Server) SendAudio(seq uint16, ts, ssrc uint32, frame []byte) error {
	s.mut.Lock()
	peer := s.peer
	s.mut.Unlock()

	if peer == nil {
		return net.ErrClosed
	}

	_, err := s.udp.WriteToUDP(Seal(s.opts.SecretKey, seq, ts, ssrc, frame), peer)
	return err
}

// SendRaw sends a raw datagram to the last peer of the media socket.
func (s *Server) SendRaw(b []byte) error {
	s.mut.Lock()
	peer := s.peer
	s.mut.Unlock()

	if peer == nil {
		return net.ErrClosed
	}

	_, err := s.udp.WriteToUDP(b, peer)
	return err
}

// Seal builds an encrypted voice datagram.
func Seal(key [32]byte, seq uint16, ts, ssrc uint32, frame []byte) []byte {
	header := make([]byte, 12, 12+len(frame)+secretbox.Overhead)
	header[0] = 0x80
	header[1] = 0x78
	binary.BigEndian.PutUint16(header[2:4], seq)
	binary.BigEndian.PutUint32(header[4:8], ts)
	binary.BigEndian.PutUint32(header[8:12], ssrc)

	var nonce [24]byte
	copy(nonce[:], header)

	return secretbox.Seal(header, frame, &nonce, &key)
}

// Open decrypts a voice datagram sent by the client.
func Open(key [32]byte, packet []byte) (seq uint16, ts, ssrc uint32, frame []byte, ok bool) {
	if len(packet) < 12 {
		return
	}

	var nonce [24]byte
	copy(nonce[:], packet[:12])

	frame, ok = secretbox.Open(nil, packet[12:], &nonce, &key)
	seq = binary.BigEndian.Uint16(packet[2:4])
	ts = binary.BigEndian.Uint32(packet[4:8])
	ssrc = binary.BigEndian.Uint32(packet[8:12])
	return
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, ev ws.Event) error {
	b, err := voicegateway.Codec.Encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, b)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	s.mut.Lock()
	s.conn = c
	s.dials++
	s.mut.Unlock()

	ctx := r.Context()

	hello := &voicegateway.HelloEvent{
		HeartbeatInterval: discord.DurationToMilliseconds(s.opts.HeartbeatInterval),
	}
	if err := s.write(ctx, c, hello); err != nil {
		return
	}

	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			return
		}

		op := voicegateway.Codec.Decode(b)

		s.mut.Lock()
		s.ops = append(s.ops, op.Data)
		s.mut.Unlock()

		var reply []ws.Event

		switch data := op.Data.(type) {
		case *voicegateway.IdentifyCommand:
			reply = append(reply, &voicegateway.ReadyEvent{
				SSRC:  s.opts.SSRC,
				IP:    "127.0.0.1",
				Port:  s.UDPAddr().Port,
				Modes: []string{"xsalsa20_poly1305"},
			})
			reply = append(reply, s.opts.ExtraEvents...)

		case *voicegateway.SelectProtocolCommand:
			reply = append(reply, &voicegateway.SessionDescriptionEvent{
				Mode:      data.Data.Mode,
				SecretKey: s.opts.SecretKey,
			})

		case *voicegateway.HeartbeatCommand:
			if !s.opts.DisableAcks {
				reply = append(reply, &voicegateway.HeartbeatAckEvent{Nonce: uint64(*data)})
			}

		case *voicegateway.ResumeCommand:
			if s.opts.RejectResume {
				c.Close(4006, "session no longer valid")
				return
			}
			reply = append(reply, &voicegateway.ResumedEvent{})
		}

		for _, ev := range reply {
			if err := s.write(ctx, c, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) serveUDP() {
	buf := make([]byte, 1500)

	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}

		s.mut.Lock()
		s.peer = addr
		s.mut.Unlock()

		if isProbe(buf[:n]) {
			s.mut.Lock()
			s.probes++
			s.mut.Unlock()

			if s.opts.DisableDiscovery {
				continue
			}

			var resp [70]byte
			copy(resp[0:4], buf[0:4])
			copy(resp[4:68], s.opts.DiscoveryAddress)
			binary.LittleEndian.PutUint16(resp[68:70], uint16(addr.Port))

			s.udp.WriteToUDP(resp[:], addr)
			continue
		}

		s.mut.Lock()
		s.packets = append(s.packets, append([]byte(nil), buf[:n]...))
		s.mut.Unlock()
	}
}

func isProbe(b []byte) bool {
	if len(b) != 70 {
		return false
	}
	for _, c := range b[4:] {
		if c != 0 {
			return false
		}
	}
	return true
}
