package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/diamondburned/voicelink/internal/voicetest"
)

func TestParseDiscovery(t *testing.T) {
	var resp [70]byte
	binary.BigEndian.PutUint32(resp[0:4], 0xC0FFEE)
	copy(resp[4:68], "203.0.113.5")
	resp[68] = 0x1F
	resp[69] = 0x90

	d, err := ParseDiscovery(resp[:])
	if err != nil {
		t.Fatal("failed to parse:", err)
	}

	if d.Address != "203.0.113.5" {
		t.Fatalf("unexpected address %q", d.Address)
	}
	if d.Port != 36895 {
		t.Fatal("unexpected port:", d.Port)
	}
}

func TestParseDiscoveryInvalid(t *testing.T) {
	tests := map[string][]byte{
		"short": make([]byte, 69),
		"empty": make([]byte, 70),
	}

	for name, b := range tests {
		if _, err := ParseDiscovery(b); !errors.Is(err, ErrInvalidDiscovery) {
			t.Errorf("%s: expected ErrInvalidDiscovery, got %v", name, err)
		}
	}
}

func TestDiscoveryProbe(t *testing.T) {
	probe := DiscoveryProbe(0xDEADBEEF)
	if len(probe) != 70 {
		t.Fatal("unexpected probe length:", len(probe))
	}

	if ssrc := binary.BigEndian.Uint32(probe[0:4]); ssrc != 0xDEADBEEF {
		t.Fatalf("unexpected SSRC 0x%X", ssrc)
	}

	if !bytes.Equal(probe[4:], make([]byte, 66)) {
		t.Fatal("probe is not zero-padded:", spew.Sdump(probe))
	}
}

func dial(t *testing.T, srv *voicetest.Server) *Connection {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.UDPAddr().String())
	if err != nil {
		t.Fatal("failed to dial:", err)
	}
	t.Cleanup(func() { c.Close() })

	return c
}

func TestDiscoverIP(t *testing.T) {
	srv := voicetest.NewServer(t, voicetest.Options{})
	c := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := c.DiscoverIP(ctx, 0xC0FFEE)
	if err != nil {
		t.Fatal("failed to discover IP:", err)
	}

	if d.Address != "203.0.113.5" {
		t.Fatalf("unexpected address %q", d.Address)
	}

	local := c.LocalAddr().(*net.UDPAddr)
	if int(d.Port) != local.Port {
		t.Fatalf("discovered port %d, local port %d", d.Port, local.Port)
	}

	cached, err := c.DiscoverIP(ctx, 0xC0FFEE)
	if err != nil {
		t.Fatal("failed to discover IP again:", err)
	}

	if cached != d {
		t.Fatal("cached discovery differs:", spew.Sdump(cached))
	}

	if probes := srv.Probes(); probes != 1 {
		t.Fatal("expected a single probe, got", probes)
	}
}

func TestDiscoverIPTimeout(t *testing.T) {
	srv := voicetest.NewServer(t, voicetest.Options{DisableDiscovery: true})
	c := dial(t, srv)
	c.DiscoveryTimeout = 50 * time.Millisecond

	_, err := c.DiscoverIP(context.Background(), 1)
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatal("expected ErrDiscoveryTimeout, got", err)
	}
}

func TestConnectionWriteClose(t *testing.T) {
	srv := voicetest.NewServer(t, voicetest.Options{})
	c := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := c.Write(ctx, []byte{0x80, byte(i)}); err != nil {
			t.Fatal("failed to write:", err)
		}
	}

	srv.WaitFor(t, 5*time.Second, func(s *voicetest.Server) bool { return len(s.Packets()) == 3 })

	for i, p := range srv.Packets() {
		if !bytes.Equal(p, []byte{0x80, byte(i)}) {
			t.Fatalf("packet %d out of order: %v", i, p)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatal("failed to close:", err)
	}

	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Fatal("expected ErrClosed closing twice, got", err)
	}

	if err := c.Write(ctx, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatal("expected ErrClosed writing after close, got", err)
	}

	if _, ok := <-c.Inbound(); ok {
		t.Fatal("inbound channel not closed")
	}
}

func TestConnectionInbound(t *testing.T) {
	srv := voicetest.NewServer(t, voicetest.Options{})
	c := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The server only knows where to send once it has heard from us.
	if _, err := c.DiscoverIP(ctx, 1); err != nil {
		t.Fatal("failed to discover IP:", err)
	}

	if err := srv.SendRaw([]byte("hello")); err != nil {
		t.Fatal("failed to send:", err)
	}

	select {
	case b := <-c.Inbound():
		if string(b) != "hello" {
			t.Fatalf("unexpected datagram %q", b)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for datagram")
	}
}
