package voicegateway_test

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/internal/heart"
	"github.com/diamondburned/voicelink/internal/voicetest"
	"github.com/diamondburned/voicelink/utils/ws"
	. "github.com/diamondburned/voicelink/voice/voicegateway"
)

func TestMain(m *testing.M) {
	// Heartbeat tests send more commands than the default burst allows.
	ws.SendBurst = 60
	os.Exit(m.Run())
}

func doLog() {
	if testing.Verbose() {
		ws.WSDebug = func(v ...interface{}) {
			log.Println(append([]interface{}{"Debug:"}, v...)...)
		}
	}
}

func testState(endpoint string) State {
	return State{
		GuildID:   41771983423143937,
		ChannelID: 127121515262115840,
		UserID:    80351110224678912,
		SessionID: "my_session_id",
		Token:     "my_token",
		Endpoint:  endpoint,
	}
}

func readUntil[T ws.Event](t *testing.T, ch <-chan ws.Op) T {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		op, err := ws.ReadOp(ctx, ch)
		if err != nil {
			var z T
			t.Fatalf("failed waiting for %T: %v", z, err)
		}

		if ev, ok := op.Data.(T); ok {
			return ev
		}
	}
}

func TestHandshake(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := g.Connect(ctx)

	ready := readUntil[*ReadyEvent](t, ch)
	if ready.SSRC != srv.Options().SSRC {
		t.Fatalf("unexpected SSRC %d", ready.SSRC)
	}

	if ssrc, ok := g.SSRC(); !ok || ssrc != ready.SSRC {
		t.Fatalf("gateway SSRC %d (set: %v) does not match Ready", ssrc, ok)
	}

	if status := g.Status(); status != AwaitSessionDescription {
		t.Fatal("unexpected status after Ready:", status)
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, 5*time.Second)
	defer sendCancel()

	if err := g.SelectProtocol(sendCtx, SelectProtocolData{
		Address: "203.0.113.5",
		Port:    36895,
		Mode:    "xsalsa20_poly1305",
	}); err != nil {
		t.Fatal("failed to select protocol:", err)
	}

	desc := readUntil[*SessionDescriptionEvent](t, ch)
	if desc.SecretKey != srv.Options().SecretKey {
		t.Fatal("unexpected secret key:", desc.SecretKey)
	}

	if status := g.Status(); status != Connected {
		t.Fatal("unexpected status after SessionDescription:", status)
	}

	if err := g.Speaking(sendCtx, Microphone); err != nil {
		t.Fatal("failed to send speaking:", err)
	}

	srv.WaitFor(t, 5*time.Second, func(s *voicetest.Server) bool { return len(s.Ops()) >= 3 })

	want := []ws.Event{
		&IdentifyCommand{
			GuildID:   41771983423143937,
			UserID:    80351110224678912,
			SessionID: "my_session_id",
			Token:     "my_token",
		},
		&SelectProtocolCommand{
			Protocol: "udp",
			Data: SelectProtocolData{
				Address: "203.0.113.5",
				Port:    36895,
				Mode:    "xsalsa20_poly1305",
			},
		},
		// Op 5 goes both ways, so the server decodes it as an event.
		&SpeakingEvent{
			Speaking: Microphone,
			SSRC:     srv.Options().SSRC,
		},
	}

	if diff := cmp.Diff(want, srv.Ops()); diff != "" {
		t.Fatalf("unexpected commands (-want +got):\n%s", diff)
	}

	cancel()

	for op := range ch {
		if _, ok := op.Data.(*ws.CloseEvent); ok {
			t.Fatal("unexpected CloseEvent after cancelling:", spew.Sdump(op))
		}
	}

	if err := g.LastError(); err != nil {
		t.Fatal("unexpected last error:", err)
	}

	if status := g.Status(); status != Closed {
		t.Fatal("unexpected status after closing:", status)
	}

	if err := g.Speaking(context.Background(), NotSpeaking); !errors.Is(err, ErrClosed) {
		t.Fatal("expected ErrClosed sending on a closed gateway, got", err)
	}
}

func TestUnknownAndDisconnectEvents(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{
		ExtraEvents: []ws.Event{
			&ws.UnknownEvent{Code: 18, Data: []byte(`{"flags":2}`)},
			&ClientDisconnectEvent{UserID: 1},
		},
	})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)

	unknown := readUntil[*UnknownEvent](t, ch)
	if unknown.Code != 18 || string(unknown.Data) != `{"flags":2}` {
		t.Fatal("unexpected unknown event:", spew.Sdump(unknown))
	}

	disconnect := readUntil[*ClientDisconnectEvent](t, ch)
	if disconnect.UserID != discord.UserID(1) {
		t.Fatal("unexpected user:", disconnect.UserID)
	}

	// Neither event changes the state.
	if status := g.Status(); status != AwaitSessionDescription {
		t.Fatal("unexpected status:", status)
	}
}

func TestHeartbeat(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{
		HeartbeatInterval: 10 * time.Millisecond,
	})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)

	var acks int
	for acks < 5 {
		readUntil[*HeartbeatAckEvent](t, ch)
		acks++
	}

	var last uint64
	for _, ev := range srv.Ops() {
		beat, ok := ev.(*HeartbeatCommand)
		if !ok {
			continue
		}
		if uint64(*beat) <= last {
			t.Fatalf("heartbeat nonce %d is not increasing after %d", *beat, last)
		}
		last = uint64(*beat)
	}

	if status := g.Status(); status == Closed {
		t.Fatal("acknowledged gateway closed")
	}
}

func TestRepeatedReadyDropped(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{
		ExtraEvents: []ws.Event{
			&ReadyEvent{SSRC: 0xBAD, IP: "127.0.0.1", Port: 1, Modes: []string{"xsalsa20_poly1305"}},
			&ClientDisconnectEvent{UserID: 1},
		},
	})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)

	var readies []*ReadyEvent

	timeout, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
	defer cancelTimeout()

	for {
		op, err := ws.ReadOp(timeout, ch)
		if err != nil {
			t.Fatal("failed to read op:", err)
		}

		if ready, ok := op.Data.(*ReadyEvent); ok {
			readies = append(readies, ready)
		}
		if _, ok := op.Data.(*ClientDisconnectEvent); ok {
			break
		}
	}

	if len(readies) != 1 || readies[0].SSRC != srv.Options().SSRC {
		t.Fatal("unexpected Ready events:", spew.Sdump(readies))
	}

	if ssrc, _ := g.SSRC(); ssrc != srv.Options().SSRC {
		t.Fatalf("SSRC changed to %#x", ssrc)
	}
}

func TestConcurrentWrites(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{
		HeartbeatInterval: time.Millisecond,
	})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}
	// Acks race with a 1ms heartbeat.
	g.MaxMissedHeartbeats = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)
	readUntil[*ReadyEvent](t, ch)

	go func() {
		for range ch {
		}
	}()

	const workers, each = 4, 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*each)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < each; j++ {
				sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				errs <- g.Speaking(sctx, Microphone)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal("failed to send Speaking:", err)
		}
	}

	count := func(s *voicetest.Server) (speaking, beats int) {
		for _, ev := range s.Ops() {
			switch ev.(type) {
			case *SpeakingEvent:
				speaking++
			case *HeartbeatCommand:
				beats++
			}
		}
		return
	}

	srv.WaitFor(t, 5*time.Second, func(s *voicetest.Server) bool {
		speaking, beats := count(s)
		return speaking == workers*each && beats >= 5
	})

	var last uint64
	var speaking int

	for _, ev := range srv.Ops() {
		switch ev := ev.(type) {
		case *ws.BackgroundErrorEvent:
			t.Fatal("server failed to decode a frame:", ev)
		case *ws.UnknownEvent:
			t.Fatal("server received an unknown frame:", spew.Sdump(ev))
		case *SpeakingEvent:
			if ev.SSRC != srv.Options().SSRC || ev.Speaking != Microphone {
				t.Fatal("unexpected Speaking:", spew.Sdump(ev))
			}
			speaking++
		case *HeartbeatCommand:
			if uint64(*ev) <= last {
				t.Fatalf("heartbeat nonce %d is not increasing after %d", *ev, last)
			}
			last = uint64(*ev)
		}
	}

	if speaking != workers*each {
		t.Fatalf("server decoded %d Speaking commands, expected %d", speaking, workers*each)
	}
}

func TestHeartbeatDead(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{
		HeartbeatInterval: 10 * time.Millisecond,
		DisableAcks:       true,
	})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)

	closeEv := readUntil[*ws.CloseEvent](t, ch)
	if !errors.Is(closeEv, heart.ErrDead) {
		t.Fatal("unexpected close reason:", closeEv)
	}

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after CloseEvent")
	}

	if !errors.Is(g.LastError(), heart.ErrDead) {
		t.Fatal("unexpected last error:", g.LastError())
	}

	countBeats := func(s *voicetest.Server) (beats int) {
		for _, ev := range s.Ops() {
			if _, ok := ev.(*HeartbeatCommand); ok {
				beats++
			}
		}
		return
	}

	srv.WaitFor(t, 5*time.Second, func(s *voicetest.Server) bool {
		return countBeats(s) >= heart.DefaultMaxMissed
	})

	if beats := countBeats(srv); beats != heart.DefaultMaxMissed {
		t.Fatalf("expected %d heartbeats before giving up, got %d", heart.DefaultMaxMissed, beats)
	}
}

func TestServerClose(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{})

	g, err := New(testState(srv.Endpoint()))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)
	readUntil[*ReadyEvent](t, ch)

	srv.Kick(4014)

	closeEv := readUntil[*ws.CloseEvent](t, ch)
	if closeEv.Code != 4014 {
		t.Fatal("unexpected close code:", closeEv.Code)
	}

	var target *ws.CloseEvent
	if !errors.As(g.LastError(), &target) || target.Code != 4014 {
		t.Fatal("unexpected last error:", g.LastError())
	}
}

func TestResume(t *testing.T) {
	doLog()

	srv := voicetest.NewServer(t, voicetest.Options{})

	g, err := NewResuming(testState(srv.Endpoint()), 1234)
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := g.Connect(ctx)
	readUntil[*ResumedEvent](t, ch)

	if status := g.Status(); status != Connected {
		t.Fatal("unexpected status after Resumed:", status)
	}

	want := []ws.Event{
		&ResumeCommand{
			GuildID:   41771983423143937,
			SessionID: "my_session_id",
			Token:     "my_token",
		},
	}

	if diff := cmp.Diff(want, srv.Ops()); diff != "" {
		t.Fatalf("unexpected commands (-want +got):\n%s", diff)
	}

	if ssrc, _ := g.SSRC(); ssrc != 1234 {
		t.Fatal("resumed gateway lost its SSRC:", ssrc)
	}
}

func TestDialFailure(t *testing.T) {
	g, err := New(testState("ws://127.0.0.1:1"))
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := g.Connect(ctx)

	closeEv := readUntil[*ws.CloseEvent](t, ch)
	if closeEv.Err == nil {
		t.Fatal("missing dial error")
	}
}

func TestMissingIdentify(t *testing.T) {
	srv := voicetest.NewServer(t, voicetest.Options{})

	state := testState(srv.Endpoint())
	state.SessionID = ""

	g, err := New(state)
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closeEv := readUntil[*ws.CloseEvent](t, g.Connect(ctx))
	if !errors.Is(closeEv, ErrMissingForIdentify) {
		t.Fatal("unexpected error:", closeEv)
	}
}
