package dgo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/gateway"
	"github.com/diamondburned/voicelink/utils/handler"
	"github.com/diamondburned/voicelink/utils/ws"
)

type joinCall struct {
	GuildID, ChannelID string
	Mute, Deaf         bool
}

type fakeSession struct {
	handlers map[int]interface{}
	serial   int
	joins    []joinCall
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[int]interface{})}
}

func (s *fakeSession) AddHandler(h interface{}) func() {
	id := s.serial
	s.serial++
	s.handlers[id] = h
	return func() { delete(s.handlers, id) }
}

func (s *fakeSession) ChannelVoiceJoinManual(gID, cID string, mute, deaf bool) error {
	s.joins = append(s.joins, joinCall{gID, cID, mute, deaf})
	return nil
}

func (s *fakeSession) emit(ev interface{}) {
	for _, h := range s.handlers {
		switch h := h.(type) {
		case func(*discordgo.Session, *discordgo.VoiceStateUpdate):
			if ev, ok := ev.(*discordgo.VoiceStateUpdate); ok {
				h(nil, ev)
			}
		case func(*discordgo.Session, *discordgo.VoiceServerUpdate):
			if ev, ok := ev.(*discordgo.VoiceServerUpdate); ok {
				h(nil, ev)
			}
		}
	}
}

func TestBridgeEvents(t *testing.T) {
	s := newFakeSession()
	b := New(s)

	var got []gateway.Event
	rm := b.HandleSynchronousCallback(func(ev gateway.Event) { got = append(got, ev) })
	defer rm()

	s.emit(&discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			GuildID:   "41771983423143937",
			ChannelID: "127121515262115840",
			UserID:    "80351110224678912",
			SessionID: "my_session_id",
			SelfMute:  true,
		},
	})
	s.emit(&discordgo.VoiceServerUpdate{
		Token:    "my_token",
		GuildID:  "41771983423143937",
		Endpoint: "smart.loyal.discord.gg",
	})
	s.emit(&discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "not a snowflake"},
	})

	want := []gateway.Event{
		&gateway.VoiceStateUpdateEvent{
			VoiceState: discord.VoiceState{
				GuildID:   41771983423143937,
				ChannelID: 127121515262115840,
				UserID:    80351110224678912,
				SessionID: "my_session_id",
				SelfMute:  true,
			},
		},
		&gateway.VoiceServerUpdateEvent{
			Token:    "my_token",
			GuildID:  41771983423143937,
			Endpoint: "smart.loyal.discord.gg",
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s\n%s", diff, spew.Sdump(got))
	}

	b.Close()

	if len(s.handlers) != 0 {
		t.Fatal("handlers left on the discordgo session:", len(s.handlers))
	}
}

func TestBridgeLeftChannel(t *testing.T) {
	s := newFakeSession()
	b := New(s)
	defer b.Close()

	wait := handler.Expect[gateway.Event](b, func(ev *gateway.VoiceStateUpdateEvent) bool { return true })

	s.emit(&discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{
			GuildID: "41771983423143937",
			UserID:  "80351110224678912",
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := wait(ctx)
	if err != nil {
		t.Fatal("no voice state update:", err)
	}

	if !ev.ChannelID.IsNull() {
		t.Fatal("expected a null channel, got", ev.ChannelID)
	}
}

func TestBridgeSendGateway(t *testing.T) {
	s := newFakeSession()
	b := New(s)
	defer b.Close()

	ctx := context.Background()

	cmds := []gateway.Command{
		&gateway.UpdateVoiceStateCommand{
			GuildID:   41771983423143937,
			ChannelID: 127121515262115840,
			SelfDeaf:  true,
		},
		&gateway.UpdateVoiceStateCommand{
			GuildID:   41771983423143937,
			ChannelID: discord.NullChannelID,
			SelfMute:  true,
			SelfDeaf:  true,
		},
	}

	for _, cmd := range cmds {
		if err := b.SendGateway(ctx, cmd); err != nil {
			t.Fatal("failed to send:", err)
		}
	}

	want := []joinCall{
		{"41771983423143937", "127121515262115840", false, true},
		{"41771983423143937", "", true, true},
	}

	if diff := cmp.Diff(want, s.joins); diff != "" {
		t.Fatalf("unexpected joins (-want +got):\n%s", diff)
	}
}

type otherCommand struct{}

func (otherCommand) Op() ws.OpCode { return 1 }

func TestBridgeUnsupportedCommand(t *testing.T) {
	b := New(newFakeSession())
	defer b.Close()

	err := b.SendGateway(context.Background(), otherCommand{})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatal("expected ErrUnsupportedCommand, got", err)
	}
}

func TestUserIDNotReady(t *testing.T) {
	s := &discordgo.Session{}
	if _, err := UserID(s); err == nil {
		t.Fatal("expected an error for a session without a user")
	}
}
