package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/handler"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent("VOICE_SERVER_UPDATE", []byte(
		`{"token":"my_token","guild_id":"41771983423143937","endpoint":"smart.loyal.discord.gg"}`,
	))
	if err != nil {
		t.Fatal("failed to decode:", err)
	}

	want := &VoiceServerUpdateEvent{
		Token:    "my_token",
		GuildID:  41771983423143937,
		Endpoint: "smart.loyal.discord.gg",
	}

	if diff := cmp.Diff(Event(want), ev); diff != "" {
		t.Fatalf("unexpected event (-want +got):\n%s", diff)
	}

	if _, err := DecodeEvent("MESSAGE_CREATE", []byte(`{}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Fatal("expected ErrUnknownEvent, got", err)
	}
}

func TestBus(t *testing.T) {
	bus := NewBus()

	states := make(chan *VoiceStateUpdateEvent, 1)
	rm := handler.Add[Event](bus, func(ev *VoiceStateUpdateEvent) { states <- ev })
	defer rm()

	bus.OnSend = func(ctx context.Context, cmd Command) error {
		update := cmd.(*UpdateVoiceStateCommand)
		bus.Dispatch(&VoiceStateUpdateEvent{
			VoiceState: discord.VoiceState{
				GuildID:   update.GuildID,
				ChannelID: update.ChannelID,
				UserID:    1,
				SessionID: "session",
			},
		})
		return nil
	}

	err := bus.SendGateway(context.Background(), &UpdateVoiceStateCommand{
		GuildID:   2,
		ChannelID: discord.NullChannelID,
	})
	if err != nil {
		t.Fatal("failed to send:", err)
	}

	ev := <-states
	if ev.GuildID != 2 || !ev.ChannelID.IsNull() {
		t.Fatal("unexpected voice state:", ev)
	}

	frames := bus.SentFrames()
	if len(frames) != 1 {
		t.Fatal("unexpected number of frames:", len(frames))
	}

	const want = `{"op":4,"d":{"guild_id":"2","channel_id":null,"self_mute":false,"self_deaf":false}}`
	if string(frames[0]) != want {
		t.Fatalf("unexpected frame:\n%s", frames[0])
	}
}
