//go:build integration

package dgo

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/diamondburned/voicelink/internal/testenv"
	"github.com/diamondburned/voicelink/voice"
	"github.com/diamondburned/voicelink/voice/udp"
)

func TestIntegration(t *testing.T) {
	env := testenv.Must(t)

	s, err := discordgo.New("Bot " + env.BotToken)
	if err != nil {
		t.Fatal("failed to create discordgo session:", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	ready := make(chan struct{})
	s.AddHandlerOnce(func(*discordgo.Session, *discordgo.Ready) { close(ready) })

	if err := s.Open(); err != nil {
		t.Fatal("failed to open:", err)
	}
	t.Cleanup(func() { s.Close() })

	select {
	case <-ready:
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for Ready")
	}

	userID, err := UserID(s)
	if err != nil {
		t.Fatal("no user ID:", err)
	}

	b := New(s)
	t.Cleanup(b.Close)

	v := voice.NewVoice(b, userID)
	t.Cleanup(v.Close)

	frames := make(chan []byte)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	vs, err := v.JoinChannel(ctx, env.GuildID, env.VoiceChID, voice.JoinOptions{
		Provider: voice.ChannelProvider(frames),
		Receiver: voice.AudioReceiverFunc(func(p *udp.Packet) {
			t.Log("received packet from SSRC", p.SSRC())
		}),
	})
	if err != nil {
		t.Fatal("failed to join:", err)
	}

	// 50 frames of Opus silence.
	for i := 0; i < 50; i++ {
		frames <- []byte{0xF8, 0xFF, 0xFE}
	}
	close(frames)

	if err := v.Leave(ctx, env.GuildID); err != nil {
		t.Fatal("failed to leave:", err)
	}

	<-vs.Done()
}
