package main

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/k0kubun/pp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/diamondburned/voicelink/bridge/dgo"
	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/handler"
	"github.com/diamondburned/voicelink/utils/ws"
	"github.com/diamondburned/voicelink/voice"
	"github.com/diamondburned/voicelink/voice/opus"
)

func run(ctx context.Context, cfg *config, f flags, file string) error {
	log := logrus.New()

	lvl, err := cfg.level()
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if f.debug {
		log.SetLevel(logrus.DebugLevel)
	}

	ws.WSDebug = func(v ...interface{}) { log.Debugln(v...) }
	ws.WSError = func(err error) { log.WithError(err).Warn("voice error") }

	guildID, channelID, err := cfg.target()
	if err != nil {
		return err
	}

	var provider voice.AudioProvider
	var finished <-chan struct{}

	if file != "" {
		p, done, closeFile, err := openProvider(file, f.format)
		if err != nil {
			return err
		}
		defer closeFile()

		provider = p
		finished = done
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return errors.Wrap(err, "failed to create discordgo session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.LogLevel = discordgo.LogWarning

	ready := make(chan struct{})
	s.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.WithField("user", r.User.Username).Info("Connected to Discord")
		close(ready)
	})

	if err := s.Open(); err != nil {
		return errors.Wrap(err, "failed to open discordgo session")
	}
	defer s.Close()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	userID, err := dgo.UserID(s)
	if err != nil {
		return err
	}

	bridge := dgo.New(s)
	defer bridge.Close()

	v := voice.NewVoice(bridge, userID)
	defer v.Close()

	if f.debug {
		v.SessionHook = func(s *voice.Session) {
			s.HandleSynchronousCallback(func(ev ws.Event) { pp.Println(ev) })
		}
	}

	disconnected := make(chan *voice.DisconnectedEvent, 1)
	handler.Add[ws.Event](v, func(ev *voice.DisconnectedEvent) {
		select {
		case disconnected <- ev:
		default:
		}
	})

	joinCtx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
	defer cancel()

	session, err := v.JoinChannel(joinCtx, guildID, channelID, voice.JoinOptions{
		Deaf:     f.deaf,
		Provider: provider,
		Receiver: newPacketLogger(log),
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"guild":   guildID,
		"channel": channelID,
	}).Info("Joined voice channel")

	reconnects := 0

	for {
		select {
		case <-finished:
			log.Info("Finished playing")
			return leave(v, guildID)

		case <-ctx.Done():
			return leave(v, guildID)

		case ev := <-disconnected:
			if reconnects >= f.reconnect {
				return errors.Wrap(ev, "gave up reconnecting")
			}
			reconnects++

			log.WithError(ev.Err).WithField("attempt", reconnects).Warn("Disconnected, reconnecting")

			rctx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
			err := session.Reconnect(rctx)
			cancel()

			if err != nil {
				return errors.Wrap(err, "failed to reconnect")
			}
		}
	}
}

func leave(v *voice.Voice, guildID discord.GuildID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := v.Leave(ctx, guildID); err != nil {
		return errors.Wrap(err, "failed to leave")
	}

	return nil
}

// openProvider opens file as an audio provider. done is closed once the file
// has been played to the end.
func openProvider(file, format string) (voice.AudioProvider, <-chan struct{}, func() error, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to open audio file")
	}

	var p voice.AudioProvider

	switch strings.ToLower(format) {
	case "ogg", "opus":
		p = opus.NewOggProvider(f)
	case "dca":
		p = opus.NewFrameReader(f, opus.Prefix32)
	case "s16":
		p = opus.NewFrameReader(f, opus.Prefix16)
	default:
		f.Close()
		return nil, nil, nil, errors.Errorf("unknown format %q", format)
	}

	done := make(chan struct{})
	var once sync.Once

	provider := voice.AudioProviderFunc(func(ctx context.Context) ([]byte, error) {
		frame, err := p.ProvideFrame(ctx)
		if err != nil && errors.Is(err, io.EOF) {
			once.Do(func() { close(done) })
		}
		return frame, err
	})

	return provider, done, f.Close, nil
}
