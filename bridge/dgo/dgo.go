// Package dgo adapts a discordgo session into the main gateway of a voice
// session. Voice state and voice server updates received by discordgo are
// converted and dispatched, and voice state commands are sent through
// discordgo's own websocket.
package dgo

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/gateway"
	"github.com/diamondburned/voicelink/utils/handler"
	"github.com/diamondburned/voicelink/utils/ws"
	"github.com/diamondburned/voicelink/voice"
)

// ErrUnsupportedCommand is returned by SendGateway for commands other than
// voice state updates.
var ErrUnsupportedCommand = errors.New("command cannot be sent through discordgo")

// Session is the part of *discordgo.Session used by Bridge.
type Session interface {
	AddHandler(handler interface{}) func()
	ChannelVoiceJoinManual(gID, cID string, mute, deaf bool) error
}

var _ Session = (*discordgo.Session)(nil)

// Bridge is a voice.MainSession backed by discordgo.
type Bridge struct {
	*handler.Handlers[gateway.Event]
	s      Session
	detach []func()
}

var _ voice.MainSession = (*Bridge)(nil)

// New creates a Bridge and starts listening to s. Close stops it.
func New(s Session) *Bridge {
	b := &Bridge{
		Handlers: handler.New[gateway.Event](),
		s:        s,
	}

	b.detach = []func(){
		s.AddHandler(b.onVoiceState),
		s.AddHandler(b.onVoiceServer),
	}

	return b
}

// UserID returns the ID of the user that s is logged in as. It is only known
// once s received Ready.
func UserID(s *discordgo.Session) (discord.UserID, error) {
	if s.State == nil || s.State.User == nil {
		return 0, errors.New("discordgo session is not ready")
	}

	id, err := discord.ParseUserID(s.State.User.ID)
	if err != nil {
		return 0, errors.Wrap(err, "invalid user ID")
	}

	return id, nil
}

// SendGateway implements voice.MainSession. Only voice state updates are
// supported.
func (b *Bridge) SendGateway(ctx context.Context, cmd gateway.Command) error {
	update, ok := cmd.(*gateway.UpdateVoiceStateCommand)
	if !ok {
		return errors.Wrapf(ErrUnsupportedCommand, "%T", cmd)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var channelID string
	if update.ChannelID.IsValid() {
		channelID = update.ChannelID.String()
	}

	err := b.s.ChannelVoiceJoinManual(
		update.GuildID.String(), channelID, update.SelfMute, update.SelfDeaf)
	if err != nil {
		return errors.Wrap(err, "failed to send voice state update")
	}

	return nil
}

// Close stops listening to the discordgo session.
func (b *Bridge) Close() {
	for _, detach := range b.detach {
		detach()
	}
	b.detach = nil
}

func (b *Bridge) onVoiceState(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	if ev.VoiceState == nil {
		return
	}

	state, err := convertVoiceState(ev.VoiceState)
	if err != nil {
		ws.WSError(errors.Wrap(err, "dropping discordgo voice state update"))
		return
	}

	b.Dispatch(&gateway.VoiceStateUpdateEvent{VoiceState: state})
}

func (b *Bridge) onVoiceServer(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
	guildID, err := discord.ParseGuildID(ev.GuildID)
	if err != nil {
		ws.WSError(errors.Wrap(err, "dropping discordgo voice server update"))
		return
	}

	b.Dispatch(&gateway.VoiceServerUpdateEvent{
		Token:    ev.Token,
		GuildID:  guildID,
		Endpoint: ev.Endpoint,
	})
}

func convertVoiceState(vs *discordgo.VoiceState) (discord.VoiceState, error) {
	guildID, err := discord.ParseGuildID(vs.GuildID)
	if err != nil {
		return discord.VoiceState{}, errors.Wrap(err, "invalid guild ID")
	}

	// An empty channel ID parses to null, which means the user left.
	channelID, err := discord.ParseChannelID(vs.ChannelID)
	if err != nil {
		return discord.VoiceState{}, errors.Wrap(err, "invalid channel ID")
	}

	userID, err := discord.ParseUserID(vs.UserID)
	if err != nil {
		return discord.VoiceState{}, errors.Wrap(err, "invalid user ID")
	}

	return discord.VoiceState{
		GuildID:    guildID,
		ChannelID:  channelID,
		UserID:     userID,
		SessionID:  vs.SessionID,
		Deaf:       vs.Deaf,
		Mute:       vs.Mute,
		SelfDeaf:   vs.SelfDeaf,
		SelfMute:   vs.SelfMute,
		SelfStream: vs.SelfStream,
		Suppress:   vs.Suppress,
	}, nil
}
