// Package voice joins Discord voice channels and streams Opus audio over them.
//
// A Session is a single connection to a voice channel. It asks the main
// gateway to join, connects to the voice gateway and the media server, and
// runs the audio loops until it is shut down. Voice keeps one Session per
// guild.
package voice

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/handler"
	"github.com/diamondburned/voicelink/utils/ws"
)

// Voice manages voice sessions, one per guild. DisconnectedEvents of all its
// sessions are dispatched to its handlers.
type Voice struct {
	*handler.Handlers[ws.Event]
	session MainSession
	userID  discord.UserID

	mut      sync.Mutex
	sessions map[discord.GuildID]*Session

	// SessionHook, if not nil, is called on every new Session before it
	// joins.
	SessionHook func(*Session)
}

// NewVoice creates a new Voice for the given user.
func NewVoice(ses MainSession, userID discord.UserID) *Voice {
	return &Voice{
		Handlers: handler.New[ws.Event](),
		session:  ses,
		userID:   userID,
		sessions: make(map[discord.GuildID]*Session),
	}
}

// Session returns the session of the given guild.
func (v *Voice) Session(guildID discord.GuildID) (*Session, bool) {
	v.mut.Lock()
	defer v.mut.Unlock()

	s, ok := v.sessions[guildID]
	return s, ok
}

// JoinChannel joins the given channel with a new Session. An existing session
// of the guild is shut down first. The new session belongs to the guild while
// it joins, so Leave and Close reach it, and a concurrent JoinChannel for the
// same guild cancels it.
func (v *Voice) JoinChannel(
	ctx context.Context, guildID discord.GuildID, chID discord.ChannelID, opts JoinOptions) (*Session, error) {

	s := NewSession(v.session, v.userID)
	if v.SessionHook != nil {
		v.SessionHook(s)
	}

	rm := handler.AddSynchronous[ws.Event](s, func(ev *DisconnectedEvent) {
		v.Dispatch(ev)
	})

	v.replace(guildID, s)

	err := s.JoinChannel(ctx, guildID, chID, opts)
	if err == nil && !v.owns(guildID, s) {
		err = errors.Wrap(ErrNotConnected, "session was closed while joining")
	}
	if err != nil {
		rm()
		v.remove(guildID, s)
		s.Shutdown()
		return nil, errors.Wrap(err, "failed to join channel")
	}

	return s, nil
}

// replace swaps the session of the guild and shuts the old one down.
func (v *Voice) replace(guildID discord.GuildID, s *Session) {
	v.mut.Lock()
	old := v.sessions[guildID]
	v.sessions[guildID] = s
	v.mut.Unlock()

	if old != nil && old != s {
		old.Shutdown()
	}
}

// remove deletes the session of the guild if it is still s.
func (v *Voice) remove(guildID discord.GuildID, s *Session) {
	v.mut.Lock()
	defer v.mut.Unlock()

	if v.sessions[guildID] == s {
		delete(v.sessions, guildID)
	}
}

func (v *Voice) owns(guildID discord.GuildID, s *Session) bool {
	v.mut.Lock()
	defer v.mut.Unlock()

	return v.sessions[guildID] == s
}

// Leave leaves the voice channel of the given guild.
func (v *Voice) Leave(ctx context.Context, guildID discord.GuildID) error {
	v.mut.Lock()
	s, ok := v.sessions[guildID]
	delete(v.sessions, guildID)
	v.mut.Unlock()

	if !ok {
		return ErrNotConnected
	}

	return s.Leave(ctx)
}

// Close shuts down all sessions without leaving their channels. Sessions that
// are still joining are cancelled.
func (v *Voice) Close() {
	v.mut.Lock()
	sessions := v.sessions
	v.sessions = make(map[discord.GuildID]*Session)
	v.mut.Unlock()

	for _, s := range sessions {
		s.Shutdown()
	}
}
