package voice

import (
	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/ws"
)

// DisconnectedEvent is dispatched when the voice gateway of a session closes
// on its own. The session stays around; call Reconnect to get it back, or
// Leave to give up.
type DisconnectedEvent struct {
	GuildID discord.GuildID
	Err     error
}

// Op implements ws.Event. It returns -1, since the event never goes over the
// wire.
func (*DisconnectedEvent) Op() ws.OpCode { return -1 }

// Error implements error.
func (e *DisconnectedEvent) Error() string {
	return "voice session disconnected: " + e.Err.Error()
}

// Unwrap returns e.Err.
func (e *DisconnectedEvent) Unwrap() error { return e.Err }
