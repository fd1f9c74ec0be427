package gateway

import (
	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/ws"
)

// Command is a command sent over the main gateway.
type Command = ws.Event

// VoiceStateUpdateOp is the opcode of UpdateVoiceStateCommand.
const VoiceStateUpdateOp ws.OpCode = 4

// UpdateVoiceStateCommand joins, moves between or leaves voice channels. A
// NullChannelID leaves.
type UpdateVoiceStateCommand struct {
	GuildID   discord.GuildID   `json:"guild_id"`
	ChannelID discord.ChannelID `json:"channel_id"`
	SelfMute  bool              `json:"self_mute"`
	SelfDeaf  bool              `json:"self_deaf"`
}

func (*UpdateVoiceStateCommand) Op() ws.OpCode { return VoiceStateUpdateOp }

// Codec encodes commands into main gateway frames.
var Codec = ws.NewCodec(ws.NewOpUnmarshalers(
	func() ws.Event { return new(UpdateVoiceStateCommand) },
))
