package voicegateway

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/ws"
)

var (
	// ErrMissingForIdentify is an error when we are missing information to identify.
	ErrMissingForIdentify = errors.New("missing GuildID, UserID, SessionID, or Token for identify")

	// ErrMissingForResume is an error when we are missing information to resume.
	ErrMissingForResume = errors.New("missing GuildID, SessionID, or Token for resuming")
)

// IdentifyCommand is a command for Op 0.
//
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-identify-payload
type IdentifyCommand struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	UserID    discord.UserID  `json:"user_id"`
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

// Op implements ws.Event.
func (*IdentifyCommand) Op() OpCode { return IdentifyOP }

// SelectProtocolCommand is a command for Op 1.
//
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-select-protocol-payload
type SelectProtocolCommand struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// SelectProtocolData is the data inside a SelectProtocolCommand.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// Op implements ws.Event.
func (*SelectProtocolCommand) Op() OpCode { return SelectProtocolOP }

// HeartbeatCommand is a command for Op 3. Its value is a nonce that the server
// echoes back in the HeartbeatAckEvent.
//
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-payload
type HeartbeatCommand uint64

// Op implements ws.Event.
func (*HeartbeatCommand) Op() OpCode { return HeartbeatOP }

// SpeakingFlag describes what kind of audio a speaking user sends.
//
// https://discord.com/developers/docs/topics/voice-connections#speaking
type SpeakingFlag uint64

const (
	Microphone SpeakingFlag = 1 << iota
	Soundshare
	Priority
)

// NotSpeaking marks the end of a run of audio.
const NotSpeaking SpeakingFlag = 0

// Has returns true if flag is set in f.
func (f SpeakingFlag) Has(flag SpeakingFlag) bool {
	return discord.HasFlag(uint64(f), uint64(flag))
}

// UnmarshalJSON accepts both the numeric flags and the boolean that older
// gateway versions send.
func (f *SpeakingFlag) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "true":
		*f = Microphone
		return nil
	case "false", "null":
		*f = NotSpeaking
		return nil
	}

	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid speaking flag %q", b)
	}

	*f = SpeakingFlag(v)
	return nil
}

// SpeakingCommand is a command for Op 5.
//
// https://discord.com/developers/docs/topics/voice-connections#speaking-example-speaking-payload
type SpeakingCommand struct {
	Speaking SpeakingFlag `json:"speaking"`
	Delay    int          `json:"delay"`
	SSRC     uint32       `json:"ssrc"`
}

// Op implements ws.Event.
func (*SpeakingCommand) Op() OpCode { return SpeakingOP }

// ResumeCommand is a command for Op 7.
//
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resume-connection-payload
type ResumeCommand struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

// Op implements ws.Event.
func (*ResumeCommand) Op() OpCode { return ResumeOP }

var (
	_ ws.Event = (*IdentifyCommand)(nil)
	_ ws.Event = (*SelectProtocolCommand)(nil)
	_ ws.Event = (*HeartbeatCommand)(nil)
	_ ws.Event = (*SpeakingCommand)(nil)
	_ ws.Event = (*ResumeCommand)(nil)
)
