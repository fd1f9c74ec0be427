package voicegateway

import (
	"strconv"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/json"
	"github.com/diamondburned/voicelink/utils/ws"
)

// ReadyEvent is the event for Op 2. It carries the SSRC of this client and the
// address of the media server.
//
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-ready-payload
type ReadyEvent struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`

	// The heartbeat_interval field of Ready is erroneous and ignored; the
	// interval comes from Hello.
}

// Op implements ws.Event.
func (*ReadyEvent) Op() OpCode { return ReadyOP }

// Addr returns the media server address in host:port form.
func (r ReadyEvent) Addr() string {
	return r.IP + ":" + strconv.Itoa(r.Port)
}

// SupportsMode returns true if the server offered the given encryption mode.
func (r ReadyEvent) SupportsMode(mode string) bool {
	for _, m := range r.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// SessionDescriptionEvent is the event for Op 4. It carries the secret key
// used to encrypt voice packets.
//
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-session-description-payload
type SessionDescriptionEvent struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// Op implements ws.Event.
func (*SessionDescriptionEvent) Op() OpCode { return SessionDescriptionOP }

// SpeakingEvent is the event for Op 5, sent when another user starts or stops
// speaking.
type SpeakingEvent struct {
	UserID   discord.UserID `json:"user_id,omitempty"`
	Speaking SpeakingFlag   `json:"speaking"`
	Delay    int            `json:"delay"`
	SSRC     uint32         `json:"ssrc"`
}

// Op implements ws.Event.
func (*SpeakingEvent) Op() OpCode { return SpeakingOP }

// HeartbeatAckEvent is the event for Op 6. Nonce is the echoed nonce of the
// heartbeat, or 0 if the server sent none.
//
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-ack-payload
type HeartbeatAckEvent struct {
	Nonce uint64
}

// Op implements ws.Event.
func (*HeartbeatAckEvent) Op() OpCode { return HeartbeatAckOP }

// MarshalJSON encodes the nonce as a bare number.
func (ev HeartbeatAckEvent) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, ev.Nonce, 10), nil
}

// UnmarshalJSON accepts a bare nonce, an object or null.
func (ev *HeartbeatAckEvent) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || b[0] == '{' || json.Raw(b).IsNull() {
		ev.Nonce = 0
		return nil
	}

	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return err
	}

	ev.Nonce = n
	return nil
}

// HelloEvent is the event for Op 8.
//
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-hello-payload-since-v3
type HelloEvent struct {
	HeartbeatInterval discord.Milliseconds `json:"heartbeat_interval"`
}

// Op implements ws.Event.
func (*HelloEvent) Op() OpCode { return HelloOP }

// ResumedEvent is the event for Op 9.
//
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resumed-payload
type ResumedEvent struct{}

// Op implements ws.Event.
func (*ResumedEvent) Op() OpCode { return ResumedOP }

// ClientConnectEvent is the event for Op 12 (undocumented).
type ClientConnectEvent struct {
	UserID    discord.UserID `json:"user_id"`
	AudioSSRC uint32         `json:"audio_ssrc"`
	VideoSSRC uint32         `json:"video_ssrc"`
}

// Op implements ws.Event.
func (*ClientConnectEvent) Op() OpCode { return ClientConnectOP }

// ClientDisconnectEvent is the event for Op 13 (undocumented).
//
// https://github.com/discord/discord-api-docs/issues/510
type ClientDisconnectEvent struct {
	UserID discord.UserID `json:"user_id"`
}

// Op implements ws.Event.
func (*ClientDisconnectEvent) Op() OpCode { return ClientDisconnectOP }

var (
	_ ws.Event = (*ReadyEvent)(nil)
	_ ws.Event = (*SessionDescriptionEvent)(nil)
	_ ws.Event = (*SpeakingEvent)(nil)
	_ ws.Event = (*HeartbeatAckEvent)(nil)
	_ ws.Event = (*HelloEvent)(nil)
	_ ws.Event = (*ResumedEvent)(nil)
	_ ws.Event = (*ClientConnectEvent)(nil)
	_ ws.Event = (*ClientDisconnectEvent)(nil)
)
