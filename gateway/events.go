// Package gateway contains the parts of the main Discord gateway that a voice
// connection depends on: the voice state and voice server events, the voice
// state command, and an in-memory Bus that carries them.
package gateway

import (
	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/discord"
	"github.com/diamondburned/voicelink/utils/json"
)

// Event is a dispatch event of the main gateway.
type Event interface {
	// EventType returns the dispatch name, such as "VOICE_STATE_UPDATE".
	EventType() string
}

// https://discord.com/developers/docs/topics/gateway#voice
type (
	VoiceStateUpdateEvent struct {
		discord.VoiceState
	}
	VoiceServerUpdateEvent struct {
		Token    string          `json:"token"`
		GuildID  discord.GuildID `json:"guild_id"`
		Endpoint string          `json:"endpoint"`
	}
)

func (*VoiceStateUpdateEvent) EventType() string  { return "VOICE_STATE_UPDATE" }
func (*VoiceServerUpdateEvent) EventType() string { return "VOICE_SERVER_UPDATE" }

// EventCreator maps an event type string to a constructor.
var EventCreator = map[string]func() Event{
	"VOICE_STATE_UPDATE":  func() Event { return new(VoiceStateUpdateEvent) },
	"VOICE_SERVER_UPDATE": func() Event { return new(VoiceServerUpdateEvent) },
}

// ErrUnknownEvent is returned by DecodeEvent for dispatch names missing from
// EventCreator.
var ErrUnknownEvent = errors.New("unknown event")

// DecodeEvent decodes the data of a dispatch with the given name.
func DecodeEvent(name string, data []byte) (Event, error) {
	fn, ok := EventCreator[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownEvent, name)
	}

	ev := fn()

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", name)
	}

	return ev, nil
}
