package voicegateway

import (
	"github.com/diamondburned/voicelink/utils/ws"
)

// OpCode represents a Discord voice gateway operation code.
type OpCode = ws.OpCode

const (
	IdentifyOP           OpCode = 0  // send
	SelectProtocolOP     OpCode = 1  // send
	ReadyOP              OpCode = 2  // receive
	HeartbeatOP          OpCode = 3  // send
	SessionDescriptionOP OpCode = 4  // receive
	SpeakingOP           OpCode = 5  // send/receive
	HeartbeatAckOP       OpCode = 6  // receive
	ResumeOP             OpCode = 7  // send
	HelloOP              OpCode = 8  // receive
	ResumedOP            OpCode = 9  // receive
	ClientConnectOP      OpCode = 12 // receive
	ClientDisconnectOP   OpCode = 13 // receive
)

// UnknownEvent is the event of an Op that is not in OpUnmarshalers. Its raw
// payload is preserved.
type UnknownEvent = ws.UnknownEvent

// OpUnmarshalers contains the Op codes known to the voice gateway. Outbound
// commands are registered too, so captured client frames decode as well.
var OpUnmarshalers = ws.NewOpUnmarshalers(
	func() ws.Event { return new(IdentifyCommand) },
	func() ws.Event { return new(SelectProtocolCommand) },
	func() ws.Event { return new(ReadyEvent) },
	func() ws.Event { return new(HeartbeatCommand) },
	func() ws.Event { return new(SessionDescriptionEvent) },
	func() ws.Event { return new(SpeakingEvent) },
	func() ws.Event { return new(HeartbeatAckEvent) },
	func() ws.Event { return new(ResumeCommand) },
	func() ws.Event { return new(HelloEvent) },
	func() ws.Event { return new(ResumedEvent) },
	func() ws.Event { return new(ClientConnectEvent) },
	func() ws.Event { return new(ClientDisconnectEvent) },
)

// Codec is the codec of the voice gateway.
var Codec = ws.NewCodec(OpUnmarshalers)

// SendLimit returns the send limit of the voice gateway. Heartbeats are paced
// by the gateway and skip the limiter.
func SendLimit() ws.SendLimit {
	limit := ws.DefaultSendLimit()
	limit.Unthrottled = []OpCode{HeartbeatOP}
	return limit
}
