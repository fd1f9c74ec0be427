package voicegateway

// Status is the state of the voice gateway handshake.
type Status uint32

const (
	// Connecting means the websocket is being dialed.
	Connecting Status = iota
	// AwaitHello means the websocket is open and Hello hasn't arrived.
	AwaitHello
	// Identifying means Hello arrived and Identify is being sent.
	Identifying
	// AwaitReady means Identify was sent and Ready hasn't arrived.
	AwaitReady
	// AwaitSessionDescription means Ready arrived; the caller is expected to
	// send SelectProtocol.
	AwaitSessionDescription
	// Connected means the secret key is known, or a resume succeeded.
	Connected
	// Resuming means Hello arrived and Resume is being sent.
	Resuming
	// Closed means the gateway has stopped for good.
	Closed
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case AwaitHello:
		return "AwaitHello"
	case Identifying:
		return "Identifying"
	case AwaitReady:
		return "AwaitReady"
	case AwaitSessionDescription:
		return "AwaitSessionDescription"
	case Connected:
		return "Connected"
	case Resuming:
		return "Resuming"
	case Closed:
		return "Closed"
	default:
		return "Status(?)"
	}
}
