package ws

import (
	"time"

	"golang.org/x/time/rate"
)

// SendBurst determines the number of gateway commands that can be sent all at
// once before being throttled. It is read by DefaultSendLimit.
var SendBurst = 5

// SendLimit describes how fast commands may be sent over a Websocket.
type SendLimit struct {
	// PerMinute is the number of commands allowed per minute, burst included.
	PerMinute int
	// Burst is the number of commands that may go out at once.
	Burst int
	// Unthrottled lists the Op codes that skip the limiter. These are Ops that
	// are paced by their sender, like heartbeats.
	Unthrottled []OpCode
}

// DefaultSendLimit returns 120 commands per minute with a burst of SendBurst.
// Every Op is throttled.
func DefaultSendLimit() SendLimit {
	return SendLimit{PerMinute: 120, Burst: SendBurst}
}

// Throttles returns true if commands with the given Op code wait for the
// limiter.
func (l SendLimit) Throttles(code OpCode) bool {
	for _, unthrottled := range l.Unthrottled {
		if unthrottled == code {
			return false
		}
	}
	return true
}

func (l SendLimit) newLimiter() *rate.Limiter {
	steady := l.PerMinute - l.Burst
	if steady <= 0 {
		steady = l.PerMinute
	}
	if steady <= 0 {
		return rate.NewLimiter(rate.Inf, l.Burst)
	}

	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(steady)), l.Burst)
}

// NewDialLimiter returns a rate limiter for throttling new gateway connections.
func NewDialLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 1)
}
