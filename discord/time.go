package discord

import (
	"math"
	"time"
)

// Milliseconds is a duration in milliseconds as sent by Discord. It may carry
// a fractional part, as the voice gateway sends heartbeat intervals such as
// 13750.0.
type Milliseconds float64

// DurationToMilliseconds converts a duration into Milliseconds.
func DurationToMilliseconds(dura time.Duration) Milliseconds {
	return Milliseconds(float64(dura) / float64(time.Millisecond))
}

// Duration returns ms as a time.Duration, rounded to the nearest nanosecond.
func (ms Milliseconds) Duration() time.Duration {
	return time.Duration(math.Round(float64(ms) * float64(time.Millisecond)))
}

func (ms Milliseconds) String() string {
	return ms.Duration().String()
}
