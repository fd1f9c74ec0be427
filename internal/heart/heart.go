// Package heart implements a general purpose pacemaker.
package heart

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrDead is returned by Pace if too many heartbeats went unacknowledged.
var ErrDead = errors.New("no heartbeat replied")

// DefaultMaxMissed is the default number of consecutive heartbeats that may go
// unacknowledged before the pacemaker is considered dead.
const DefaultMaxMissed = 3

// Pacemaker sends heartbeats at a fixed rate and tracks their
// acknowledgements.
type Pacemaker struct {
	// Heartrate is the received duration between heartbeats.
	Heartrate time.Duration
	// MaxMissed is the number of consecutive unacknowledged heartbeats after
	// which Pace returns ErrDead.
	MaxMissed int

	ticker *time.Ticker
	Ticks  <-chan time.Time

	// UnixNano timestamps.
	sentBeat atomic.Int64
	echoBeat atomic.Int64
	missed   atomic.Int32

	// Pacer sends a single heartbeat.
	Pacer func(context.Context) error
}

// NewPacemaker creates a new started Pacemaker.
func NewPacemaker(heartrate time.Duration, pacer func(context.Context) error) *Pacemaker {
	p := &Pacemaker{
		Heartrate: heartrate,
		MaxMissed: DefaultMaxMissed,
		Pacer:     pacer,
		ticker:    time.NewTicker(heartrate),
	}
	p.Ticks = p.ticker.C

	return p
}

// Echo marks the last heartbeat as acknowledged.
func (p *Pacemaker) Echo() {
	p.echoBeat.Store(time.Now().UnixNano())
	p.missed.Store(0)
}

// Missed returns the number of consecutive unacknowledged heartbeats.
func (p *Pacemaker) Missed() int {
	return int(p.missed.Load())
}

// Dead returns true if MaxMissed heartbeats in a row were not acknowledged.
func (p *Pacemaker) Dead() bool {
	return p.MaxMissed > 0 && p.Missed() >= p.MaxMissed
}

// Latency returns the duration between the last heartbeat and its
// acknowledgement. It returns 0 if the last heartbeat is still pending.
func (p *Pacemaker) Latency() time.Duration {
	sent := p.sentBeat.Load()
	echo := p.echoBeat.Load()

	if sent == 0 || echo < sent {
		return 0
	}

	return time.Duration(echo - sent)
}

// Stop stops the pacemaker's ticker.
func (p *Pacemaker) Stop() {
	p.ticker.Stop()
}

// Pace sends a heartbeat with a timeout of one heartrate.
func (p *Pacemaker) Pace() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.Heartrate)
	defer cancel()

	return p.PaceCtx(ctx)
}

// PaceCtx sends a heartbeat unless the pacemaker is already dead, in which
// case ErrDead is returned and nothing is sent.
func (p *Pacemaker) PaceCtx(ctx context.Context) error {
	if p.Dead() {
		return ErrDead
	}

	if err := p.Pacer(ctx); err != nil {
		return err
	}

	p.sentBeat.Store(time.Now().UnixNano())
	p.missed.Inc()

	return nil
}
