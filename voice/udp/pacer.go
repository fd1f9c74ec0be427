package udp

import (
	"context"
	"sync"
	"time"
)

// Pacer is a fixed-rate clock for outgoing frames. A frame that misses its
// tick goes out on the next one.
type Pacer struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

// NewPacer creates a Pacer that ticks every frame duration. A zero duration
// means FrameDuration.
func NewPacer(frame time.Duration) *Pacer {
	if frame <= 0 {
		frame = FrameDuration
	}

	return &Pacer{
		ticker: time.NewTicker(frame),
		stop:   make(chan struct{}),
	}
}

// Wait blocks until the next tick.
func (p *Pacer) Wait(ctx context.Context) error {
	select {
	case <-p.stop:
		return ErrClosed
	default:
	}

	select {
	case <-p.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrClosed
	}
}

// Stop stops the Pacer. Pending and future Wait calls return ErrClosed.
func (p *Pacer) Stop() {
	p.once.Do(func() {
		p.ticker.Stop()
		close(p.stop)
	})
}
