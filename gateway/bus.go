package gateway

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/utils/handler"
)

// Bus is an in-memory main gateway. Events are dispatched to its handlers,
// and commands sent to it are recorded and passed to OnSend.
type Bus struct {
	*handler.Handlers[Event]

	// OnSend is called with every command sent, after it was recorded. It
	// may dispatch events in reply. An error is returned from SendGateway.
	OnSend func(ctx context.Context, cmd Command) error

	mu   sync.Mutex
	sent [][]byte
	cmds []Command
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{Handlers: handler.New[Event]()}
}

// SendGateway records the command and calls OnSend.
func (b *Bus) SendGateway(ctx context.Context, cmd Command) error {
	raw, err := Codec.Encode(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to encode command")
	}

	b.mu.Lock()
	b.sent = append(b.sent, raw)
	b.cmds = append(b.cmds, cmd)
	onSend := b.OnSend
	b.mu.Unlock()

	if onSend != nil {
		return onSend(ctx, cmd)
	}

	return nil
}

// Sent returns a copy of all commands sent so far.
func (b *Bus) Sent() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Command(nil), b.cmds...)
}

// SentFrames returns the wire frames of all commands sent so far.
func (b *Bus) SentFrames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([][]byte(nil), b.sent...)
}

// DispatchRaw decodes a dispatch by name and dispatches it.
func (b *Bus) DispatchRaw(name string, data []byte) error {
	ev, err := DecodeEvent(name, data)
	if err != nil {
		return err
	}

	b.Dispatch(ev)
	return nil
}
