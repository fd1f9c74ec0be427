package voice

import (
	"context"
	"io"

	"github.com/diamondburned/voicelink/voice/udp"
)

// AudioProvider supplies Opus frames to a session, one per udp.FrameDuration.
// An empty frame is silence and is not sent. io.EOF ends the stream.
type AudioProvider interface {
	ProvideFrame(ctx context.Context) ([]byte, error)
}

// AudioProviderFunc is a function that implements AudioProvider.
type AudioProviderFunc func(ctx context.Context) ([]byte, error)

// ProvideFrame implements AudioProvider.
func (f AudioProviderFunc) ProvideFrame(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ChannelProvider provides the frames sent into it. Closing the channel ends
// the stream.
type ChannelProvider <-chan []byte

// ProvideFrame implements AudioProvider.
func (ch ChannelProvider) ProvideFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-ch:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AudioReceiver receives the decrypted packets of a session. ReceivePacket is
// called from a single goroutine, and the packet is not reused.
type AudioReceiver interface {
	ReceivePacket(p *udp.Packet)
}

// AudioReceiverFunc is a function that implements AudioReceiver.
type AudioReceiverFunc func(p *udp.Packet)

// ReceivePacket implements AudioReceiver.
func (f AudioReceiverFunc) ReceivePacket(p *udp.Packet) { f(p) }
