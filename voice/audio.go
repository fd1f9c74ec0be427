package voice

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/diamondburned/voicelink/utils/ws"
	"github.com/diamondburned/voicelink/voice/udp"
	"github.com/diamondburned/voicelink/voice/voicegateway"
)

// packetConn is the part of udp.Connection used by the audio loops.
type packetConn interface {
	Write(ctx context.Context, b []byte) error
	Inbound() <-chan []byte
}

type speaker interface {
	Speaking(ctx context.Context, flag voicegateway.SpeakingFlag) error
}

var _ packetConn = (*udp.Connection)(nil)

// speakingTimeout bounds the final not-speaking update, which is sent after
// the send loop was told to stop.
const speakingTimeout = 5 * time.Second

// audio moves frames between the providers and the media socket.
type audio struct {
	transformer *udp.Transformer
	conn        packetConn
	speaker     speaker
	provider    AudioProvider
	receiver    AudioReceiver

	frameDuration time.Duration
}

// run blocks until ctx is cancelled or the inbound stream ends. A provider
// that ends only stops the send loop.
func (a *audio) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.provider != nil {
		g.Go(func() error { return a.sendLoop(ctx) })
	}

	g.Go(func() error { return a.recvLoop(ctx) })

	return g.Wait()
}

// https://discord.com/developers/docs/topics/voice-connections#encrypting-and-sending-voice
func (a *audio) sendLoop(ctx context.Context) error {
	pacer := udp.NewPacer(a.frameDuration)
	defer pacer.Stop()

	var detector udp.SpeakingDetector

	defer func() {
		if !detector.Finish() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), speakingTimeout)
		defer cancel()

		if err := a.speaker.Speaking(ctx, voicegateway.NotSpeaking); err != nil {
			ws.WSError(errors.Wrap(err, "failed to stop speaking"))
		}
	}()

	for {
		frame, err := a.provider.ProvideFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "audio provider failed")
		}

		if changed, speaking := detector.Observe(len(frame)); changed {
			flag := voicegateway.NotSpeaking
			if speaking {
				flag = voicegateway.Microphone
			}

			if err := a.speaker.Speaking(ctx, flag); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ws.WSError(errors.Wrap(err, "failed to send speaking update"))
			}
		}

		// Silence still takes up its slot on the clock.
		if len(frame) == 0 {
			if err := pacer.Wait(ctx); err != nil {
				return nil
			}
			continue
		}

		packet, err := a.transformer.Seal(frame)
		if err != nil {
			return errors.Wrap(err, "failed to seal frame")
		}

		if err := pacer.Wait(ctx); err != nil {
			return nil
		}

		if err := a.conn.Write(ctx, packet); err != nil {
			if ctx.Err() != nil || errors.Is(err, udp.ErrClosed) {
				return nil
			}
			ws.WSError(errors.Wrap(err, "failed to send voice packet"))
		}
	}
}

func (a *audio) recvLoop(ctx context.Context) error {
	inbound := a.conn.Inbound()

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-inbound:
			if !ok {
				return nil
			}

			p, err := a.transformer.Open(b)
			if err != nil {
				ws.WSDebug("Dropped voice packet:", err)
				continue
			}

			if a.receiver != nil {
				a.receiver.ReceivePacket(p)
			}
		}
	}
}
