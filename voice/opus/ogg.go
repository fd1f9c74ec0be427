package opus

import (
	"bytes"
	"context"
	"io"

	"github.com/jonas747/ogg"
	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/voice"
)

// OggProvider reads the Opus packets of an Ogg stream. The OpusHead and
// OpusTags packets are skipped, as are empty packets. It implements voice.AudioProvider.
type OggProvider struct {
	dec *ogg.PacketDecoder
}

var _ voice.AudioProvider = (*OggProvider)(nil)

// NewOggProvider returns a provider that reads the Ogg stream from r.
func NewOggProvider(r io.Reader) *OggProvider {
	return &OggProvider{dec: ogg.NewPacketDecoder(ogg.NewDecoder(r))}
}

var (
	opusHead = []byte("OpusHead")
	opusTags = []byte("OpusTags")
)

// ReadFrame returns the next Opus packet, or io.EOF at the end of the stream.
// A truncated last page also ends the stream.
func (p *OggProvider) ReadFrame() ([]byte, error) {
	for {
		packet, _, err := p.dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "failed to decode ogg")
		}

		if len(packet) == 0 {
			continue
		}
		if bytes.HasPrefix(packet, opusHead) || bytes.HasPrefix(packet, opusTags) {
			continue
		}

		return packet, nil
	}
}

// ProvideFrame implements voice.AudioProvider.
func (p *OggProvider) ProvideFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.ReadFrame()
}
