// Package opus provides audio sources and sinks for voice sessions: Opus
// frames read from Ogg files or length-prefixed streams, and a receiver that
// decodes incoming packets to PCM.
package opus

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/voice"
)

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("opus frame too large")

// MaxFrameSize is the largest frame FrameReader accepts.
const MaxFrameSize = 4000

// PrefixSize is the size of the little-endian length prefix before each
// frame in a stream.
type PrefixSize int

const (
	// Prefix16 is used by ffmpeg pipelines that write 16-bit lengths.
	Prefix16 PrefixSize = 2
	// Prefix32 is used by DCA files.
	Prefix32 PrefixSize = 4
)

// FrameReader reads length-prefixed Opus frames from an io.Reader. It
// implements voice.AudioProvider.
type FrameReader struct {
	r      io.Reader
	prefix PrefixSize
}

var _ voice.AudioProvider = (*FrameReader)(nil)

// NewFrameReader returns a new FrameReader that reads from r. A prefix other
// than Prefix32 is treated as Prefix16.
func NewFrameReader(r io.Reader, prefix PrefixSize) *FrameReader {
	if prefix != Prefix32 {
		prefix = Prefix16
	}
	return &FrameReader{r: r, prefix: prefix}
}

// ReadFrame reads and returns the next raw Opus frame. It returns io.EOF when
// there are no more frames. A zero length yields an empty frame.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(f.r, lenbuf[:f.prefix]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	var size int
	if f.prefix == Prefix32 {
		size = int(binary.LittleEndian.Uint32(lenbuf[:]))
	} else {
		size = int(binary.LittleEndian.Uint16(lenbuf[:]))
	}

	if size > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "frame of %d bytes", size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		return nil, errors.Wrap(err, "failed to read frame")
	}

	return frame, nil
}

// ProvideFrame implements voice.AudioProvider.
func (f *FrameReader) ProvideFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.ReadFrame()
}
