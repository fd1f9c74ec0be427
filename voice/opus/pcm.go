package opus

import (
	"encoding/binary"
	"sync"

	opusdec "github.com/pion/opus"
	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/utils/ws"
	"github.com/diamondburned/voicelink/voice"
	"github.com/diamondburned/voicelink/voice/udp"
)

// PCM is a decoded frame of a single speaker.
type PCM struct {
	SSRC       uint32
	Sequence   uint16
	SampleRate int
	Stereo     bool
	// Samples are signed 16-bit samples, interleaved if Stereo.
	Samples []int16
}

// maxFrameBytes fits 120ms of 48kHz stereo 16-bit audio.
const maxFrameBytes = 5760 * 2 * 2

// PCMReceiver decodes incoming packets with one decoder per SSRC and hands
// the samples to a callback. Packets that fail to decode are dropped. It
// implements voice.AudioReceiver.
type PCMReceiver struct {
	fn func(PCM)

	mu       sync.Mutex
	decoders map[uint32]*opusdec.Decoder
	buf      []byte
}

var _ voice.AudioReceiver = (*PCMReceiver)(nil)

// NewPCMReceiver creates a receiver calling fn for every decoded frame.
func NewPCMReceiver(fn func(PCM)) *PCMReceiver {
	return &PCMReceiver{
		fn:       fn,
		decoders: make(map[uint32]*opusdec.Decoder),
		buf:      make([]byte, maxFrameBytes),
	}
}

// ReceivePacket implements voice.AudioReceiver.
func (r *PCMReceiver) ReceivePacket(p *udp.Packet) {
	pcm, err := r.Decode(p)
	if err != nil {
		ws.WSDebug("Dropped undecodable voice packet:", err)
		return
	}

	r.fn(pcm)
}

// Decode decodes a single packet with the decoder of its SSRC.
func (r *PCMReceiver) Decode(p *udp.Packet) (PCM, error) {
	samples := FrameSamples(p.Opus)
	if samples == 0 {
		return PCM{}, errors.New("not a decodable opus frame")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dec, ok := r.decoders[p.SSRC()]
	if !ok {
		d := opusdec.NewDecoder()
		dec = &d
		r.decoders[p.SSRC()] = dec
	}

	bandwidth, stereo, err := dec.Decode(p.Opus, r.buf)
	if err != nil {
		return PCM{}, errors.Wrap(err, "opus decode failed")
	}

	rate := int(bandwidth.SampleRate())

	// FrameSamples assumes 48kHz.
	n := samples * rate / 48000
	if stereo {
		n *= 2
	}
	if n > len(r.buf)/2 {
		n = len(r.buf) / 2
	}

	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(r.buf[i*2:]))
	}

	return PCM{
		SSRC:       p.SSRC(),
		Sequence:   p.Sequence(),
		SampleRate: rate,
		Stereo:     stereo,
		Samples:    out,
	}, nil
}

// Forget drops the decoder state of an SSRC, such as after its user left.
func (r *PCMReceiver) Forget(ssrc uint32) {
	r.mu.Lock()
	delete(r.decoders, ssrc)
	r.mu.Unlock()
}

// frameDurations are the frame sizes at 48kHz of each TOC configuration.
//
// https://www.rfc-editor.org/rfc/rfc6716#section-3.1
var frameDurations = [32]int{
	480, 960, 1920, 2880, // SILK NB
	480, 960, 1920, 2880, // SILK MB
	480, 960, 1920, 2880, // SILK WB
	480, 960, // Hybrid SWB
	480, 960, // Hybrid FB
	120, 240, 480, 960, // CELT NB
	120, 240, 480, 960, // CELT WB
	120, 240, 480, 960, // CELT SWB
	120, 240, 480, 960, // CELT FB
}

// FrameSamples returns the number of samples per channel at 48kHz that an
// Opus packet decodes to, or 0 if the packet is empty or malformed.
func FrameSamples(packet []byte) int {
	if len(packet) == 0 {
		return 0
	}

	toc := packet[0]
	per := frameDurations[toc>>3]

	switch toc & 0x3 {
	case 0:
		return per
	case 1, 2:
		return 2 * per
	default:
		if len(packet) < 2 {
			return 0
		}
		count := int(packet[1] & 0x3F)
		if count == 0 || count*per > 5760 {
			return 0
		}
		return count * per
	}
}
