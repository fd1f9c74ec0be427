package udp

import "github.com/pion/rtp"

// Packet is a received voice packet.
type Packet struct {
	Header rtp.Header
	// Opus is the decrypted Opus frame with any RTP header extension
	// stripped.
	Opus []byte
}

// Sequence returns the packet sequence.
func (p *Packet) Sequence() uint16 { return p.Header.SequenceNumber }

// Timestamp returns the packet's timestamp.
func (p *Packet) Timestamp() uint32 { return p.Header.Timestamp }

// SSRC returns the packet's SSRC number.
func (p *Packet) SSRC() uint32 { return p.Header.SSRC }
