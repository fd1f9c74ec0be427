package udp

import (
	"encoding/binary"
	"sync"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// Transformer turns Opus frames into encrypted RTP datagrams and back. The
// sequence and timestamp counters belong to the Transformer; a new session
// needs a new Transformer.
type Transformer struct {
	mu        sync.RWMutex
	header    rtp.Header
	secret    [32]byte
	hasSecret bool
}

// NewTransformer creates a Transformer that stamps packets with the given
// SSRC. It cannot seal anything until UseSecret is called.
func NewTransformer(ssrc uint32) *Transformer {
	return &Transformer{
		header: rtp.Header{
			Version:     2,
			PayloadType: PayloadType,
			SSRC:        ssrc,
		},
	}
}

// UseSecret sets the secret key given by the session description. The key can
// only be set once; later calls return ErrSecretAlreadySet and the first key
// stays.
func (t *Transformer) UseSecret(secret [32]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasSecret {
		return ErrSecretAlreadySet
	}

	t.secret = secret
	t.hasSecret = true
	return nil
}

// HasSecret returns true if UseSecret was called.
func (t *Transformer) HasSecret() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.hasSecret
}

// SSRC returns the SSRC stamped on sealed packets.
func (t *Transformer) SSRC() uint32 {
	return t.header.SSRC
}

// Seal wraps frame into an RTP packet and encrypts it. Every call advances the
// sequence by one and the timestamp by TimestampIncrement.
func (t *Transformer) Seal(frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasSecret {
		return nil, ErrNoSecret
	}

	packet := make([]byte, HeaderSize, HeaderSize+len(frame)+secretbox.Overhead)

	if _, err := t.header.MarshalTo(packet); err != nil {
		return nil, errors.Wrap(err, "failed to marshal RTP header")
	}

	t.header.SequenceNumber++
	t.header.Timestamp += TimestampIncrement

	var nonce [24]byte
	copy(nonce[:], packet)

	return secretbox.Seal(packet, frame, &nonce, &t.secret), nil
}

// Open decrypts a received datagram.
func (t *Transformer) Open(b []byte) (*Packet, error) {
	if len(b) < HeaderSize+secretbox.Overhead {
		return nil, errors.Wrapf(ErrInvalidPacket, "datagram too short (%d bytes)", len(b))
	}

	// Version 2 without CSRCs, with or without an extension.
	if b[0] != 0x80 && b[0] != 0x90 {
		return nil, errors.Wrapf(ErrInvalidPacket, "unexpected first byte 0x%02x", b[0])
	}

	t.mu.RLock()
	secret, ok := t.secret, t.hasSecret
	t.mu.RUnlock()

	if !ok {
		return nil, ErrNoSecret
	}

	// The extension lives inside the encrypted payload, so the header is
	// parsed without it.
	var raw [HeaderSize]byte
	copy(raw[:], b)

	hasExtension := raw[0]&0x10 != 0
	raw[0] &^= 0x10

	var pkt Packet

	if _, err := pkt.Header.Unmarshal(raw[:]); err != nil {
		return nil, errors.Wrap(ErrInvalidPacket, err.Error())
	}
	pkt.Header.Extension = hasExtension

	var nonce [24]byte
	copy(nonce[:], b[:HeaderSize])

	pkt.Opus, ok = secretbox.Open(nil, b[HeaderSize:], &nonce, &secret)
	if !ok {
		return nil, ErrDecryptionFailed
	}

	// A set marker bit means the packet is RTCP, which carries no extension.
	if hasExtension && !pkt.Header.Marker && len(pkt.Opus) >= 4 {
		extLen := binary.BigEndian.Uint16(pkt.Opus[2:4])
		shift := 4 + 4*int(extLen)

		if len(pkt.Opus) > shift {
			pkt.Opus = pkt.Opus[shift:]
		}
	}

	return &pkt, nil
}
