// Package udp implements the media half of a Discord voice session: the UDP
// socket, IP discovery, and the RTP framing and secretbox encryption of Opus
// frames.
package udp

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dialer is the default dialer that this package uses for all its dialing.
var Dialer = net.Dialer{
	Timeout: 10 * time.Second,
}

var (
	// ErrClosed is returned if a Connection is used after it was closed.
	ErrClosed = errors.New("UDP connection closed")
	// ErrDiscoveryTimeout is returned if the server never answers the IP
	// discovery probe.
	ErrDiscoveryTimeout = errors.New("IP discovery timed out")
	// ErrInvalidDiscovery is returned if the IP discovery response is
	// malformed.
	ErrInvalidDiscovery = errors.New("invalid IP discovery response")
	// ErrDecryptionFailed is returned from Open if the received packet fails
	// to decrypt.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidPacket is returned from Open if the datagram is not an RTP
	// voice packet.
	ErrInvalidPacket = errors.New("invalid voice packet")
	// ErrNoSecret is returned when sealing or opening before a secret key was
	// given to the Transformer.
	ErrNoSecret = errors.New("no secret key")
	// ErrSecretAlreadySet is returned if UseSecret is called twice.
	ErrSecretAlreadySet = errors.New("secret key is already set")
)

const (
	// HeaderSize is the size of the RTP header of every voice packet.
	HeaderSize = 12
	// PayloadType is the RTP payload type of Opus voice packets.
	PayloadType = 0x78
	// FrameDuration is the duration of a single Opus frame.
	FrameDuration = 20 * time.Millisecond
	// TimestampIncrement is the number of 48kHz samples in a single frame.
	TimestampIncrement = 960
	// MaxPacketSize is the size of the receive buffer.
	MaxPacketSize = 1500
)
