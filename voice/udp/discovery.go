package udp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// DiscoverySize is the size of both the IP discovery probe and its response.
const DiscoverySize = 70

// DiscoveryProbe returns the IP discovery request for the given SSRC.
func DiscoveryProbe(ssrc uint32) []byte {
	probe := make([]byte, DiscoverySize)
	binary.BigEndian.PutUint32(probe[0:4], ssrc)
	return probe
}

// ParseDiscovery parses an IP discovery response. The address is
// NUL-padded in bytes 4 to 68, followed by the port in little endian.
func ParseDiscovery(b []byte) (Discovery, error) {
	if len(b) < DiscoverySize {
		return Discovery{}, errors.Wrapf(ErrInvalidDiscovery, "response too short (%d bytes)", len(b))
	}

	addr := bytes.TrimRight(b[4:68], "\x00")
	if len(addr) == 0 {
		return Discovery{}, errors.Wrap(ErrInvalidDiscovery, "response has no address")
	}

	return Discovery{
		Address: string(addr),
		Port:    binary.LittleEndian.Uint16(b[68:70]),
	}, nil
}
