// Package frame implements the binary bridge frame protocol spoken between
// the hub and its TCP peers:
//
//	[Magic:2 = C0 3E] [Length:2 BE] [Payload:N] [Checksum:2 BE] ['\n']
//
// The checksum is Fletcher-16 over the payload only. The trailing newline is
// always sent but only tolerated, never required, on receive - it exists so
// line-based tooling on the other end of the pipe stays usable.
package frame

import (
	"encoding/binary"

	"github.com/rovyn/meshbridge/pkg/errors"
)

const (
	MagicByte0 byte = 0xC0
	MagicByte1 byte = 0x3E

	// MaxPayloadSize is the largest payload expressible in the 16-bit
	// length field.
	MaxPayloadSize = 65535

	headerSize   = 4
	checksumSize = 2
)

// Encode wraps payload in a bridge frame. It never writes partial output:
// payloads over MaxPayloadSize are rejected up front.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &errors.OversizedPayload{
			PayloadSize: len(payload),
			MaxSize:     MaxPayloadSize,
		}
	}

	out := make([]byte, headerSize+len(payload)+checksumSize+1)
	out[0] = MagicByte0
	out[1] = MagicByte1
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[headerSize:], payload)
	binary.BigEndian.PutUint16(out[headerSize+len(payload):], Fletcher16(payload))
	out[len(out)-1] = '\n'

	return out, nil
}
