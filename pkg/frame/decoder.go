package frame

import (
	"encoding/binary"

	"github.com/rovyn/meshbridge/pkg/errors"
)

type decodeState uint8

const (
	stateAwaitingMagic decodeState = iota
	stateAwaitingMagic1
	stateAwaitingLength
	stateAwaitingPayload
	stateAwaitingChecksum
)

// Decoder is an incremental, single-byte-at-a-time frame parser. TCP delivers
// arbitrary segment boundaries, so the decoder never assumes a whole frame
// arrives in one read: every byte advances the state machine by exactly one
// step, and a partial frame simply stays parked until more bytes show up.
//
// A Decoder is not safe for concurrent use; each connection owns its own.
type Decoder struct {
	state decodeState

	lengthBuf   [2]byte
	checksumBuf [2]byte
	fieldBytes  int

	payload []byte
	digest  Fletcher16Digest
}

// Feed consumes one byte. It returns a non-nil payload when the byte
// completes a validated frame, a *errors.ChecksumMismatch when the byte
// completes a corrupted one, and (nil, nil) otherwise.
//
// The decoder always recovers forward: after yielding either a payload or an
// error it is back in the magic-search state. Garbage bytes while searching
// for magic are absorbed one at a time, so a desynchronized stream re-locks
// on the next genuine frame boundary.
func (d *Decoder) Feed(b byte) ([]byte, error) {
	switch d.state {
	case stateAwaitingMagic:
		// Stray line terminators show up between frames when the peer is a
		// newline-appending tool; skip them outright so they are never
		// mistaken for the start of a magic sequence.
		if b == '\r' || b == '\n' {
			return nil, nil
		}
		if b == MagicByte0 {
			d.state = stateAwaitingMagic1
		}
		return nil, nil

	case stateAwaitingMagic1:
		if b == MagicByte1 {
			d.state = stateAwaitingLength
			d.fieldBytes = 0
			return nil, nil
		}
		// Not a frame start after all. The current byte might itself begin
		// a magic sequence, so slide rather than drop it.
		d.state = stateAwaitingMagic
		if b == MagicByte0 {
			d.state = stateAwaitingMagic1
		}
		return nil, nil

	case stateAwaitingLength:
		d.lengthBuf[d.fieldBytes] = b
		d.fieldBytes++
		if d.fieldBytes < 2 {
			return nil, nil
		}

		length := binary.BigEndian.Uint16(d.lengthBuf[:])
		d.payload = make([]byte, 0, length)
		d.digest.Reset()
		d.fieldBytes = 0
		if length == 0 {
			d.state = stateAwaitingChecksum
		} else {
			d.state = stateAwaitingPayload
		}
		return nil, nil

	case stateAwaitingPayload:
		d.payload = append(d.payload, b)
		d.digest.WriteByte(b)
		if len(d.payload) == cap(d.payload) {
			d.state = stateAwaitingChecksum
		}
		return nil, nil

	case stateAwaitingChecksum:
		d.checksumBuf[d.fieldBytes] = b
		d.fieldBytes++
		if d.fieldBytes < 2 {
			return nil, nil
		}

		declared := binary.BigEndian.Uint16(d.checksumBuf[:])
		computed := d.digest.Sum16()
		payload := d.payload

		d.payload = nil
		d.fieldBytes = 0
		d.state = stateAwaitingMagic

		if computed != declared {
			return nil, &errors.ChecksumMismatch{
				Expected: computed,
				Actual:   declared,
			}
		}
		return payload, nil
	}

	return nil, nil
}

// Reset drops any in-progress frame and returns to the magic-search state.
func (d *Decoder) Reset() {
	d.state = stateAwaitingMagic
	d.payload = nil
	d.fieldBytes = 0
	d.digest.Reset()
}
