// Package wire implements the ESPHome native API frame codec: a preamble
// byte, a varint length, a varint message type, and a payload.
//
// Encode is pure and stateless. Decoder accumulates partial reads across
// calls to Feed and emits complete frames as soon as they are available.
package wire

import (
	"encoding/binary"

	"github.com/esphome-go/native-api/esphome/esherr"
)

// MaxFrameSize is the hard per-message payload cap (spec: 1 MiB).
const MaxFrameSize = 1 << 20

const preamble byte = 0x00

// Frame is one decoded (type, payload) pair.
type Frame struct {
	Type    uint64
	Payload []byte
}

// Encode returns the wire bytes for one frame: preamble, varint length,
// varint type, payload. The returned slice is newly allocated.
func Encode(msgType uint64, payload []byte) []byte {
	out := make([]byte, 1, 1+binary.MaxVarintLen64*2+len(payload))
	out[0] = preamble
	out = binary.AppendUvarint(out, uint64(len(payload)))
	out = binary.AppendUvarint(out, msgType)
	out = append(out, payload...)
	return out
}

// Decoder accumulates bytes fed via Feed and extracts complete frames.
// It is not safe for concurrent use; callers serialize access the same
// way the Connection serializes socket reads (see internal/transport).
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Clear discards any partially-buffered frame. Used on disconnect.
func (d *Decoder) Clear() {
	d.buf = d.buf[:0]
}

// Feed appends chunk to the internal buffer and extracts every complete
// frame available so far, in order. It returns a protocol fault
// (*esherr.Error with Kind MessageTooLarge or InvalidMessage) if the
// stream is unrecoverably malformed; all other "need more bytes"
// conditions return a nil error and whatever frames completed.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	if len(chunk) > 0 {
		d.buf = append(d.buf, chunk...)
	}

	var frames []Frame
	for {
		frame, consumed, err := d.tryExtract()
		if err != nil {
			return frames, err
		}
		if consumed == 0 {
			return frames, nil
		}
		d.buf = d.buf[consumed:]
		if frame != nil {
			frames = append(frames, *frame)
		}
		// loop again: a resync step may have consumed bytes without
		// producing a frame, or more than one frame may be buffered.
	}
}

// tryExtract attempts to pull one frame from the head of the buffer.
// Returns (nil, n, nil) when n>0 bytes of resynchronization slack were
// dropped without completing a frame; (nil, 0, nil) when more data is
// needed; (frame, n, nil) on success; (nil, 0, err) on a fatal fault.
func (d *Decoder) tryExtract() (*Frame, int, error) {
	if len(d.buf) < 2 {
		return nil, 0, nil
	}

	if d.buf[0] != preamble {
		idx := indexPreamble(d.buf[1:])
		if idx < 0 {
			// No preamble anywhere in the buffer: drop it all.
			return nil, len(d.buf), nil
		}
		// Drop the non-preamble prefix; idx is relative to buf[1:].
		return nil, idx + 1, nil
	}

	length, lenSize := binary.Uvarint(d.buf[1:])
	if lenSize == 0 {
		return nil, 0, nil // truncated, need more bytes
	}
	if lenSize < 0 {
		return nil, 0, malformedVarint()
	}
	if length > MaxFrameSize {
		return nil, 0, esherr.New(esherr.KindMessageTooLarge, "decode", nil).
			WithContext(map[string]any{"length": length, "max": uint64(MaxFrameSize)})
	}

	typeOffset := 1 + lenSize
	if typeOffset >= len(d.buf) {
		return nil, 0, nil
	}
	msgType, typeSize := binary.Uvarint(d.buf[typeOffset:])
	if typeSize == 0 {
		return nil, 0, nil
	}
	if typeSize < 0 {
		return nil, 0, malformedVarint()
	}

	dataOffset := typeOffset + typeSize
	total := dataOffset + int(length)
	if len(d.buf) < total {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[dataOffset:total])
	return &Frame{Type: msgType, Payload: payload}, total, nil
}

func malformedVarint() error {
	return esherr.New(esherr.KindInvalidMessage, "decode", nil).
		WithSuggestion("malformed varint continuation byte")
}

func indexPreamble(b []byte) int {
	for i, c := range b {
		if c == preamble {
			return i
		}
	}
	return -1
}
