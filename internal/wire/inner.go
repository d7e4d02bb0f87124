package wire

// EncodeInner returns the varint-length + varint-type + payload bytes
// carried inside one Noise-encrypted data message: the unencrypted frame
// with its leading preamble byte omitted.
func EncodeInner(msgType uint64, payload []byte) []byte {
	full := Encode(msgType, payload)
	return full[1:] // drop the leading preamble byte
}

// DecodeInner parses one complete inner message (the plaintext recovered
// from a single Noise Decrypt call). It requires the whole message to be
// present; there is no partial-frame accumulation in the encrypted data
// phase.
func DecodeInner(b []byte) (Frame, error) {
	d := &Decoder{buf: append([]byte{preamble}, b...)}
	frames, err := d.Feed(nil)
	if err != nil {
		return Frame{}, err
	}
	if len(frames) != 1 || len(d.buf) != 0 {
		return Frame{}, malformedVarint()
	}
	return frames[0], nil
}
