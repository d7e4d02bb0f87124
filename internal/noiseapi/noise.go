// Package noiseapi implements the optional Noise_NNpsk0_25519_ChaChaPoly_SHA256
// encrypted transport layered under the frame codec (internal/wire).
//
// Unlike the teacher's mutually-authenticated Noise_XX handshake in
// portal/core/cryptoops, the ESPHome device pairing model has no static
// keys on either side: both ends already share a 32-byte PSK out of band
// (the device's "API encryption key"), so the NNpsk0 pattern is used
// instead — two ephemeral-only messages with the PSK mixed into the
// first.
package noiseapi

import (
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"

	"github.com/esphome-go/native-api/esphome/esherr"
)

// PSKSize is the length in bytes of the pre-shared key.
const PSKSize = 32

// prologue binds the handshake to the ESPHome native API protocol, as
// specified: the ASCII string "NoiseAPIInit" followed by two zero bytes.
var prologue = append([]byte("NoiseAPIInit"), 0x00, 0x00)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Session drives the two-message NNpsk0 handshake and, once split, the
// per-direction AEAD data phase. The zero value is not usable; create
// one with NewSession.
//
// A Session is created fresh for each new TCP connection and destroyed
// on disconnect; it must never be reused after Reset.
type Session struct {
	psk []byte

	mu    sync.Mutex
	hs    *noise.HandshakeState
	send  *noise.CipherState
	recv  *noise.CipherState
	split bool
}

// NewSession creates an initiator Session bound to psk (must be exactly
// PSKSize bytes, typically produced by base64-decoding the device's
// encryption key).
func NewSession(psk []byte) (*Session, error) {
	if len(psk) != PSKSize {
		return nil, esherr.New(esherr.KindInvalidEncryptionKey, "noise.NewSession", nil).
			WithContext(map[string]any{"psk_len": len(psk), "want": PSKSize})
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   true,
		Prologue:    prologue,
		// psk0: the PSK is mixed in before message 1's ephemeral key,
		// per Noise_NNpsk0.
		PresharedKey:          psk,
		PresharedKeyPlacement: 0,
	})
	if err != nil {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.NewSession", err)
	}

	pskCopy := make([]byte, len(psk))
	copy(pskCopy, psk)
	return &Session{psk: pskCopy, hs: hs}, nil
}

// WriteHandshakeMessage1 returns message 1 (`e`) to send to the device.
func (s *Session) WriteHandshakeMessage1() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hs == nil {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.WriteHandshakeMessage1", nil).
			WithSuggestion("session already split or reset")
	}
	msg, _, _, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.WriteHandshakeMessage1", err)
	}
	return msg, nil
}

// ReadHandshakeMessage2 consumes message 2 (`e, ee`) from the device and
// splits the handshake state into send/receive ciphers. After this call
// succeeds the Session is in the data phase; the handshake state is
// discarded and must not be touched again.
func (s *Session) ReadHandshakeMessage2(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hs == nil {
		return esherr.New(esherr.KindHandshakeFailed, "noise.ReadHandshakeMessage2", nil).
			WithSuggestion("session already split or reset")
	}

	_, cs1, cs2, err := s.hs.ReadMessage(nil, msg)
	if err != nil {
		return esherr.New(esherr.KindHandshakeFailed, "noise.ReadHandshakeMessage2", err)
	}
	if cs1 == nil || cs2 == nil {
		return esherr.New(esherr.KindHandshakeFailed, "noise.ReadHandshakeMessage2", nil).
			WithSuggestion("handshake did not split after message 2")
	}

	// Initiator: cs1 = write (initiator->responder), cs2 = read (responder->initiator).
	s.send = cs1
	s.recv = cs2
	s.split = true
	s.hs = nil
	return nil
}

// Ready reports whether the handshake has completed and the data phase
// (Encrypt/Decrypt) is usable.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.split
}

// Encrypt AEAD-seals plaintext with empty associated data, appending to dst.
func (s *Session) Encrypt(dst, plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.split {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.Encrypt", nil).
			WithSuggestion("encrypt called before handshake split")
	}
	out, err := s.send.Encrypt(dst, nil, plaintext)
	if err != nil {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.Encrypt", err)
	}
	return out, nil
}

// Decrypt AEAD-opens ciphertext, appending the plaintext to dst. A
// decryption failure (including nonce replay/reordering) is fatal for
// the connection per spec.
func (s *Session) Decrypt(dst, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.split {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.Decrypt", nil).
			WithSuggestion("decrypt called before handshake split")
	}
	out, err := s.recv.Decrypt(dst, nil, ciphertext)
	if err != nil {
		return nil, esherr.New(esherr.KindHandshakeFailed, "noise.Decrypt", err)
	}
	return out, nil
}

// Reset zeroes the session's copy of the PSK and drops its handshake and
// cipher states. The key material held inside those flynn/noise states
// is not overwritten. The Session must not be used afterward.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wipe(s.psk)
	s.psk = nil
	s.hs = nil
	s.send = nil
	s.recv = nil
	s.split = false
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Handshake performs the full client-side two-message NNpsk0 handshake
// over conn's small handshake envelope (2-byte big-endian length prefix,
// chosen in the absence of a confirmed reference framing — see spec.md
// §9 Open Question (a)).
func (s *Session) Handshake(conn io.ReadWriter) error {
	msg1, err := s.WriteHandshakeMessage1()
	if err != nil {
		return err
	}
	if err := writeEnvelope(conn, msg1); err != nil {
		return esherr.New(esherr.KindHandshakeFailed, "noise.Handshake", err).
			WithSuggestion("failed to send handshake message 1")
	}

	msg2, err := readEnvelope(conn)
	if err != nil {
		return esherr.New(esherr.KindHandshakeFailed, "noise.Handshake", err).
			WithSuggestion("failed to read handshake message 2")
	}
	return s.ReadHandshakeMessage2(msg2)
}

// WriteEnvelope writes payload under the same 2-byte length prefix used
// for the handshake messages. The data phase reuses it to frame each
// encrypted message on the wire (internal/transport).
func WriteEnvelope(w io.Writer, payload []byte) error {
	return writeEnvelope(w, payload)
}

// ReadEnvelope reads one length-prefixed payload written by WriteEnvelope.
func ReadEnvelope(r io.Reader) ([]byte, error) {
	return readEnvelope(r)
}

func writeEnvelope(w io.Writer, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("handshake envelope too large: %d bytes", len(payload))
	}
	hdr := []byte{byte(len(payload) >> 8), byte(len(payload))}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readEnvelope(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(hdr[0])<<8 | int(hdr[1])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
