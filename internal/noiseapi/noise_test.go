package noiseapi

import (
	"bytes"
	"testing"

	"github.com/flynn/noise"
)

func testPSK() []byte {
	psk := make([]byte, PSKSize)
	for i := range psk {
		psk[i] = byte(i)
	}
	return psk
}

// responderHandshake plays the device side of the NNpsk0 handshake
// directly against flynn/noise, independent of Session, so the test
// exercises interoperability rather than a self-consistent mock.
func responderHandshake(t *testing.T, psk []byte, msg1 []byte) (msg2 []byte, send, recv *noise.CipherState) {
	t.Helper()
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:           cipherSuite,
		Pattern:               noise.HandshakeNN,
		Initiator:             false,
		Prologue:              prologue,
		PresharedKey:          psk,
		PresharedKeyPlacement: 0,
	})
	if err != nil {
		t.Fatalf("responder NewHandshakeState: %v", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		t.Fatalf("responder ReadMessage(msg1): %v", err)
	}
	msg2, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("responder WriteMessage(msg2): %v", err)
	}
	// Responder: cs1 = read (initiator->responder), cs2 = write (responder->initiator).
	return msg2, cs2, cs1
}

func TestSessionHandshakeAndDataPhase(t *testing.T) {
	psk := testPSK()

	session, err := NewSession(psk)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if session.Ready() {
		t.Fatal("session should not be ready before handshake")
	}

	msg1, err := session.WriteHandshakeMessage1()
	if err != nil {
		t.Fatalf("WriteHandshakeMessage1: %v", err)
	}

	msg2, responderSend, responderRecv := responderHandshake(t, psk, msg1)

	if err := session.ReadHandshakeMessage2(msg2); err != nil {
		t.Fatalf("ReadHandshakeMessage2: %v", err)
	}
	if !session.Ready() {
		t.Fatal("session should be ready after split")
	}

	plaintext := []byte("client->device hello")
	ciphertext, err := session.Encrypt(nil, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := responderRecv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		t.Fatalf("responder Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", decrypted, plaintext)
	}

	reply := []byte("device->client ack")
	replyCipher, err := responderSend.Encrypt(nil, nil, reply)
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	got, err := session.Decrypt(nil, replyCipher)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("reply mismatch: got %q want %q", got, reply)
	}
}

func TestSessionRejectsWrongPSKSize(t *testing.T) {
	_, err := NewSession(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for undersized PSK")
	}
}

func TestEncryptBeforeHandshakeFails(t *testing.T) {
	session, err := NewSession(testPSK())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := session.Encrypt(nil, []byte("x")); err == nil {
		t.Fatal("expected error encrypting before handshake split")
	}
}

func TestDecryptReplayFails(t *testing.T) {
	psk := testPSK()
	session, err := NewSession(psk)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	msg1, err := session.WriteHandshakeMessage1()
	if err != nil {
		t.Fatalf("WriteHandshakeMessage1: %v", err)
	}
	msg2, responderSend, _ := responderHandshake(t, psk, msg1)
	if err := session.ReadHandshakeMessage2(msg2); err != nil {
		t.Fatalf("ReadHandshakeMessage2: %v", err)
	}

	ciphertext, err := responderSend.Encrypt(nil, nil, []byte("one"))
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	if _, err := session.Decrypt(nil, ciphertext); err != nil {
		t.Fatalf("first decrypt should succeed: %v", err)
	}

	// Replaying the same ciphertext desyncs the receive nonce and must fail.
	if _, err := session.Decrypt(nil, ciphertext); err == nil {
		t.Fatal("expected replayed ciphertext to fail decryption")
	}
}
