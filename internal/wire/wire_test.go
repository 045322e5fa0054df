package wire

import (
	"net"
	"testing"

	"go.klb.dev/selsync/internal/crypto"
	"go.klb.dev/selsync/internal/packet"
)

func roundTrip(t *testing.T, key *[32]byte) {
	t.Helper()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	wa, wb := New(a, key), New(b, key)

	want := &packet.Packet{
		Type:      packet.TypeContents,
		Selection: "CLIPBOARD",
		Format:    "text/plain",
		Payload:   packet.EncodePayload([]byte("over the wire")),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- wa.WritePacket(want) }()

	got, err := wb.ReadPacket()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("write: %v", err)
	}
	if got.Type != want.Type || got.Selection != want.Selection || got.Payload != want.Payload {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPlaintextRoundTrip(t *testing.T) { roundTrip(t, nil) }

func TestEncryptedRoundTrip(t *testing.T) {
	key, err := crypto.DeriveKey("wire test")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	roundTrip(t, key)
}

func TestKeyMismatchFailsRead(t *testing.T) {
	ka, _ := crypto.DeriveKey("one")
	kb, _ := crypto.DeriveKey("two")
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	wa, wb := New(a, ka), New(b, kb)

	go wa.WritePacket(&packet.Packet{Type: packet.TypePing})
	if _, err := wb.ReadPacket(); err == nil {
		t.Fatal("mismatched keys should fail decryption")
	}
}
