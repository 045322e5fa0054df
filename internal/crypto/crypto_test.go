package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey("shared token")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	plain := []byte(`{"type":"TOKEN","selection":"CLIPBOARD"}`)
	ct, err := Seal(plain, key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(ct, plain) {
		t.Fatal("ciphertext contains plaintext")
	}
	out, err := Open(ct, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatal("round trip mismatch")
	}
}

func TestDerivedKeysMatchByToken(t *testing.T) {
	a, _ := DeriveKey("tok")
	b, _ := DeriveKey("tok")
	c, _ := DeriveKey("other")
	if *a != *b {
		t.Fatal("same token must derive the same key")
	}
	if *a == *c {
		t.Fatal("different tokens must derive different keys")
	}
}

func TestOpenRejectsWrongKeyAndTampering(t *testing.T) {
	key, _ := DeriveKey("right")
	wrong, _ := DeriveKey("wrong")
	ct, err := Seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(ct, wrong); err == nil {
		t.Fatal("wrong key accepted")
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := Open(ct, key); err == nil {
		t.Fatal("tampered ciphertext accepted")
	}
	if _, err := Open([]byte("short"), key); err == nil {
		t.Fatal("truncated ciphertext accepted")
	}
}
