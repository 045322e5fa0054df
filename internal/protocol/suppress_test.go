package protocol

import "testing"

func TestFingerprint(t *testing.T) {
	a := Fingerprint("text/plain", []byte("hello"))
	if len(a) != 32 {
		t.Fatalf("fingerprint length = %d, want 32 hex chars", len(a))
	}
	if a != Fingerprint("text/plain", []byte("hello")) {
		t.Fatal("fingerprint not deterministic")
	}
	if a == Fingerprint("image/png", []byte("hello")) {
		t.Fatal("format must be part of the fingerprint")
	}
	if a == Fingerprint("text/plain", []byte("hello!")) {
		t.Fatal("content must be part of the fingerprint")
	}
	// The format separator keeps ("ab","c") distinct from ("a","bc").
	if Fingerprint("ab", []byte("c")) == Fingerprint("a", []byte("bc")) {
		t.Fatal("ambiguous format/content split")
	}
}

func TestNewLoopIDUnique(t *testing.T) {
	if NewLoopID() == NewLoopID() {
		t.Fatal("loop IDs must be unique")
	}
}
