package compress

import (
	"bytes"
	"testing"
)

func TestSmallPayloadStaysRaw(t *testing.T) {
	a := New(0, Supported())
	data := []byte("short")
	out, enc := a.Pack(data)
	if enc != "" || !bytes.Equal(out, data) {
		t.Fatalf("small payload was transformed: enc=%q", enc)
	}
}

func TestLargePayloadRoundTrip(t *testing.T) {
	a := New(0, Supported())
	data := bytes.Repeat([]byte("clipboard contents "), 200)
	out, enc := a.Pack(data)
	if enc != EncodingZlib {
		t.Fatalf("encoding = %q, want %q", enc, EncodingZlib)
	}
	if len(out) >= len(data) {
		t.Fatalf("compressed size %d not smaller than %d", len(out), len(data))
	}
	back, err := a.Unpack(out, enc)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestNotNegotiatedStaysRaw(t *testing.T) {
	a := New(0, nil)
	data := bytes.Repeat([]byte("x"), 4096)
	if _, enc := a.Pack(data); enc != "" {
		t.Fatalf("compressed without negotiation: enc=%q", enc)
	}
}

func TestIncompressiblePayloadStaysRaw(t *testing.T) {
	a := New(4, Supported())
	// Already-compressed data grows under zlib.
	data := bytes.Repeat([]byte("ab"), 512)
	packed, _ := a.Pack(data)
	again, enc := a.Pack(packed)
	if enc != "" || !bytes.Equal(again, packed) {
		t.Fatalf("re-compression should fall back to raw, got enc=%q", enc)
	}
}

func TestUnpackErrors(t *testing.T) {
	a := New(0, Supported())
	if _, err := a.Unpack([]byte("noise"), EncodingZlib); err == nil {
		t.Fatal("expected error for corrupt zlib stream")
	}
	if _, err := a.Unpack([]byte("x"), "brotli"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
