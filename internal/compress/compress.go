// Package compress wraps oversized clipboard payloads before they are handed
// to the transport. Compression is best-effort: if the negotiated compressor
// is unavailable or fails, the payload goes out raw rather than failing the
// clipboard operation.
package compress

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"log/slog"
)

// EncodingZlib marks a zlib-wrapped payload. The empty encoding means raw.
const EncodingZlib = "zlib"

// DefaultThreshold is the payload size below which compression is skipped.
// Clipboard payloads are user-interactive: small ones gain nothing from the
// extra work.
const DefaultThreshold = 512

// Supported returns the compressors this build can produce and consume,
// advertised during capability negotiation.
func Supported() []string { return []string{EncodingZlib} }

// Adapter decides per payload whether to compress, based on a size threshold
// and the session's negotiated compressor set.
type Adapter struct {
	threshold int
	zlibOK    bool
}

// New returns an adapter for the given threshold and negotiated compressor
// names. threshold <= 0 selects DefaultThreshold.
func New(threshold int, negotiated []string) *Adapter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	a := &Adapter{threshold: threshold}
	for _, c := range negotiated {
		if c == EncodingZlib {
			a.zlibOK = true
		}
	}
	return a
}

// Pack returns the payload to put on the wire and its encoding marker.
// Payloads below the threshold, sessions without a negotiated compressor,
// and payloads that do not shrink all go out raw with an empty encoding.
func (a *Adapter) Pack(data []byte) ([]byte, string) {
	if !a.zlibOK || len(data) < a.threshold {
		return data, ""
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		slog.Warn("payload compression failed, sending raw", "err", err)
		return data, ""
	}
	if err := zw.Close(); err != nil {
		slog.Warn("payload compression failed, sending raw", "err", err)
		return data, ""
	}
	if buf.Len() >= len(data) {
		return data, ""
	}
	return buf.Bytes(), EncodingZlib
}

// Unpack reverses Pack for an incoming payload.
func (a *Adapter) Unpack(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "":
		return data, nil
	case EncodingZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}
