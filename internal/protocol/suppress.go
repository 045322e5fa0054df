package protocol

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Fingerprint returns a compact content fingerprint for echo suppression.
// Only the fingerprint is retained, never the payload, so guarding large
// clipboard contents stays cheap.
func Fingerprint(format string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(format))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// NewLoopID returns the per-session loop identifier stamped on outgoing
// tokens when both peers negotiated the legacy UUID-based echo detection.
// A token carrying our own loop ID came from content we forwarded ourselves
// and is never requested back.
func NewLoopID() string { return uuid.NewString() }
