// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the appropriate implementation:
//
//	clip_darwin.go   — macOS via golang.design/x/clipboard + cgo changeCount
//	clip_windows.go  — Windows via golang.design/x/clipboard + AddClipboardFormatListener
//	clip_linux.go    — Linux via golang.design/x/clipboard, polling only
//	clip_other.go    — headless / container stub
//
// Physical platforms expose a single CLIPBOARD slot. The in-memory Memory
// bridge (memory.go) exposes the full CLIPBOARD/PRIMARY/SECONDARY set and
// backs virtual server sessions and tests.
package clip

// Well-known payload formats.
const (
	FormatText  = "text/plain"
	FormatImage = "image/png"
)

// Bridge is the platform clipboard boundary the sync protocol talks to.
// Native clipboard reads can block on inter-process negotiation with the OS,
// so callers must not invoke Get or Formats from a protocol event goroutine.
type Bridge interface {
	// Name returns a human-readable name for the bridge.
	Name() string

	// Selections returns the slot names this bridge exposes.
	Selections() []string

	// Formats returns the formats currently available on a selection.
	Formats(selection string) []string

	// Get returns the contents of a selection in the requested format.
	// Returns nil, nil when nothing is available in that format.
	Get(selection, format string) ([]byte, error)

	// Set replaces the contents of a selection, taking ownership of it.
	Set(selection, format string, data []byte) error

	// Owns reports whether this process currently owns the selection, i.e.
	// the last write came from us and no external change happened since.
	Owns(selection string) bool

	// Watch returns a channel that receives a selection name whenever its
	// content changes. The channel is never closed. On platforms without
	// native change notification this is implemented via polling.
	Watch() <-chan string

	// Close releases any resources held by the bridge.
	Close()
}
