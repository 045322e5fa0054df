//go:build linux || darwin || windows

package clip

import (
	"bytes"
	"fmt"
	"sync"

	"golang.design/x/clipboard"

	"go.klb.dev/selsync/internal/selection"
)

// xclipBridge is the shared core of the physical backends. It exposes a
// single CLIPBOARD slot over golang.design/x/clipboard; the per-OS files
// supply change detection and feed external changes through
// changedExternally.
type xclipBridge struct {
	name    string
	watchCh chan string
	done    chan struct{}

	mu       sync.Mutex
	owned    bool
	lastText []byte
	lastImg  []byte
}

func newXclipBridge(name string) *xclipBridge {
	return &xclipBridge{
		name:    name,
		watchCh: make(chan string, 1),
		done:    make(chan struct{}),
	}
}

func (b *xclipBridge) Name() string { return b.name }

func (b *xclipBridge) Selections() []string { return []string{selection.Clipboard} }

func (b *xclipBridge) Formats(sel string) []string {
	if sel != selection.Clipboard {
		return nil
	}
	var out []string
	if clipboard.Read(clipboard.FmtText) != nil {
		out = append(out, FormatText)
	}
	if clipboard.Read(clipboard.FmtImage) != nil {
		out = append(out, FormatImage)
	}
	return out
}

func (b *xclipBridge) Get(sel, format string) ([]byte, error) {
	if sel != selection.Clipboard {
		return nil, fmt.Errorf("unknown selection %q", sel)
	}
	switch format {
	case FormatText:
		return clipboard.Read(clipboard.FmtText), nil
	case FormatImage:
		return clipboard.Read(clipboard.FmtImage), nil
	default:
		return nil, nil
	}
}

func (b *xclipBridge) Set(sel, format string, data []byte) error {
	if sel != selection.Clipboard {
		return fmt.Errorf("unknown selection %q", sel)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch format {
	case FormatText:
		clipboard.Write(clipboard.FmtText, data)
		b.lastText = data
		b.lastImg = nil
	case FormatImage:
		clipboard.Write(clipboard.FmtImage, data)
		b.lastImg = data
		b.lastText = nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	b.owned = true
	return nil
}

func (b *xclipBridge) Owns(sel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sel == selection.Clipboard && b.owned
}

func (b *xclipBridge) Watch() <-chan string { return b.watchCh }

func (b *xclipBridge) Close() { close(b.done) }

// changedExternally re-reads the clipboard, compares against the last known
// content, and on a real change drops ownership and emits a watch event.
// Our own writes update lastText/lastImg in Set, so they compare equal here
// and are not reported.
func (b *xclipBridge) changedExternally() {
	text := clipboard.Read(clipboard.FmtText)
	img := clipboard.Read(clipboard.FmtImage)

	b.mu.Lock()
	if bytes.Equal(text, b.lastText) && bytes.Equal(img, b.lastImg) {
		b.mu.Unlock()
		return
	}
	b.lastText = text
	b.lastImg = img
	b.owned = false
	b.mu.Unlock()

	select {
	case b.watchCh <- selection.Clipboard:
	default:
	}
}
