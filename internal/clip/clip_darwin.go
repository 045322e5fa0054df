//go:build darwin

package clip

// #cgo CFLAGS: -x objective-c
// #cgo LDFLAGS: -framework Cocoa
// #import <Cocoa/Cocoa.h>
//
// NSInteger selsync_changeCount() {
//     return [[NSPasteboard generalPasteboard] changeCount];
// }
import "C"

import (
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

const darwinPollInterval = 100 * time.Millisecond

// New returns the macOS clipboard bridge. NSPasteboard has no change
// callback, so the changeCount is polled; content comparison in the shared
// core filters out our own writes.
func New() Bridge {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed, running headless", "err", err)
		return NewHeadless()
	}
	b := newXclipBridge("macOS NSPasteboard")
	go pollChangeCount(b)
	return b
}

func pollChangeCount(b *xclipBridge) {
	last := C.selsync_changeCount()
	t := time.NewTicker(darwinPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			cc := C.selsync_changeCount()
			if cc != last {
				last = cc
				b.changedExternally()
			}
		}
	}
}
