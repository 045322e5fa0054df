//go:build linux

package clip

import (
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

const linuxPollInterval = 250 * time.Millisecond

// New returns the Linux clipboard bridge, or the headless no-op bridge if
// the display environment is unavailable (e.g. a headless server without X11
// or Wayland). clipboard.Init is called here rather than in init() so that
// CLI sub-commands (status, version) don't trigger the warning.
func New() Bridge {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return NewHeadless()
	}
	b := newXclipBridge("Linux clipboard (poll)")
	go b.poll()
	return b
}

func (b *xclipBridge) poll() {
	t := time.NewTicker(linuxPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			b.changedExternally()
		}
	}
}
