//go:build !darwin && !windows && !linux

package clip

// New returns a no-op bridge suitable for headless containers.
func New() Bridge {
	return NewHeadless()
}
