package clip

// headlessBridge is a no-op clipboard bridge for environments without a
// display server (headless Linux servers, containers, etc.). It exposes no
// selections, never produces watch events, and silently discards writes.
// Endpoints backed by it negotiate clipboard sync as disabled.
type headlessBridge struct {
	watchCh chan string
}

// NewHeadless returns the no-op bridge.
func NewHeadless() Bridge {
	return &headlessBridge{watchCh: make(chan string)}
}

func (b *headlessBridge) Name() string                       { return "headless (no-op)" }
func (b *headlessBridge) Selections() []string               { return nil }
func (b *headlessBridge) Formats(string) []string            { return nil }
func (b *headlessBridge) Get(string, string) ([]byte, error) { return nil, nil }
func (b *headlessBridge) Set(string, string, []byte) error   { return nil }
func (b *headlessBridge) Owns(string) bool                   { return false }
func (b *headlessBridge) Watch() <-chan string               { return b.watchCh }
func (b *headlessBridge) Close()                             {}
