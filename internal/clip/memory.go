package clip

import (
	"fmt"
	"sort"
	"sync"

	"go.klb.dev/selsync/internal/selection"
)

// Memory is an in-memory multi-selection bridge. It backs virtual server
// sessions, where a headless host still holds independent CLIPBOARD, PRIMARY
// and SECONDARY slots, and it is the bridge the protocol tests run against.
type Memory struct {
	mu      sync.Mutex
	slots   map[string]map[string][]byte
	owned   map[string]bool
	names   []string
	watchCh chan string
}

// NewMemory returns a Memory bridge exposing the given selections, or the
// full canonical set when none are named.
func NewMemory(selections ...string) *Memory {
	if len(selections) == 0 {
		selections = selection.Canonical()
	}
	names := append([]string(nil), selections...)
	sort.Strings(names)
	m := &Memory{
		slots:   make(map[string]map[string][]byte, len(names)),
		owned:   make(map[string]bool, len(names)),
		names:   names,
		watchCh: make(chan string, 4),
	}
	for _, n := range names {
		m.slots[n] = make(map[string][]byte)
	}
	return m
}

func (m *Memory) Name() string { return "virtual (in-memory)" }

func (m *Memory) Selections() []string { return m.names }

func (m *Memory) Formats(sel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[sel]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(slot))
	for f := range slot {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Get(sel, format string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[sel]
	if !ok {
		return nil, fmt.Errorf("unknown selection %q", sel)
	}
	data, ok := slot[format]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Set(sel, format string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[sel]
	if !ok {
		return fmt.Errorf("unknown selection %q", sel)
	}
	for f := range slot {
		delete(slot, f)
	}
	slot[format] = append([]byte(nil), data...)
	m.owned[sel] = true
	return nil
}

func (m *Memory) Owns(sel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned[sel]
}

func (m *Memory) Watch() <-chan string { return m.watchCh }

func (m *Memory) Close() {}

// Touch stores content as if a local application had taken ownership of the
// selection, and emits a watch event.
func (m *Memory) Touch(sel, format string, data []byte) error {
	if err := m.Set(sel, format, data); err != nil {
		return err
	}
	select {
	case m.watchCh <- sel:
	default:
	}
	return nil
}

// Disown drops ownership of the selection without clearing its content,
// simulating another process taking the selection over.
func (m *Memory) Disown(sel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned[sel] = false
}
