package session

import (
	"log/slog"
	"sync"

	"go.klb.dev/selsync/internal/clip"
	"go.klb.dev/selsync/internal/packet"
)

// Arbiter tracks the server's sessions and designates the active clipboard
// source. The server's clipboard bridge is process-wide shared state; only
// one connected session at a time may act as the source for it. The arbiter
// owns the bridge watch and forwards ownership changes to the active
// session, resetting pending counters on every switch so no counter state
// leaks across sessions.
type Arbiter struct {
	bridge clip.Bridge

	mu       sync.Mutex
	sessions map[string]*Session
	active   string
}

// NewArbiter returns an arbiter for the shared bridge.
func NewArbiter(bridge clip.Bridge) *Arbiter {
	return &Arbiter{
		bridge:   bridge,
		sessions: make(map[string]*Session),
	}
}

// Run consumes the bridge's ownership-change events and forwards them to the
// active session. Blocks; call in a goroutine.
func (a *Arbiter) Run() {
	for sel := range a.bridge.Watch() {
		a.mu.Lock()
		s := a.sessions[a.active]
		a.mu.Unlock()
		if s != nil {
			s.NotifyOwnership(sel)
		}
	}
}

// Register adds a session. The first session registered becomes the active
// clipboard source.
func (a *Arbiter) Register(s *Session) {
	a.mu.Lock()
	a.sessions[s.ID()] = s
	total := len(a.sessions)
	if a.active == "" {
		a.activateLocked(s.ID())
	}
	active := a.active
	a.mu.Unlock()

	slog.Info("session registered", "peer", s.ID(), "total", total, "active", active)
}

// Unregister removes a session. If it was the active source another session
// is promoted, with counters reset on the switch.
func (a *Arbiter) Unregister(s *Session) {
	a.mu.Lock()
	delete(a.sessions, s.ID())
	if a.active == s.ID() {
		a.active = ""
		for id := range a.sessions {
			a.activateLocked(id)
			break
		}
	}
	total := len(a.sessions)
	active := a.active
	a.mu.Unlock()

	slog.Info("session unregistered", "peer", s.ID(), "total", total, "active", active)
}

// Activate switches the active clipboard source to the named session.
func (a *Arbiter) Activate(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[id]; !ok {
		return
	}
	if a.active == id {
		return
	}
	if prev := a.sessions[a.active]; prev != nil {
		prev.ResetPending()
	}
	a.activateLocked(id)
}

// activateLocked designates id as active and resets its pending counters.
// Must be called with a.mu held.
func (a *Arbiter) activateLocked(id string) {
	a.active = id
	if s := a.sessions[id]; s != nil {
		s.ResetPending()
	}
}

// SetSyncEnabled toggles clipboard sync on every registered session. Each
// session informs its own peer, so one control-socket command pauses the
// whole server.
func (a *Arbiter) SetSyncEnabled(enabled bool, reason string) {
	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()
	for _, s := range sessions {
		s.SetSyncEnabled(enabled, reason)
	}
}

// Active returns the ID of the current active clipboard source.
func (a *Arbiter) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// ActiveSession returns the active session, or nil when no session is
// connected.
func (a *Arbiter) ActiveSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[a.active]
}

// Peers returns metadata for all registered sessions.
func (a *Arbiter) Peers() []packet.PeerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]packet.PeerInfo, 0, len(a.sessions))
	for id, s := range a.sessions {
		info := s.Info()
		info.Active = id == a.active
		out = append(out, info)
	}
	return out
}
