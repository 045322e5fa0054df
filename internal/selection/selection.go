// Package selection holds the per-selection protocol state: which clipboard
// slots participate in sync, their pending request counters, and the echo
// guard used for loop suppression. The registry is owned by a single session
// goroutine and is not safe for concurrent use.
package selection

import (
	"log/slog"
	"sort"
	"time"
)

// Canonical selection names. Platforms with a single physical clipboard map
// their one slot onto exactly one of these via the negotiated translation
// table.
const (
	Clipboard = "CLIPBOARD"
	Primary   = "PRIMARY"
	Secondary = "SECONDARY"
)

// Canonical returns the canonical selection names in order.
func Canonical() []string {
	return []string{Clipboard, Primary, Secondary}
}

// Direction governs which way tokens and requests may flow for a session.
type Direction string

const (
	DirToServer Direction = "to-server"
	DirToClient Direction = "to-client"
	DirBoth     Direction = "both"
	DirDisabled Direction = "disabled"
)

// ParseDirection converts a capability string to a Direction. Unknown or
// empty values report ok=false; the negotiator treats those as absent.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirToServer, DirToClient, DirBoth, DirDisabled:
		return Direction(s), true
	}
	return DirDisabled, false
}

// Selection is the state container for one named clipboard slot.
type Selection struct {
	Name    string
	Enabled bool

	localPending  int
	remotePending int

	// AwaitingContents state: deadline of the outstanding request, and
	// whether a fresh token arrived while one was already in flight.
	awaitDeadline time.Time
	tokenQueued   bool

	// Echo guard: fingerprint and format of the most recent contents this
	// endpoint applied to its own clipboard.
	echoFP     string
	echoFormat string
}

// LocalPending returns the count of requests this endpoint sent and has not
// yet resolved.
func (s *Selection) LocalPending() int { return s.localPending }

// RemotePending returns the count of requests received from the peer and not
// yet answered.
func (s *Selection) RemotePending() int { return s.remotePending }

// IncLocal records an outbound request.
func (s *Selection) IncLocal() { s.localPending++ }

// IncRemote records an inbound request.
func (s *Selection) IncRemote() { s.remotePending++ }

// DecLocal resolves an outbound request. The counter never goes negative: an
// unmatched decrement (duplicate reply, reply after watchdog expiry) is
// logged and ignored.
func (s *Selection) DecLocal() {
	if s.localPending == 0 {
		slog.Warn("unmatched contents reply", "selection", s.Name)
		return
	}
	s.localPending--
}

// DecRemote resolves an inbound request.
func (s *Selection) DecRemote() {
	if s.remotePending == 0 {
		slog.Warn("unmatched request resolution", "selection", s.Name)
		return
	}
	s.remotePending--
}

// Awaiting reports whether a request is outstanding for this selection.
func (s *Selection) Awaiting() bool { return !s.awaitDeadline.IsZero() }

// StartAwait marks a request in flight with the given watchdog deadline.
func (s *Selection) StartAwait(deadline time.Time) { s.awaitDeadline = deadline }

// EndAwait clears the in-flight request state.
func (s *Selection) EndAwait() { s.awaitDeadline = time.Time{} }

// Expired reports whether the outstanding request's watchdog deadline has
// passed.
func (s *Selection) Expired(now time.Time) bool {
	return s.Awaiting() && now.After(s.awaitDeadline)
}

// QueueToken records that a token arrived while a request was in flight.
// The newest content wins: a fresh request is issued once the current one
// resolves, keeping the counters consistent.
func (s *Selection) QueueToken() { s.tokenQueued = true }

// TakeQueuedToken consumes the queued-token flag.
func (s *Selection) TakeQueuedToken() bool {
	q := s.tokenQueued
	s.tokenQueued = false
	return q
}

// SetEchoGuard records the fingerprint of content this endpoint just applied
// to its own clipboard.
func (s *Selection) SetEchoGuard(fp, format string) {
	s.echoFP = fp
	s.echoFormat = format
}

// EchoGuard returns the recorded fingerprint and its format. Empty
// fingerprint means no guard.
func (s *Selection) EchoGuard() (fp, format string) { return s.echoFP, s.echoFormat }

// reset clears all transient protocol state, keeping Enabled intact.
func (s *Selection) reset() {
	s.localPending = 0
	s.remotePending = 0
	s.awaitDeadline = time.Time{}
	s.tokenQueued = false
}

// Status is a read-only snapshot of one selection.
type Status struct {
	Name          string
	Enabled       bool
	LocalPending  int
	RemotePending int
}

// Registry holds the selections negotiated for a session. Entries are
// created once and never destroyed; they are only toggled enabled/disabled.
type Registry struct {
	names []string
	sels  map[string]*Selection
}

// NewRegistry creates a registry with one enabled entry per name.
func NewRegistry(names []string) *Registry {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	r := &Registry{
		names: sorted,
		sels:  make(map[string]*Selection, len(sorted)),
	}
	for _, n := range sorted {
		r.sels[n] = &Selection{Name: n, Enabled: true}
	}
	return r
}

// Get returns the selection with the given name, or nil if the session never
// negotiated it.
func (r *Registry) Get(name string) *Selection { return r.sels[name] }

// Names returns the negotiated selection names in sorted order.
func (r *Registry) Names() []string { return r.names }

// SetEnabled atomically updates the enabled set and returns the names that
// transitioned disabled→enabled. Names outside the negotiated set are
// ignored. Calling twice with the same set returns nothing the second time.
func (r *Registry) SetEnabled(names []string) (newlyEnabled []string) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for _, n := range r.names {
		s := r.sels[n]
		switch {
		case want[n] && !s.Enabled:
			s.Enabled = true
			newlyEnabled = append(newlyEnabled, n)
		case !want[n] && s.Enabled:
			s.Enabled = false
		}
	}
	return newlyEnabled
}

// TotalPending sums local and remote pending counters across all selections.
// This is the progress figure surfaced to UIs.
func (r *Registry) TotalPending() int {
	total := 0
	for _, s := range r.sels {
		total += s.localPending + s.remotePending
	}
	return total
}

// ResetPending zeroes all pending counters and in-flight state on every
// selection. Used when the subsystem is disabled mid-flight and when a
// server switches its active clipboard source.
func (r *Registry) ResetPending() {
	for _, s := range r.sels {
		s.reset()
	}
}

// Snapshot returns per-selection status in name order.
func (r *Registry) Snapshot() []Status {
	out := make([]Status, 0, len(r.names))
	for _, n := range r.names {
		s := r.sels[n]
		out = append(out, Status{
			Name:          s.Name,
			Enabled:       s.Enabled,
			LocalPending:  s.localPending,
			RemotePending: s.remotePending,
		})
	}
	return out
}
