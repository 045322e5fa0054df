// Package negotiate reconciles the local clipboard configuration with the
// capability set a peer advertises during handshake, producing the immutable
// per-session Policy that governs all subsequent clipboard traffic.
//
// Negotiation never fails a connection: malformed or missing capability keys
// are treated as "feature absent", and irreconcilable settings degrade to a
// disabled policy with a warning.
package negotiate

import (
	"fmt"
	"sort"

	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/selection"
)

// DefaultPreferredTargets is the format preference used when none is
// configured.
var DefaultPreferredTargets = []string{"text/plain", "image/png"}

// Config is the local endpoint configuration fed into negotiation.
type Config struct {
	Enabled          bool
	Direction        selection.Direction
	Selections       []string
	Greedy           bool
	WantTargets      bool
	PreferredTargets []string
	LoopUUIDs        bool

	// Single-physical-clipboard platforms expose one local slot that maps
	// to exactly one canonical remote selection.
	SingleClipboard bool
	LocalClipboard  string // physical slot name, e.g. "CLIPBOARD"
	RemoteClipboard string // canonical name it is presented as

	// Compressors this build can produce/consume for contents payloads.
	Compressors []string
}

// Caps renders the local configuration as the capability set advertised to
// the peer in the HELLO packet.
func (c Config) Caps() *packet.Caps {
	sels := c.Selections
	if c.SingleClipboard {
		sels = []string{c.remoteName()}
	}
	return &packet.Caps{
		Enabled:          c.Enabled,
		Direction:        string(c.Direction),
		Selections:       sels,
		Greedy:           c.Greedy,
		WantTargets:      c.WantTargets,
		PreferredTargets: c.preferred(),
		LoopUUIDs:        c.LoopUUIDs,
		Compressors:      c.Compressors,
	}
}

func (c Config) preferred() []string {
	if len(c.PreferredTargets) > 0 {
		return c.PreferredTargets
	}
	return DefaultPreferredTargets
}

func (c Config) remoteName() string {
	if c.RemoteClipboard != "" {
		return c.RemoteClipboard
	}
	return selection.Clipboard
}

func (c Config) localName() string {
	if c.LocalClipboard != "" {
		return c.LocalClipboard
	}
	return selection.Clipboard
}

// Policy is the fully resolved, immutable-per-session clipboard policy.
type Policy struct {
	Enabled   bool
	Direction selection.Direction

	// Selections enabled for the session, in canonical wire names.
	Selections []string

	// Translation tables for the single-clipboard-platform case. Empty maps
	// mean names pass through unchanged.
	localToRemote map[string]string
	remoteToLocal map[string]string

	Greedy      bool
	WantTargets bool

	// PreferredTargets is this endpoint's ordered format preference, used
	// when issuing requests. PeerPreferred is the peer's, used when
	// answering requests in want-targets mode.
	PreferredTargets []string
	PeerPreferred    []string

	LoopUUIDs   bool
	Compressors []string

	// Warnings collected during negotiation, surfaced once by the caller.
	Warnings []string
}

// Disabled returns a policy with clipboard sync turned off.
func Disabled(warnings ...string) Policy {
	return Policy{Direction: selection.DirDisabled, Warnings: warnings}
}

// Resolve produces the effective session policy from the local configuration
// and the peer's advertised capabilities. remoteAuthoritative selects whose
// direction wins when local and remote conflict and neither is disabled: the
// client resolves with remoteAuthoritative=true (the server wins), the
// server with false.
func Resolve(local Config, remote *packet.Caps, remoteAuthoritative bool) Policy {
	if !local.Enabled {
		return Disabled()
	}
	if remote == nil || !remote.Enabled {
		return Disabled("peer does not support clipboard sync, disabling")
	}

	p := Policy{
		Enabled:          true,
		Greedy:           local.Greedy || remote.Greedy,
		WantTargets:      local.WantTargets || remote.WantTargets,
		PreferredTargets: local.preferred(),
		PeerPreferred:    remote.PreferredTargets,
		LoopUUIDs:        local.LoopUUIDs && remote.LoopUUIDs,
		Compressors:      intersect(local.Compressors, remote.Compressors),
	}

	p.Direction = resolveDirection(&p, local.Direction, remote.Direction, remoteAuthoritative)

	// Enabled selections: intersection of both advertised sets. A single
	// physical clipboard collapses the set to the one mapped remote name.
	if local.SingleClipboard {
		rn := local.remoteName()
		if contains(remote.Selections, rn) {
			p.Selections = []string{rn}
		} else {
			p.Warnings = append(p.Warnings,
				fmt.Sprintf("peer does not expose selection %q, clipboard will be idle", rn))
		}
		if p.Direction != selection.DirDisabled {
			p.localToRemote = map[string]string{local.localName(): rn}
			p.remoteToLocal = map[string]string{rn: local.localName()}
		}
	} else {
		p.Selections = intersect(local.Selections, remote.Selections)
		if len(p.Selections) == 0 {
			p.Warnings = append(p.Warnings, "no common selections with peer, clipboard will be idle")
		}
	}
	sort.Strings(p.Selections)

	return p
}

func resolveDirection(p *Policy, local selection.Direction, remoteStr string, remoteAuthoritative bool) selection.Direction {
	remote, ok := selection.ParseDirection(remoteStr)
	if !ok {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("peer advertised no usable direction (%q), disabling clipboard flow", remoteStr))
		return selection.DirDisabled
	}
	switch {
	case local == remote:
		return local
	case remote == selection.DirDisabled:
		return selection.DirDisabled
	case local == selection.DirDisabled:
		return selection.DirDisabled
	case remote == selection.DirBoth:
		return local
	case local == selection.DirBoth:
		// Remote is authoritative when restrictive.
		return remote
	default:
		// to-server vs to-client: the server's direction wins.
		winner := local
		if remoteAuthoritative {
			winner = remote
		}
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("clipboard direction conflict (local %s, remote %s), using %s", local, remote, winner))
		return winner
	}
}

// ToRemote translates a local selection name to its wire name.
func (p Policy) ToRemote(name string) string {
	if r, ok := p.localToRemote[name]; ok {
		return r
	}
	return name
}

// ToLocal translates a wire selection name to the local bridge name.
func (p Policy) ToLocal(name string) string {
	if l, ok := p.remoteToLocal[name]; ok {
		return l
	}
	return name
}

// Translated reports whether a translation table is in effect.
func (p Policy) Translated() bool { return len(p.localToRemote) > 0 }

// OutboundAllowed reports whether this endpoint may announce local clipboard
// content to the peer: to-server permits client→server flow, to-client the
// reverse, both permits either.
func (p Policy) OutboundAllowed(role packet.Role) bool {
	if !p.Enabled {
		return false
	}
	switch p.Direction {
	case selection.DirBoth:
		return true
	case selection.DirToServer:
		return role == packet.RoleClient
	case selection.DirToClient:
		return role == packet.RoleServer
	}
	return false
}

// InboundAllowed reports whether this endpoint may consume announcements
// from the peer.
func (p Policy) InboundAllowed(role packet.Role) bool {
	if !p.Enabled {
		return false
	}
	switch p.Direction {
	case selection.DirBoth:
		return true
	case selection.DirToServer:
		return role == packet.RoleServer
	case selection.DirToClient:
		return role == packet.RoleClient
	}
	return false
}

// PreferredFormat returns the format this endpoint asks for when requesting
// contents.
func (p Policy) PreferredFormat() string {
	if len(p.PreferredTargets) > 0 {
		return p.PreferredTargets[0]
	}
	return DefaultPreferredTargets[0]
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
