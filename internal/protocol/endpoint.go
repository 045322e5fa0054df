// Package protocol implements the clipboard token/request/contents state
// machine: one Endpoint per side of a session, driving the five clipboard
// packet types per selection.
//
// Concurrency model: every Endpoint method must be called from a single
// owning goroutine (the session event loop). Handlers never block — bridge
// reads and payload compression are offloaded to worker goroutines whose
// results come back as continuations on the Deferred channel, to be executed
// by the same owning goroutine.
package protocol

import (
	"log/slog"
	"time"

	"go.klb.dev/selsync/internal/clip"
	"go.klb.dev/selsync/internal/compress"
	"go.klb.dev/selsync/internal/negotiate"
	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/selection"
)

// DefaultRequestTimeout bounds how long a sent request may stay unanswered
// before the watchdog resolves it as contents-none. A lost reply packet must
// not leak pending state forever.
const DefaultRequestTimeout = 5 * time.Second

// SendFunc delivers a packet to the peer. It must not block; the session
// layer buffers and drops under backpressure.
type SendFunc func(*packet.Packet)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithRequestTimeout overrides the request watchdog window.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.requestTimeout = d }
}

// WithCompressThreshold overrides the payload size above which contents are
// compressed.
func WithCompressThreshold(n int) Option {
	return func(e *Endpoint) { e.compThreshold = n }
}

// WithPendingListener registers a callback invoked on the owning goroutine
// whenever the total pending count changes. Purely observational, for UI
// consumers.
func WithPendingListener(fn func(total int)) Option {
	return func(e *Endpoint) { e.onPending = fn }
}

// Endpoint is one side of the clipboard synchronization protocol.
type Endpoint struct {
	role   packet.Role
	policy negotiate.Policy
	bridge clip.Bridge
	reg    *selection.Registry
	send   SendFunc
	comp   *compress.Adapter
	loopID string

	enabled        bool
	requestTimeout time.Duration
	compThreshold  int
	onPending      func(int)
	lastPending    int

	// epoch invalidates offloaded work spawned before a reset or disable.
	epoch    int
	deferred chan func()
	done     chan struct{}
	spawn    func(func())
}

// NewEndpoint creates the endpoint for a negotiated session. The registry is
// populated from the policy's enabled selection set and lives for the whole
// session.
func NewEndpoint(role packet.Role, policy negotiate.Policy, bridge clip.Bridge, send SendFunc, opts ...Option) *Endpoint {
	e := &Endpoint{
		role:           role,
		policy:         policy,
		bridge:         bridge,
		reg:            selection.NewRegistry(policy.Selections),
		send:           send,
		loopID:         NewLoopID(),
		enabled:        policy.Enabled,
		requestTimeout: DefaultRequestTimeout,
		deferred:       make(chan func(), 16),
		done:           make(chan struct{}),
		spawn:          func(task func()) { go task() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.comp = compress.New(e.compThreshold, policy.Compressors)
	return e
}

// Deferred returns the channel of continuations produced by offloaded work.
// The owning goroutine must execute them as they arrive.
func (e *Endpoint) Deferred() <-chan func() { return e.deferred }

// Close releases workers still trying to deliver a continuation. Call once,
// after the owning goroutine has stopped consuming Deferred; the results of
// any in-flight work are discarded.
func (e *Endpoint) Close() { close(e.done) }

// Enabled reports whether the subsystem is currently active.
func (e *Endpoint) Enabled() bool { return e.enabled }

// Pending returns the total outstanding request count across all selections.
func (e *Endpoint) Pending() int { return e.reg.TotalPending() }

// Snapshot returns per-selection status for the UI/status surface.
func (e *Endpoint) Snapshot() []selection.Status { return e.reg.Snapshot() }

// Policy returns the session's negotiated policy.
func (e *Endpoint) Policy() negotiate.Policy { return e.policy }

// HandlePacket dispatches one inbound clipboard packet. Malformed packets
// are dropped and logged; the state machine does not advance for them.
func (e *Endpoint) HandlePacket(p *packet.Packet) {
	if err := p.Validate(); err != nil {
		slog.Warn("dropping malformed clipboard packet", "err", err)
		return
	}
	switch p.Type {
	case packet.TypeToken:
		e.handleToken(p)
	case packet.TypeRequest:
		e.handleRequest(p)
	case packet.TypeContents:
		e.handleContents(p)
	case packet.TypeContentsNone:
		e.handleContentsNone(p)
	case packet.TypeSetEnabled:
		e.applySetEnabled(*p.Enabled, p.Reason)
	case packet.TypeEnableSelections:
		e.handleEnableSelections(p.Selections)
	case packet.TypePending:
		slog.Debug("peer pending requests", "pending", p.Pending)
	default:
		slog.Warn("unexpected clipboard packet type", "type", p.Type)
	}
}

// OwnershipChanged reacts to a local clipboard change reported by the
// bridge. If direction permits outbound flow and the selection is enabled, a
// payload-free token announces the new content to the peer. Content this
// endpoint itself just applied is suppressed via the echo guard unless the
// session is greedy.
func (e *Endpoint) OwnershipChanged(localSel string) {
	if !e.enabled || !e.policy.OutboundAllowed(e.role) {
		return
	}
	wireName := e.policy.ToRemote(localSel)
	sel := e.reg.Get(wireName)
	if sel == nil || !sel.Enabled {
		return
	}

	fp, format := sel.EchoGuard()
	if fp == "" || e.policy.Greedy {
		e.announce(sel)
		return
	}

	// The guard holds a fingerprint, not content; reading the bridge to
	// compare can block, so it happens off the event goroutine.
	epoch := e.epoch
	e.offload(func() func() {
		data, err := e.bridge.Get(localSel, format)
		return func() {
			if epoch != e.epoch || !e.enabled {
				return
			}
			if err == nil && data != nil && Fingerprint(format, data) == fp {
				slog.Debug("suppressing echo of applied contents", "selection", wireName)
				return
			}
			if s := e.reg.Get(wireName); s != nil && s.Enabled {
				e.announce(s)
			}
		}
	})
}

// announce emits a token for the selection, and in greedy mode pushes the
// contents along with it without waiting to be asked.
func (e *Endpoint) announce(sel *selection.Selection) {
	tok := &packet.Packet{Type: packet.TypeToken, Selection: sel.Name}
	if e.policy.LoopUUIDs {
		tok.LoopID = e.loopID
	}
	e.send(tok)
	slog.Debug("token announced", "selection", sel.Name)

	if e.policy.Greedy {
		e.pushContents(sel.Name)
	}
}

// pushContents reads and sends the selection's content unsolicited. The
// format is whatever the bridge holds that ranks highest for the peer, so a
// clipboard holding only an image still gets pushed.
func (e *Endpoint) pushContents(wireName string) {
	localSel := e.policy.ToLocal(wireName)
	preferred := e.policy.PeerPreferred
	if len(preferred) == 0 {
		preferred = e.policy.PreferredTargets
	}
	epoch := e.epoch
	e.offload(func() func() {
		format := e.policy.PreferredFormat()
		if best := bestTarget(e.bridge.Formats(localSel), preferred); best != "" {
			format = best
		}
		data, err := e.bridge.Get(localSel, format)
		if err != nil || data == nil {
			return func() {}
		}
		payload, encoding := e.comp.Pack(data)
		return func() {
			if epoch != e.epoch || !e.enabled {
				return
			}
			e.send(&packet.Packet{
				Type:      packet.TypeContents,
				Selection: wireName,
				Format:    format,
				Payload:   packet.EncodePayload(payload),
				Encoding:  encoding,
			})
		}
	})
}

func (e *Endpoint) handleToken(p *packet.Packet) {
	sel := e.reg.Get(p.Selection)
	if sel == nil {
		slog.Debug("token for unknown selection", "selection", p.Selection)
		return
	}
	if !e.enabled || !sel.Enabled || !e.policy.InboundAllowed(e.role) {
		return
	}
	if e.policy.LoopUUIDs && p.LoopID != "" && p.LoopID == e.loopID {
		slog.Debug("suppressing token loop", "selection", sel.Name)
		return
	}
	if sel.Awaiting() {
		// At most one request in flight per selection. The newest content
		// wins: re-request once the current reply resolves.
		sel.QueueToken()
		return
	}
	e.requestContents(sel)
}

func (e *Endpoint) requestContents(sel *selection.Selection) {
	sel.IncLocal()
	sel.StartAwait(time.Now().Add(e.requestTimeout))
	e.send(&packet.Packet{
		Type:      packet.TypeRequest,
		Selection: sel.Name,
		Format:    e.policy.PreferredFormat(),
	})
	e.pendingChanged()
}

func (e *Endpoint) handleRequest(p *packet.Packet) {
	if !e.enabled {
		slog.Debug("request while disabled, dropping", "selection", p.Selection)
		return
	}
	sel := e.reg.Get(p.Selection)
	if sel == nil {
		slog.Debug("request for unknown selection", "selection", p.Selection)
		return
	}
	sel.IncRemote()
	e.pendingChanged()

	wireName := sel.Name
	localSel := e.policy.ToLocal(wireName)
	format := p.Format
	wantTargets := e.policy.WantTargets
	peerPreferred := e.policy.PeerPreferred
	epoch := e.epoch

	e.offload(func() func() {
		if wantTargets {
			if best := bestTarget(e.bridge.Formats(localSel), peerPreferred); best != "" {
				format = best
			}
		}
		data, err := e.bridge.Get(localSel, format)
		if err != nil {
			// Bridge failure is "no contents available", never an error the
			// peer has to deal with.
			slog.Warn("clipboard read failed", "selection", localSel, "err", err)
			data = nil
		}
		if data != nil && !e.bridge.Owns(localSel) {
			// Lost the selection since the token went out.
			data = nil
		}
		var payload []byte
		var encoding string
		if data != nil {
			payload, encoding = e.comp.Pack(data)
		}
		return func() {
			if epoch != e.epoch || !e.enabled {
				return
			}
			s := e.reg.Get(wireName)
			if s == nil {
				return
			}
			if data == nil {
				e.send(&packet.Packet{Type: packet.TypeContentsNone, Selection: wireName})
			} else {
				e.send(&packet.Packet{
					Type:      packet.TypeContents,
					Selection: wireName,
					Format:    format,
					Payload:   packet.EncodePayload(payload),
					Encoding:  encoding,
				})
			}
			s.DecRemote()
			e.pendingChanged()
		}
	})
}

func (e *Endpoint) handleContents(p *packet.Packet) {
	sel := e.reg.Get(p.Selection)
	if sel == nil {
		slog.Debug("contents for unknown selection", "selection", p.Selection)
		return
	}
	solicited := sel.Awaiting() || sel.LocalPending() > 0
	if solicited {
		sel.DecLocal()
		sel.EndAwait()
		e.pendingChanged()
	}
	if !e.enabled || !sel.Enabled || !e.policy.InboundAllowed(e.role) {
		return
	}
	if !solicited && !e.policy.Greedy {
		slog.Warn("unsolicited contents, dropping", "selection", sel.Name)
		return
	}

	raw, err := p.DecodePayload()
	if err != nil {
		slog.Warn("undecodable contents payload, dropping", "selection", sel.Name, "err", err)
		e.resolveQueued(sel)
		return
	}
	data, err := e.comp.Unpack(raw, p.Encoding)
	if err != nil {
		slog.Warn("unwrappable contents payload, dropping", "selection", sel.Name, "err", err)
		e.resolveQueued(sel)
		return
	}

	// Applying remote contents to the local clipboard can itself fire an
	// ownership-changed notification; the guard stops that echo from being
	// re-announced to its origin.
	sel.SetEchoGuard(Fingerprint(p.Format, data), p.Format)

	localSel := e.policy.ToLocal(sel.Name)
	if err := e.bridge.Set(localSel, p.Format, data); err != nil {
		slog.Warn("clipboard write failed", "selection", localSel, "err", err)
	} else {
		slog.Debug("contents applied",
			"selection", sel.Name,
			"format", p.Format,
			"size_bytes", len(data),
		)
	}
	e.resolveQueued(sel)
}

func (e *Endpoint) handleContentsNone(p *packet.Packet) {
	sel := e.reg.Get(p.Selection)
	if sel == nil {
		return
	}
	if sel.Awaiting() || sel.LocalPending() > 0 {
		sel.DecLocal()
		sel.EndAwait()
		e.pendingChanged()
	}
	e.resolveQueued(sel)
}

// resolveQueued issues the follow-up request for a token that arrived while
// a request was already in flight.
func (e *Endpoint) resolveQueued(sel *selection.Selection) {
	if sel.TakeQueuedToken() && e.enabled && sel.Enabled {
		e.requestContents(sel)
	}
}

// SetEnabled toggles the whole subsystem and informs the peer. Inbound
// SET_ENABLED packets apply the same transition without re-notifying.
func (e *Endpoint) SetEnabled(enabled bool, reason string) {
	if enabled == e.enabled {
		return
	}
	if e.enabled && !enabled {
		// Tell the peer before we stop sending anything.
		e.send(&packet.Packet{
			Type:    packet.TypeSetEnabled,
			Enabled: packet.Bool(false),
			Reason:  reason,
		})
	}
	e.applySetEnabled(enabled, reason)
	if enabled {
		e.send(&packet.Packet{
			Type:    packet.TypeSetEnabled,
			Enabled: packet.Bool(true),
			Reason:  reason,
		})
	}
}

func (e *Endpoint) applySetEnabled(enabled bool, reason string) {
	if enabled == e.enabled {
		return
	}
	e.enabled = enabled
	if !enabled {
		e.resetPending()
		slog.Info("clipboard sync disabled", "reason", reason)
		return
	}
	slog.Info("clipboard sync enabled", "reason", reason)
}

// ResetPending clears all pending state, invalidating in-flight offloaded
// work. A server calls this when its active clipboard source switches so no
// counter leaks across sessions.
func (e *Endpoint) ResetPending() { e.resetPending() }

func (e *Endpoint) resetPending() {
	e.epoch++
	e.reg.ResetPending()
	e.lastPending = 0
	if e.onPending != nil {
		e.onPending(0)
	}
}

func (e *Endpoint) handleEnableSelections(names []string) {
	allowed := make([]string, 0, len(names))
	for _, n := range names {
		if e.reg.Get(n) != nil {
			allowed = append(allowed, n)
		}
	}
	newly := e.reg.SetEnabled(allowed)
	if !e.enabled {
		return
	}
	// Newly enabled selections we currently own are announced so the peer
	// catches up.
	for _, n := range newly {
		localSel := e.policy.ToLocal(n)
		if e.bridge.Owns(localSel) {
			e.OwnershipChanged(localSel)
		}
	}
}

// Tick runs the request watchdog: any outstanding request whose window
// passed is treated as resolved-with-none, so a lost reply cannot leak
// pending state.
func (e *Endpoint) Tick(now time.Time) {
	for _, name := range e.reg.Names() {
		sel := e.reg.Get(name)
		if !sel.Expired(now) {
			continue
		}
		slog.Warn("clipboard request timed out", "selection", sel.Name)
		sel.DecLocal()
		sel.EndAwait()
		e.pendingChanged()
		e.resolveQueued(sel)
	}
}

func (e *Endpoint) pendingChanged() {
	total := e.reg.TotalPending()
	if total == e.lastPending {
		return
	}
	e.lastPending = total
	if e.onPending != nil {
		e.onPending(total)
	}
	if e.enabled {
		e.send(&packet.Packet{Type: packet.TypePending, Pending: total})
	}
}

func (e *Endpoint) offload(task func() func()) {
	e.spawn(func() {
		cont := task()
		select {
		case e.deferred <- cont:
		case <-e.done:
		}
	})
}

// bestTarget picks the first of the peer's preferred formats that the bridge
// currently has, or "" when there is no overlap.
func bestTarget(available, preferred []string) string {
	have := make(map[string]struct{}, len(available))
	for _, f := range available {
		have[f] = struct{}{}
	}
	for _, f := range preferred {
		if _, ok := have[f]; ok {
			return f
		}
	}
	return ""
}
