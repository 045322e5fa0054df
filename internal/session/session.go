// Package session wires one connection to one protocol endpoint: handshake
// (auth + capability exchange), the read/write/ping loops, and the single
// event goroutine the endpoint's handlers run on.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"go.klb.dev/selsync/internal/clip"
	"go.klb.dev/selsync/internal/negotiate"
	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/protocol"
	"go.klb.dev/selsync/internal/wire"
)

const (
	pingInterval  = 15 * time.Second
	pongDeadline  = 10 * time.Second
	helloTimeout  = 10 * time.Second
	watchdogCheck = time.Second
)

// Config carries everything a session needs beyond its connection.
type Config struct {
	Token  string
	Key    *[32]byte
	Source string

	Local  negotiate.Config
	Bridge clip.Bridge

	RequestTimeout    time.Duration
	CompressThreshold int

	// Peers supplies peer metadata for STATUS responses; nil means none
	// (client sessions).
	Peers func() []packet.PeerInfo

	// OnReady is called on the session goroutine once negotiation is done
	// and the endpoint exists, before any clipboard traffic flows.
	OnReady func(*Session)
}

// Session is one side of a live connection.
type Session struct {
	id     string
	role   packet.Role
	cfg    Config
	wc     *wire.Conn
	policy negotiate.Policy
	ep     *protocol.Endpoint

	sendCh  chan *packet.Packet
	pongCh  chan struct{}
	control chan func()
	packets chan *packet.Packet

	source      string // peer's source name, from AUTH
	connectedAt time.Time
	lastSeen    atomic.Int64 // UnixNano
}

func newSession(conn net.Conn, role packet.Role, cfg Config) *Session {
	now := time.Now()
	s := &Session{
		id:          conn.RemoteAddr().String(),
		role:        role,
		cfg:         cfg,
		wc:          wire.New(conn, cfg.Key),
		sendCh:      make(chan *packet.Packet, 64),
		pongCh:      make(chan struct{}, 1),
		control:     make(chan func(), 16),
		packets:     make(chan *packet.Packet, 64),
		connectedAt: now,
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// ID returns the session identifier (the peer's remote address).
func (s *Session) ID() string { return s.id }

// Info returns peer metadata for status listings.
func (s *Session) Info() packet.PeerInfo {
	return packet.PeerInfo{
		ID:          s.id,
		Source:      s.source,
		Addr:        s.id,
		ConnectedAt: s.connectedAt,
		LastSeen:    time.Unix(0, s.lastSeen.Load()),
	}
}

// Send queues a packet for the peer. Non-blocking: under backpressure the
// packet is dropped and logged, never stalling the protocol goroutine.
func (s *Session) Send(p *packet.Packet) {
	select {
	case s.sendCh <- p:
	default:
		slog.Warn("send channel full, dropping packet", "peer", s.id, "type", p.Type)
	}
}

// NotifyOwnership posts a local clipboard change into the session's event
// loop. Used by the server arbiter, which owns the shared bridge watch.
func (s *Session) NotifyOwnership(sel string) {
	s.post(func() { s.ep.OwnershipChanged(sel) })
}

// ResetPending posts a pending-counter reset, used when the server's active
// clipboard source switches.
func (s *Session) ResetPending() {
	s.post(func() {
		if s.ep != nil {
			s.ep.ResetPending()
		}
	})
}

// SetSyncEnabled posts a subsystem enable/disable that is also sent to the
// peer.
func (s *Session) SetSyncEnabled(enabled bool, reason string) {
	s.post(func() {
		if s.ep != nil {
			s.ep.SetEnabled(enabled, reason)
		}
	})
}

// Status fetches a consistent status snapshot from the event goroutine.
func (s *Session) Status() *packet.Status {
	reply := make(chan *packet.Status, 1)
	s.post(func() { reply <- s.status() })
	select {
	case st := <-reply:
		return st
	case <-time.After(2 * time.Second):
		return &packet.Status{Role: s.role}
	}
}

func (s *Session) post(fn func()) {
	select {
	case s.control <- fn:
	default:
		slog.Warn("control channel full, dropping", "peer", s.id)
	}
}

func (s *Session) status() *packet.Status {
	st := &packet.Status{Role: s.role}
	if s.ep != nil {
		st.Enabled = s.ep.Enabled()
		st.Direction = string(s.policy.Direction)
		st.Pending = s.ep.Pending()
		for _, sel := range s.ep.Snapshot() {
			st.Selections = append(st.Selections, packet.SelectionStatus{
				Name:          sel.Name,
				Enabled:       sel.Enabled,
				LocalPending:  sel.LocalPending,
				RemotePending: sel.RemotePending,
			})
		}
	}
	if s.cfg.Peers != nil {
		st.Peers = s.cfg.Peers()
	}
	return st
}

func (s *Session) notifyAlive() {
	s.lastSeen.Store(time.Now().UnixNano())
	select {
	case s.pongCh <- struct{}{}:
	default:
	}
}

// ServeServer handshakes and runs the server side of a connection. watch is
// the channel of local ownership changes this session should react to; the
// arbiter passes nil for inactive sessions and feeds them via
// NotifyOwnership when they become active.
func (s *Session) ServeServer(watch <-chan string) error {
	defer s.wc.Close()
	log := slog.With("peer", s.id)

	// Auth
	if s.cfg.Token != "" {
		s.wc.SetReadDeadline(helloTimeout)
		p, err := s.wc.ReadPacket()
		if err != nil {
			return fmt.Errorf("auth read: %w", err)
		}
		s.wc.SetReadDeadline(0)
		if p.Type != packet.TypeAuth || p.Token != packet.EncodePayload([]byte(s.cfg.Token)) {
			log.Warn("auth failed")
			_ = s.wc.WritePacket(&packet.Packet{Type: packet.TypeError, Error: "auth_failed"})
			return errors.New("auth failed")
		}
		s.source = p.Source
		log.Info("authenticated", "source", p.Source)
	}

	// First post-auth packet: either a transient status query or HELLO.
	s.wc.SetReadDeadline(helloTimeout)
	first, err := s.wc.ReadPacket()
	if err != nil {
		return fmt.Errorf("hello read: %w", err)
	}
	s.wc.SetReadDeadline(0)

	switch first.Type {
	case packet.TypeStatus:
		return s.wc.WritePacket(&packet.Packet{
			Type:   packet.TypeStatusResponse,
			Status: s.status(),
		})
	case packet.TypeHello:
		// fall through to negotiation
	default:
		return fmt.Errorf("expected HELLO, got %s", first.Type)
	}
	if first.Source != "" {
		s.source = first.Source
	}

	// The server resolves with its own direction authoritative and then
	// advertises its side.
	s.policy = negotiate.Resolve(s.cfg.Local, first.Caps, false)
	if err := s.wc.WritePacket(&packet.Packet{
		Type:   packet.TypeHello,
		Source: s.cfg.Source,
		Caps:   s.cfg.Local.Caps(),
	}); err != nil {
		return fmt.Errorf("hello write: %w", err)
	}

	s.startEndpoint(log)
	if s.cfg.OnReady != nil {
		s.cfg.OnReady(s)
	}
	return s.run(watch, log)
}

// RunClient handshakes and runs the client side of a connection.
func (s *Session) RunClient(watch <-chan string) error {
	defer s.wc.Close()
	log := slog.With("server", s.id)

	if s.cfg.Token != "" {
		if err := s.wc.WritePacket(&packet.Packet{
			Type:   packet.TypeAuth,
			Source: s.cfg.Source,
			Token:  packet.EncodePayload([]byte(s.cfg.Token)),
		}); err != nil {
			return fmt.Errorf("auth write: %w", err)
		}
	}
	if err := s.wc.WritePacket(&packet.Packet{
		Type:   packet.TypeHello,
		Source: s.cfg.Source,
		Caps:   s.cfg.Local.Caps(),
	}); err != nil {
		return fmt.Errorf("hello write: %w", err)
	}

	s.wc.SetReadDeadline(helloTimeout)
	reply, err := s.wc.ReadPacket()
	if err != nil {
		return fmt.Errorf("hello read: %w", err)
	}
	s.wc.SetReadDeadline(0)
	if reply.Type == packet.TypeError {
		return fmt.Errorf("server rejected connection: %s", reply.Error)
	}
	if reply.Type != packet.TypeHello {
		return fmt.Errorf("expected HELLO, got %s", reply.Type)
	}
	s.source = reply.Source

	// The server's direction wins on conflict.
	s.policy = negotiate.Resolve(s.cfg.Local, reply.Caps, true)

	s.startEndpoint(log)
	if s.cfg.OnReady != nil {
		s.cfg.OnReady(s)
	}
	return s.run(watch, log)
}

func (s *Session) startEndpoint(log *slog.Logger) {
	for _, w := range s.policy.Warnings {
		log.Warn(w)
	}
	opts := []protocol.Option{}
	if s.cfg.RequestTimeout > 0 {
		opts = append(opts, protocol.WithRequestTimeout(s.cfg.RequestTimeout))
	}
	if s.cfg.CompressThreshold > 0 {
		opts = append(opts, protocol.WithCompressThreshold(s.cfg.CompressThreshold))
	}
	s.ep = protocol.NewEndpoint(s.role, s.policy, s.cfg.Bridge, s.Send, opts...)
	log.Info("clipboard session negotiated",
		"direction", s.policy.Direction,
		"selections", s.policy.Selections,
		"greedy", s.policy.Greedy,
		"want_targets", s.policy.WantTargets,
		"translated", s.policy.Translated(),
	)
}

// run drives the session: a writer goroutine, a ping goroutine, a reader
// goroutine, and the event loop all protocol handlers execute on.
func (s *Session) run(watch <-chan string, log *slog.Logger) error {
	// Writer. sendCh is never closed: the ping goroutine and the arbiter may
	// still be inside Send when the session tears down, and a send on a
	// closed channel would panic. The writer is stopped via writerStop
	// instead.
	writerDone := make(chan struct{})
	writerStop := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case p := <-s.sendCh:
				if err := s.wc.WritePacket(p); err != nil {
					log.Error("write failed", "err", err)
					s.wc.Close()
					return
				}
			case <-writerStop:
				return
			}
		}
	}()

	// Ping loop
	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				s.Send(&packet.Packet{Type: packet.TypePing})
				select {
				case <-s.pongCh:
				case <-time.After(pongDeadline):
					log.Warn("pong timeout, closing")
					s.wc.Close()
					return
				case <-pingDone:
					return
				}
			}
		}
	}()

	// Reader
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			p, err := s.wc.ReadPacket()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Info("connection closed", "err", err)
				}
				return
			}
			s.notifyAlive()
			select {
			case s.packets <- p:
			case <-pingDone:
				return
			}
		}
	}()

	defer func() {
		close(pingDone)
		close(writerStop)
		<-writerDone
		s.ep.Close()
	}()

	// Event loop: the single goroutine every protocol handler runs on.
	watchdog := time.NewTicker(watchdogCheck)
	defer watchdog.Stop()

	for {
		select {
		case <-readerDone:
			return nil
		case p := <-s.packets:
			s.handle(p)
		case sel, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			s.ep.OwnershipChanged(sel)
		case cont := <-s.ep.Deferred():
			cont()
		case fn := <-s.control:
			fn()
		case <-watchdog.C:
			s.ep.Tick(time.Now())
		}
	}
}

func (s *Session) handle(p *packet.Packet) {
	switch p.Type {
	case packet.TypePing:
		s.Send(&packet.Packet{Type: packet.TypePong})
	case packet.TypePong:
		// handled by notifyAlive
	case packet.TypeStatus:
		s.Send(&packet.Packet{Type: packet.TypeStatusResponse, Status: s.status()})
	case packet.TypeStatusResponse:
		// unsolicited, ignore
	case packet.TypeError:
		slog.Error("peer error", "peer", s.id, "error", p.Error)
		s.wc.Close()
	default:
		s.ep.HandlePacket(p)
	}
}

// NewServer wraps an accepted connection as a server-side session.
func NewServer(conn net.Conn, cfg Config) *Session {
	return newSession(conn, packet.RoleServer, cfg)
}

// NewClient wraps a dialed connection as a client-side session.
func NewClient(conn net.Conn, cfg Config) *Session {
	return newSession(conn, packet.RoleClient, cfg)
}
