package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/selsync/internal/clip"
	"go.klb.dev/selsync/internal/crypto"
	"go.klb.dev/selsync/internal/ipc"
	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/session"
	"go.klb.dev/selsync/internal/tlsconf"
	"go.klb.dev/selsync/internal/wire"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the session-side clipboard endpoint",
		Long: `Starts the selsync server inside the remote session. Connected clients
mirror their clipboard selections against it; when several clients connect,
exactly one at a time is the active clipboard source.

The listen port serves both the sync protocol and an HTTP GET /status
endpoint on the same socket.

Config file search order:
  /etc/selsync/selsync.toml
  $HOME/.config/selsync/selsync.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → SELSYNC_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServer(v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:8753", "TCP listen address")
	f.String("token", "", "shared secret (empty = no auth, no encryption)")
	f.Bool("tls", false, "wrap the listener in passphrase-derived TLS")
	f.Bool("virtual", false, "use the in-memory multi-selection bridge instead of the OS clipboard")
	f.String("source", defaultSource(), "name for this host in peer lists")
	addClipboardFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServer(v *viper.Viper) error {
	setupLogging(v)

	addr := v.GetString("addr")
	token := v.GetString("token")
	useTLS := v.GetBool("tls")

	var key *[32]byte
	if token != "" {
		var err error
		key, err = crypto.DeriveKey(token)
		if err != nil {
			return fmt.Errorf("key derivation: %w", err)
		}
	}

	var bridge clip.Bridge
	if v.GetBool("virtual") {
		bridge = clip.NewMemory()
	} else {
		bridge = clip.New()
	}
	defer bridge.Close()

	local := localConfig(v, bridge)
	arb := session.NewArbiter(bridge)
	go arb.Run()

	slog.Info("selsync server starting",
		"version", Version,
		"addr", addr,
		"bridge", bridge.Name(),
		"direction", local.Direction,
		"clipboard", local.Enabled,
		"encrypted", key != nil,
		"tls", useTLS,
	)

	// IPC socket for the status CLI
	if ipcLn, err := ipc.Listen(); err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
	} else {
		slog.Info("IPC socket listening", "path", ipc.SocketPath())
		go serveIPC(ipcLn, arb)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if useTLS {
		tlsCfg, err := tlsconf.ServerConfig(passphrase(token))
		if err != nil {
			return err
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	slog.Info("listening", "addr", ln.Addr())

	// One port, two protocols: HTTP for /status, everything else is the
	// newline-JSON sync protocol.
	m := cmux.New(ln)
	httpLn := m.Match(cmux.HTTP1Fast())
	rawLn := m.Match(cmux.Any())

	go serveHTTPStatus(httpLn, arb)
	go acceptLoop(rawLn, arb, session.Config{
		Token:             token,
		Key:               key,
		Source:            v.GetString("source"),
		Local:             local,
		Bridge:            bridge,
		RequestTimeout:    requestTimeout(v),
		CompressThreshold: v.GetInt("compress-threshold"),
		Peers:             arb.Peers,
	})

	return m.Serve()
}

func acceptLoop(ln net.Listener, arb *session.Arbiter, base session.Config) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			slog.Error("accept failed", "err", err)
			return
		}
		go func(conn net.Conn) {
			registered := false
			cfg := base
			cfg.OnReady = func(s *session.Session) {
				arb.Register(s)
				registered = true
			}
			s := session.NewServer(conn, cfg)
			if err := s.ServeServer(nil); err != nil {
				slog.Info("session ended", "peer", s.ID(), "err", err)
			}
			if registered {
				arb.Unregister(s)
			}
		}(conn)
	}
}

// serverStatus aggregates the active session's protocol state with the full
// peer list.
func serverStatus(arb *session.Arbiter) *packet.Status {
	if s := arb.ActiveSession(); s != nil {
		return s.Status()
	}
	return &packet.Status{Role: packet.RoleServer, Peers: arb.Peers()}
}

func serveIPC(ln net.Listener, arb *session.Arbiter) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			wc := wire.New(conn, nil)
			p, err := wc.ReadPacket()
			if err != nil || p.Validate() != nil {
				return
			}
			switch p.Type {
			case packet.TypeStatus:
				// fall through to the status reply
			case packet.TypeSetEnabled:
				arb.SetSyncEnabled(*p.Enabled, p.Reason)
			case packet.TypeActivate:
				arb.Activate(p.Peer)
			default:
				_ = wc.WritePacket(&packet.Packet{
					Type:  packet.TypeError,
					Error: fmt.Sprintf("unsupported control packet %s", p.Type),
				})
				return
			}
			_ = wc.WritePacket(&packet.Packet{
				Type:   packet.TypeStatusResponse,
				Status: serverStatus(arb),
			})
		}(conn)
	}
}

func passphrase(token string) string {
	if token == "" {
		return tlsconf.DefaultPassphrase
	}
	return token
}
