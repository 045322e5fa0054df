package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

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

func newClientCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a selsync server and sync the local clipboard",
		Long: `Connects to a selsync server and keeps the local clipboard selections in
sync with the remote session. Reconnects automatically on disconnect.

On platforms with a single physical clipboard, --remote-clipboard picks the
remote selection it is mirrored against.

Config file search order:
  /etc/selsync/selsync.toml
  $HOME/.config/selsync/selsync.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → SELSYNC_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runClient(v) },
	}

	f := cmd.Flags()
	f.String("server", "localhost:8753", "selsync server address (host:port)")
	f.String("token", "", "shared secret (must match server)")
	f.Bool("tls", false, "dial the server over passphrase-derived TLS")
	f.String("source", defaultSource(), "identifier shown in server peer list")
	addClipboardFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runClient(v *viper.Viper) error {
	setupLogging(v)

	serverAddr := v.GetString("server")
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

	bridge := clip.New()
	defer bridge.Close()
	slog.Info("clipboard bridge", "name", bridge.Name())

	local := localConfig(v, bridge)

	slog.Info("selsync client starting",
		"version", Version,
		"server", serverAddr,
		"source", v.GetString("source"),
		"direction", local.Direction,
		"clipboard", local.Enabled,
		"encrypted", key != nil,
		"tls", useTLS,
	)

	// The status CLI talks to the running client over the IPC socket.
	var current atomic.Pointer[session.Session]
	if ipcLn, err := ipc.Listen(); err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
	} else {
		slog.Info("IPC socket listening", "path", ipc.SocketPath())
		go serveClientIPC(ipcLn, &current)
	}

	cfg := session.Config{
		Token:             token,
		Key:               key,
		Source:            v.GetString("source"),
		Local:             local,
		Bridge:            bridge,
		RequestTimeout:    requestTimeout(v),
		CompressThreshold: v.GetInt("compress-threshold"),
		OnReady:           func(s *session.Session) { current.Store(s) },
	}

	connectLoop(serverAddr, useTLS, passphrase(token), cfg, bridge, &current)
	return nil
}

func connectLoop(
	serverAddr string,
	useTLS bool,
	tlsPassphrase string,
	cfg session.Config,
	bridge clip.Bridge,
	current *atomic.Pointer[session.Session],
) {
	delay := time.Second
	for {
		slog.Info("connecting", "addr", serverAddr)
		conn, err := dial(serverAddr, useTLS, tlsPassphrase)
		if err != nil {
			slog.Warn("connection failed", "err", err, "retry_in", delay)
			time.Sleep(delay)
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}
		delay = time.Second
		slog.Info("connected")

		s := session.NewClient(conn, cfg)
		if err := s.RunClient(bridge.Watch()); err != nil {
			slog.Warn("session failed", "err", err)
		}
		current.Store(nil)

		slog.Warn("disconnected, reconnecting")
		time.Sleep(time.Second)
	}
}

func dial(addr string, useTLS bool, tlsPassphrase string) (net.Conn, error) {
	if !useTLS {
		return net.DialTimeout("tcp", addr, 10*time.Second)
	}
	tlsCfg, err := tlsconf.ClientConfig(tlsPassphrase)
	if err != nil {
		return nil, err
	}
	d := &net.Dialer{Timeout: 10 * time.Second}
	return tls.DialWithDialer(d, "tcp", addr, tlsCfg)
}

func serveClientIPC(ln net.Listener, current *atomic.Pointer[session.Session]) {
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
				if s := current.Load(); s != nil {
					s.SetSyncEnabled(*p.Enabled, p.Reason)
				}
			default:
				_ = wc.WritePacket(&packet.Packet{
					Type:  packet.TypeError,
					Error: fmt.Sprintf("unsupported control packet %s", p.Type),
				})
				return
			}
			st := &packet.Status{Role: packet.RoleClient}
			if s := current.Load(); s != nil {
				st = s.Status()
			}
			_ = wc.WritePacket(&packet.Packet{
				Type:   packet.TypeStatusResponse,
				Status: st,
			})
		}(conn)
	}
}
