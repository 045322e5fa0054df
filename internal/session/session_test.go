package session

import (
	"bytes"
	"net"
	"testing"
	"time"

	"go.klb.dev/selsync/internal/clip"
	"go.klb.dev/selsync/internal/compress"
	"go.klb.dev/selsync/internal/negotiate"
	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/selection"
	"go.klb.dev/selsync/internal/wire"
)

func testLocal() negotiate.Config {
	return negotiate.Config{
		Enabled:     true,
		Direction:   selection.DirBoth,
		Selections:  selection.Canonical(),
		Compressors: compress.Supported(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Full in-process handshake and clipboard flow over a pipe: a copy on the
// client side lands on the server's bridge.
func TestClientServerSync(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	serverBridge := clip.NewMemory()
	clientBridge := clip.NewMemory()

	srv := NewServer(serverConn, Config{
		Source: "server-host",
		Local:  testLocal(),
		Bridge: serverBridge,
	})
	cli := NewClient(clientConn, Config{
		Source: "client-host",
		Local:  testLocal(),
		Bridge: clientBridge,
	})

	srvDone := make(chan error, 1)
	cliDone := make(chan error, 1)
	go func() { srvDone <- srv.ServeServer(nil) }()
	go func() { cliDone <- cli.RunClient(clientBridge.Watch()) }()

	want := []byte("copied on the client")
	if err := clientBridge.Touch(selection.Clipboard, clip.FormatText, want); err != nil {
		t.Fatalf("touch: %v", err)
	}

	waitFor(t, "contents to reach the server bridge", func() bool {
		data, _ := serverBridge.Get(selection.Clipboard, clip.FormatText)
		return bytes.Equal(data, want)
	})

	// Status snapshots come back once traffic has settled.
	waitFor(t, "pending counters to settle", func() bool {
		st := cli.Status()
		return st.Enabled && st.Pending == 0 && len(st.Selections) == 3
	})
	st := cli.Status()
	if st.Direction != string(selection.DirBoth) {
		t.Fatalf("direction = %s", st.Direction)
	}

	clientConn.Close()
	serverConn.Close()
	<-srvDone
	<-cliDone
}

// The arbiter's sync toggle reaches both ends of a live session and back.
func TestSetSyncEnabledPropagates(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	serverBridge := clip.NewMemory()
	arb := NewArbiter(serverBridge)

	srv := NewServer(serverConn, Config{
		Source:  "server-host",
		Local:   testLocal(),
		Bridge:  serverBridge,
		OnReady: func(s *Session) { arb.Register(s) },
	})
	cli := NewClient(clientConn, Config{
		Source: "client-host",
		Local:  testLocal(),
		Bridge: clip.NewMemory(),
	})

	srvDone := make(chan error, 1)
	cliDone := make(chan error, 1)
	go func() { srvDone <- srv.ServeServer(nil) }()
	go func() { cliDone <- cli.RunClient(nil) }()

	waitFor(t, "session to come up enabled", func() bool {
		return cli.Status().Enabled
	})

	arb.SetSyncEnabled(false, "operator")
	waitFor(t, "pause to reach the client", func() bool {
		return !cli.Status().Enabled
	})
	waitFor(t, "pause to apply on the server", func() bool {
		return !srv.Status().Enabled
	})

	arb.SetSyncEnabled(true, "operator")
	waitFor(t, "resume to reach the client", func() bool {
		return cli.Status().Enabled
	})

	clientConn.Close()
	serverConn.Close()
	<-srvDone
	<-cliDone
}

// Send may race session teardown from the ping goroutine or the arbiter; it
// must degrade to a drop, never a panic.
func TestSendAfterSessionEnd(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	cli := NewClient(clientConn, Config{
		Source: "client-host",
		Local:  testLocal(),
		Bridge: clip.NewMemory(),
	})
	srv := NewServer(serverConn, Config{
		Source: "server-host",
		Local:  testLocal(),
		Bridge: clip.NewMemory(),
	})

	srvDone := make(chan error, 1)
	cliDone := make(chan error, 1)
	go func() { srvDone <- srv.ServeServer(nil) }()
	go func() { cliDone <- cli.RunClient(nil) }()
	waitFor(t, "session to come up", func() bool { return cli.Status().Enabled })

	clientConn.Close()
	serverConn.Close()
	<-srvDone
	<-cliDone

	for i := 0; i < 100; i++ {
		cli.Send(&packet.Packet{Type: packet.TypePing})
		srv.Send(&packet.Packet{Type: packet.TypePing})
	}
	cli.NotifyOwnership(selection.Clipboard)
}

// A server with a token rejects a bad AUTH with an ERROR packet.
func TestServerRejectsBadToken(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	srv := NewServer(serverConn, Config{
		Token:  "right",
		Source: "server-host",
		Local:  testLocal(),
		Bridge: clip.NewMemory(),
	})
	done := make(chan error, 1)
	go func() { done <- srv.ServeServer(nil) }()

	wc := wire.New(clientConn, nil)
	if err := wc.WritePacket(&packet.Packet{
		Type:  packet.TypeAuth,
		Token: packet.EncodePayload([]byte("wrong")),
	}); err != nil {
		t.Fatalf("auth write: %v", err)
	}
	reply, err := wc.ReadPacket()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != packet.TypeError {
		t.Fatalf("reply = %s, want ERROR", reply.Type)
	}
	if err := <-done; err == nil {
		t.Fatal("server should report the failed handshake")
	}
}

// A pre-handshake STATUS query is answered without negotiating a session.
func TestTransientStatusQuery(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	srv := NewServer(serverConn, Config{
		Source: "server-host",
		Local:  testLocal(),
		Bridge: clip.NewMemory(),
		Peers:  func() []packet.PeerInfo { return []packet.PeerInfo{{ID: "someone"}} },
	})
	done := make(chan error, 1)
	go func() { done <- srv.ServeServer(nil) }()

	wc := wire.New(clientConn, nil)
	if err := wc.WritePacket(&packet.Packet{Type: packet.TypeStatus}); err != nil {
		t.Fatalf("status write: %v", err)
	}
	reply, err := wc.ReadPacket()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != packet.TypeStatusResponse || reply.Status == nil {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Status.Role != packet.RoleServer || len(reply.Status.Peers) != 1 {
		t.Fatalf("status = %+v", reply.Status)
	}
	if err := <-done; err != nil {
		t.Fatalf("transient query is not an error: %v", err)
	}
}

func testSession(id string) *Session {
	a, _ := net.Pipe()
	s := NewServer(a, Config{Local: testLocal(), Bridge: clip.NewMemory()})
	s.id = id
	return s
}

func TestArbiterPromotion(t *testing.T) {
	arb := NewArbiter(clip.NewMemory())
	s1 := testSession("peer-1")
	s2 := testSession("peer-2")

	arb.Register(s1)
	if arb.Active() != "peer-1" {
		t.Fatalf("active = %q, want peer-1", arb.Active())
	}
	arb.Register(s2)
	if arb.Active() != "peer-1" {
		t.Fatal("registering a second session must not steal the active slot")
	}

	arb.Activate("peer-2")
	if arb.Active() != "peer-2" {
		t.Fatalf("active = %q after activate", arb.Active())
	}
	arb.Activate("nonexistent")
	if arb.Active() != "peer-2" {
		t.Fatal("activating an unknown id must be a no-op")
	}

	peers := arb.Peers()
	if len(peers) != 2 {
		t.Fatalf("peers = %d", len(peers))
	}
	for _, p := range peers {
		if p.Active != (p.ID == "peer-2") {
			t.Fatalf("peer %s active flag = %v", p.ID, p.Active)
		}
	}

	arb.Unregister(s2)
	if arb.Active() != "peer-1" {
		t.Fatalf("active = %q, want promoted peer-1", arb.Active())
	}
	arb.Unregister(s1)
	if arb.Active() != "" {
		t.Fatalf("active = %q, want none", arb.Active())
	}
	if arb.ActiveSession() != nil {
		t.Fatal("no session should be active")
	}
}
