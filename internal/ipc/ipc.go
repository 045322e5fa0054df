// Package ipc provides the local IPC channel used by CLI tools (status) to
// talk to a running selsync daemon instead of opening their own TCP
// connections to the server.
//
// The channel carries the same newline-delimited JSON packets as the TCP
// transport, unencrypted — the socket is local and owner-restricted by the
// OS. Unix systems use a Unix domain socket, Windows a named pipe.
package ipc

import (
	"net"
	"os"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
// Override with $SELSYNC_SOCKET.
func SocketPath() string {
	if s := os.Getenv("SELSYNC_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a selsync daemon appears to be listening on the
// IPC socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := Dial()
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates and returns a net.Listener on the IPC socket path, removing
// any stale socket file first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	return listenIPC(path)
}

// Dial connects to the IPC socket.
func Dial() (net.Conn, error) {
	return dialIPC(SocketPath())
}
