package main

import (
	"encoding/json"
	"net"
	"net/http"

	"go.klb.dev/selsync/internal/session"
)

// serveHTTPStatus runs an HTTP/1.1 server on ln exposing GET /status as
// JSON, for dashboards and scripted checks.
func serveHTTPStatus(ln net.Listener, arb *session.Arbiter) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(serverStatus(arb))
	})
	srv := &http.Server{Handler: mux}
	_ = srv.Serve(ln)
}
