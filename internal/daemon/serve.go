package daemon

import (
	"context"
	"net"
	"net/http"
	"time"
)

// ListenAndServe binds addr and blocks serving the daemon's HTTP
// surface until the listener fails or Shutdown's context is
// cancelled. Unlike the teacher's groved, which binds a Unix socket
// for same-host-only CLI traffic, companiond's clients are browsers —
// a Unix socket isn't reachable from a browser tab, so it binds a
// loopback-by-default TCP address instead; authgate's bearer-or-loopback
// check is what keeps that exposure no wider than the socket's was.
func (d *Daemon) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	d.httpServer = &http.Server{Handler: d.NewMux()}
	log.WithField("addr", addr).Info("companiond listening")
	return d.httpServer.Serve(listener)
}

// ShutdownHTTP gracefully stops the HTTP server, waiting up to timeout
// for in-flight requests (including open SSE/WebSocket connections) to
// finish before forcing closure.
func (d *Daemon) ShutdownHTTP(timeout time.Duration) error {
	if d.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.httpServer.Shutdown(ctx)
}
