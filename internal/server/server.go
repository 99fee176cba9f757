// Package server wraps http.Server with the lifecycle the gateway needs:
// bind-first startup so port conflicts fail fast, optional TLS, and
// graceful shutdown. The gateway runs two of these, one for proxied
// traffic and one for the admin API.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"vpc-gateway/internal/common/logging"
)

// Timeouts are a listener's protective limits. A zero value disables the
// corresponding limit; the data plane disables Write so per-route overall
// timeouts govern slow upstreams instead.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// DefaultTimeouts suits the admin API.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:  30 * time.Second,
		Write: 30 * time.Second,
		Idle:  120 * time.Second,
	}
}

// Server is one HTTP listener.
type Server struct {
	name    string
	srv     *http.Server
	tlsCert string
	tlsKey  string
	logger  logging.Logger
	addr    string
	failed  chan error
}

// New creates a server. TLS is enabled when both cert and key paths are
// set.
func New(name, addr string, handler http.Handler, timeouts Timeouts, tlsCert, tlsKey string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeouts.Read,
			WriteTimeout: timeouts.Write,
			IdleTimeout:  timeouts.Idle,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		logger:  logger.WithFields(logging.String("server", name)),
		failed:  make(chan error, 1),
	}
}

// Start binds the listener and begins serving in the background. Bind
// failures are returned immediately; a listener that later stops for any
// reason other than Shutdown reports on Failed.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr().String()

	serve := func() error { return s.srv.Serve(ln) }
	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		serve = func() error { return s.srv.ServeTLS(ln, s.tlsCert, s.tlsKey) }
	}

	go func() {
		s.logger.Info("Server listening", logging.String("addr", s.addr))
		if err := serve(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server stopped unexpectedly", err)
			s.failed <- err
		}
	}()
	return nil
}

// Addr returns the bound address, which differs from the configured one
// when it asked for an ephemeral port.
func (s *Server) Addr() string {
	return s.addr
}

// Failed reports a listener failure after Start.
func (s *Server) Failed() <-chan error {
	return s.failed
}

// Shutdown stops accepting connections and waits for in-flight requests
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
