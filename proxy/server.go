// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the intercepting proxy: a loopback HTTP/1.1
// server that terminates plain HTTP directly and HTTPS via on-the-fly
// TLS interception, publishing each flow to a rendezvous.Store and
// blocking until the matching response appears.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/della-wonders/wonders/lib/clock"
	"github.com/della-wonders/wonders/rendezvous"
)

// DefaultTimeout is the default PUBLISHED -> RECEIVED deadline.
const DefaultTimeout = 300 * time.Second

// DefaultMaxRequestBodySize bounds how much of a client request body the
// proxy will buffer before publishing it as an envelope.
const DefaultMaxRequestBodySize int64 = 64 << 20

// Config configures a Server.
type Config struct {
	// ListenAddr is the loopback address to listen on, e.g.
	// "127.0.0.1:9025".
	ListenAddr string

	// Store is the rendezvous directory handle the proxy publishes
	// requests to and awaits responses from.
	Store *rendezvous.Store

	// CA mints leaf certificates for CONNECT targets.
	CA *CertAuthority

	// Timeout is the PUBLISHED -> RECEIVED deadline. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// MaxRequestBodySize bounds buffered request bodies. Zero means
	// DefaultMaxRequestBodySize.
	MaxRequestBodySize int64

	// MaxResponseSize is advertised to the forwarder as the
	// request's max_response_size hint. Zero means no hint.
	MaxResponseSize int64

	// SourceProcess identifies the client program in published
	// envelopes, e.g. the name passed to wonder_run.
	SourceProcess string

	// ProxyVersion is recorded in every published envelope.
	ProxyVersion string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the intercepting proxy.
type Server struct {
	store              *rendezvous.Store
	ca                 *CertAuthority
	timeout            time.Duration
	maxRequestBodySize int64
	maxResponseSize    int64
	sourceProcess      string
	proxyVersion       string
	clock              clock.Clock
	logger             *slog.Logger

	listener   net.Listener
	httpServer *http.Server
}

// NewServer constructs a Server from cfg without starting it.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("proxy: Store is required")
	}
	if cfg.CA == nil {
		return nil, fmt.Errorf("proxy: CA is required")
	}

	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:              cfg.Store,
		ca:                 cfg.CA,
		timeout:            timeoutOrDefault(cfg.Timeout, DefaultTimeout),
		maxRequestBodySize: cfg.MaxRequestBodySize,
		maxResponseSize:    cfg.MaxResponseSize,
		sourceProcess:      cfg.SourceProcess,
		proxyVersion:       cfg.ProxyVersion,
		clock:              c,
		logger:             logger,
	}
	if s.maxRequestBodySize <= 0 {
		s.maxRequestBodySize = DefaultMaxRequestBodySize
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)

	s.httpServer = &http.Server{
		Handler: connectAwareHandler{server: s, fallback: mux},
		// No WriteTimeout: a flow may legitimately block for up to
		// s.timeout awaiting the forwarder's response.
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: listen on %s: %w", cfg.ListenAddr, err)
	}
	s.listener = listener

	return s, nil
}

// Addr returns the address the proxy is listening on.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// CACertPEM returns the interception CA certificate in PEM form.
func (s *Server) CACertPEM() []byte { return s.ca.CertPEM() }

// Start begins serving in the background. It returns once the listener
// is accepting connections; Serve errors after that point are logged,
// not returned (matching the reference Server.Start idiom).
func (s *Server) Start() error {
	s.logger.Info("proxy: started", "addr", s.Addr())
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("proxy: serve error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight flows to
// drain or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("proxy: shutting down")
	return s.httpServer.Shutdown(ctx)
}

// serveHTTP handles ordinary (non-CONNECT) HTTP requests: the client
// sent an absolute-form request line directly to the proxy.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	resp := s.runFlow(r.Context(), r)
	if resp == nil {
		// Client disconnected; nothing to write.
		return
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	header := w.Header()
	for name, values := range resp.Header {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		io.Copy(w, resp.Body)
	}
}

// connectAwareHandler routes CONNECT requests to the proxy's TLS
// interception path and everything else to fallback.
type connectAwareHandler struct {
	server   *Server
	fallback http.Handler
}

func (h connectAwareHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.server.serveConnect(w, r)
		return
	}
	h.fallback.ServeHTTP(w, r)
}

// leafConfigFor returns a tls.Config scoped to the CONNECT target host,
// used when wrapping the hijacked connection in TLS.
func (s *Server) leafConfigFor(host string) *tls.Config {
	return s.ca.TLSConfig(host)
}
