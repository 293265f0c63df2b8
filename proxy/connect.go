// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/della-wonders/wonders/lib/netutil"
)

// connectEstablished is the fixed response line CONNECT handling writes
// on the hijacked connection before the TLS handshake begins.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// serveConnect handles a CONNECT request by hijacking the underlying
// connection, completing the tunnel handshake, and terminating TLS with
// a leaf certificate minted for the target host. Every subsequent
// HTTP/1.1 request read off the decrypted connection is driven through
// runFlow exactly like a plain-HTTP request, until the client closes
// the tunnel.
func (s *Server) serveConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy does not support hijacking", http.StatusInternalServerError)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.logger.Error("proxy: hijack failed", "error", err)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte(connectEstablished)); err != nil {
		s.logger.Warn("proxy: failed to write CONNECT response", "error", err)
		return
	}

	host := r.URL.Hostname()
	if host == "" {
		host = stripPort(r.Host)
	}

	tlsConn := tls.Server(clientConn, s.leafConfigFor(host))
	defer tlsConn.Close()

	if err := tlsConn.HandshakeContext(r.Context()); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			s.logger.Warn("proxy: TLS handshake with client failed", "host", host, "error", err)
		}
		return
	}

	s.serveTunnel(tlsConn, host)
}

// serveTunnel reads successive HTTP/1.1 requests off conn (already
// TLS-terminated) and drives each through runFlow, writing the response
// back before reading the next request. It returns when the client
// closes the connection or sends a malformed request.
func (s *Server) serveTunnel(conn net.Conn, host string) {
	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("proxy: tunnel read ended", "host", host, "error", err)
			}
			return
		}

		req.URL.Scheme = "https"
		if req.URL.Host == "" {
			req.URL.Host = host
		}
		req.TLS = &tls.ConnectionState{ServerName: host}

		resp := s.runFlow(req.Context(), req)
		if resp == nil {
			return
		}

		if err := resp.Write(conn); err != nil {
			resp.Body.Close()
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("proxy: tunnel write failed", "host", host, "error", err)
			}
			return
		}
		resp.Body.Close()

		if req.Close {
			return
		}
	}
}

func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
