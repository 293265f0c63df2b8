// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/della-wonders/wonders/envelope"
	"github.com/della-wonders/wonders/lib/clock"
	"github.com/della-wonders/wonders/rendezvous"
	"github.com/della-wonders/wonders/security"
)

func secretKeyPattern() *regexp.Regexp {
	return regexp.MustCompile(`sk-[A-Za-z0-9]+`)
}

func testForwarder(t *testing.T, filterCfg security.Config) *Forwarder {
	t.Helper()
	store, err := rendezvous.Open(t.TempDir())
	if err != nil {
		t.Fatalf("rendezvous.Open: %v", err)
	}
	return New(Config{
		Store:  store,
		Filter: security.New(filterCfg),
		Clock:  clock.Real(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func testRequest(id, absoluteURL string, body []byte) *envelope.Request {
	return &envelope.Request{
		Metadata: envelope.RequestMetadata{RequestID: id, SourceProcess: "test"},
		Request: envelope.RequestData{
			Method:      http.MethodGet,
			AbsoluteURL: absoluteURL,
			Body:        body,
		},
	}
}

func TestHandleBlockedDomainNeverDialsOrigin(t *testing.T) {
	dialed := false
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed = true
		w.WriteHeader(200)
	}))
	defer origin.Close()

	f := testForwarder(t, security.Config{BlockedDomains: []string{"example.invalid"}})
	resp := f.handle(context.Background(), testRequest("r1", "https://example.invalid/x", nil))

	if resp.Metadata.SecurityStatus != envelope.StatusBlocked {
		t.Fatalf("SecurityStatus = %v, want blocked", resp.Metadata.SecurityStatus)
	}
	if resp.Response.StatusCode != 403 {
		t.Fatalf("StatusCode = %d, want 403", resp.Response.StatusCode)
	}
	if dialed {
		t.Fatal("blocked request reached the origin server")
	}
}

func TestHandleHappyPathEchoesUpstream(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("pong"))
	}))
	defer origin.Close()

	f := testForwarder(t, security.Config{})
	resp := f.handle(context.Background(), testRequest("r1", origin.URL+"/ping", nil))

	if resp.Metadata.SecurityStatus != envelope.StatusApproved {
		t.Fatalf("SecurityStatus = %v, want approved", resp.Metadata.SecurityStatus)
	}
	if resp.Response.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.Response.StatusCode)
	}
	if string(resp.Response.Body) != "pong" {
		t.Fatalf("body = %q, want %q", resp.Response.Body, "pong")
	}
}

func TestHandleTruncatesOversizedResponse(t *testing.T) {
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = 'x'
	}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write(payload)
	}))
	defer origin.Close()

	f := testForwarder(t, security.Config{MaxResponseSize: 4})
	resp := f.handle(context.Background(), testRequest("r1", origin.URL+"/big", nil))

	if len(resp.Response.Body) != 4 {
		t.Fatalf("body length = %d, want 4", len(resp.Response.Body))
	}
	if !resp.Security.ContentFiltered {
		t.Fatal("ContentFiltered = false, want true on truncation")
	}
	if resp.Response.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want origin status preserved", resp.Response.StatusCode)
	}
}

func TestHandleScansContentWithoutBlocking(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("here is sk-abc123 in the body"))
	}))
	defer origin.Close()

	f := testForwarder(t, security.Config{
		Patterns: []security.Pattern{{Name: "secret-key", Re: secretKeyPattern()}},
	})
	resp := f.handle(context.Background(), testRequest("r1", origin.URL+"/x", nil))

	if resp.Response.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200 (scan is audit-only)", resp.Response.StatusCode)
	}
	if !resp.Security.ContentFiltered {
		t.Fatal("ContentFiltered = false, want true on pattern match")
	}
	if len(resp.Security.ScanResults) != 1 || resp.Security.ScanResults[0] != "secret-key" {
		t.Fatalf("ScanResults = %v, want [secret-key]", resp.Security.ScanResults)
	}
}

func TestHandleUpstreamFailureProducesSyntheticBadGateway(t *testing.T) {
	store, err := rendezvous.Open(t.TempDir())
	if err != nil {
		t.Fatalf("rendezvous.Open: %v", err)
	}
	fake := clock.Fake(time.Now())
	f := New(Config{
		Store:  store,
		Filter: security.New(security.Config{}),
		Clock:  fake,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	type result struct{ resp *envelope.Response }
	done := make(chan result)
	go func() {
		done <- result{f.handle(context.Background(), testRequest("r1", "http://127.0.0.1:1/unreachable", nil))}
	}()

	for i := 0; i < retryAttempts-1; i++ {
		fake.WaitForTimers(1)
		fake.Advance(retryMaxDelay)
	}

	r := <-done
	resp := r.resp
	if resp.Metadata.SecurityStatus != envelope.StatusError {
		t.Fatalf("SecurityStatus = %v, want error", resp.Metadata.SecurityStatus)
	}
	if resp.Response.StatusCode != http.StatusBadGateway {
		t.Fatalf("StatusCode = %d, want 502", resp.Response.StatusCode)
	}
}
