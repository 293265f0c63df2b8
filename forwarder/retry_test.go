// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/della-wonders/wonders/lib/clock"
)

func TestDoWithRetrySucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := doWithRetry(clock.Real(), server.Client(), req)
	if err != nil {
		t.Fatalf("doWithRetry: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
}

func TestDoWithRetryDoesNotRetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(500)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := doWithRetry(clock.Real(), server.Client(), req)
	if err != nil {
		t.Fatalf("doWithRetry: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 500 {
		t.Fatalf("StatusCode = %d, want 500", resp.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 5xx)", got)
	}
}

func TestDoWithRetryRetriesNetworkFailureUpToLimit(t *testing.T) {
	fake := clock.Fake(time.Now())
	client := &http.Client{Transport: alwaysFailTransport{}}

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = doWithRetry(fake, client, req)
		close(done)
	}()

	for i := 0; i < retryAttempts-1; i++ {
		fake.WaitForTimers(1)
		fake.Advance(retryMaxDelay)
	}

	<-done
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestDoWithRetryResendsBodyOnRetry(t *testing.T) {
	var bodies []string
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if calls.Add(1) == 1 {
			// Simulate the connection dying after the body was read but
			// before a response reached the client.
			hijacker, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("ResponseWriter does not support hijacking")
			}
			conn, _, err := hijacker.Hijack()
			if err != nil {
				t.Fatalf("Hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := doWithRetry(clock.Real(), server.Client(), req)
	if err != nil {
		t.Fatalf("doWithRetry: %v", err)
	}
	resp.Body.Close()

	if len(bodies) < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b != "payload" {
			t.Errorf("attempt %d body = %q, want %q", i, b, "payload")
		}
	}
}

func TestNextDelayDoublesAndCaps(t *testing.T) {
	d := retryBaseDelay
	for i := 0; i < 10; i++ {
		d = nextDelay(d)
		if d > retryMaxDelay {
			t.Fatalf("nextDelay exceeded cap: %v", d)
		}
	}
	if d != retryMaxDelay {
		t.Fatalf("d = %v, want cap %v", d, retryMaxDelay)
	}
}

type alwaysFailTransport struct{}

func (alwaysFailTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}
