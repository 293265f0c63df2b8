// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
)

func TestHostBreakersReturnsSameBreakerPerHost(t *testing.T) {
	hb := newHostBreakers(slog.New(slog.NewTextHandler(io.Discard, nil)))

	a1 := hb.get("a.invalid")
	a2 := hb.get("a.invalid")
	b := hb.get("b.invalid")

	if a1 != a2 {
		t.Fatal("get returned a different breaker for the same host")
	}
	if a1 == b {
		t.Fatal("get returned the same breaker for different hosts")
	}
}

func TestBreakerOpensAfterSustainedFailure(t *testing.T) {
	hb := newHostBreakers(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cb := hb.get("failing.invalid")

	failing := func() (*http.Response, error) {
		return nil, errors.New("upstream unreachable")
	}

	for i := uint32(0); i < breakerSettings.minRequests; i++ {
		if _, err := cb.Execute(failing); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	if _, err := cb.Execute(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after sustained failure, got %v", err)
	}
}
