// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"testing"
	"time"

	"github.com/della-wonders/wonders/lib/clock"
)

func TestStatCountsEachKind(t *testing.T) {
	fake := clock.Fake(time.Now())
	store, err := Open(t.TempDir(), WithClock(fake))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.Publish(KindRequests, "req-1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish req-1: %v", err)
	}
	fake.Advance(time.Minute)
	if err := store.Publish(KindRequests, "req-2", []byte(`{}`)); err != nil {
		t.Fatalf("Publish req-2: %v", err)
	}
	if err := store.Publish(KindResponses, "resp-1", []byte(`{}`)); err != nil {
		t.Fatalf("Publish resp-1: %v", err)
	}
	if _, _, _, err := store.Claim(KindRequests); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.Consume(KindRequests, "req-1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	stats, err := store.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.PendingRequests != 1 {
		t.Errorf("PendingRequests = %d, want 1", stats.PendingRequests)
	}
	if stats.PendingResponses != 1 {
		t.Errorf("PendingResponses = %d, want 1", stats.PendingResponses)
	}
	if stats.Processed != 1 {
		t.Errorf("Processed = %d, want 1", stats.Processed)
	}
	if stats.OldestPendingAge <= 0 {
		t.Errorf("OldestPendingAge = %v, want > 0", stats.OldestPendingAge)
	}
}

func TestStatReportsZeroAgeWhenNoPendingRequests(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	stats, err := store.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stats.PendingRequests != 0 || stats.OldestPendingAge != 0 {
		t.Errorf("got %+v, want zero counts and age", stats)
	}
}
