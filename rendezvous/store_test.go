// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestPublishThenClaim(t *testing.T) {
	store := newTestStore(t)

	if err := store.Publish(KindRequests, "req-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	id, data, ok, err := store.Claim(KindRequests)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatal("Claim: expected an envelope")
	}
	if id != "req-1" {
		t.Fatalf("id: got %q, want %q", id, "req-1")
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("data: got %q", data)
	}

	// A second claim must not return the same id again.
	_, _, ok, err = store.Claim(KindRequests)
	if err != nil {
		t.Fatalf("Claim (second): %v", err)
	}
	if ok {
		t.Fatal("Claim: expected no unseen envelope on second call")
	}
}

func TestPublishRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)

	if err := store.Publish(KindRequests, "req-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(KindRequests, "req-1", []byte("{}")); err == nil {
		t.Fatal("expected ErrAlreadyPublished on duplicate id")
	}
}

func TestPublishNeverLeavesTmpVisibleToReaders(t *testing.T) {
	store := newTestStore(t)

	if err := store.Publish(KindRequests, "req-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "requests"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Fatalf("tmp file left behind: %s", entry.Name())
		}
	}
}

func TestConsumeRequestsMovesToProcessed(t *testing.T) {
	store := newTestStore(t)

	if err := store.Publish(KindRequests, "req-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Consume(KindRequests, "req-1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.Root(), "requests", "req-1.json")); !os.IsNotExist(err) {
		t.Fatalf("expected request file to be gone, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "processed", "req-1.json")); err != nil {
		t.Fatalf("expected processed file to exist: %v", err)
	}
}

func TestConsumeResponsesDeletes(t *testing.T) {
	store := newTestStore(t)

	if err := store.Publish(KindResponses, "req-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Consume(KindResponses, "req-1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "responses", "req-1.json")); !os.IsNotExist(err) {
		t.Fatalf("expected response file to be gone, stat err = %v", err)
	}
}

func TestAwaitReturnsImmediatelyIfAlreadyCommitted(t *testing.T) {
	store := newTestStore(t)
	if err := store.Publish(KindResponses, "req-1", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	data, err := store.Await(context.Background(), KindResponses, "req-1", time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(data) != `{"x":1}` {
		t.Fatalf("data: got %q", data)
	}
}

func TestAwaitWakesOnLatePublish(t *testing.T) {
	store := newTestStore(t)

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		store.Publish(KindResponses, "req-1", []byte(`{"late":true}`))
		close(done)
	}()

	data, err := store.Await(context.Background(), KindResponses, "req-1", 2*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(data) != `{"late":true}` {
		t.Fatalf("data: got %q", data)
	}
	<-done
}

func TestAwaitTimesOut(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Await(context.Background(), KindResponses, "never-comes", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrTimeout, got context.Canceled: %v", err)
	}
}

func TestAwaitReturnsCanceledOnParentCancelNotTimeout(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := store.Await(ctx, KindResponses, "never-comes", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Await error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("Await error = %v, should not be ErrTimeout on caller cancellation", err)
	}
}

func TestSweepFindsStaleRequestsWithoutResponse(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.Publish(KindRequests, "stale-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(KindRequests, "answered-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(KindResponses, "answered-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := store.Publish(KindRequests, "fresh-1", []byte("{}")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Backdate the two requests that should count as stale. fresh-1
	// keeps its just-written mtime.
	past := time.Now().Add(-time.Hour)
	os.Chtimes(filepath.Join(dir, "requests", "stale-1.json"), past, past)
	os.Chtimes(filepath.Join(dir, "requests", "answered-1.json"), past, past)

	stale, err := store.Sweep(5 * time.Minute)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(stale) != 1 || stale[0] != "stale-1" {
		t.Fatalf("stale ids: got %v, want [stale-1]", stale)
	}
}
