// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrTimeout is returned by Await when the deadline elapses before the
// envelope is committed.
var ErrTimeout = errors.New("rendezvous: await timed out")

// pollInterval is the upper bound on the polling fallback's period,
// regardless of whether file-event notification is available.
const pollInterval = 200 * time.Millisecond

// Await blocks until <kind>/<id>.json exists and is readable, the
// deadline elapses, or ctx is canceled. It prefers fsnotify's
// file-event notification and falls back to polling at pollInterval
// when a watcher cannot be established — for example because the
// platform's inotify/kqueue/ReadDirectoryChangesW backend is
// unavailable in the runtime environment.
func (s *Store) Await(ctx context.Context, kind Kind, id string, deadline time.Duration) ([]byte, error) {
	target := s.path(kind, id)

	if data, err := os.ReadFile(target); err == nil {
		return data, nil
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("rendezvous: fsnotify unavailable, falling back to polling", "error", err)
		return s.awaitPoll(ctx, target)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir(kind)); err != nil {
		s.logger.Warn("rendezvous: fsnotify watch failed, falling back to polling", "error", err)
		return s.awaitPoll(ctx, target)
	}

	// Re-check after the watch is armed: the file may have been
	// committed in the window between the first stat and Add.
	if data, err := os.ReadFile(target); err == nil {
		return data, nil
	}

	ticker := s.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, awaitDoneErr(ctx, kind, id)

		case event, ok := <-watcher.Events:
			if !ok {
				return s.awaitPoll(ctx, target)
			}
			if event.Name != target {
				continue
			}
			if data, err := os.ReadFile(target); err == nil {
				return data, nil
			}

		case err, ok := <-watcher.Errors:
			if ok {
				s.logger.Warn("rendezvous: fsnotify error", "error", err)
			}

		case <-ticker.C:
			// Safety net: a rename that fsnotify missed (e.g. due to a
			// coalesced event) is still caught within pollInterval.
			if data, err := os.ReadFile(target); err == nil {
				return data, nil
			}
		}
	}
}

// awaitPoll is the pure-polling fallback used when file-event
// notification cannot be established.
func (s *Store) awaitPoll(ctx context.Context, target string) ([]byte, error) {
	ticker := s.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if data, err := os.ReadFile(target); err == nil {
			return data, nil
		}

		select {
		case <-ctx.Done():
			return nil, awaitDoneErr(ctx, "", target)
		case <-ticker.C:
		}
	}
}

// awaitDoneErr reports why ctx (the deadline-bounded context Await
// derived from the caller's) finished: if the caller's own context was
// canceled first — typically a client disconnect — ctx.Err() already
// carries that cause through from the parent, so it is returned
// unwrapped for errors.Is(err, context.Canceled) to detect. Otherwise
// the derived deadline elapsed and the wait genuinely timed out.
func awaitDoneErr(ctx context.Context, kind Kind, target string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if kind != "" {
		return fmt.Errorf("rendezvous: await %s/%s: %w", kind, target, ErrTimeout)
	}
	return fmt.Errorf("rendezvous: await %s: %w", target, ErrTimeout)
}

// Sweep returns the ids of committed requests older than maxAge for
// which no committed response exists. It does not itself archive or
// respond to the stale requests — the caller (the forwarder's
// background sweeper) decides how to dispose of them, typically by
// publishing a synthetic error response and then calling Consume. This
// split keeps Store free of any dependency on the envelope format.
func (s *Store) Sweep(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.dir(KindRequests))
	if err != nil {
		return nil, fmt.Errorf("rendezvous: sweep: scan requests: %w", err)
	}

	cutoff := s.clock.Now().Add(-maxAge)
	var stale []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		id := strings.TrimSuffix(name, ".json")
		if _, err := os.Stat(s.path(KindResponses, id)); err == nil {
			// A response already exists; the proxy will consume it
			// through the normal path, not the sweeper.
			continue
		}
		stale = append(stale, id)
	}

	return stale, nil
}
