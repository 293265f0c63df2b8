// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements the shared-directory request/response
// channel: atomic publish, claim, blocking await, consume, and orphan
// sweeping over a directory tree of requests/, responses/, and
// processed/ subdirectories.
//
// The commit point for every envelope is a rename from a sibling
// "*.json.tmp" name. Readers never open a ".tmp" path. This mirrors the
// watchdog state file's write discipline: stage, fsync the file, rename,
// fsync the parent directory.
package rendezvous

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"log/slog"

	"github.com/della-wonders/wonders/lib/clock"
)

// Kind names one of the three rendezvous subdirectories.
type Kind string

const (
	KindRequests  Kind = "requests"
	KindResponses Kind = "responses"
	KindProcessed Kind = "processed"
)

// ErrAlreadyPublished is returned by Publish when the destination path is
// already committed. The rendezvous store enforces request-id uniqueness
// itself rather than trusting every caller to generate collision-free ids
// (see DESIGN.md, "Publish idempotence").
var ErrAlreadyPublished = errors.New("rendezvous: already published")

// ErrNotFound is returned by Consume when the named envelope does not
// exist.
var ErrNotFound = errors.New("rendezvous: not found")

// Store is a handle on a rendezvous directory tree.
type Store struct {
	root   string
	clock  clock.Clock
	logger *slog.Logger

	mu   sync.Mutex
	seen map[Kind]map[string]bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the Store's time source, which drives Await's
// polling ticker and the "now" used by Sweep and Stat. Tests inject a
// clock.Fake to control Stat's "now" deterministically.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger overrides the Store's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open creates the requests/, responses/, and processed/ subdirectories
// under root if they do not already exist, and returns a Store over
// them.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:   root,
		clock:  clock.Real(),
		logger: slog.Default(),
		seen: map[Kind]map[string]bool{
			KindRequests:  {},
			KindResponses: {},
			KindProcessed: {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, kind := range []Kind{KindRequests, KindResponses, KindProcessed} {
		if err := os.MkdirAll(s.dir(kind), 0o755); err != nil {
			return nil, fmt.Errorf("rendezvous: create %s: %w", kind, err)
		}
	}
	return s, nil
}

// Root returns the rendezvous directory root.
func (s *Store) Root() string { return s.root }

func (s *Store) dir(kind Kind) string {
	return filepath.Join(s.root, string(kind))
}

func (s *Store) path(kind Kind, id string) string {
	return filepath.Join(s.dir(kind), id+".json")
}

func (s *Store) tmpPath(kind Kind, id string) string {
	return filepath.Join(s.dir(kind), id+".json.tmp")
}

// Publish atomically commits envelopeBytes as <kind>/<id>.json. It
// stages to a sibling ".json.tmp" name, fsyncs the file, renames it into
// place, then fsyncs the parent directory so the rename itself survives
// a crash. Returns ErrAlreadyPublished if the destination already
// exists.
func (s *Store) Publish(kind Kind, id string, envelopeBytes []byte) error {
	finalPath := s.path(kind, id)
	if _, err := os.Stat(finalPath); err == nil {
		return fmt.Errorf("rendezvous: publish %s/%s: %w", kind, id, ErrAlreadyPublished)
	}

	tmpPath := s.tmpPath(kind, id)
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("rendezvous: stage %s/%s: %w", kind, id, err)
	}

	if _, err := file.Write(envelopeBytes); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rendezvous: write %s/%s: %w", kind, id, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("rendezvous: sync %s/%s: %w", kind, id, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rendezvous: close %s/%s: %w", kind, id, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rendezvous: commit %s/%s: %w", kind, id, err)
	}

	if dir, err := os.Open(s.dir(kind)); err == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}

// Claim returns one committed envelope from <kind>/ that this Store has
// not returned before, in lexicographic filename order. ok is false if
// every committed envelope has already been claimed.
func (s *Store) Claim(kind Kind) (id string, data []byte, ok bool, err error) {
	entries, err := os.ReadDir(s.dir(kind))
	if err != nil {
		return "", nil, false, fmt.Errorf("rendezvous: scan %s: %w", kind, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.tmp") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.seen[kind]

	for _, name := range names {
		candidateID := strings.TrimSuffix(name, ".json")
		if seen[candidateID] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir(kind), name))
		if err != nil {
			if os.IsNotExist(err) {
				// Raced with a concurrent Consume; try the next candidate.
				continue
			}
			return "", nil, false, fmt.Errorf("rendezvous: read %s/%s: %w", kind, name, err)
		}
		seen[candidateID] = true
		return candidateID, data, true, nil
	}

	return "", nil, false, nil
}

// Consume removes the committed envelope for id. For KindResponses this
// deletes the file outright (the proxy's read-then-delete step). For
// KindRequests this moves the file into processed/ instead of deleting
// it, archiving the forwarder's handling of that request.
func (s *Store) Consume(kind Kind, id string) error {
	switch kind {
	case KindResponses:
		if err := os.Remove(s.path(kind, id)); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("rendezvous: consume %s/%s: %w", kind, id, ErrNotFound)
			}
			return fmt.Errorf("rendezvous: consume %s/%s: %w", kind, id, err)
		}
		return nil

	case KindRequests:
		src := s.path(kind, id)
		dst := s.path(KindProcessed, id)
		if err := os.Rename(src, dst); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("rendezvous: archive %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("rendezvous: archive %s: %w", id, err)
		}
		if dir, err := os.Open(s.dir(KindProcessed)); err == nil {
			dir.Sync()
			dir.Close()
		}
		return nil

	default:
		return fmt.Errorf("rendezvous: consume: unsupported kind %q", kind)
	}
}
