// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats summarizes the current contents of a rendezvous directory tree,
// for operator-facing status reporting.
type Stats struct {
	PendingRequests  int
	PendingResponses int
	Processed        int

	// OldestPendingAge is the age of the oldest committed file in
	// requests/, or zero if there are none.
	OldestPendingAge time.Duration
}

// Stat scans the requests/, responses/, and processed/ subdirectories
// and returns their committed-envelope counts and the age of the oldest
// pending request.
func (s *Store) Stat() (Stats, error) {
	var stats Stats

	pendingCount, oldest, err := s.countWithOldest(KindRequests)
	if err != nil {
		return Stats{}, err
	}
	stats.PendingRequests = pendingCount
	if pendingCount > 0 {
		stats.OldestPendingAge = s.clock.Now().Sub(oldest)
	}

	responseCount, _, err := s.countWithOldest(KindResponses)
	if err != nil {
		return Stats{}, err
	}
	stats.PendingResponses = responseCount

	processedCount, _, err := s.countWithOldest(KindProcessed)
	if err != nil {
		return Stats{}, err
	}
	stats.Processed = processedCount

	return stats, nil
}

// countWithOldest returns the number of committed envelopes under kind
// and the modification time of the oldest one.
func (s *Store) countWithOldest(kind Kind) (count int, oldest time.Time, err error) {
	entries, err := os.ReadDir(s.dir(kind))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rendezvous: stat %s: %w", kind, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		if oldest.IsZero() || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	return count, oldest, nil
}
