// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// breakerSettings tunes how quickly a host's circuit opens and how long
// it stays open before probing again. These are intentionally more
// conservative than gobreaker's defaults: a single bad host should not
// cost every in-flight request to that host a full retry budget.
var breakerSettings = struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	minRequests uint32
	failRatio   float64
}{
	maxRequests: 1,
	interval:    30 * time.Second,
	timeout:     15 * time.Second,
	minRequests: 4,
	failRatio:   0.6,
}

// hostBreakers owns one circuit breaker per destination host, created
// lazily on first use.
type hostBreakers struct {
	mu       sync.Mutex
	byHost   map[string]*gobreaker.CircuitBreaker[*http.Response]
	logger   *slog.Logger
}

func newHostBreakers(logger *slog.Logger) *hostBreakers {
	return &hostBreakers{
		byHost: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
		logger: logger,
	}
}

func (hb *hostBreakers) get(host string) *gobreaker.CircuitBreaker[*http.Response] {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if cb, ok := hb.byHost[host]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: breakerSettings.maxRequests,
		Interval:    breakerSettings.interval,
		Timeout:     breakerSettings.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= breakerSettings.minRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= breakerSettings.failRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			hb.logger.Warn("forwarder: circuit breaker state change", "host", name, "from", from, "to", to)
		},
	})
	hb.byHost[host] = cb
	return cb
}

// ErrCircuitOpen reports that the breaker for a host is open and fast
// failed without attempting an outbound call.
var ErrCircuitOpen = gobreaker.ErrOpenState
