// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Package forwarder implements the Internet-side half of the tunnel: a
// worker pool that claims requests from a rendezvous.Store, applies the
// security policy, performs the outbound HTTP call with bounded retry
// and a per-host circuit breaker, and publishes the reply.
package forwarder

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/della-wonders/wonders/lib/clock"
	"github.com/della-wonders/wonders/rendezvous"
	"github.com/della-wonders/wonders/security"
)

// Default worker pool, sweep, and outbound timeout parameters.
const (
	DefaultWorkers       = 8
	DefaultSweepInterval = 60 * time.Second
	DefaultMaxAge        = 5 * time.Minute
	claimPollInterval    = 200 * time.Millisecond

	// DefaultDialTimeout bounds the TCP connect (and TLS handshake) to
	// the origin.
	DefaultDialTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds one outbound attempt end to end,
	// including any redirects followed within it.
	DefaultRequestTimeout = 30 * time.Second
)

// Config configures a Forwarder.
type Config struct {
	Store  *rendezvous.Store
	Filter *security.Filter

	// Workers is the size of the claim-and-process pool. Zero means
	// DefaultWorkers.
	Workers int

	// SweepInterval is how often the background sweeper runs. Zero
	// means DefaultSweepInterval.
	SweepInterval time.Duration

	// MaxAge is how old an unanswered request must be before the
	// sweeper synthesizes an error response for it. Zero means
	// DefaultMaxAge.
	MaxAge time.Duration

	// Client performs outbound HTTP calls. Defaults to a client with
	// redirect following capped at 10 hops, a DialTimeout connect
	// deadline, and a RequestTimeout total deadline per attempt. Set
	// explicitly to bypass DialTimeout/RequestTimeout entirely.
	Client *http.Client

	// DialTimeout bounds the TCP connect to the origin. Zero means
	// DefaultDialTimeout. Ignored if Client is set.
	DialTimeout time.Duration

	// RequestTimeout bounds one outbound attempt end to end. Zero means
	// DefaultRequestTimeout. Ignored if Client is set.
	RequestTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Forwarder runs the claim/process worker pool and the orphan sweeper.
type Forwarder struct {
	store  *rendezvous.Store
	filter *security.Filter
	client *http.Client
	clock  clock.Clock
	logger *slog.Logger

	workers       int
	sweepInterval time.Duration
	maxAge        time.Duration

	breakers *hostBreakers

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Forwarder from cfg.
func New(cfg Config) *Forwarder {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		dialTimeout := cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = DefaultDialTimeout
		}
		requestTimeout := cfg.RequestTimeout
		if requestTimeout <= 0 {
			requestTimeout = DefaultRequestTimeout
		}
		client = newOutboundClient(dialTimeout, requestTimeout)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return &Forwarder{
		store:         cfg.Store,
		filter:        cfg.Filter,
		client:        client,
		clock:         c,
		logger:        logger,
		workers:       workers,
		sweepInterval: sweepInterval,
		maxAge:        maxAge,
		breakers:      newHostBreakers(logger),
	}
}

// newOutboundClient builds the *http.Client used for origin calls:
// redirects capped at 10 hops, TCP connect bounded by dialTimeout, and
// each call to Do (one retry attempt, including any redirects it
// follows) bounded by requestTimeout.
func newOutboundClient(dialTimeout, requestTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// Run starts the worker pool and the sweeper, blocking until ctx is
// canceled. It returns once every worker and the sweeper have drained.
func (f *Forwarder) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go f.runWorker(ctx, i)
	}

	f.wg.Add(1)
	go f.runSweeper(ctx)

	<-ctx.Done()
	f.wg.Wait()
}

// Stop cancels the forwarder's run loop. Run returns once in-flight
// work drains.
func (f *Forwarder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *Forwarder) runWorker(ctx context.Context, index int) {
	defer f.wg.Done()
	ticker := f.clock.NewTicker(claimPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for f.claimAndProcessOne(ctx) {
				// Drain every pending request before the next poll
				// tick, instead of waiting a full interval between
				// consecutive claims.
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// claimAndProcessOne claims and handles a single request, reporting
// whether a request was actually claimed (so the caller can keep
// draining the backlog).
func (f *Forwarder) claimAndProcessOne(ctx context.Context) bool {
	id, data, ok, err := f.store.Claim(rendezvous.KindRequests)
	if err != nil {
		f.logger.Error("forwarder: claim failed", "error", err)
		return false
	}
	if !ok {
		return false
	}

	f.process(ctx, id, data)
	return true
}
