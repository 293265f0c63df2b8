// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"context"
	"net/http"
)

// runSweeper periodically finds requests that have sat unanswered
// longer than f.maxAge and synthesizes a gateway-timeout response for
// each, so a client whose forwarder never claimed its request (or
// crashed mid-flight) does not wait forever. It runs for the life of
// ctx.
func (f *Forwarder) runSweeper(ctx context.Context) {
	defer f.wg.Done()

	ticker := f.clock.NewTicker(f.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.sweepOnce()
		}
	}
}

func (f *Forwarder) sweepOnce() {
	stale, err := f.store.Sweep(f.maxAge)
	if err != nil {
		f.logger.Error("forwarder: sweep failed", "error", err)
		return
	}

	for _, id := range stale {
		f.logger.Warn("forwarder: sweeping stale request", "id", id, "max_age", f.maxAge)
		resp := errorResponse(id, http.StatusGatewayTimeout, "request exceeded max age without a response")
		f.finish(id, resp)
	}
}
