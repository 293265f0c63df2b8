// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/della-wonders/wonders/lib/clock"
)

// Retry/backoff parameters: exponential backoff
// starting at 500ms, factor 2, capped at 8s, up to 3 attempts. Only
// network-level failures are retried; HTTP status codes (including
// 5xx) pass through verbatim on the first successful round trip.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// nextDelay doubles d, capped at retryMaxDelay.
func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

// doWithRetry performs req via client, retrying network-level failures
// with exponential backoff. A response with any status code, including
// 5xx, is returned immediately without retrying.
func doWithRetry(c clock.Clock, client *http.Client, req *http.Request) (*http.Response, error) {
	delay := retryBaseDelay
	var lastErr error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			c.Sleep(delay)
			delay = nextDelay(delay)

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}
		}

		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}

	return nil, lastErr
}
