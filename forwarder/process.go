// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/della-wonders/wonders/envelope"
	"github.com/della-wonders/wonders/rendezvous"
	"github.com/della-wonders/wonders/security"
)

// process handles one claimed request end to end: decode, admit,
// perform the outbound call (or synthesize a response for a blocked or
// malformed request), scan and cap the result, then publish the
// response envelope and archive the request.
func (f *Forwarder) process(ctx context.Context, id string, data []byte) {
	req, err := envelope.DecodeRequest(data)
	if err != nil {
		f.logger.Error("forwarder: failed to decode request envelope", "id", id, "error", err)
		f.finish(id, errorResponse(id, http.StatusBadRequest, "failed to decode request"))
		return
	}

	resp := f.handle(ctx, req)
	f.finish(id, resp)
}

// finish publishes resp and archives the request, logging but not
// failing the caller on either step — a publish/archive failure is
// picked up again by the sweeper on its next pass.
func (f *Forwarder) finish(id string, resp *envelope.Response) {
	resp.Metadata.ProcessedAt = f.clock.Now().UTC()

	encoded, err := envelope.EncodeResponse(resp)
	if err != nil {
		f.logger.Error("forwarder: failed to encode response envelope", "id", id, "error", err)
		return
	}
	if err := f.store.Publish(rendezvous.KindResponses, id, encoded); err != nil {
		f.logger.Error("forwarder: failed to publish response", "id", id, "error", err)
		return
	}
	if err := f.store.Consume(rendezvous.KindRequests, id); err != nil {
		f.logger.Warn("forwarder: failed to archive request", "id", id, "error", err)
	}
}

// handle applies the security filter and, if admitted, performs the
// outbound call.
func (f *Forwarder) handle(ctx context.Context, req *envelope.Request) *envelope.Response {
	id := req.Metadata.RequestID

	var scanResults []string
	if matches := f.filter.ScanContent(req.Request.Body); len(matches) > 0 {
		scanResults = matches
	}

	decision := f.filter.AdmitRequest(req.Request.AbsoluteURL, int64(len(req.Request.Body)))
	if decision.Blocked {
		f.logger.Info("forwarder: blocked request", "id", id, "url", req.Request.AbsoluteURL, "reason", decision.Reason)
		resp := blockedResponse(id, decision)
		resp.Security.ScanResults = scanResults
		resp.Security.ContentFiltered = len(scanResults) > 0
		return resp
	}

	maxResponseSize := f.filter.MaxResponseSize()
	if req.Security.MaxResponseSize > 0 && req.Security.MaxResponseSize < maxResponseSize {
		maxResponseSize = req.Security.MaxResponseSize
	}

	outbound, err := buildOutboundRequest(ctx, req)
	if err != nil {
		f.logger.Warn("forwarder: malformed request", "id", id, "error", err)
		return errorResponse(id, http.StatusBadGateway, "malformed request: "+err.Error())
	}

	host := outbound.URL.Hostname()
	breaker := f.breakers.get(host)

	httpResp, err := breaker.Execute(func() (*http.Response, error) {
		return doWithRetry(f.clock, f.client, outbound)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			f.logger.Warn("forwarder: circuit open, failing fast", "id", id, "host", host)
			return errorResponse(id, http.StatusBadGateway, "upstream circuit open for "+host)
		}
		f.logger.Warn("forwarder: upstream request failed", "id", id, "host", host, "error", err)
		return errorResponse(id, http.StatusBadGateway, "upstream request failed: "+err.Error())
	}
	defer httpResp.Body.Close()

	body, truncated, err := readCapped(httpResp.Body, maxResponseSize)
	if err != nil {
		f.logger.Warn("forwarder: failed to read upstream response", "id", id, "error", err)
		return errorResponse(id, http.StatusBadGateway, "failed to read upstream response")
	}

	if matches := f.filter.ScanContent(body); len(matches) > 0 {
		scanResults = append(scanResults, matches...)
	}

	resp := &envelope.Response{
		Metadata: envelope.ResponseMetadata{
			RequestID:      id,
			SecurityStatus: envelope.StatusApproved,
		},
		Response: envelope.ResponseData{
			StatusCode:   httpResp.StatusCode,
			ReasonPhrase: http.StatusText(httpResp.StatusCode),
			Headers:      envelope.FromHTTPHeader(httpResp.Header),
			Body:         body,
			HTTPVersion:  httpResp.Proto,
		},
		Security: envelope.ResponseSecurity{
			ContentFiltered: truncated || len(scanResults) > 0,
			ScanResults:     scanResults,
		},
	}
	return resp
}

func buildOutboundRequest(ctx context.Context, req *envelope.Request) (*http.Request, error) {
	parsed, err := url.Parse(req.Request.AbsoluteURL)
	if err != nil {
		return nil, fmt.Errorf("parse absolute_url: %w", err)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Request.Method, parsed.String(), bytes.NewReader(req.Request.Body))
	if err != nil {
		return nil, err
	}
	outbound.Header = req.Request.Headers.ToHTTPHeader()
	return outbound, nil
}

// readCapped reads at most limit+1 bytes from r, reporting whether the
// stream had more data than limit (i.e. was truncated).
func readCapped(r io.Reader, limit int64) (body []byte, truncated bool, err error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

func errorResponse(id string, statusCode int, reason string) *envelope.Response {
	return &envelope.Response{
		Metadata: envelope.ResponseMetadata{
			RequestID:      id,
			SecurityStatus: envelope.StatusError,
		},
		Response: envelope.ResponseData{
			StatusCode:   statusCode,
			ReasonPhrase: http.StatusText(statusCode),
			Body:         []byte(reason),
		},
	}
}

func blockedResponse(id string, decision security.Decision) *envelope.Response {
	return &envelope.Response{
		Metadata: envelope.ResponseMetadata{
			RequestID:      id,
			SecurityStatus: envelope.StatusBlocked,
		},
		Response: envelope.ResponseData{
			StatusCode:   decision.StatusCode,
			ReasonPhrase: http.StatusText(decision.StatusCode),
			Body:         []byte(decision.Reason),
		},
	}
}
