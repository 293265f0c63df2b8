// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/della-wonders/wonders/envelope"
	"github.com/della-wonders/wonders/rendezvous"
)

// flowState is a tagged variant over the proxy's per-flow state
// machine, kept explicit rather than modeled as a reflection-heavy
// generic flow object.
type flowState int

const (
	flowAccepted flowState = iota
	flowClassified
	flowPublished
	flowReceived
	flowDone
	flowBadRequest
	flowGatewayTimeout
	flowBadGateway
)

func (s flowState) String() string {
	switch s {
	case flowAccepted:
		return "accepted"
	case flowClassified:
		return "classified"
	case flowPublished:
		return "published"
	case flowReceived:
		return "received"
	case flowDone:
		return "done"
	case flowBadRequest:
		return "bad_request"
	case flowGatewayTimeout:
		return "gateway_timeout"
	case flowBadGateway:
		return "bad_gateway"
	default:
		return "unknown"
	}
}

// runFlow drives one client request through CLASSIFIED -> PUBLISHED ->
// AWAIT -> RECEIVED, returning the *http.Response to write back to the
// client. On any terminal error it returns a synthesized *http.Response
// carrying the appropriate status code instead of a Go error, so callers
// have exactly one thing to write. The one exception is a canceled ctx
// (client disconnect) while awaiting the response: runFlow then returns
// nil and the caller writes nothing.
func (s *Server) runFlow(ctx context.Context, r *http.Request) *http.Response {
	id := uuid.NewString()
	state := flowAccepted

	body, err := readAndCapBody(r.Body, s.maxRequestBodySize)
	if err != nil {
		state = flowBadRequest
		s.logger.Warn("proxy: failed to read request body", "id", id, "state", state, "error", err)
		return syntheticResponse(http.StatusBadRequest, "Bad Request", []byte("failed to read request body"))
	}
	state = flowClassified

	req := &envelope.Request{
		Metadata: envelope.RequestMetadata{
			RequestID:     id,
			Timestamp:     s.clock.Now().UTC(),
			SourceProcess: s.sourceProcess,
			ProxyVersion:  s.proxyVersion,
		},
		Request: envelope.RequestData{
			Method:      r.Method,
			AbsoluteURL: absoluteURL(r),
			Headers:     envelope.FromHTTPHeader(r.Header),
			Body:        body,
			HTTPVersion: r.Proto,
		},
		Security: envelope.RequestSecurity{
			MaxResponseSize: s.maxResponseSize,
		},
	}

	data, err := envelope.EncodeRequest(req)
	if err != nil {
		s.logger.Error("proxy: failed to encode request envelope", "id", id, "error", err)
		return syntheticResponse(http.StatusBadGateway, "Bad Gateway", []byte("failed to encode request"))
	}

	if err := s.store.Publish(rendezvous.KindRequests, id, data); err != nil {
		state = flowBadGateway
		s.logger.Error("proxy: failed to publish request", "id", id, "state", state, "error", err)
		return syntheticResponse(http.StatusBadGateway, "Bad Gateway", []byte("failed to publish request"))
	}
	state = flowPublished

	responseData, err := s.store.Await(ctx, rendezvous.KindResponses, id, s.timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.logger.Info("proxy: client disconnected before response", "id", id, "state", state)
			return nil
		}
		state = flowGatewayTimeout
		s.logger.Warn("proxy: gateway timeout awaiting response", "id", id, "state", state, "error", err)
		return syntheticResponse(http.StatusGatewayTimeout, "Gateway Timeout", []byte("timed out waiting for forwarder"))
	}
	state = flowReceived

	resp, err := envelope.DecodeResponse(responseData)
	if err != nil {
		state = flowBadGateway
		s.logger.Error("proxy: failed to decode response envelope", "id", id, "state", state, "error", err)
		return syntheticResponse(http.StatusBadGateway, "Bad Gateway", []byte("failed to decode response"))
	}

	if err := s.store.Consume(rendezvous.KindResponses, id); err != nil {
		s.logger.Warn("proxy: failed to consume response file", "id", id, "error", err)
	}

	state = flowDone
	s.logger.Info("proxy: flow complete", "id", id, "state", state, "status", resp.Response.StatusCode)
	return responseToHTTP(resp)
}

func absoluteURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func readAndCapBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	return io.ReadAll(io.LimitReader(body, limit+1))
}

func syntheticResponse(statusCode int, reason string, body []byte) *http.Response {
	headers := http.Header{}
	headers.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		StatusCode: statusCode,
		Status:     fmt.Sprintf("%d %s", statusCode, reason),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     headers,
		Body:       io.NopCloser(bytes.NewReader(body)),
		// ContentLength -1 lets http.Response.Write chunk it; set it
		// explicitly instead since the body is fully buffered.
		ContentLength: int64(len(body)),
	}
}

func responseToHTTP(resp *envelope.Response) *http.Response {
	header := resp.Response.Headers.ToHTTPHeader()
	reason := resp.Response.ReasonPhrase
	if reason == "" {
		reason = http.StatusText(resp.Response.StatusCode)
	}
	return &http.Response{
		StatusCode:    resp.Response.StatusCode,
		Status:        fmt.Sprintf("%d %s", resp.Response.StatusCode, reason),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Response.Body)),
		ContentLength: int64(len(resp.Response.Body)),
	}
}

// timeoutOrDefault returns d if positive, otherwise the proxy's default
// per-flow timeout.
func timeoutOrDefault(d, defaultTimeout time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultTimeout
}
