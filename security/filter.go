// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

// Package security implements the forwarder's admission policy: a
// domain blocklist, size caps, and an audit-only content-pattern scan.
// It is applied once per claimed request, before any outbound call.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// Default size caps.
const (
	DefaultMaxRequestSize  = 10 << 20  // 10 MiB
	DefaultMaxResponseSize = 100 << 20 // generous ceiling; per-request max_response_size usually governs first
)

// Decision is the outcome of admitting a request.
type Decision struct {
	Blocked    bool
	StatusCode int
	Reason     string
}

var admitted = Decision{}

// Pattern is a named regular expression used by the content scanner.
// The name is what ends up in a response envelope's scan_results list.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// Filter holds the forwarder's immutable-for-process-lifetime admission
// policy.
type Filter struct {
	blockedDomains  []string
	maxRequestSize  int64
	maxResponseSize int64
	patterns        []Pattern
}

// Config configures a Filter at construction.
type Config struct {
	// BlockedDomains lists hosts (or parent domains) to block. Matching
	// is case-folded, dot-suffix: "evil.test" blocks "evil.test" and
	// any "*.evil.test".
	BlockedDomains []string

	// MaxRequestSize bounds the request body. Zero means
	// DefaultMaxRequestSize.
	MaxRequestSize int64

	// MaxResponseSize bounds the response body absent a smaller
	// per-request override. Zero means DefaultMaxResponseSize.
	MaxResponseSize int64

	// Patterns are audit-only content scanners applied to request and
	// response bodies.
	Patterns []Pattern
}

// New builds a Filter from cfg, normalizing the blocklist to lowercase.
func New(cfg Config) *Filter {
	blocked := make([]string, len(cfg.BlockedDomains))
	for i, domain := range cfg.BlockedDomains {
		blocked[i] = strings.ToLower(strings.TrimSuffix(domain, "."))
	}

	maxReq := cfg.MaxRequestSize
	if maxReq <= 0 {
		maxReq = DefaultMaxRequestSize
	}
	maxResp := cfg.MaxResponseSize
	if maxResp <= 0 {
		maxResp = DefaultMaxResponseSize
	}

	return &Filter{
		blockedDomains:  blocked,
		maxRequestSize:  maxReq,
		maxResponseSize: maxResp,
		patterns:        cfg.Patterns,
	}
}

// MaxRequestSize returns the configured request size cap.
func (f *Filter) MaxRequestSize() int64 { return f.maxRequestSize }

// MaxResponseSize returns the configured response size cap.
func (f *Filter) MaxResponseSize() int64 { return f.maxResponseSize }

// IsDomainBlocked reports whether host (or any parent domain of host)
// appears in the blocklist.
func (f *Filter) IsDomainBlocked(host string) bool {
	host = strings.ToLower(host)
	for _, blocked := range f.blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// AdmitRequest runs the domain and size checks against a request about
// to be forwarded. absoluteURL is the request's target URL; bodySize is
// the length of its body in bytes.
func (f *Filter) AdmitRequest(absoluteURL string, bodySize int64) Decision {
	parsed, err := url.Parse(absoluteURL)
	if err != nil {
		return Decision{Blocked: true, StatusCode: 400, Reason: "malformed url"}
	}

	if f.IsDomainBlocked(parsed.Hostname()) {
		return Decision{Blocked: true, StatusCode: 403, Reason: "domain blocked: " + parsed.Hostname()}
	}

	if bodySize > f.maxRequestSize {
		return Decision{Blocked: true, StatusCode: 413, Reason: "request body too large"}
	}

	return admitted
}

// ScanContent returns the names of every pattern that matches data. The
// scan is audit-only: a match never blocks by itself, it only annotates
// scan_results and sets content_filtered.
func (f *Filter) ScanContent(data []byte) []string {
	if len(f.patterns) == 0 {
		return nil
	}
	var matched []string
	for _, pattern := range f.patterns {
		if pattern.Re.Match(data) {
			matched = append(matched, pattern.Name)
		}
	}
	return matched
}
