// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"regexp"
	"testing"
)

func TestIsDomainBlockedExactAndSuffix(t *testing.T) {
	f := New(Config{BlockedDomains: []string{"evil.test"}})

	cases := map[string]bool{
		"evil.test":     true,
		"sub.evil.test": true,
		"evil.test.org": false,
		"notevil.test":  false,
		"EVIL.TEST":     true,
	}
	for host, want := range cases {
		if got := f.IsDomainBlocked(host); got != want {
			t.Errorf("IsDomainBlocked(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestAdmitRequestBlocksDomain(t *testing.T) {
	f := New(Config{BlockedDomains: []string{"evil.test"}})

	decision := f.AdmitRequest("https://sub.evil.test/x", 10)
	if !decision.Blocked || decision.StatusCode != 403 {
		t.Fatalf("decision = %+v, want blocked 403", decision)
	}
}

func TestAdmitRequestBlocksOversizedBody(t *testing.T) {
	f := New(Config{MaxRequestSize: 100})

	decision := f.AdmitRequest("https://example.invalid/x", 1000)
	if !decision.Blocked || decision.StatusCode != 413 {
		t.Fatalf("decision = %+v, want blocked 413", decision)
	}
}

func TestAdmitRequestAllowsOrdinaryRequest(t *testing.T) {
	f := New(Config{BlockedDomains: []string{"evil.test"}})

	decision := f.AdmitRequest("https://example.invalid/x", 10)
	if decision.Blocked {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
}

func TestScanContentIsAuditOnly(t *testing.T) {
	f := New(Config{
		Patterns: []Pattern{
			{Name: "secret-key", Re: regexp.MustCompile(`sk-[A-Za-z0-9]+`)},
		},
	})

	matched := f.ScanContent([]byte("here is sk-abc123 in the body"))
	if len(matched) != 1 || matched[0] != "secret-key" {
		t.Fatalf("matched = %v, want [secret-key]", matched)
	}

	// A match never blocks; the decision path is entirely separate
	// from the scanner.
	decision := f.AdmitRequest("https://example.invalid/x", 10)
	if decision.Blocked {
		t.Fatal("ScanContent must not influence AdmitRequest")
	}
}

func TestScanContentNoPatternsConfigured(t *testing.T) {
	f := New(Config{})
	if got := f.ScanContent([]byte("anything")); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
