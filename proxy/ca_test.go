// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"crypto/tls"
	"path/filepath"
	"testing"
)

func TestLeafForCachesByHostname(t *testing.T) {
	ca, err := NewEphemeralCA()
	if err != nil {
		t.Fatalf("NewEphemeralCA: %v", err)
	}

	first, err := ca.LeafFor("example.invalid")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	second, err := ca.LeafFor("example.invalid")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if first != second {
		t.Fatal("LeafFor returned a different certificate for the same host")
	}

	other, err := ca.LeafFor("other.invalid")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if other == first {
		t.Fatal("LeafFor returned the same certificate for different hosts")
	}
}

func TestLoadOrCreateCAPersistsAcrossCalls(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ca")

	first, err := LoadOrCreateCA(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateCA (create): %v", err)
	}

	second, err := LoadOrCreateCA(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateCA (load): %v", err)
	}

	if string(first.CertPEM()) != string(second.CertPEM()) {
		t.Fatal("LoadOrCreateCA did not reload the persisted certificate")
	}
}

func TestTLSConfigFallsBackToFallbackHost(t *testing.T) {
	ca, err := NewEphemeralCA()
	if err != nil {
		t.Fatalf("NewEphemeralCA: %v", err)
	}
	cfg := ca.TLSConfig("fallback.invalid")
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("GetCertificate returned nil certificate")
	}
}
