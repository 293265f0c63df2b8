// Copyright 2026 The Della Wonders Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// caKeyBits is the RSA key size used for both the CA and leaf
// certificates. 2048 bits is adequate for a throwaway interception CA
// whose trust is scoped to a single launch (or a single operator,
// in persistent mode).
const caKeyBits = 2048

// CertAuthority mints TLS leaf certificates on demand for CONNECT
// targets, signed by a single CA keypair. Leaf certificates are cached
// in-memory for the process lifetime, keyed by hostname.
type CertAuthority struct {
	certPEM []byte
	keyPEM  []byte

	cert *x509.Certificate
	key  *rsa.PrivateKey

	mu    sync.Mutex
	cache map[string]*tls.Certificate
}

// NewEphemeralCA generates a fresh CA keypair that exists only for the
// lifetime of the calling process. This is the default mode.
func NewEphemeralCA() (*CertAuthority, error) {
	certPEM, keyPEM, cert, key, err := generateCA()
	if err != nil {
		return nil, err
	}
	return &CertAuthority{
		certPEM: certPEM,
		keyPEM:  keyPEM,
		cert:    cert,
		key:     key,
		cache:   make(map[string]*tls.Certificate),
	}, nil
}

// LoadOrCreateCA loads a CA keypair from <dir>/ca-cert.pem and
// <dir>/ca-key.pem, generating and persisting a new one if either file
// is missing. This is the persistent mode resolving the TLS CA
// persistence Open Question (DESIGN.md): the operator opts in with
// --persist-ca to keep a stable CA across relaunches, trading the
// ephemeral mode's simplicity for trust-store cache stability.
func LoadOrCreateCA(dir string) (*CertAuthority, error) {
	certPath := filepath.Join(dir, "ca-cert.pem")
	keyPath := filepath.Join(dir, "ca-key.pem")

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		cert, key, err := parseCA(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("proxy: load persistent CA: %w", err)
		}
		return &CertAuthority{
			certPEM: certPEM,
			keyPEM:  keyPEM,
			cert:    cert,
			key:     key,
			cache:   make(map[string]*tls.Certificate),
		}, nil
	}

	certPEM, keyPEM, cert, key, err := generateCA()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("proxy: create CA directory: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("proxy: write CA cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("proxy: write CA key: %w", err)
	}

	return &CertAuthority{
		certPEM: certPEM,
		keyPEM:  keyPEM,
		cert:    cert,
		key:     key,
		cache:   make(map[string]*tls.Certificate),
	}, nil
}

func generateCA() (certPEM, keyPEM []byte, cert *x509.Certificate, key *rsa.PrivateKey, err error) {
	key, err = rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("proxy: generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "della_wonders interception CA",
			Organization: []string{"della_wonders"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("proxy: create CA certificate: %w", err)
	}

	cert, err = x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("proxy: parse generated CA certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, cert, key, nil
}

func parseCA(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block in CA certificate")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("no PEM block in CA key")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA key: %w", err)
	}

	return cert, key, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("proxy: generate certificate serial: %w", err)
	}
	return serial, nil
}

// CertPEM returns the CA certificate in PEM form, for installation into
// the spawned client's trust store by the launcher.
func (ca *CertAuthority) CertPEM() []byte { return ca.certPEM }

// LeafFor returns a TLS certificate for host, minting and caching one on
// first request.
func (ca *CertAuthority) LeafFor(host string) (*tls.Certificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if cert, ok := ca.cache[host]; ok {
		return cert, nil
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, fmt.Errorf("proxy: generate leaf key for %s: %w", host, err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &leafKey.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("proxy: mint leaf certificate for %s: %w", host, err)
	}

	leaf := &tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  leafKey,
	}
	ca.cache[host] = leaf
	return leaf, nil
}

// TLSConfig returns a *tls.Config that mints leaf certificates on
// demand, keyed by the ClientHello's SNI (falling back to fallbackHost
// when SNI is absent, e.g. a bare-IP CONNECT target).
func (ca *CertAuthority) TLSConfig(fallbackHost string) *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = fallbackHost
			}
			return ca.LeafFor(host)
		},
	}
}
