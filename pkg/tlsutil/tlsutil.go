// Package tlsutil provides TLS trust-bundle utilities for the gotds client.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadTrustBundle reads a PEM file containing one or more CA certificates
// and returns a cert pool usable as tls.Config.RootCAs. This is the
// client-side counterpart of generating a certificate: the driver never
// mints certificates, it only decides which ones to trust.
func LoadTrustBundle(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust bundle %s: %w", path, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no PEM certificates found in %s", path)
	}

	return pool, nil
}

// ClientConfig builds a tls.Config for a given server name and trust mode.
// When trustFile is empty the system root pool is used (mode "required");
// when set, only the bundle's certificates are trusted (mode "customTrust").
func ClientConfig(serverName, trustFile string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if trustFile == "" {
		return cfg, nil
	}

	pool, err := LoadTrustBundle(trustFile)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// ReplaceRootCAs replaces the RootCAs pool on cfg with the contents of
// trustFile by a plain field assignment. Used by config.WatchTrustFile to hot-reload a custom CA
// bundle without tearing down existing pooled connections; callers must
// hold whatever lock guards concurrent use of cfg (tls.Config itself is
// safe to mutate between handshakes but not mid-handshake).
func ReplaceRootCAs(cfg *tls.Config, trustFile string) error {
	pool, err := LoadTrustBundle(trustFile)
	if err != nil {
		return err
	}
	cfg.RootCAs = pool
	return nil
}
