package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// TrustVerifier verifies peer certificate chains against the connector's
// trust anchors, falling back to the system roots.
type TrustVerifier struct {
	custom  *x509.CertPool
	system  *x509.CertPool
	anchors []*x509.Certificate
}

// NewTrustVerifier builds a verifier from custom anchors and a system pool.
// A nil system pool is treated as empty.
func NewTrustVerifier(anchors []*x509.Certificate, system *x509.CertPool) *TrustVerifier {
	custom := x509.NewCertPool()
	for _, c := range anchors {
		custom.AddCert(c)
	}
	if system == nil {
		system = x509.NewCertPool()
	}
	return &TrustVerifier{
		custom:  custom,
		system:  system,
		anchors: append([]*x509.Certificate(nil), anchors...),
	}
}

// Anchors returns the custom trust anchors.
func (v *TrustVerifier) Anchors() []*x509.Certificate {
	return append([]*x509.Certificate(nil), v.anchors...)
}

// VerifyServer verifies a server chain (leaf first) for dnsName.
// An empty dnsName skips the host name check.
func (v *TrustVerifier) VerifyServer(chain []*x509.Certificate, dnsName string) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrUntrusted)
	}

	_, customErr := chain[0].Verify(v.options(v.custom, chain, dnsName, x509.ExtKeyUsageServerAuth))
	if customErr == nil {
		return nil
	}
	_, systemErr := chain[0].Verify(v.options(v.system, chain, dnsName, x509.ExtKeyUsageServerAuth))
	if systemErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUntrusted, errors.Join(customErr, systemErr))
}

// VerifyClient verifies a client chain against the system roots only.
func (v *TrustVerifier) VerifyClient(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrUntrusted)
	}
	if _, err := chain[0].Verify(v.options(v.system, chain, "", x509.ExtKeyUsageClientAuth)); err != nil {
		return fmt.Errorf("%w: %w", ErrUntrusted, err)
	}
	return nil
}

// VerifyConnection is a [tls.Config] VerifyConnection callback. It rejects
// connections without a server name, which is the case for IP literals;
// use [TrustVerifier.ClientTLSConfigFor] to verify those.
func (v *TrustVerifier) VerifyConnection(cs tls.ConnectionState) error {
	return v.verifyHost(cs, cs.ServerName)
}

// ClientTLSConfig returns a client TLS configuration that verifies servers
// with this verifier and presents the given certificates.
func (v *TrustVerifier) ClientTLSConfig(certs ...tls.Certificate) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: certs,
		// Chains are verified in VerifyConnection against both pools.
		InsecureSkipVerify: true, //nolint:gosec
		VerifyConnection:   v.VerifyConnection,
	}
}

// ClientTLSConfigFor is [TrustVerifier.ClientTLSConfig] bound to the dialed
// host. The server certificate must be valid for host, which may be a DNS
// name or an IP literal.
func (v *TrustVerifier) ClientTLSConfigFor(host string, certs ...tls.Certificate) *tls.Config {
	cfg := v.ClientTLSConfig(certs...)
	cfg.ServerName = host
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return v.verifyHost(cs, host)
	}
	return cfg
}

func (v *TrustVerifier) verifyHost(cs tls.ConnectionState, host string) error {
	if host == "" {
		return fmt.Errorf("%w: no server name to verify", ErrUntrusted)
	}
	return v.VerifyServer(cs.PeerCertificates, host)
}

func (v *TrustVerifier) options(roots *x509.CertPool, chain []*x509.Certificate, dnsName string, usage x509.ExtKeyUsage) x509.VerifyOptions {
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	return x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       dnsName,
		KeyUsages:     []x509.ExtKeyUsage{usage},
	}
}
