// Package testpki generates certificates and key stores for tests.
package testpki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Identity is a certificate with its private key.
type Identity struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// CA is a self-signed certificate authority.
type CA struct {
	Identity
}

type leafOptions struct {
	dnsNames  []string
	ips       []net.IP
	notBefore time.Time
	notAfter  time.Time
}

// LeafOption configures an issued certificate.
type LeafOption func(*leafOptions)

// WithDNSNames adds subject alternative names.
func WithDNSNames(names ...string) LeafOption {
	return func(o *leafOptions) { o.dnsNames = append(o.dnsNames, names...) }
}

// WithIPs adds IP subject alternative names.
func WithIPs(ips ...net.IP) LeafOption {
	return func(o *leafOptions) { o.ips = append(o.ips, ips...) }
}

// WithValidity sets the validity window.
func WithValidity(notBefore, notAfter time.Time) LeafOption {
	return func(o *leafOptions) {
		o.notBefore = notBefore
		o.notAfter = notAfter
	}
}

// NewKey generates an RSA key.
func NewKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

// NewCA creates a CA with a subject key identifier.
func NewCA(t testing.TB, cn string) *CA {
	t.Helper()
	key := NewKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		SubjectKeyId:          keyID(&key.PublicKey),
	}
	return &CA{Identity: Identity{Cert: create(t, tmpl, tmpl, &key.PublicKey, key), Key: key}}
}

// Issue creates a leaf certificate signed by the CA. The leaf carries both
// subject and authority key identifiers.
func (ca *CA) Issue(t testing.TB, cn string, opts ...LeafOption) *Identity {
	t.Helper()
	o := leafOptions{
		notBefore: time.Now().Add(-time.Hour),
		notAfter:  time.Now().Add(24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&o)
	}
	key := NewKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    o.notBefore,
		NotAfter:     o.notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     o.dnsNames,
		IPAddresses:  o.ips,
		SubjectKeyId: keyID(&key.PublicKey),
	}
	return &Identity{Cert: create(t, tmpl, ca.Cert, &key.PublicKey, ca.Key), Key: key}
}

// SelfSigned creates a non-CA certificate with the given subject key
// identifier and no authority key identifier. A nil ski omits both.
func SelfSigned(t testing.TB, cn string, ski []byte) *Identity {
	t.Helper()
	key := NewKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		SubjectKeyId: ski,
	}
	return &Identity{Cert: create(t, tmpl, tmpl, &key.PublicKey, key), Key: key}
}

// KeyStore encodes id and its chain as a legacy 3DES PKCS#12 key store.
func KeyStore(t testing.TB, id *Identity, password string, chain ...*x509.Certificate) []byte {
	t.Helper()
	return encodeKeyStore(t, pkcs12.LegacyDES, id, password, chain)
}

// ModernKeyStore encodes id and its chain as a PBES2/AES PKCS#12 key store,
// the format written by current keytool and OpenSSL 3.
func ModernKeyStore(t testing.TB, id *Identity, password string, chain ...*x509.Certificate) []byte {
	t.Helper()
	return encodeKeyStore(t, pkcs12.Modern, id, password, chain)
}

// TrustStore encodes certs as a legacy 3DES PKCS#12 trust store.
func TrustStore(t testing.TB, password string, certs ...*x509.Certificate) []byte {
	t.Helper()
	return encodeTrustStore(t, pkcs12.LegacyDES, password, certs)
}

// ModernTrustStore encodes certs as a PBES2/AES PKCS#12 trust store.
func ModernTrustStore(t testing.TB, password string, certs ...*x509.Certificate) []byte {
	t.Helper()
	return encodeTrustStore(t, pkcs12.Modern, password, certs)
}

func encodeKeyStore(t testing.TB, enc *pkcs12.Encoder, id *Identity, password string, chain []*x509.Certificate) []byte {
	t.Helper()
	data, err := enc.Encode(id.Key, id.Cert, chain, password)
	if err != nil {
		t.Fatalf("encoding key store: %v", err)
	}
	return data
}

func encodeTrustStore(t testing.TB, enc *pkcs12.Encoder, password string, certs []*x509.Certificate) []byte {
	t.Helper()
	data, err := enc.EncodeTrustStore(certs, password)
	if err != nil {
		t.Fatalf("encoding trust store: %v", err)
	}
	return data
}

// PEMKeyStore encodes id and its chain as a PEM bundle.
func PEMKeyStore(t testing.TB, id *Identity, chain ...*x509.Certificate) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(id.Key)
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	out = append(out, PEMCertificates(id.Cert)...)
	return append(out, PEMCertificates(chain...)...)
}

// PEMCertificates encodes certs as PEM.
func PEMCertificates(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

func create(t testing.TB, tmpl, parent *x509.Certificate, pub any, signer *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return cert
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	return n
}

func keyID(pub *rsa.PublicKey) []byte {
	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(pub))
	return sum[:]
}
