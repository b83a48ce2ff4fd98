package keystore

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
)

// Credentials unlock the key store and the trust store.
type Credentials struct {
	KeyStorePassword   string
	TrustStorePassword string
	KeyAlias           string
}

// Material is the loaded identity of a connector. It is immutable.
type Material struct {
	privateKey  crypto.Signer
	certificate *x509.Certificate
	chain       []*x509.Certificate
	trust       *TrustVerifier
}

// NewMaterial assembles an identity from already parsed parts.
func NewMaterial(key crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate, trust *TrustVerifier) (*Material, error) {
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	if cert == nil {
		return nil, ErrNoCertificate
	}
	if trust == nil {
		trust = NewTrustVerifier(nil, nil)
	}
	return &Material{
		privateKey:  key,
		certificate: cert,
		chain:       append([]*x509.Certificate(nil), chain...),
		trust:       trust,
	}, nil
}

// PrivateKey returns the connector's private key.
func (m *Material) PrivateKey() crypto.Signer { return m.privateKey }

// Certificate returns the connector's leaf certificate.
func (m *Material) Certificate() *x509.Certificate { return m.certificate }

// Chain returns the certificates stored next to the leaf.
func (m *Material) Chain() []*x509.Certificate {
	return append([]*x509.Certificate(nil), m.chain...)
}

// CertificateExpiry returns the end of the leaf certificate's validity.
func (m *Material) CertificateExpiry() time.Time { return m.certificate.NotAfter }

// TrustVerifier returns the merged trust verifier.
func (m *Material) TrustVerifier() *TrustVerifier { return m.trust }

// TLSCertificate returns the identity as a TLS client certificate.
func (m *Material) TLSCertificate() tls.Certificate {
	raw := [][]byte{m.certificate.Raw}
	for _, c := range m.chain {
		raw = append(raw, c.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  m.privateKey,
		Leaf:        m.certificate,
	}
}

// Option configures [Load].
type Option func(*loader)

// WithResources sets the bundled resources searched before the filesystem.
func WithResources(fsys fs.FS) Option {
	return func(l *loader) { l.resources = fsys }
}

// WithSystemRoots replaces the platform root pool.
func WithSystemRoots(pool *x509.CertPool) Option {
	return func(l *loader) { l.systemRoots = pool }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) { l.logger = logger }
}

type loader struct {
	resources   fs.FS
	systemRoots *x509.CertPool
	logger      *slog.Logger
}

// Load opens the key and trust stores named by model.
func Load(model *infomodel.ConfigurationModel, creds Credentials, opts ...Option) (*Material, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	if model == nil {
		return nil, &InitializationError{Op: "load", Err: errors.New("no configuration model")}
	}

	keyLocation := string(model.KeyStore)
	keyData, err := l.read(keyLocation)
	if err != nil {
		return nil, &InitializationError{Op: "read key store", Location: keyLocation, Err: err}
	}
	key, cert, chain, err := decodeKeyStore(keyData, creds.KeyStorePassword, creds.KeyAlias)
	if err != nil {
		return nil, &InitializationError{Op: "open key store", Location: keyLocation, Err: err}
	}

	trustLocation := string(model.TrustStore)
	trustData, err := l.read(trustLocation)
	if err != nil {
		return nil, &InitializationError{Op: "read trust store", Location: trustLocation, Err: err}
	}
	anchors, err := decodeTrustStore(trustData, creds.TrustStorePassword)
	if err != nil {
		return nil, &InitializationError{Op: "open trust store", Location: trustLocation, Err: err}
	}
	if len(anchors) == 0 {
		l.logger.Warn("trust store contains no certificates", "location", trustLocation)
	}

	system := l.systemRoots
	if system == nil {
		system, err = x509.SystemCertPool()
		if err != nil {
			l.logger.Warn("system root pool unavailable", "error", err)
			system = x509.NewCertPool()
		}
	}

	material, err := NewMaterial(key, cert, chain, NewTrustVerifier(anchors, system))
	if err != nil {
		return nil, &InitializationError{Op: "load", Err: err}
	}

	l.logger.Info("loaded connector identity",
		"subject", cert.Subject.String(),
		"expires", cert.NotAfter,
		"trust_anchors", len(anchors))
	return material, nil
}

// read resolves a store location against the resources, then the filesystem.
func (l *loader) read(location string) ([]byte, error) {
	data, err := ReadResource(l.resources, location)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("read store", "location", location, "bytes", len(data))
	return data, nil
}

// ReadResource reads location from resources if present there, otherwise
// from the filesystem. A "file:" scheme is accepted.
func ReadResource(resources fs.FS, location string) ([]byte, error) {
	if location == "" {
		return nil, ErrNoLocation
	}
	path := storePath(location)

	if resources != nil {
		name := resourceName(path)
		if fs.ValidPath(name) {
			data, err := fs.ReadFile(resources, name)
			if err == nil {
				return data, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading resource %s: %w", name, err)
			}
		}
	}

	return os.ReadFile(path)
}

// storePath strips a file: scheme from a store location.
func storePath(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "file" {
		return location
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}

func resourceName(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.TrimLeft(path, "/.")
}
