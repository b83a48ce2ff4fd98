package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirosfoundation/go-ids/pkg/configuration"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// RecommendedTLS12CipherSuites are the TLS 1.2 suites offered by clients.
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// DefaultUserAgent is sent with every outbound request.
const DefaultUserAgent = "go-ids/1.0"

// ErrUnexpectedStatus matches every [*StatusError].
var ErrUnexpectedStatus = errors.New("unexpected status code")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// Is reports whether target is ErrUnexpectedStatus.
func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// HTTPSConfig contains HTTPS client configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	DialTimeout     time.Duration
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	UserAgent       string
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		DialTimeout:     10 * time.Second,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       DefaultUserAgent,
	}
}

// ClientProvider hands out an HTTP client that presents the connector
// certificate and verifies servers against the connector trust store.
// It rebuilds the client whenever the configuration changes.
type ClientProvider struct {
	config *HTTPSConfig
	logger *slog.Logger
	client atomic.Pointer[http.Client]
}

// NewClientProvider creates a provider for identity. A nil identity yields
// a client without client certificate that trusts the system roots.
func NewClientProvider(identity *keystore.Material, config *HTTPSConfig, logger *slog.Logger) *ClientProvider {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &ClientProvider{config: config, logger: logger}
	p.client.Store(p.build(identity))
	return p
}

// Client returns the current client.
func (p *ClientProvider) Client() *http.Client {
	return p.client.Load()
}

// ConfigurationChanged implements [configuration.Listener].
func (p *ClientProvider) ConfigurationChanged(_ context.Context, snapshot configuration.Snapshot) error {
	p.client.Store(p.build(snapshot.Identity))
	p.logger.Debug("rebuilt HTTPS client")
	return nil
}

func (p *ClientProvider) build(identity *keystore.Material) *http.Client {
	var tlsConfig *tls.Config
	if identity != nil {
		tlsConfig = identity.TrustVerifier().ClientTLSConfig(identity.TLSCertificate())
	} else {
		tlsConfig = &tls.Config{}
	}
	p.applyTLSSettings(tlsConfig)

	dialer := &net.Dialer{Timeout: p.config.DialTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: p.config.DialTimeout,
		IdleConnTimeout:     p.config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}
	if identity != nil {
		transport.DialTLSContext = p.dialTLS(dialer, identity)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   p.config.Timeout,
	}
}

// dialTLS verifies the server certificate against the dialed host. Go sends
// no SNI for IP literals, so the handshake state alone cannot name the peer.
func (p *ClientProvider) dialTLS(dialer *net.Dialer, identity *keystore.Material) func(context.Context, string, string) (net.Conn, error) {
	verifier := identity.TrustVerifier()
	cert := identity.TLSCertificate()
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		cfg := verifier.ClientTLSConfigFor(host, cert)
		p.applyTLSSettings(cfg)
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
		return tlsDialer.DialContext(ctx, network, addr)
	}
}

func (p *ClientProvider) applyTLSSettings(cfg *tls.Config) {
	cfg.MinVersion = p.config.MinTLSVersion
	cfg.MaxVersion = p.config.MaxTLSVersion
	cfg.CipherSuites = p.config.CipherSuites
}

// ClientSource returns the HTTP client to use for a request.
type ClientSource interface {
	Client() *http.Client
}

// Response is a raw HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Reply is a parsed multipart response.
type Reply struct {
	Header      *infomodel.Message
	Payload     []byte
	Body        []byte
	ContentType string
}

// HTTPSClient sends IDS messages over HTTPS.
type HTTPSClient struct {
	clients   ClientSource
	userAgent string
}

// NewHTTPSClient creates a client taking its HTTP client from clients.
func NewHTTPSClient(clients ClientSource, userAgent string) *HTTPSClient {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPSClient{clients: clients, userAgent: userAgent}
}

// Send posts body to endpoint. Only transport failures are errors; the
// caller inspects the status code.
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, body []byte, contentType string, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.clients.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: responseBody}, nil
}

// SendMessage posts a multipart IDS message and parses the multipart reply.
// Non-2xx responses return a [*StatusError].
func (c *HTTPSClient) SendMessage(ctx context.Context, endpoint string, header *infomodel.Message, payload []byte) (*Reply, error) {
	data, err := infomodel.MarshalMessage(header)
	if err != nil {
		return nil, err
	}
	body, contentType, err := multipart.New(data, payload).Serialize()
	if err != nil {
		return nil, err
	}

	resp, err := c.Send(ctx, endpoint, body, contentType, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	respType := resp.Header.Get("Content-Type")
	var parsed *multipart.Message
	if respType == "" {
		parsed, err = multipart.ParseBody(resp.Body)
	} else {
		parsed, err = multipart.Parse(bytes.NewReader(resp.Body), respType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	replyHeader, err := infomodel.UnmarshalMessage(parsed.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response header: %w", err)
	}
	return &Reply{
		Header:      replyHeader,
		Payload:     parsed.Payload,
		Body:        resp.Body,
		ContentType: respType,
	}, nil
}

// IdentitySource provides the current connector identity.
type IdentitySource interface {
	Identity() *keystore.Material
}

// ServerTLSConfig returns a server TLS configuration that presents the
// current identity on every handshake, so configuration updates take
// effect without restarting the listener. Client certificates are optional;
// when presented they must chain to the platform roots.
func ServerTLSConfig(identities IdentitySource, config *HTTPSConfig) *tls.Config {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	return &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		// Chains are verified in VerifyConnection against the identity's system pool.
		ClientAuth: tls.RequestClientCert,
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return nil
			}
			identity := identities.Identity()
			if identity == nil {
				return errors.New("no connector identity")
			}
			return identity.TrustVerifier().VerifyClient(cs.PeerCertificates)
		},
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			identity := identities.Identity()
			if identity == nil {
				return nil, errors.New("no connector identity")
			}
			cert := identity.TLSCertificate()
			return &cert, nil
		},
	}
}
