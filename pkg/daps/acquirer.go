package daps

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
)

// Protocol constants of the DAPS token request.
const (
	TokenPath           = "/v2/token"
	DefaultAudience     = "idsc:IDS_CONNECTORS_ALL"
	DefaultScope        = "idsc:IDS_CONNECTOR_ATTRIBUTES_ALL"
	AssertionType       = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	assertionContext    = "https://w3id.org/idsa/contexts/context.jsonld"
	assertionTypeClaim  = "ids:DatRequestToken"
	assertionBackdate   = 10 * time.Second
	assertionLifetime   = 86400 * time.Second
	maxTokenResponseLen = 1 << 20
)

// TokenProvider returns a DAT for outbound messages.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// IdentitySource returns the current connector identity.
type IdentitySource interface {
	Identity() *keystore.Material
}

// ClientSource returns the HTTP client to use for outbound requests.
type ClientSource interface {
	Client() *http.Client
}

// Recorder observes token acquisition outcomes.
type Recorder interface {
	TokenAcquired(result string)
}

// AcquirerConfig configures a [TokenManager].
type AcquirerConfig struct {
	// URL is the DAPS base URL; [TokenPath] is appended.
	URL string

	// Audience of the client assertion. Defaults to [DefaultAudience].
	Audience string

	// Scope requested from the DAPS. Defaults to [DefaultScope].
	Scope string

	Identity IdentitySource
	Clients  ClientSource
	Logger   *slog.Logger
	Recorder Recorder

	// Now overrides the clock.
	Now func() time.Time
}

// TokenManager acquires DATs from a DAPS. Every call to Token performs a full
// round trip.
type TokenManager struct {
	tokenURL string
	audience string
	scope    string
	identity IdentitySource
	clients  ClientSource
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewTokenManager creates a token manager.
func NewTokenManager(cfg AcquirerConfig) *TokenManager {
	m := &TokenManager{
		tokenURL: strings.TrimSuffix(cfg.URL, "/") + TokenPath,
		audience: cfg.Audience,
		scope:    cfg.Scope,
		identity: cfg.Identity,
		clients:  cfg.Clients,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}
	if m.audience == "" {
		m.audience = DefaultAudience
	}
	if m.scope == "" {
		m.scope = DefaultScope
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// TokenURL returns the token endpoint.
func (m *TokenManager) TokenURL() string { return m.tokenURL }

// Token acquires a new DAT.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	token, err := m.acquire(ctx)
	if m.recorder != nil {
		m.recorder.TokenAcquired(resultLabel(err))
	}
	if err != nil {
		m.logger.Error("DAT acquisition failed", "url", m.tokenURL, "error", err)
		return "", err
	}
	m.logger.Debug("acquired DAT", "url", m.tokenURL)
	return token, nil
}

func (m *TokenManager) acquire(ctx context.Context) (string, error) {
	var identity *keystore.Material
	if m.identity != nil {
		identity = m.identity.Identity()
	}
	if identity == nil {
		return "", m.fail(KindSigning, errors.New("no connector identity"))
	}

	connectorID, err := ConnectorID(identity.Certificate())
	if err != nil {
		return "", err
	}

	assertion, err := m.Assertion(identity.PrivateKey(), connectorID)
	if err != nil {
		return "", m.fail(KindSigning, err)
	}

	cfg := clientcredentials.Config{
		TokenURL:  m.tokenURL,
		Scopes:    []string{m.scope},
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"client_assertion_type": {AssertionType},
			"client_assertion":      {assertion},
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient())

	token, err := cfg.Token(ctx)
	if err != nil {
		return "", m.classify(err)
	}
	if token.AccessToken == "" {
		return "", m.fail(KindInvalidResponse, errors.New("response has no access_token"))
	}
	return token.AccessToken, nil
}

// Assertion builds the signed client assertion for connectorID.
func (m *TokenManager) Assertion(key crypto.Signer, connectorID string) (string, error) {
	method, err := signingMethod(key)
	if err != nil {
		return "", err
	}
	issued := m.now().Add(-assertionBackdate)
	claims := jwt.MapClaims{
		"iss":      connectorID,
		"sub":      connectorID,
		"aud":      m.audience,
		"iat":      issued.Unix(),
		"nbf":      issued.Unix(),
		"exp":      m.now().Add(assertionLifetime).Unix(),
		"@context": assertionContext,
		"@type":    assertionTypeClaim,
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}
	return signed, nil
}

func signingMethod(key crypto.Signer) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
		return nil, fmt.Errorf("unsupported curve %s", k.Curve.Params().Name)
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

// httpClient wraps the configured client so empty token responses surface
// as ErrEmptyResponse instead of a JSON error.
func (m *TokenManager) httpClient() *http.Client {
	base := http.DefaultClient
	if m.clients != nil {
		if c := m.clients.Client(); c != nil {
			base = c
		}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	client := *base
	client.Transport = emptyBodyGuard{base: rt}
	return &client
}

func (m *TokenManager) classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	var urlErr *url.Error
	switch {
	case errors.Is(err, ErrEmptyResponse):
		return m.fail(KindEmptyResponse, ErrEmptyResponse)
	case errors.As(err, &retrieveErr):
		e := m.fail(KindStatus, err)
		if retrieveErr.Response != nil {
			e.StatusCode = retrieveErr.Response.StatusCode
		}
		return e
	case errors.As(err, &urlErr):
		return m.fail(KindTransport, err)
	default:
		return m.fail(KindInvalidResponse, err)
	}
}

func (m *TokenManager) fail(kind Kind, err error) *TokenAcquisitionError {
	return &TokenAcquisitionError{Kind: kind, URL: m.tokenURL, Err: err}
}

func resultLabel(err error) string {
	var acqErr *TokenAcquisitionError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingCertExtension):
		return "missing_extension"
	case errors.As(err, &acqErr):
		return string(acqErr.Kind)
	default:
		return "error"
	}
}

type emptyBodyGuard struct {
	base http.RoundTripper
}

func (g emptyBodyGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := g.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseLen))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// DAT acquires a token from p and wraps it for a message header.
func DAT(ctx context.Context, p TokenProvider) (*infomodel.DynamicAttributeToken, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return nil, err
	}
	return infomodel.NewJWT(token), nil
}
