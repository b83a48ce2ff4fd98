package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirosfoundation/go-ids/internal/testpki"
	"github.com/sirosfoundation/go-ids/pkg/configuration"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
)

func TestDefaultHTTPSConfig(t *testing.T) {
	config := DefaultHTTPSConfig()

	if config.MinTLSVersion != TLS12 {
		t.Errorf("expected MinTLSVersion TLS12, got %d", config.MinTLSVersion)
	}
	if config.MaxTLSVersion != TLS13 {
		t.Errorf("expected MaxTLSVersion TLS13, got %d", config.MaxTLSVersion)
	}
	if len(config.CipherSuites) == 0 {
		t.Error("expected CipherSuites to be set")
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("expected Timeout 30s, got %v", config.Timeout)
	}
	if config.UserAgent != DefaultUserAgent {
		t.Errorf("expected default user agent, got %q", config.UserAgent)
	}
}

func TestRecommendedTLS12CipherSuites(t *testing.T) {
	for _, suite := range RecommendedTLS12CipherSuites {
		if tls.CipherSuiteName(suite) == "" {
			t.Errorf("unknown cipher suite: %d", suite)
		}
	}
}

type pki struct {
	ca     *testpki.CA
	server *testpki.Identity
	client *testpki.Identity
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	ca := testpki.NewCA(t, "Test CA")
	return &pki{
		ca:     ca,
		server: ca.Issue(t, "server", testpki.WithIPs(net.ParseIP("127.0.0.1")), testpki.WithDNSNames("localhost")),
		client: ca.Issue(t, "connector"),
	}
}

// tlsServer answers with the common name of the client certificate.
func (p *pki) tlsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.TLS.PeerCertificates) == 0 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(r.TLS.PeerCertificates[0].Subject.CommonName))
	}))
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{p.server.Cert.Raw},
			PrivateKey:  p.server.Key,
		}},
		ClientAuth: tls.RequireAnyClientCert,
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func (p *pki) material(t *testing.T, anchors ...*testpki.CA) *keystore.Material {
	t.Helper()
	var certs []*x509.Certificate
	for _, a := range anchors {
		certs = append(certs, a.Cert)
	}
	m, err := keystore.NewMaterial(p.client.Key, p.client.Cert, nil, keystore.NewTrustVerifier(certs, nil))
	if err != nil {
		t.Fatalf("NewMaterial: %v", err)
	}
	return m
}

func get(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	return string(buf[:n]), nil
}

func TestClientProvider_PresentsIdentityAndTrustsStore(t *testing.T) {
	p := newPKI(t)
	srv := p.tlsServer(t)

	provider := NewClientProvider(p.material(t, p.ca), nil, nil)
	cn, err := get(provider.Client(), srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if cn != "connector" {
		t.Errorf("expected server to see client certificate, got %q", cn)
	}
}

func TestClientProvider_RejectsUntrustedServer(t *testing.T) {
	p := newPKI(t)
	srv := p.tlsServer(t)

	provider := NewClientProvider(p.material(t), nil, nil)
	_, err := get(provider.Client(), srv.URL)
	if err == nil {
		t.Fatal("expected untrusted server to be rejected")
	}
}

func TestClientProvider_ConfigurationChanged(t *testing.T) {
	p := newPKI(t)
	srv := p.tlsServer(t)

	provider := NewClientProvider(p.material(t), nil, nil)
	before := provider.Client()

	err := provider.ConfigurationChanged(context.Background(), configuration.Snapshot{
		Model:    &infomodel.ConfigurationModel{},
		Identity: p.material(t, p.ca),
	})
	if err != nil {
		t.Fatalf("ConfigurationChanged: %v", err)
	}
	if provider.Client() == before {
		t.Error("expected a new client after configuration change")
	}
	if _, err := get(provider.Client(), srv.URL); err != nil {
		t.Errorf("expected request with updated trust store to succeed: %v", err)
	}
}

func TestHTTPSClient_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected content-type 'application/json', got '%s'", ct)
		}
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("expected User-Agent %q", DefaultUserAgent)
		}
		if r.Header.Get("X-Trace") != "abc" {
			t.Error("expected custom header to be forwarded")
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewHTTPSClient(NewClientProvider(nil, nil, nil), "")
	resp, err := client.Send(context.Background(), server.URL, []byte("{}"), "application/json", http.Header{"X-Trace": {"abc"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || string(resp.Body) != "ok" {
		t.Errorf("unexpected response: %d %s", resp.StatusCode, resp.Body)
	}
}

func TestHTTPSClient_SendMessage(t *testing.T) {
	request := infomodel.NewMessage(infomodel.TypeDescriptionRequestMessage)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, err := multipart.Parse(r.Body, r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("parse request: %v", err)
			return
		}
		header, err := infomodel.UnmarshalMessage(in.Header)
		if err != nil || header.ID != request.ID {
			t.Errorf("unexpected request header: %v", err)
		}
		reply, _ := infomodel.MarshalMessage(infomodel.NewMessage(infomodel.TypeDescriptionResponseMessage,
			infomodel.WithCorrelation(header.ID)))
		body, contentType, _ := multipart.New(reply, []byte(`{"@type":"ids:BaseConnector"}`)).Serialize()
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := NewHTTPSClient(NewClientProvider(nil, nil, nil), "")
	reply, err := client.SendMessage(context.Background(), server.URL, request, nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.Header.Type != infomodel.TypeDescriptionResponseMessage {
		t.Errorf("unexpected reply type %s", reply.Header.Type)
	}
	if reply.Header.CorrelationMessage != infomodel.Reference(request.ID) {
		t.Errorf("reply not correlated: %s", reply.Header.CorrelationMessage)
	}
	if string(reply.Payload) != `{"@type":"ids:BaseConnector"}` {
		t.Errorf("unexpected payload %s", reply.Payload)
	}
}

func TestHTTPSClient_SendMessage_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	client := NewHTTPSClient(NewClientProvider(nil, nil, nil), "")
	_, err := client.SendMessage(context.Background(), server.URL, infomodel.NewMessage(infomodel.TypeQueryMessage), nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("unexpected status %d", statusErr.StatusCode)
	}
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Error("expected ErrUnexpectedStatus")
	}
}

func TestHTTPSClient_Send_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPSClient(NewClientProvider(nil, nil, nil), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Send(ctx, server.URL, nil, "application/json", nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}

type identityFunc func() *keystore.Material

func (f identityFunc) Identity() *keystore.Material { return f() }

func TestServerTLSConfig_UsesCurrentIdentity(t *testing.T) {
	p := newPKI(t)
	current := p.material(t)
	cfg := ServerTLSConfig(identityFunc(func() *keystore.Material { return current }), nil)

	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert.Leaf != p.client.Cert {
		t.Error("expected current identity certificate")
	}

	current = nil
	if _, err := cfg.GetCertificate(&tls.ClientHelloInfo{}); err == nil {
		t.Error("expected error without identity")
	}
}

func TestClientProvider_VerifiesIPHost(t *testing.T) {
	p := newPKI(t)
	// Trusted chain, but the certificate names another host.
	p.server = p.ca.Issue(t, "server", testpki.WithDNSNames("evil.example.com"))
	srv := p.tlsServer(t)

	provider := NewClientProvider(p.material(t, p.ca), nil, nil)
	if _, err := get(provider.Client(), srv.URL); err == nil {
		t.Fatal("expected certificate without matching IP SAN to be rejected")
	}
}

func TestTrustVerifier_VerifyConnectionRequiresServerName(t *testing.T) {
	p := newPKI(t)
	v := keystore.NewTrustVerifier([]*x509.Certificate{p.ca.Cert}, nil)
	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{p.server.Cert}}

	if err := v.VerifyConnection(state); !errors.Is(err, keystore.ErrUntrusted) {
		t.Errorf("expected ErrUntrusted without server name, got %v", err)
	}
	if err := v.ClientTLSConfigFor("127.0.0.1").VerifyConnection(state); err != nil {
		t.Errorf("expected IP SAN to verify: %v", err)
	}
	if err := v.ClientTLSConfigFor("10.0.0.1").VerifyConnection(state); !errors.Is(err, keystore.ErrUntrusted) {
		t.Errorf("expected other IP to be rejected, got %v", err)
	}
}

func TestServerTLSConfig_VerifiesClientCertificates(t *testing.T) {
	p := newPKI(t)
	platform := testpki.NewCA(t, "Platform CA")
	roots := x509.NewCertPool()
	roots.AddCert(platform.Cert)

	identity, err := keystore.NewMaterial(p.server.Key, p.server.Cert, nil,
		keystore.NewTrustVerifier([]*x509.Certificate{p.ca.Cert}, roots))
	if err != nil {
		t.Fatalf("NewMaterial: %v", err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	srv.TLS = ServerTLSConfig(identityFunc(func() *keystore.Material { return identity }), nil)
	srv.StartTLS()
	t.Cleanup(srv.Close)

	clientWith := func(id *testpki.Identity) *http.Client {
		cfg := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // only client authentication is under test
		if id != nil {
			cfg.Certificates = []tls.Certificate{{Certificate: [][]byte{id.Cert.Raw}, PrivateKey: id.Key}}
		}
		return &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	}

	tests := []struct {
		name    string
		client  *testpki.Identity
		wantErr bool
	}{
		{"no client certificate", nil, false},
		{"platform issued", platform.Issue(t, "peer"), false},
		{"custom anchor only", p.client, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := get(clientWith(tt.client), srv.URL)
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr %v, got %v", tt.wantErr, err)
			}
		})
	}
}
