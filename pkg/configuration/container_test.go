package configuration

import (
	"context"
	"crypto/x509"
	"errors"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ids/internal/testpki"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
)

var creds = keystore.Credentials{KeyStorePassword: "keypass", TrustStorePassword: "trustpass", KeyAlias: "1"}

func testModel(keyStore, trustStore string) *infomodel.ConfigurationModel {
	return &infomodel.ConfigurationModel{
		Type:                "ids:ConfigurationModel",
		ConnectorDeployMode: infomodel.DeployModeProductive,
		KeyStore:            infomodel.Reference(keyStore),
		TrustStore:          infomodel.Reference(trustStore),
		ConnectorDescription: &infomodel.Connector{
			ID:                   "https://connector.example.com",
			OutboundModelVersion: "4.0.0",
		},
	}
}

func testResources(t *testing.T) fstest.MapFS {
	t.Helper()
	ca := testpki.NewCA(t, "Test CA")
	a := ca.Issue(t, "connector-a")
	b := ca.Issue(t, "connector-b")
	return fstest.MapFS{
		"a.p12":     {Data: testpki.KeyStore(t, a, creds.KeyStorePassword)},
		"b.p12":     {Data: testpki.KeyStore(t, b, creds.KeyStorePassword)},
		"trust.p12": {Data: testpki.TrustStore(t, creds.TrustStorePassword, ca.Cert)},
		"other.p12": {Data: testpki.TrustStore(t, "another password", ca.Cert)},
	}
}

func newTestContainer(t *testing.T, resources fstest.MapFS) *Container {
	t.Helper()
	c, err := New(testModel("a.p12", "trust.p12"), Config{
		Credentials:     creds,
		KeystoreOptions: []keystore.Option{keystore.WithResources(resources), keystore.WithSystemRoots(x509.NewCertPool())},
	})
	require.NoError(t, err)
	return c
}

type countingRecorder struct {
	mu       sync.Mutex
	ok, fail int
}

func (r *countingRecorder) ConfigurationUpdated(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.fail++
	}
}

func TestNew(t *testing.T) {
	c := newTestContainer(t, testResources(t))

	s := c.Current()
	require.NotNil(t, s.Model)
	require.NotNil(t, s.Identity)
	assert.Equal(t, "connector-a", c.Identity().Certificate().Subject.CommonName)
	assert.Equal(t, "https://connector.example.com", c.Connector().ID)
	assert.Same(t, s.Model, c.Model())
}

func TestNewFailsWithoutIdentity(t *testing.T) {
	_, err := New(testModel("missing.p12", "trust.p12"), Config{
		Credentials:     creds,
		KeystoreOptions: []keystore.Option{keystore.WithResources(fstest.MapFS{})},
	})
	assert.ErrorIs(t, err, keystore.ErrInitialization)

	_, err = New(&infomodel.ConfigurationModel{}, Config{})
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestUpdateSwapsModelAndIdentity(t *testing.T) {
	c := newTestContainer(t, testResources(t))
	rec := &countingRecorder{}
	c.recorder = rec

	var seen []Snapshot
	c.Subscribe(ListenerFunc(func(_ context.Context, s Snapshot) error {
		seen = append(seen, s)
		return nil
	}))

	require.NoError(t, c.Update(context.Background(), testModel("b.p12", "trust.p12")))

	s := c.Current()
	assert.Equal(t, infomodel.Reference("b.p12"), s.Model.KeyStore)
	assert.Equal(t, "connector-b", s.Identity.Certificate().Subject.CommonName)
	require.Len(t, seen, 1)
	assert.Same(t, s.Identity, seen[0].Identity)
	assert.Equal(t, 1, rec.ok)
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	c := newTestContainer(t, testResources(t))
	rec := &countingRecorder{}
	c.recorder = rec
	before := c.Current()

	notified := 0
	c.Subscribe(ListenerFunc(func(context.Context, Snapshot) error {
		notified++
		return nil
	}))

	tests := []struct {
		name  string
		model *infomodel.ConfigurationModel
		is    error
	}{
		{"unreadable trust store", testModel("b.p12", "missing.p12"), keystore.ErrInitialization},
		{"wrong trust store password", testModel("b.p12", "other.p12"), keystore.ErrIncorrectPassword},
		{"invalid model", &infomodel.ConfigurationModel{KeyStore: "b.p12"}, ErrInvalidModel},
		{"nil model", nil, ErrInvalidModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Update(context.Background(), tt.model)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpdateRejected)
			assert.ErrorIs(t, err, tt.is)

			after := c.Current()
			assert.Same(t, before.Model, after.Model)
			assert.Same(t, before.Identity, after.Identity)
		})
	}
	assert.Zero(t, notified)
	assert.Equal(t, len(tests), rec.fail)
}

func TestUpdateRollsBackOnListenerFailure(t *testing.T) {
	c := newTestContainer(t, testResources(t))
	before := c.Current()

	var applied []string
	c.Subscribe(ListenerFunc(func(_ context.Context, s Snapshot) error {
		applied = append(applied, s.Identity.Certificate().Subject.CommonName)
		return nil
	}))
	c.Subscribe(ListenerFunc(func(_ context.Context, s Snapshot) error {
		if s.Identity != before.Identity {
			return errors.New("cannot rebuild client")
		}
		return nil
	}))

	err := c.Update(context.Background(), testModel("b.p12", "trust.p12"))
	require.ErrorIs(t, err, ErrUpdateRejected)

	assert.Same(t, before.Identity, c.Identity())
	assert.Equal(t, []string{"connector-b", "connector-a"}, applied)
}

func TestConcurrentReadersSeeConsistentPairs(t *testing.T) {
	c := newTestContainer(t, testResources(t))
	expected := map[infomodel.Reference]string{"a.p12": "connector-a", "b.p12": "connector-b"}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				s := c.Current()
				if expected[s.Model.KeyStore] != s.Identity.Certificate().Subject.CommonName {
					t.Errorf("torn snapshot: %s with %s", s.Model.KeyStore, s.Identity.Certificate().Subject.CommonName)
					return
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		store := "a.p12"
		if i%2 == 0 {
			store = "b.p12"
		}
		require.NoError(t, c.Update(context.Background(), testModel(store, "trust.p12")))
	}
	cancel()
	wg.Wait()
}

func TestReadModel(t *testing.T) {
	resources := fstest.MapFS{
		"config.json": {Data: []byte(`{
			"@type": "ids:ConfigurationModel",
			"ids:connectorDeployMode": {"@id": "idsc:TEST_DEPLOYMENT"},
			"ids:keyStore": {"@id": "file:///conf/keystore.p12"},
			"ids:trustStore": {"@id": "file:///conf/truststore.p12"},
			"ids:connectorDescription": {"@id": "https://connector.example.com", "ids:outboundModelVersion": "4.0.0"}
		}`)},
	}

	model, err := ReadModel(resources, "/config.json")
	require.NoError(t, err)
	assert.True(t, model.IsTestDeployment())

	_, err = ReadModel(resources, "missing.json")
	assert.Error(t, err)
}
