package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ids/internal/testpki"
	"github.com/sirosfoundation/go-ids/pkg/configuration"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
)

func TestMessageDispatched(t *testing.T) {
	m := New()
	m.MessageDispatched("ids:QueryMessage", "handled", 10*time.Millisecond)
	m.MessageDispatched("ids:QueryMessage", "handled", 20*time.Millisecond)
	m.MessageDispatched("", "malformed", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesDispatched.WithLabelValues("ids:QueryMessage", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDispatched.WithLabelValues("unknown", "malformed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatchDuration))
}

func TestTokenAndConfigurationCounters(t *testing.T) {
	m := New()
	m.TokenAcquired("success")
	m.TokenAcquired("status")
	m.ConfigurationUpdated(true)
	m.ConfigurationUpdated(false)
	m.ConfigurationUpdated(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenAcquisitions.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configUpdates.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.configUpdates.WithLabelValues("failure")))
}

func TestCertificateExpiry(t *testing.T) {
	ca := testpki.NewCA(t, "Test CA")
	notAfter := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	leaf := ca.Issue(t, "connector", testpki.WithValidity(time.Now().Add(-time.Hour), notAfter))
	identity, err := keystore.NewMaterial(leaf.Key, leaf.Cert, nil, nil)
	require.NoError(t, err)

	m := New()
	require.NoError(t, m.ConfigurationChanged(context.Background(), configuration.Snapshot{Identity: identity}))
	assert.Equal(t, float64(notAfter.Unix()), testutil.ToFloat64(m.certExpiry))
}

func TestHandler(t *testing.T) {
	m := New()
	m.TokenAcquired("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ids_token_acquisitions_total{result="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
