package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ids/internal/config"
	"github.com/sirosfoundation/go-ids/internal/testpki"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, out string)
	}{
		{
			name: "json",
			cfg:  config.LoggingConfig{Level: "info", Format: "json"},
			check: func(t *testing.T, out string) {
				var rec map[string]any
				require.NoError(t, json.Unmarshal([]byte(out), &rec))
				assert.Equal(t, "hello", rec["msg"])
			},
		},
		{
			name: "text",
			cfg:  config.LoggingConfig{Level: "debug", Format: "text"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "msg=hello")
			},
		},
		{
			name:    "invalid level",
			cfg:     config.LoggingConfig{Level: "verbose"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.cfg, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			logger.Info("hello")
			tt.check(t, buf.String())
		})
	}
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	ca := testpki.NewCA(t, "Test CA")
	leaf := ca.Issue(t, "connector")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keystore.p12"), testpki.KeyStore(t, leaf, "keypass"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "truststore.p12"), testpki.TrustStore(t, "trustpass", ca.Cert), 0o600))

	model, err := json.Marshal(&infomodel.ConfigurationModel{
		Type:                "ids:ConfigurationModel",
		ConnectorDeployMode: infomodel.DeployModeTest,
		KeyStore:            "keystore.p12",
		TrustStore:          "truststore.p12",
		ConnectorDescription: &infomodel.Connector{
			ID:                   "https://connector.example.com",
			OutboundModelVersion: "4.2.7",
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), model, 0o600))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
connector:
  configurationModel: config.json
  resourceDir: %s
keystore:
  password: keypass
  trustStorePassword: trustpass
  alias: "1"
daps:
  url: https://daps.example.com
  keysUrl: https://daps.example.com/jwks.json
logging:
  level: error
`, dir)), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"check-config", "--config", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "https://connector.example.com")
	assert.Contains(t, out.String(), "idsc:TEST_DEPLOYMENT")
	assert.Contains(t, out.String(), "CN=connector")
	assert.Contains(t, out.String(), "keyid:")
}
