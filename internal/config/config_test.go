package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
connector:
  configurationModel: conf/config.json
daps:
  url: https://daps.example.com
  keysUrl: https://daps.example.com/.well-known/jwks.json
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/api/ids", cfg.Server.BasePath)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "default", cfg.DAPS.KeyID)
	assert.Equal(t, "instant", cfg.DAPS.Precision)
	assert.Equal(t, time.Minute, cfg.DAPS.RenewBefore)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "/metrics", cfg.Observability.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_KEYSTORE_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(minimal + `
keystore:
  password: ${TEST_KEYSTORE_PASSWORD}
server:
  basePath: api/ids/
  readTimeout: 5s
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.KeyStore.Password)
	assert.Equal(t, "/api/ids", cfg.Server.BasePath)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
}

func TestParseEnvironmentOverrides(t *testing.T) {
	t.Setenv("IDS_KEYSTORE_PASSWORD", "from-env")
	t.Setenv("IDS_DAPS_URL", "https://other-daps.example.com")
	t.Setenv("IDS_BROKERS", "https://broker1.example.com,https://broker2.example.com")
	t.Setenv("IDS_SERVER_PORT", "9090")

	cfg, err := Parse([]byte(minimal + `
keystore:
  password: from-file
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.KeyStore.Password)
	assert.Equal(t, "https://other-daps.example.com", cfg.DAPS.URL)
	assert.Equal(t, []string{"https://broker1.example.com", "https://broker2.example.com"}, cfg.Brokers)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing model", "daps:\n  url: https://daps.example.com\n  keysUrl: https://daps.example.com/jwks\n"},
		{"missing daps url", "connector:\n  configurationModel: c.json\ndaps:\n  keysUrl: https://daps.example.com/jwks\n"},
		{"bad precision", minimal + "  precision: hourly\n"},
		{"bad log level", minimal + "logging:\n  level: verbose\n"},
		{"bad broker url", minimal + "brokers:\n  - not a url\n"},
		{"config manager without endpoint", minimal + "configManager:\n  url: https://cm.example.com\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
