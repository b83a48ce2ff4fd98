// Package config handles configuration loading for the IDS connector.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). Variables prefixed with IDS_
// override individual settings after the file is read, so key store
// passwords never need to be written to disk.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, base path, admin key, TLS)
//   - connector: configuration model location and bundled resources
//   - keystore: key store and trust store passwords, key alias
//   - daps: token and key endpoints, precision, caching and retries
//   - http: outbound client timeouts
//   - brokers: brokers the self-description is announced to
//   - configManager: configuration manager registration
//   - observability: metrics
//   - logging: level and format
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  basePath: /api/ids
//	  adminKey: ${IDS_ADMIN_KEY}
//
//	connector:
//	  configurationModel: conf/config.json
//
//	keystore:
//	  password: ${KEYSTORE_PASSWORD}
//	  trustStorePassword: password
//
//	daps:
//	  url: https://daps.aisec.fraunhofer.de
//	  keysUrl: https://daps.aisec.fraunhofer.de/.well-known/jwks.json
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Connector     ConnectorConfig     `yaml:"connector"`
	KeyStore      KeyStoreConfig      `yaml:"keystore"`
	DAPS          DAPSConfig          `yaml:"daps"`
	HTTP          HTTPConfig          `yaml:"http"`
	Brokers       []string            `yaml:"brokers" env:"IDS_BROKERS" envSeparator:"," validate:"dive,url"`
	ConfigManager ConfigManagerConfig `yaml:"configManager"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port         int           `yaml:"port" env:"IDS_SERVER_PORT" validate:"min=1,max=65535"`
	BasePath     string        `yaml:"basePath" env:"IDS_SERVER_BASE_PATH" validate:"startswith=/"`
	AdminKey     string        `yaml:"adminKey" env:"IDS_ADMIN_KEY"` // API key for config manager endpoints
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          struct {
		// Enabled serves HTTPS with the connector certificate.
		Enabled bool `yaml:"enabled" env:"IDS_SERVER_TLS"`
	} `yaml:"tls"`
}

// ConnectorConfig locates the IDS configuration model
type ConnectorConfig struct {
	// ConfigurationModel is the path of the JSON-LD configuration model.
	ConfigurationModel string `yaml:"configurationModel" env:"IDS_CONFIGURATION_MODEL" validate:"required"`
	// ResourceDir is searched before the filesystem for model, key store and trust store.
	ResourceDir string `yaml:"resourceDir" env:"IDS_RESOURCE_DIR"`
}

// KeyStoreConfig holds key store credentials
type KeyStoreConfig struct {
	Password           string `yaml:"password" env:"IDS_KEYSTORE_PASSWORD"`
	TrustStorePassword string `yaml:"trustStorePassword" env:"IDS_TRUSTSTORE_PASSWORD"`
	Alias              string `yaml:"alias" env:"IDS_KEYSTORE_ALIAS"`
}

// DAPSConfig holds DAPS settings
type DAPSConfig struct {
	// URL is the DAPS base URL. The token endpoint is URL + "/v2/token".
	URL string `yaml:"url" env:"IDS_DAPS_URL" validate:"required,url"`
	// KeysURL is the JWKS endpoint publishing the DAT signing key.
	KeysURL  string `yaml:"keysUrl" env:"IDS_DAPS_KEYS_URL" validate:"required,url"`
	KeyID    string `yaml:"kid" env:"IDS_DAPS_KID"`
	Audience string `yaml:"audience"`
	Scope    string `yaml:"scope"`
	// Precision of the token time-bound check: instant or date.
	Precision string `yaml:"precision" env:"IDS_DAPS_PRECISION" validate:"oneof=instant date"`
	// CacheTokens reuses a DAT until RenewBefore ahead of its expiry.
	CacheTokens bool          `yaml:"cacheTokens" env:"IDS_DAPS_CACHE_TOKENS"`
	RenewBefore time.Duration `yaml:"renewBefore"`
	// RetryFor bounds retries of failed token requests. Zero disables retries.
	RetryFor time.Duration `yaml:"retryFor"`
	// VerifyResponses checks the DAT of broker replies.
	VerifyResponses bool `yaml:"verifyResponses"`
}

// HTTPConfig holds outbound client settings
type HTTPConfig struct {
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	Timeout         time.Duration `yaml:"timeout"`
	IdleConnTimeout time.Duration `yaml:"idleConnTimeout"`
}

// ConfigManagerConfig holds configuration manager registration settings
type ConfigManagerConfig struct {
	URL         string `yaml:"url" env:"IDS_CONFIGMANAGER_URL" validate:"omitempty,url"`
	OwnEndpoint string `yaml:"ownEndpoint" env:"IDS_CONFIGMANAGER_ENDPOINT" validate:"omitempty,url"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled" env:"IDS_METRICS_ENABLED"`
		Path    string `yaml:"path" validate:"omitempty,startswith=/"`
	} `yaml:"metrics"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"IDS_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"IDS_LOG_FORMAT" validate:"oneof=text json"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api/ids"
	}
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.DAPS.KeyID == "" {
		c.DAPS.KeyID = "default"
	}
	if c.DAPS.Precision == "" {
		c.DAPS.Precision = "instant"
	}
	if c.DAPS.RenewBefore == 0 {
		c.DAPS.RenewBefore = time.Minute
	}
	if c.HTTP.DialTimeout == 0 {
		c.HTTP.DialTimeout = 10 * time.Second
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.IdleConnTimeout == 0 {
		c.HTTP.IdleConnTimeout = 90 * time.Second
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return err
	}
	if c.ConfigManager.URL != "" && c.ConfigManager.OwnEndpoint == "" {
		return fmt.Errorf("configManager.ownEndpoint is required when configManager.url is set")
	}
	return nil
}
