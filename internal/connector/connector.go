// Package connector assembles an IDS connector from its application
// configuration and runs it.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sirosfoundation/go-ids/internal/config"
	"github.com/sirosfoundation/go-ids/internal/configmanager"
	"github.com/sirosfoundation/go-ids/internal/metrics"
	"github.com/sirosfoundation/go-ids/internal/server"
	"github.com/sirosfoundation/go-ids/pkg/broker"
	"github.com/sirosfoundation/go-ids/pkg/configuration"
	"github.com/sirosfoundation/go-ids/pkg/daps"
	"github.com/sirosfoundation/go-ids/pkg/dispatch"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/keystore"
	"github.com/sirosfoundation/go-ids/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

// Connector holds the wired components of a running connector.
type Connector struct {
	Config        *config.Config
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Configuration *configuration.Container
	Clients       *transport.ClientProvider
	HTTP          *transport.HTTPSClient
	Tokens        daps.TokenProvider
	Keys          *daps.KeyProvider
	Validator     *daps.Validator
	Dispatcher    *dispatch.Dispatcher
	Brokers       *broker.Service
	Server        *server.Server
}

// New loads the configuration model and identity named by cfg and wires
// all connector components.
func New(cfg *config.Config, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var resources fs.FS
	if cfg.Connector.ResourceDir != "" {
		resources = os.DirFS(cfg.Connector.ResourceDir)
	}

	c := &Connector{Config: cfg, Logger: logger, Metrics: metrics.New()}

	model, err := configuration.ReadModel(resources, cfg.Connector.ConfigurationModel)
	if err != nil {
		return nil, err
	}
	c.Configuration, err = configuration.New(model, configuration.Config{
		Credentials: keystore.Credentials{
			KeyStorePassword:   cfg.KeyStore.Password,
			TrustStorePassword: cfg.KeyStore.TrustStorePassword,
			KeyAlias:           cfg.KeyStore.Alias,
		},
		KeystoreOptions: []keystore.Option{keystore.WithResources(resources)},
		Logger:          logger.With("component", "configuration"),
		Recorder:        c.Metrics,
	})
	if err != nil {
		return nil, err
	}

	httpsConfig := transport.DefaultHTTPSConfig()
	httpsConfig.DialTimeout = cfg.HTTP.DialTimeout
	httpsConfig.Timeout = cfg.HTTP.Timeout
	httpsConfig.IdleConnTimeout = cfg.HTTP.IdleConnTimeout
	c.Clients = transport.NewClientProvider(c.Configuration.Identity(), httpsConfig, logger.With("component", "transport"))
	c.HTTP = transport.NewHTTPSClient(c.Clients, httpsConfig.UserAgent)

	c.Tokens = c.tokenProvider()

	c.Keys = daps.NewKeyProvider(daps.KeyProviderConfig{
		URL:     cfg.DAPS.KeysURL,
		KeyID:   cfg.DAPS.KeyID,
		Clients: c.Clients,
		Logger:  logger.With("component", "daps"),
	})
	precision, err := daps.ParsePrecision(cfg.DAPS.Precision)
	if err != nil {
		return nil, err
	}
	c.Validator = daps.NewValidator(daps.ValidatorConfig{
		Keys:      c.Keys,
		Precision: precision,
		Logger:    logger.With("component", "daps"),
	})

	dispatchLogger := logger.With("component", "dispatch")
	c.Dispatcher, err = dispatch.New(dispatch.Config{
		Models:      c.Configuration,
		TokenFilter: dispatch.NewTokenFilter(c.Validator, c.Configuration, dispatchLogger),
		Logger:      dispatchLogger,
		Recorder:    c.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Dispatcher.Registry().Register(infomodel.TypeDescriptionRequestMessage, DescriptionHandler(c.Configuration, c.Tokens)); err != nil {
		return nil, err
	}

	brokerConfig := broker.Config{
		Models: c.Configuration,
		Tokens: c.Tokens,
		Sender: c.HTTP,
		Logger: logger.With("component", "broker"),
	}
	if cfg.DAPS.VerifyResponses {
		brokerConfig.Checker = c.Validator
	}
	c.Brokers, err = broker.New(brokerConfig)
	if err != nil {
		return nil, err
	}

	c.Configuration.Subscribe(c.Clients)
	c.Configuration.Subscribe(c.Metrics)
	if invalidator, ok := c.Tokens.(interface{ Invalidate() }); ok {
		c.Configuration.Subscribe(configuration.ListenerFunc(func(context.Context, configuration.Snapshot) error {
			invalidator.Invalidate()
			return nil
		}))
	}
	c.Metrics.ObserveIdentity(c.Configuration.Current())

	c.Server = server.New(cfg, server.Options{
		Dispatcher:    c.Dispatcher,
		ConfigManager: configmanager.NewHandler(c.Configuration, c.Brokers, c.Keys, logger.With("component", "configmanager")),
		Metrics:       c.Metrics,
		Identities:    c.Configuration,
	}, logger.With("component", "server"))

	return c, nil
}

// tokenProvider builds the DAPS token chain: acquisition, optional retry,
// optional caching.
func (c *Connector) tokenProvider() daps.TokenProvider {
	cfg := c.Config.DAPS
	manager := daps.NewTokenManager(daps.AcquirerConfig{
		URL:      cfg.URL,
		Audience: cfg.Audience,
		Scope:    cfg.Scope,
		Identity: c.Configuration,
		Clients:  c.Clients,
		Logger:   c.Logger.With("component", "daps"),
		Recorder: c.Metrics,
	})

	c.Logger.Debug("DAPS token endpoint", "url", manager.TokenURL())

	var tokens daps.TokenProvider = manager
	if cfg.RetryFor > 0 {
		retryFor := cfg.RetryFor
		tokens = daps.NewRetryingProvider(tokens, func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = retryFor
			return b
		})
	}
	if cfg.CacheTokens {
		tokens = daps.NewCachingProvider(tokens, cfg.RenewBefore)
	}
	return tokens
}

// Run serves the connector until ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	if err := c.Keys.Init(ctx); err != nil {
		c.Logger.Warn("DAPS key not available yet, fetching on first use", "url", c.Config.DAPS.KeysURL, "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(c.Config.Server.Port)
		if err := c.Server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if c.Config.ConfigManager.URL != "" {
		if _, err := configmanager.Register(ctx, c.HTTP, c.Config.ConfigManager.URL, c.Config.ConfigManager.OwnEndpoint); err != nil {
			c.Logger.Error("registration at configuration manager failed", "url", c.Config.ConfigManager.URL, "error", err)
		} else {
			c.Logger.Info("registered at configuration manager", "url", c.Config.ConfigManager.URL)
		}
	}
	if len(c.Config.Brokers) > 0 {
		go c.announce(ctx)
	}

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	c.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (c *Connector) announce(ctx context.Context) {
	replies, err := c.Brokers.BroadcastSelfDescription(ctx, c.Config.Brokers)
	if err != nil {
		c.Logger.Error("self-description broadcast failed", "error", err)
		return
	}
	c.Logger.Info("self-description broadcast finished", "brokers", len(c.Config.Brokers), "accepted", len(replies))
}
