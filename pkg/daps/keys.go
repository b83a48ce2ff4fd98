package daps

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyID is the key id looked up when none is configured.
const DefaultKeyID = "default"

// KeySource returns the key that verifies DATs.
type KeySource interface {
	Key(ctx context.Context) (crypto.PublicKey, error)
}

// KeyProviderConfig configures a [KeyProvider].
type KeyProviderConfig struct {
	// URL of the DAPS JWKS endpoint.
	URL string

	// KeyID selects the key in the set. Defaults to [DefaultKeyID].
	KeyID string

	Clients ClientSource
	Logger  *slog.Logger
}

// KeyProvider fetches the DAPS signing key from a JWKS endpoint on first use
// and keeps it until Refresh is called.
type KeyProvider struct {
	url     string
	kid     string
	clients ClientSource
	logger  *slog.Logger

	fetches singleflight.Group

	mu  sync.RWMutex
	key crypto.PublicKey
}

// NewKeyProvider creates a key provider. No request is made until the key
// is needed.
func NewKeyProvider(cfg KeyProviderConfig) *KeyProvider {
	p := &KeyProvider{
		url:     cfg.URL,
		kid:     cfg.KeyID,
		clients: cfg.Clients,
		logger:  cfg.Logger,
	}
	if p.kid == "" {
		p.kid = DefaultKeyID
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Key returns the cached key, fetching it on first use. Concurrent callers
// share one fetch; a caller whose ctx ends stops waiting without cancelling
// the fetch for the others.
func (p *KeyProvider) Key(ctx context.Context) (crypto.PublicKey, error) {
	p.mu.RLock()
	key := p.key
	p.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	ch := p.fetches.DoChan("jwks", func() (any, error) {
		p.mu.RLock()
		key := p.key
		p.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		key, err := p.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.key == nil {
			p.key = key
		}
		return p.key, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(crypto.PublicKey), nil
	}
}

// Init fetches the key if it has not been fetched yet.
func (p *KeyProvider) Init(ctx context.Context) error {
	_, err := p.Key(ctx)
	return err
}

// Refresh fetches the key set again and replaces the cached key. On failure
// the previous key stays in use.
func (p *KeyProvider) Refresh(ctx context.Context) error {
	key, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
	return nil
}

func (p *KeyProvider) fetch(ctx context.Context) (crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	client := http.DefaultClient
	if p.clients != nil {
		if c := p.clients.Client(); c != nil {
			client = c
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: JWKS endpoint returned %d", ErrKeyUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading JWKS: %w", ErrKeyUnavailable, err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: decoding JWKS: %w", ErrKeyUnavailable, err)
	}

	for _, jwk := range set.Key(p.kid) {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		if !jwk.IsPublic() {
			jwk = jwk.Public()
		}
		p.logger.Info("fetched DAPS signing key", "url", p.url, "kid", p.kid, "keys", len(set.Keys))
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %w: kid %q", ErrKeyUnavailable, ErrKeyNotFound, p.kid)
}
