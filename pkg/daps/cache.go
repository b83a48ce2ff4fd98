package daps

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CachingProvider reuses a DAT until shortly before it expires.
// Tokens without an exp claim are never cached.
type CachingProvider struct {
	next        TokenProvider
	renewBefore time.Duration
	now         func() time.Time

	mu     sync.Mutex
	cached *cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// NewCachingProvider caches the tokens of next.
func NewCachingProvider(next TokenProvider, renewBefore time.Duration) *CachingProvider {
	return &CachingProvider{
		next:        next,
		renewBefore: renewBefore,
		now:         time.Now,
	}
}

// Token returns a cached token or acquires a new one.
// Concurrent callers share one acquisition.
func (p *CachingProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Before(p.cached.expiresAt.Add(-p.renewBefore)) {
		return p.cached.value, nil
	}
	p.cached = nil

	token, err := p.next.Token(ctx)
	if err != nil {
		return "", err
	}
	if exp, ok := expiry(token); ok {
		p.cached = &cachedToken{value: token, expiresAt: exp}
	}
	return token, nil
}

// Invalidate drops the cached token.
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

// expiry reads exp without verifying the signature; the token came from
// our own DAPS exchange.
func expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
