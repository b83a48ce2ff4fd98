package daps

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryingProvider retries temporary acquisition failures with backoff.
type RetryingProvider struct {
	next       TokenProvider
	newBackOff func() backoff.BackOff
}

// NewRetryingProvider wraps next. A nil newBackOff uses an exponential
// backoff capped at one minute of total retry time.
func NewRetryingProvider(next TokenProvider, newBackOff func() backoff.BackOff) *RetryingProvider {
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		}
	}
	return &RetryingProvider{next: next, newBackOff: newBackOff}
}

// Token acquires a token, retrying while failures are temporary.
func (p *RetryingProvider) Token(ctx context.Context) (string, error) {
	var token string
	op := func() error {
		t, err := p.next.Token(ctx)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		token = t
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx)); err != nil {
		return "", err
	}
	return token, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrMissingCertExtension) {
		return false
	}
	var acqErr *TokenAcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Temporary()
	}
	return false
}
