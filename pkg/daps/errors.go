package daps

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCertExtension indicates the connector certificate lacks a
	// Subject or Authority Key Identifier. Retrying cannot help.
	ErrMissingCertExtension = errors.New("connector certificate is missing a key identifier extension")

	// ErrTokenAcquisition matches every [TokenAcquisitionError].
	ErrTokenAcquisition = errors.New("token acquisition failed")

	// ErrEmptyResponse indicates the token endpoint answered with an empty body.
	ErrEmptyResponse = errors.New("empty response from token endpoint")

	// ErrClaims matches every [ClaimsError].
	ErrClaims = errors.New("invalid token claims")

	// ErrNoToken indicates a message carries no security token.
	ErrNoToken = errors.New("message carries no security token")

	// ErrTokenNotValid indicates a token outside its validity window.
	ErrTokenNotValid = errors.New("token is not valid at this time")

	// ErrKeyNotFound indicates the JWKS has no key with the configured id.
	ErrKeyNotFound = errors.New("signing key not found in key set")

	// ErrKeyUnavailable indicates the DAPS key could not be fetched.
	ErrKeyUnavailable = errors.New("DAPS signing key unavailable")
)

// Kind classifies token acquisition failures.
type Kind string

// Failure kinds.
const (
	KindTransport       Kind = "transport"
	KindStatus          Kind = "status"
	KindEmptyResponse   Kind = "empty_response"
	KindInvalidResponse Kind = "invalid_response"
	KindSigning         Kind = "signing"
)

// TokenAcquisitionError is returned when the DAPS exchange fails.
type TokenAcquisitionError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *TokenAcquisitionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("daps: token request to %s failed (%s %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("daps: token request to %s failed (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *TokenAcquisitionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTokenAcquisition.
func (e *TokenAcquisitionError) Is(target error) bool { return target == ErrTokenAcquisition }

// Temporary reports whether a retry may succeed.
func (e *TokenAcquisitionError) Temporary() bool {
	switch e.Kind {
	case KindSigning:
		return false
	case KindStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return true
	}
}

// ClaimsError is returned when a token cannot be parsed or its signature
// does not verify.
type ClaimsError struct {
	Err error
}

func (e *ClaimsError) Error() string { return fmt.Sprintf("daps: invalid claims: %v", e.Err) }

func (e *ClaimsError) Unwrap() error { return e.Err }

// Is reports whether target is ErrClaims.
func (e *ClaimsError) Is(target error) bool { return target == ErrClaims }
