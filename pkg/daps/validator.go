package daps

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
)

// Precision selects how token validity bounds are compared.
type Precision int

const (
	// PrecisionInstant compares nbf and exp with the current instant.
	PrecisionInstant Precision = iota

	// PrecisionDate compares calendar dates (UTC) only, so a token is
	// accepted for the whole day of its nbf and exp.
	PrecisionDate
)

// ParsePrecision maps "instant" and "date" to a Precision.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "", "instant":
		return PrecisionInstant, nil
	case "date":
		return PrecisionDate, nil
	default:
		return PrecisionInstant, fmt.Errorf("unknown precision %q", s)
	}
}

var validMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}

// Claims are the claims of a DAT.
type Claims struct {
	jwt.RegisteredClaims
	Context            any      `json:"@context,omitempty"`
	Type               string   `json:"@type,omitempty"`
	ReferringConnector string   `json:"referringConnector,omitempty"`
	SecurityProfile    string   `json:"securityProfile,omitempty"`
	Scopes             []string `json:"scopes,omitempty"`
}

// ParseClaims verifies the signature of token with key and returns its
// claims. Validity bounds are not checked; see [VerifyTimeBounds].
func ParseClaims(token string, key crypto.PublicKey) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods(validMethods), jwt.WithoutClaimsValidation())
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, &ClaimsError{Err: err}
	}
	return claims, nil
}

// VerifyTimeBounds reports whether now lies within [nbf, exp].
// Claims without nbf or exp are never valid.
func VerifyTimeBounds(claims *Claims, now time.Time, precision Precision) bool {
	if claims == nil || claims.NotBefore == nil || claims.ExpiresAt == nil {
		return false
	}
	nbf, exp := claims.NotBefore.Time, claims.ExpiresAt.Time
	if precision == PrecisionDate {
		now, nbf, exp = date(now), date(nbf), date(exp)
	}
	return !now.Before(nbf) && !now.After(exp)
}

func date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidatorConfig configures a [Validator].
type ValidatorConfig struct {
	Keys      KeySource
	Precision Precision
	Logger    *slog.Logger

	// Now overrides the clock.
	Now func() time.Time
}

// Validator verifies DATs on inbound messages.
type Validator struct {
	keys      KeySource
	precision Precision
	logger    *slog.Logger
	now       func() time.Time
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{
		keys:      cfg.Keys,
		precision: cfg.Precision,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Validate verifies token and returns its claims. Errors match
// [ErrKeyUnavailable], [ErrClaims] or [ErrTokenNotValid].
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	key, err := v.keys.Key(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := ParseClaims(token, key)
	if err != nil {
		return nil, err
	}
	if !VerifyTimeBounds(claims, v.now(), v.precision) {
		return claims, ErrTokenNotValid
	}
	return claims, nil
}

// CheckMessage verifies the DAT of msg. Rejection messages are accepted
// without verification.
func (v *Validator) CheckMessage(ctx context.Context, msg *infomodel.Message) error {
	if msg.IsRejection() {
		v.logger.Debug("skipping DAT check for rejection message", "message_id", msg.ID)
		return nil
	}
	token := msg.Token()
	if token == "" {
		return ErrNoToken
	}
	_, err := v.Validate(ctx, token)
	return err
}

// CheckResponse verifies the DAT in the header part of a multipart response.
// An empty contentType makes the boundary be read from the body.
func (v *Validator) CheckResponse(ctx context.Context, body []byte, contentType string) error {
	var (
		msg *multipart.Message
		err error
	)
	if contentType == "" {
		msg, err = multipart.ParseBody(body)
	} else {
		msg, err = multipart.Parse(bytes.NewReader(body), contentType)
	}
	if err != nil {
		return &ClaimsError{Err: fmt.Errorf("parsing response: %w", err)}
	}
	header, err := infomodel.UnmarshalMessage(msg.Header)
	if err != nil {
		return &ClaimsError{Err: err}
	}
	return v.CheckMessage(ctx, header)
}

// IsUntrusted reports whether err is a verdict on the token rather than a
// failure to obtain the verification key.
func IsUntrusted(err error) bool {
	return errors.Is(err, ErrNoToken) || errors.Is(err, ErrClaims) || errors.Is(err, ErrTokenNotValid)
}
