package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sirosfoundation/go-ids/pkg/daps"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
)

// FilterResult is the verdict of a filter on an inbound header.
type FilterResult struct {
	Success bool
	Message string
}

// Accept returns a positive filter result.
func Accept(msg string) FilterResult {
	return FilterResult{Success: true, Message: msg}
}

// Reject returns a negative filter result. msg is sent to the peer.
func Reject(msg string) FilterResult {
	return FilterResult{Success: false, Message: msg}
}

// Filter inspects a header before it reaches a handler. Returning an error
// aborts dispatch with a [*PreProcessingError].
type Filter interface {
	Filter(ctx context.Context, header *infomodel.Message) (FilterResult, error)
}

// FilterFunc adapts a function to [Filter].
type FilterFunc func(ctx context.Context, header *infomodel.Message) (FilterResult, error)

// Filter calls f.
func (f FilterFunc) Filter(ctx context.Context, header *infomodel.Message) (FilterResult, error) {
	return f(ctx, header)
}

// ErrFilterPanic wraps a value recovered from a panicking filter.
var ErrFilterPanic = errors.New("filter panicked")

// PreProcessingError reports a filter that failed instead of returning a verdict.
type PreProcessingError struct {
	// Index is the position of the failing filter, 0 being the token filter.
	Index int
	Err   error
}

func (e *PreProcessingError) Error() string {
	return fmt.Sprintf("pre-processing filter %d failed: %v", e.Index, e.Err)
}

func (e *PreProcessingError) Unwrap() error { return e.Err }

// MessageChecker verifies the security token of a header.
// [*daps.Validator] implements it.
type MessageChecker interface {
	CheckMessage(ctx context.Context, msg *infomodel.Message) error
}

// ModelSource provides the active configuration model.
// [*configuration.Container] implements it.
type ModelSource interface {
	Model() *infomodel.ConfigurationModel
}

// TokenFilter verifies the DAT of inbound messages. Verification is skipped
// while the connector runs in test deployment mode.
type TokenFilter struct {
	checker MessageChecker
	models  ModelSource
	logger  *slog.Logger
}

// NewTokenFilter creates the token filter. A nil logger uses slog.Default.
func NewTokenFilter(checker MessageChecker, models ModelSource, logger *slog.Logger) *TokenFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenFilter{checker: checker, models: models, logger: logger}
}

// Filter implements [Filter]. An unavailable DAPS key is a filter failure;
// a missing or invalid token is a negative result.
func (f *TokenFilter) Filter(ctx context.Context, header *infomodel.Message) (FilterResult, error) {
	if f.models.Model().IsTestDeployment() {
		return Accept("ConnectorDeployMode is Test. Skipping Token verification!"), nil
	}
	err := f.checker.CheckMessage(ctx, header)
	switch {
	case err == nil:
		return Accept("Token verification result is: true"), nil
	case daps.IsUntrusted(err):
		f.logger.Debug("token rejected", "message_id", header.ID, "error", err)
		if errors.Is(err, daps.ErrClaims) {
			return Reject("Token could not be parsed!"), nil
		}
		return Reject("Token verification result is: false"), nil
	default:
		return FilterResult{}, err
	}
}
