package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
)

// InvalidCorrelation is the correlation id of rejections for messages
// without an id.
const InvalidCorrelation = "https://INVALID"

// RejectedTokenValue is the placeholder token value of rejection messages.
const RejectedTokenValue = "rejected!"

// Outcome labels reported to the [Recorder].
const (
	OutcomeHandled       = "handled"
	OutcomeFiltered      = "filtered"
	OutcomeUnsupported   = "unsupported"
	OutcomeHandlerError  = "handler_error"
	OutcomePreProcessing = "preprocessing_error"
	OutcomeMalformed     = "malformed"
)

// Messages sent to peers. They never include internal error detail.
const (
	msgNoHandler      = "No handler for provided message type was found!"
	msgHandlerError   = "Error while handling the request!"
	msgUnparsable     = "Could not parse incoming message!"
	msgMissingHeader  = "Header was missing!"
	msgPreProcessing  = "Error during preprocessing!"
	msgUnreadable     = "Could not read incoming request!"
	msgEncodingFailed = "Could not encode the response!"
)

// ErrNoModelSource is returned by [New] without a configuration source.
var ErrNoModelSource = errors.New("dispatcher requires a configuration source")

// Recorder receives dispatch metrics.
type Recorder interface {
	MessageDispatched(messageType, outcome string, d time.Duration)
}

// Config configures a [Dispatcher].
type Config struct {
	// Registry holds the handlers. A new empty registry is used if nil.
	Registry *Registry
	// Models provides connector id and model version for rejections.
	Models ModelSource
	// TokenFilter runs before all other filters. Nil disables token checks.
	TokenFilter Filter
	Logger      *slog.Logger
	Recorder    Recorder
	Now         func() time.Time
}

// Dispatcher runs the filter chain and routes messages to handlers.
type Dispatcher struct {
	registry *Registry
	models   ModelSource
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	mu      sync.RWMutex
	filters []Filter
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Models == nil {
		return nil, ErrNoModelSource
	}
	d := &Dispatcher{
		registry: cfg.Registry,
		models:   cfg.Models,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}
	if d.registry == nil {
		d.registry = NewRegistry()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if cfg.TokenFilter != nil {
		d.filters = append(d.filters, cfg.TokenFilter)
	}
	return d, nil
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// AddFilter appends f to the filter chain.
func (d *Dispatcher) AddFilter(f Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = append(d.filters, f)
}

// Process dispatches a parsed message. The only error it returns is a
// [*PreProcessingError]; every other outcome is a [Response].
func (d *Dispatcher) Process(ctx context.Context, header *infomodel.Message, payload *Payload) (Response, error) {
	start := d.now()
	if header == nil {
		d.record("", OutcomeMalformed, start)
		return d.Rejection(infomodel.ReasonMalformedMessage, msgUnparsable, ""), nil
	}
	if payload == nil {
		payload = NewPayload(nil, "")
	}
	logger := d.logger.With("message_id", header.ID, "message_type", string(header.Type))
	logger.Debug("message received")

	d.mu.RLock()
	filters := append([]Filter(nil), d.filters...)
	d.mu.RUnlock()

	for i, f := range filters {
		res, err := runFilter(ctx, f, header)
		if err != nil {
			logger.Error("pre-processing filter failed", "filter", i, "error", err)
			d.record(header.Type, OutcomePreProcessing, start)
			return nil, &PreProcessingError{Index: i, Err: err}
		}
		if !res.Success {
			logger.Debug("message filtered", "filter", i, "reason", res.Message)
			d.record(header.Type, OutcomeFiltered, start)
			return d.Rejection(infomodel.ReasonMalformedMessage, res.Message, header.ID), nil
		}
	}
	logger.Debug("message passed filters", "filters", len(filters))

	handler, ok := d.registry.Resolve(header.Type)
	if !ok {
		logger.Debug("no handler registered")
		d.record(header.Type, OutcomeUnsupported, start)
		return d.Rejection(infomodel.ReasonMessageTypeNotSupported, msgNoHandler, header.ID), nil
	}
	logger.Debug("message routed")

	resp, err := runHandler(ctx, handler, header, payload)
	if err != nil {
		logger.Error("handler failed", "error", err)
		d.record(header.Type, OutcomeHandlerError, start)
		return d.Rejection(infomodel.ReasonInternalRecipientError, msgHandlerError, header.ID), nil
	}
	logger.Debug("message handled")
	d.record(header.Type, OutcomeHandled, start)
	return resp, nil
}

// WireResponse is the serialized outcome of [Dispatcher.ProcessWire].
type WireResponse struct {
	Message *multipart.Message
	// StatusCode is the HTTP status to answer with.
	StatusCode int
}

// Serialize encodes the response body.
func (w *WireResponse) Serialize() ([]byte, string, error) {
	if w.Message == nil {
		return nil, "", errors.New("no response message")
	}
	return w.Message.Serialize()
}

// ProcessWire parses a multipart request body, dispatches it and encodes
// the response. Parse failures and filter faults become rejections, so the
// returned response is always usable.
func (d *Dispatcher) ProcessWire(ctx context.Context, body io.Reader, contentType string) *WireResponse {
	in, err := multipart.Parse(body, contentType)
	switch {
	case errors.Is(err, multipart.ErrMissingHeader):
		d.logger.Debug("incoming message has no header part")
		return d.wireRejection(infomodel.ReasonMalformedMessage, msgMissingHeader, "", http.StatusBadRequest)
	case errors.Is(err, multipart.ErrNotMultipart):
		d.logger.Warn("incoming request was not multipart", "error", err)
		return d.wireRejection(infomodel.ReasonMalformedMessage, msgUnreadable, "", http.StatusBadRequest)
	case err != nil:
		d.logger.Warn("incoming message could not be parsed", "error", err)
		return d.wireRejection(infomodel.ReasonMalformedMessage, msgUnparsable, "", http.StatusBadRequest)
	}

	header, err := infomodel.UnmarshalMessage(in.Header)
	if err != nil {
		d.logger.Warn("incoming header could not be parsed", "error", err)
		return d.wireRejection(infomodel.ReasonMalformedMessage, msgUnparsable, "", http.StatusBadRequest)
	}

	resp, err := d.Process(ctx, header, NewPayload(in.Payload, in.PayloadContentType))
	if err != nil {
		return d.wireRejection(infomodel.ReasonInternalRecipientError, msgPreProcessing, header.ID, http.StatusInternalServerError)
	}

	out, err := Encode(resp)
	if err != nil {
		d.logger.Error("response could not be encoded", "message_id", header.ID, "error", err)
		return d.wireRejection(infomodel.ReasonInternalRecipientError, msgEncodingFailed, header.ID, http.StatusInternalServerError)
	}
	d.logger.Debug("response ready", "message_id", header.ID, "response_type", string(resp.Header().Type))
	return &WireResponse{Message: out, StatusCode: http.StatusOK}
}

// Rejection builds a rejection response correlated to messageID.
func (d *Dispatcher) Rejection(reason infomodel.RejectionReason, msg, messageID string) *ErrorResponse {
	return &ErrorResponse{
		Rejection: NewRejectionHeader(d.models.Model(), reason, messageID, d.now()),
		Message:   msg,
	}
}

// NewRejectionHeader builds a rejection header issued by the connector
// described in model.
func NewRejectionHeader(model *infomodel.ConfigurationModel, reason infomodel.RejectionReason, messageID string, now time.Time) *infomodel.Message {
	if messageID == "" {
		messageID = InvalidCorrelation
	}
	return infomodel.NewMessage(infomodel.TypeRejectionMessage,
		infomodel.WithIssuer(model.ConnectorID()),
		infomodel.WithModelVersion(model.ModelVersion()),
		infomodel.WithSecurityToken(infomodel.NewJWT(RejectedTokenValue)),
		infomodel.WithCorrelation(messageID),
		infomodel.WithRejectionReason(reason),
		infomodel.WithIssued(now),
	)
}

func (d *Dispatcher) wireRejection(reason infomodel.RejectionReason, msg, messageID string, status int) *WireResponse {
	rejection := d.Rejection(reason, msg, messageID)
	out, err := Encode(rejection)
	if err != nil {
		d.logger.Error("rejection could not be encoded", "error", err)
		return &WireResponse{StatusCode: http.StatusInternalServerError}
	}
	return &WireResponse{Message: out, StatusCode: status}
}

func (d *Dispatcher) record(t infomodel.MessageType, outcome string, start time.Time) {
	if d.recorder == nil {
		return
	}
	d.recorder.MessageDispatched(string(t), outcome, d.now().Sub(start))
}

func runFilter(ctx context.Context, f Filter, header *infomodel.Message) (res FilterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFilterPanic, r)
		}
	}()
	return f.Filter(ctx, header)
}

func runHandler(ctx context.Context, h Handler, header *infomodel.Message, payload *Payload) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	resp, err = h.HandleMessage(ctx, header, payload)
	if err == nil && (resp == nil || resp.Header() == nil) {
		err = errors.New("handler returned no response")
	}
	return resp, err
}
