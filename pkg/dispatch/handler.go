package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
)

// ErrEmptyPayload is returned when decoding an absent or empty payload.
var ErrEmptyPayload = errors.New("payload is empty")

// Payload wraps the payload part of an inbound message. It is never nil
// when passed to a handler, even if the message had no payload part.
type Payload struct {
	data        []byte
	contentType string
}

// NewPayload wraps data. A nil slice yields an empty payload.
func NewPayload(data []byte, contentType string) *Payload {
	return &Payload{data: data, contentType: contentType}
}

// IsEmpty reports whether the payload has no content.
func (p *Payload) IsEmpty() bool { return p == nil || len(p.data) == 0 }

// Bytes returns the raw payload.
func (p *Payload) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// Reader returns a reader over the payload.
func (p *Payload) Reader() io.Reader { return bytes.NewReader(p.Bytes()) }

// ContentType returns the content type of the payload part, if any.
func (p *Payload) ContentType() string {
	if p == nil {
		return ""
	}
	return p.contentType
}

// DecodeJSON unmarshals the payload into v.
func (p *Payload) DecodeJSON(v any) error {
	if p.IsEmpty() {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(p.data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// Handler processes messages of one type.
type Handler interface {
	HandleMessage(ctx context.Context, header *infomodel.Message, payload *Payload) (Response, error)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, header *infomodel.Message, payload *Payload) (Response, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, header *infomodel.Message, payload *Payload) (Response, error) {
	return f(ctx, header, payload)
}

// Response is the result of dispatching a message.
type Response interface {
	// Header returns the response header.
	Header() *infomodel.Message
	// Payload returns the serialized payload, nil if there is none.
	Payload() ([]byte, error)
}

// BodyResponse is a successful handler response.
type BodyResponse struct {
	header  *infomodel.Message
	payload any
}

// NewBodyResponse creates a response. payload may be nil, a []byte, a
// string, or any value that is encoded as JSON.
func NewBodyResponse(header *infomodel.Message, payload any) *BodyResponse {
	return &BodyResponse{header: header, payload: payload}
}

// Header implements [Response].
func (r *BodyResponse) Header() *infomodel.Message { return r.header }

// Payload implements [Response].
func (r *BodyResponse) Payload() ([]byte, error) {
	switch p := r.payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		return data, nil
	}
}

// ErrorResponse is a rejection. Message is the human readable payload.
type ErrorResponse struct {
	Rejection *infomodel.Message
	Message   string
}

// Header implements [Response].
func (r *ErrorResponse) Header() *infomodel.Message { return r.Rejection }

// Payload implements [Response].
func (r *ErrorResponse) Payload() ([]byte, error) { return []byte(r.Message), nil }

// Reason returns the rejection reason.
func (r *ErrorResponse) Reason() infomodel.RejectionReason {
	if r.Rejection == nil {
		return ""
	}
	return r.Rejection.RejectionReason
}

// Encode converts r into a two part multipart message.
func Encode(r Response) (*multipart.Message, error) {
	if r == nil || r.Header() == nil {
		return nil, errors.New("response has no header")
	}
	header, err := infomodel.MarshalMessage(r.Header())
	if err != nil {
		return nil, err
	}
	payload, err := r.Payload()
	if err != nil {
		return nil, err
	}
	out := multipart.New(header, payload)
	if _, ok := r.(*ErrorResponse); ok {
		out.PayloadContentType = "text/plain"
	}
	return out, nil
}
