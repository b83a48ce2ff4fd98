// Package multipart implements the two-part IDS multipart message format.
//
// Every IDS message is a multipart/form-data body with a "header" part
// carrying the message header and a "payload" part carrying the payload.
// Serialized messages always contain both parts; an absent payload is
// written as an empty part.
package multipart

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

const (
	// PartHeader is the form name of the header part.
	PartHeader = "header"
	// PartPayload is the form name of the payload part.
	PartPayload = "payload"

	// ContentTypeFormData is the media type of IDS multipart messages.
	ContentTypeFormData = "multipart/form-data"
	// ContentTypeLDJSON is the content type of header parts.
	ContentTypeLDJSON = "application/ld+json"
	// ContentTypeJSON is the default content type of payload parts.
	ContentTypeJSON = "application/json"

	// MaxPartSize bounds the size of a single part when parsing.
	MaxPartSize = 64 << 20
)

var (
	// ErrMissingHeader indicates a message without a header part.
	ErrMissingHeader = errors.New("multipart message has no header part")

	// ErrNotMultipart indicates a body that is not a multipart message.
	ErrNotMultipart = errors.New("not a multipart message")

	// ErrPartTooLarge indicates a part exceeding MaxPartSize.
	ErrPartTooLarge = errors.New("multipart part too large")
)

// Message is a parsed or outbound IDS multipart message.
type Message struct {
	Boundary string

	Header            []byte
	HeaderContentType string

	Payload            []byte
	PayloadContentType string
	// HasPayload is false when the payload part was absent on the wire.
	HasPayload bool
}

// New creates a message with the given header and payload. A nil payload
// produces an empty payload part.
func New(header, payload []byte) *Message {
	return &Message{
		Boundary:           generateBoundary(),
		Header:             header,
		HeaderContentType:  ContentTypeLDJSON,
		Payload:            payload,
		PayloadContentType: ContentTypeJSON,
		HasPayload:         payload != nil,
	}
}

// Serialize encodes the message and returns it with its Content-Type.
func (m *Message) Serialize() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	boundary := m.Boundary
	if boundary == "" {
		boundary = generateBoundary()
	}
	if err := writer.SetBoundary(boundary); err != nil {
		return nil, "", fmt.Errorf("failed to set boundary: %w", err)
	}

	if err := writePart(writer, PartHeader, m.HeaderContentType, ContentTypeLDJSON, m.Header); err != nil {
		return nil, "", err
	}
	if err := writePart(writer, PartPayload, m.PayloadContentType, ContentTypeJSON, m.Payload); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	contentType := mime.FormatMediaType(ContentTypeFormData, map[string]string{"boundary": boundary})
	return buf.Bytes(), contentType, nil
}

func writePart(w *multipart.Writer, name, contentType, fallback string, data []byte) error {
	if contentType == "" {
		contentType = fallback
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": name}))
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", fmt.Sprint(len(data)))

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", name, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write %s part: %w", name, err)
	}
	return nil
}

// Parse reads a multipart message with the given Content-Type.
// Parts other than header and payload are ignored.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("%w: %s", ErrNotMultipart, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: boundary not found in content type", ErrNotMultipart)
	}
	return parseParts(r, boundary)
}

// ParseBody reads a multipart message whose boundary is taken from its
// first delimiter line, for bodies received without a Content-Type.
func ParseBody(body []byte) (*Message, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") || len(line) <= 2 {
			return nil, fmt.Errorf("%w: no boundary delimiter", ErrNotMultipart)
		}
		return parseParts(bytes.NewReader(body), strings.TrimPrefix(line, "--"))
	}
	return nil, fmt.Errorf("%w: empty body", ErrNotMultipart)
}

func parseParts(r io.Reader, boundary string) (*Message, error) {
	msg := &Message{Boundary: boundary}
	reader := multipart.NewReader(r, boundary)
	hasHeader := false

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		name := part.FormName()
		if name != PartHeader && name != PartPayload {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, MaxPartSize+1))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s part: %w", name, err)
		}
		if len(data) > MaxPartSize {
			return nil, fmt.Errorf("%w: %s", ErrPartTooLarge, name)
		}

		switch name {
		case PartHeader:
			msg.Header = data
			msg.HeaderContentType = part.Header.Get("Content-Type")
			hasHeader = true
		case PartPayload:
			msg.Payload = data
			msg.PayloadContentType = part.Header.Get("Content-Type")
			msg.HasPayload = true
		}
	}

	if !hasHeader {
		return nil, ErrMissingHeader
	}
	return msg, nil
}

func generateBoundary() string {
	return "----=_Part_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
