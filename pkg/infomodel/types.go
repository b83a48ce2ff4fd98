package infomodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType is the "@type" tag of an IDS message header.
type MessageType string

// Message types known to this package. Handlers are registered by exact tag.
const (
	TypeRejectionMessage                    MessageType = "ids:RejectionMessage"
	TypeDescriptionRequestMessage           MessageType = "ids:DescriptionRequestMessage"
	TypeDescriptionResponseMessage          MessageType = "ids:DescriptionResponseMessage"
	TypeArtifactRequestMessage              MessageType = "ids:ArtifactRequestMessage"
	TypeArtifactResponseMessage             MessageType = "ids:ArtifactResponseMessage"
	TypeContractRequestMessage              MessageType = "ids:ContractRequestMessage"
	TypeContractAgreementMessage            MessageType = "ids:ContractAgreementMessage"
	TypeMessageProcessedNotificationMessage MessageType = "ids:MessageProcessedNotificationMessage"
	TypeConnectorUpdateMessage              MessageType = "ids:ConnectorUpdateMessage"
	TypeConnectorUnavailableMessage         MessageType = "ids:ConnectorUnavailableMessage"
	TypeResourceUpdateMessage               MessageType = "ids:ResourceUpdateMessage"
	TypeResourceUnavailableMessage          MessageType = "ids:ResourceUnavailableMessage"
	TypeQueryMessage                        MessageType = "ids:QueryMessage"
	TypeResultMessage                       MessageType = "ids:ResultMessage"
	TypeNotificationMessage                 MessageType = "ids:NotificationMessage"
)

// RejectionReason is the machine readable reason of a rejection message.
type RejectionReason string

// Rejection reasons from the IDS code vocabulary.
const (
	ReasonBadParameters           RejectionReason = "idsc:BAD_PARAMETERS"
	ReasonInternalRecipientError  RejectionReason = "idsc:INTERNAL_RECIPIENT_ERROR"
	ReasonMalformedMessage        RejectionReason = "idsc:MALFORMED_MESSAGE"
	ReasonMessageTypeNotSupported RejectionReason = "idsc:MESSAGE_TYPE_NOT_SUPPORTED"
	ReasonMethodNotSupported      RejectionReason = "idsc:METHOD_NOT_SUPPORTED"
	ReasonNotAuthenticated        RejectionReason = "idsc:NOT_AUTHENTICATED"
	ReasonNotAuthorized           RejectionReason = "idsc:NOT_AUTHORIZED"
	ReasonNotFound                RejectionReason = "idsc:NOT_FOUND"
	ReasonTemporarilyNotAvailable RejectionReason = "idsc:TEMPORARILY_NOT_AVAILABLE"
	ReasonTooManyResults          RejectionReason = "idsc:TOO_MANY_RESULTS"
	ReasonVersionNotSupported     RejectionReason = "idsc:VERSION_NOT_SUPPORTED"
)

// TokenFormat identifies the encoding of a security token.
type TokenFormat string

// TokenFormatJWT marks a DAT encoded as a JSON Web Token.
const TokenFormatJWT TokenFormat = "idsc:JWT"

// Reference is an IRI serialized as {"@id": "..."}.
// Plain JSON strings are accepted when decoding.
type Reference string

// ErrMissingType is returned when a message header has no "@type".
var ErrMissingType = errors.New("message header has no @type")

// DefaultContext is the JSON-LD context attached to outbound messages.
var DefaultContext = map[string]string{
	"ids":  "https://w3id.org/idsa/core/",
	"idsc": "https://w3id.org/idsa/code/",
}

// DynamicAttributeToken is the security token field of a message header.
type DynamicAttributeToken struct {
	Type        string      `json:"@type"`
	ID          string      `json:"@id,omitempty"`
	TokenFormat TokenFormat `json:"ids:tokenFormat"`
	TokenValue  string      `json:"ids:tokenValue"`
}

// NewJWT wraps a JWT encoded DAT into a token field.
func NewJWT(value string) *DynamicAttributeToken {
	return &DynamicAttributeToken{
		Type:        "ids:DynamicAttributeToken",
		ID:          NewID("dynamicAttributeToken"),
		TokenFormat: TokenFormatJWT,
		TokenValue:  value,
	}
}

// Timestamp is an xsd:dateTimeStamp literal.
type Timestamp struct {
	time.Time
}

const xsdDateTimeStamp = "http://www.w3.org/2001/XMLSchema#dateTimeStamp"

// Message is the typed header envelope of an IDS multipart message.
type Message struct {
	Context            map[string]string      `json:"@context,omitempty"`
	Type               MessageType            `json:"@type"`
	ID                 string                 `json:"@id,omitempty"`
	ModelVersion       string                 `json:"ids:modelVersion,omitempty"`
	Issued             Timestamp              `json:"ids:issued"`
	IssuerConnector    Reference              `json:"ids:issuerConnector,omitempty"`
	SenderAgent        Reference              `json:"ids:senderAgent,omitempty"`
	RecipientConnector []Reference            `json:"ids:recipientConnector,omitempty"`
	RecipientAgent     []Reference            `json:"ids:recipientAgent,omitempty"`
	SecurityToken      *DynamicAttributeToken `json:"ids:securityToken,omitempty"`
	CorrelationMessage Reference              `json:"ids:correlationMessage,omitempty"`
	TransferContract   Reference              `json:"ids:transferContract,omitempty"`
	ContentVersion     string                 `json:"ids:contentVersion,omitempty"`
	RejectionReason    RejectionReason        `json:"ids:rejectionReason,omitempty"`
	AffectedConnector  Reference              `json:"ids:affectedConnector,omitempty"`
	AffectedResource   Reference              `json:"ids:affectedResource,omitempty"`
	RequestedArtifact  Reference              `json:"ids:requestedArtifact,omitempty"`
	RequestedElement   Reference              `json:"ids:requestedElement,omitempty"`
	QueryLanguage      Reference              `json:"ids:queryLanguage,omitempty"`
	QueryScope         Reference              `json:"ids:queryScope,omitempty"`
	RecipientScope     Reference              `json:"ids:recipientScope,omitempty"`
}

// IsRejection reports whether the message is a rejection message.
func (m *Message) IsRejection() bool {
	return m != nil && m.Type == TypeRejectionMessage
}

// Token returns the DAT value carried by the message, or "" if none.
func (m *Message) Token() string {
	if m == nil || m.SecurityToken == nil {
		return ""
	}
	return m.SecurityToken.TokenValue
}

// MarshalMessage encodes a header for the wire.
func MarshalMessage(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(m)
}

// UnmarshalMessage decodes a header received from the wire.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding message header: %w", err)
	}
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return &m, nil
}

// NewID generates an autogenerated IDS identifier for the given kind.
func NewID(kind string) string {
	return "https://w3id.org/idsa/autogen/" + kind + "/" + newUUID()
}

func idKind(t MessageType) string {
	name := strings.TrimPrefix(string(t), "ids:")
	if name == "" {
		return "message"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func (r Reference) MarshalJSON() ([]byte, error) { return marshalRef(string(r)) }

func (r *Reference) UnmarshalJSON(data []byte) error {
	s, err := unmarshalRef(data)
	*r = Reference(s)
	return err
}

func (r RejectionReason) MarshalJSON() ([]byte, error) { return marshalRef(string(r)) }

func (r *RejectionReason) UnmarshalJSON(data []byte) error {
	s, err := unmarshalRef(data)
	*r = RejectionReason(s)
	return err
}

func (f TokenFormat) MarshalJSON() ([]byte, error) { return marshalRef(string(f)) }

func (f *TokenFormat) UnmarshalJSON(data []byte) error {
	s, err := unmarshalRef(data)
	*f = TokenFormat(s)
	return err
}

// MarshalJSON encodes the timestamp as a typed literal.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value string `json:"@value"`
		Type  string `json:"@type"`
	}{
		Value: t.UTC().Format(time.RFC3339Nano),
		Type:  xsdDateTimeStamp,
	})
}

// UnmarshalJSON accepts either a typed literal or a plain RFC 3339 string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var lit struct {
			Value string `json:"@value"`
		}
		if err := json.Unmarshal(data, &lit); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		raw = lit.Value
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	t.Time = parsed
	return nil
}

func marshalRef(id string) ([]byte, error) {
	return json.Marshal(struct {
		ID string `json:"@id"`
	}{ID: id})
}

func unmarshalRef(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var obj struct {
		ID string `json:"@id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("invalid reference: %w", err)
	}
	return obj.ID, nil
}
