package infomodel

import (
	"time"

	"github.com/google/uuid"
)

// Option configures a message built by [NewMessage].
type Option func(*Message)

// NewMessage creates a header of the given type with a fresh id and issue time.
func NewMessage(t MessageType, opts ...Option) *Message {
	msg := &Message{
		Context: DefaultContext,
		Type:    t,
		ID:      NewID(idKind(t)),
		Issued:  Timestamp{Time: time.Now().UTC()},
	}
	for _, opt := range opts {
		opt(msg)
	}
	return msg
}

// WithIssuer sets both issuer connector and sender agent.
func WithIssuer(connectorID string) Option {
	return func(m *Message) {
		m.IssuerConnector = Reference(connectorID)
		m.SenderAgent = Reference(connectorID)
	}
}

// WithModelVersion sets the information model version.
func WithModelVersion(version string) Option {
	return func(m *Message) {
		m.ModelVersion = version
	}
}

// WithSecurityToken attaches a DAT.
func WithSecurityToken(token *DynamicAttributeToken) Option {
	return func(m *Message) {
		m.SecurityToken = token
	}
}

// WithCorrelation sets the correlation message id.
func WithCorrelation(messageID string) Option {
	return func(m *Message) {
		m.CorrelationMessage = Reference(messageID)
	}
}

// WithRecipient adds a recipient connector.
func WithRecipient(connectorID string) Option {
	return func(m *Message) {
		m.RecipientConnector = append(m.RecipientConnector, Reference(connectorID))
	}
}

// WithRejectionReason sets the rejection reason.
func WithRejectionReason(reason RejectionReason) Option {
	return func(m *Message) {
		m.RejectionReason = reason
	}
}

// WithAffectedConnector sets the connector a broker message is about.
func WithAffectedConnector(connectorID string) Option {
	return func(m *Message) {
		m.AffectedConnector = Reference(connectorID)
	}
}

// WithAffectedResource sets the resource a broker message is about.
func WithAffectedResource(resourceID string) Option {
	return func(m *Message) {
		m.AffectedResource = Reference(resourceID)
	}
}

// WithQuery sets query language, query scope and recipient scope.
func WithQuery(language, scope, recipientScope string) Option {
	return func(m *Message) {
		m.QueryLanguage = Reference(language)
		m.QueryScope = Reference(scope)
		m.RecipientScope = Reference(recipientScope)
	}
}

// WithIssued overrides the issue time.
func WithIssued(t time.Time) Option {
	return func(m *Message) {
		m.Issued = Timestamp{Time: t.UTC()}
	}
}

func newUUID() string {
	return uuid.New().String()
}
