package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-ids/pkg/daps"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/transport"
)

// DefaultConcurrency bounds the number of brokers contacted at once.
const DefaultConcurrency = 8

var (
	// ErrNoConnector is returned when the configuration has no connector description.
	ErrNoConnector = errors.New("no connector description configured")
	// ErrRejected matches every [*RejectedError].
	ErrRejected = errors.New("message rejected by broker")
	// ErrUntrustedReply is returned when a reply token does not verify.
	ErrUntrustedReply = errors.New("broker reply token could not be verified")
)

// RejectedError reports a rejection message sent back by a broker.
type RejectedError struct {
	Reason  infomodel.RejectionReason
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("broker rejected message: %s: %s", e.Reason, e.Message)
}

// Is reports whether target is ErrRejected.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// ModelSource provides the active configuration model.
type ModelSource interface {
	Model() *infomodel.ConfigurationModel
}

// Sender posts multipart IDS messages. [*transport.HTTPSClient] implements it.
type Sender interface {
	SendMessage(ctx context.Context, endpoint string, header *infomodel.Message, payload []byte) (*transport.Reply, error)
}

// ReplyChecker verifies the DAT in the header part of a raw multipart
// reply. [*daps.Validator] implements it.
type ReplyChecker interface {
	CheckResponse(ctx context.Context, body []byte, contentType string) error
}

// Resource is an offered resource with its JSON-LD description.
type Resource struct {
	ID       string
	Document json.RawMessage
}

// Query describes a broker query.
type Query struct {
	Query string
	// Language defaults to idsc:SPARQL.
	Language string
	// Scope defaults to idsc:ALL.
	Scope string
	// Target defaults to idsc:BROKER.
	Target string
}

// Config configures a [Service].
type Config struct {
	Models ModelSource
	Tokens daps.TokenProvider
	Sender Sender
	// Checker verifies reply tokens when set.
	Checker     ReplyChecker
	Concurrency int
	Logger      *slog.Logger
}

// Service sends broker messages on behalf of the connector.
type Service struct {
	models      ModelSource
	tokens      daps.TokenProvider
	sender      Sender
	checker     ReplyChecker
	concurrency int
	logger      *slog.Logger
}

// New creates a broker service.
func New(cfg Config) (*Service, error) {
	if cfg.Models == nil || cfg.Tokens == nil || cfg.Sender == nil {
		return nil, errors.New("broker: models, tokens and sender are required")
	}
	s := &Service{
		models:      cfg.Models,
		tokens:      cfg.Tokens,
		sender:      cfg.Sender,
		checker:     cfg.Checker,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// UpdateSelfDescription registers or updates the connector at a broker.
func (s *Service) UpdateSelfDescription(ctx context.Context, brokerURL string) (*transport.Reply, error) {
	header, payload, err := s.selfDescriptionMessage(ctx, infomodel.TypeConnectorUpdateMessage)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, brokerURL, header, payload)
}

// Unregister announces that the connector is no longer available.
func (s *Service) Unregister(ctx context.Context, brokerURL string) (*transport.Reply, error) {
	header, payload, err := s.selfDescriptionMessage(ctx, infomodel.TypeConnectorUnavailableMessage)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, brokerURL, header, payload)
}

// UpdateResource registers or updates a resource at a broker.
func (s *Service) UpdateResource(ctx context.Context, brokerURL string, resource Resource) (*transport.Reply, error) {
	return s.sendResource(ctx, brokerURL, infomodel.TypeResourceUpdateMessage, resource)
}

// RemoveResource removes a resource from a broker.
func (s *Service) RemoveResource(ctx context.Context, brokerURL string, resource Resource) (*transport.Reply, error) {
	return s.sendResource(ctx, brokerURL, infomodel.TypeResourceUnavailableMessage, resource)
}

// Query sends a query to a broker. The query result is the reply payload.
func (s *Service) Query(ctx context.Context, brokerURL string, q Query) (*transport.Reply, error) {
	if q.Language == "" {
		q.Language = "idsc:SPARQL"
	}
	if q.Scope == "" {
		q.Scope = "idsc:ALL"
	}
	if q.Target == "" {
		q.Target = "idsc:BROKER"
	}
	header, err := s.header(ctx, infomodel.TypeQueryMessage, infomodel.WithQuery(q.Language, q.Scope, q.Target))
	if err != nil {
		return nil, err
	}
	return s.send(ctx, brokerURL, header, []byte(q.Query))
}

// BroadcastSelfDescription sends one self-description update to every
// broker concurrently and returns the successful replies. Failures are
// logged per broker. The error is non-nil only when the message could not
// be built.
func (s *Service) BroadcastSelfDescription(ctx context.Context, brokerURLs []string) ([]*transport.Reply, error) {
	header, payload, err := s.selfDescriptionMessage(ctx, infomodel.TypeConnectorUpdateMessage)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		replies []*transport.Reply
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, url := range brokerURLs {
		url := url
		g.Go(func() error {
			reply, err := s.send(gctx, url, header, payload)
			if err != nil {
				s.logger.Warn("broker update failed", "url", url, "error", err)
				return nil
			}
			s.logger.Info("received broker response", "url", url)
			mu.Lock()
			replies = append(replies, reply)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return replies, nil
}

func (s *Service) sendResource(ctx context.Context, brokerURL string, t infomodel.MessageType, resource Resource) (*transport.Reply, error) {
	if resource.ID == "" {
		return nil, errors.New("broker: resource has no id")
	}
	header, err := s.header(ctx, t, infomodel.WithAffectedResource(resource.ID))
	if err != nil {
		return nil, err
	}
	return s.send(ctx, brokerURL, header, resource.Document)
}

func (s *Service) selfDescriptionMessage(ctx context.Context, t infomodel.MessageType) (*infomodel.Message, []byte, error) {
	model := s.models.Model()
	if model == nil || model.ConnectorDescription == nil {
		return nil, nil, ErrNoConnector
	}
	payload, err := infomodel.SelfDescription(model.ConnectorDescription)
	if err != nil {
		return nil, nil, err
	}
	header, err := s.header(ctx, t, infomodel.WithAffectedConnector(model.ConnectorID()))
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

func (s *Service) header(ctx context.Context, t infomodel.MessageType, opts ...infomodel.Option) (*infomodel.Message, error) {
	model := s.models.Model()
	if model.ConnectorID() == "" {
		return nil, ErrNoConnector
	}
	dat, err := daps.DAT(ctx, s.tokens)
	if err != nil {
		return nil, fmt.Errorf("broker: obtaining DAT: %w", err)
	}
	base := []infomodel.Option{
		infomodel.WithIssuer(model.ConnectorID()),
		infomodel.WithModelVersion(model.ModelVersion()),
		infomodel.WithSecurityToken(dat),
	}
	return infomodel.NewMessage(t, append(base, opts...)...), nil
}

func (s *Service) send(ctx context.Context, brokerURL string, header *infomodel.Message, payload []byte) (*transport.Reply, error) {
	s.logger.Debug("sending broker message", "url", brokerURL, "message_type", string(header.Type))
	reply, err := s.sender.SendMessage(ctx, brokerURL, header, payload)
	if err != nil {
		return nil, err
	}
	if s.checker != nil {
		if err := s.checker.CheckResponse(ctx, reply.Body, reply.ContentType); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUntrustedReply, err)
		}
	}
	if reply.Header.IsRejection() {
		return reply, &RejectedError{Reason: reply.Header.RejectionReason, Message: string(reply.Payload)}
	}
	return reply, nil
}
