package broker

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-ids/pkg/daps"
	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/multipart"
	"github.com/sirosfoundation/go-ids/pkg/transport"
)

const connectorID = "https://connector.example.com"

type staticModel struct{ m *infomodel.ConfigurationModel }

func (s staticModel) Model() *infomodel.ConfigurationModel { return s.m }

func testModel() staticModel {
	return staticModel{m: &infomodel.ConfigurationModel{
		ConnectorDeployMode: infomodel.DeployModeProductive,
		ConnectorDescription: &infomodel.Connector{
			ID:                   connectorID,
			OutboundModelVersion: "4.2.7",
		},
	}}
}

type countingTokens struct {
	calls atomic.Int32
	err   error
}

func (c *countingTokens) Token(context.Context) (string, error) {
	c.calls.Add(1)
	return "dat-token", c.err
}

// recordingSender captures outbound messages and answers with reply.
type recordingSender struct {
	mu      sync.Mutex
	headers []*infomodel.Message
	payload [][]byte
	reply   *infomodel.Message
}

func (r *recordingSender) SendMessage(_ context.Context, _ string, header *infomodel.Message, payload []byte) (*transport.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, header)
	r.payload = append(r.payload, payload)
	reply := r.reply
	if reply == nil {
		reply = infomodel.NewMessage(infomodel.TypeMessageProcessedNotificationMessage, infomodel.WithCorrelation(header.ID))
	}
	raw, err := infomodel.MarshalMessage(reply)
	if err != nil {
		return nil, err
	}
	body, contentType, err := multipart.New(raw, nil).Serialize()
	if err != nil {
		return nil, err
	}
	return &transport.Reply{Header: reply, Body: body, ContentType: contentType}, nil
}

func newService(t *testing.T, sender Sender, checker ReplyChecker) (*Service, *countingTokens) {
	t.Helper()
	tokens := &countingTokens{}
	svc, err := New(Config{Models: testModel(), Tokens: tokens, Sender: sender, Checker: checker})
	require.NoError(t, err)
	return svc, tokens
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Models: testModel()})
	assert.Error(t, err)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	resource := Resource{ID: "https://connector.example.com/resource/1", Document: []byte(`{"@type":"ids:Resource"}`)}

	tests := []struct {
		name    string
		send    func(*Service) (*transport.Reply, error)
		msgType infomodel.MessageType
		check   func(t *testing.T, h *infomodel.Message, payload []byte)
	}{
		{
			name:    "update self-description",
			send:    func(s *Service) (*transport.Reply, error) { return s.UpdateSelfDescription(ctx, "https://broker") },
			msgType: infomodel.TypeConnectorUpdateMessage,
			check: func(t *testing.T, h *infomodel.Message, payload []byte) {
				assert.Equal(t, infomodel.Reference(connectorID), h.AffectedConnector)
				assert.Contains(t, string(payload), connectorID)
			},
		},
		{
			name:    "unregister",
			send:    func(s *Service) (*transport.Reply, error) { return s.Unregister(ctx, "https://broker") },
			msgType: infomodel.TypeConnectorUnavailableMessage,
			check: func(t *testing.T, h *infomodel.Message, _ []byte) {
				assert.Equal(t, infomodel.Reference(connectorID), h.AffectedConnector)
			},
		},
		{
			name:    "update resource",
			send:    func(s *Service) (*transport.Reply, error) { return s.UpdateResource(ctx, "https://broker", resource) },
			msgType: infomodel.TypeResourceUpdateMessage,
			check: func(t *testing.T, h *infomodel.Message, payload []byte) {
				assert.Equal(t, infomodel.Reference(resource.ID), h.AffectedResource)
				assert.JSONEq(t, string(resource.Document), string(payload))
			},
		},
		{
			name:    "remove resource",
			send:    func(s *Service) (*transport.Reply, error) { return s.RemoveResource(ctx, "https://broker", resource) },
			msgType: infomodel.TypeResourceUnavailableMessage,
			check: func(t *testing.T, h *infomodel.Message, _ []byte) {
				assert.Equal(t, infomodel.Reference(resource.ID), h.AffectedResource)
			},
		},
		{
			name: "query",
			send: func(s *Service) (*transport.Reply, error) {
				return s.Query(ctx, "https://broker", Query{Query: "SELECT ?s WHERE { ?s ?p ?o }"})
			},
			msgType: infomodel.TypeQueryMessage,
			check: func(t *testing.T, h *infomodel.Message, payload []byte) {
				assert.Equal(t, infomodel.Reference("idsc:SPARQL"), h.QueryLanguage)
				assert.Equal(t, infomodel.Reference("idsc:ALL"), h.QueryScope)
				assert.Equal(t, infomodel.Reference("idsc:BROKER"), h.RecipientScope)
				assert.Equal(t, "SELECT ?s WHERE { ?s ?p ?o }", string(payload))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			svc, tokens := newService(t, sender, nil)

			_, err := tt.send(svc)
			require.NoError(t, err)
			require.Len(t, sender.headers, 1)

			h := sender.headers[0]
			assert.Equal(t, tt.msgType, h.Type)
			assert.Equal(t, infomodel.Reference(connectorID), h.IssuerConnector)
			assert.Equal(t, infomodel.Reference(connectorID), h.SenderAgent)
			assert.Equal(t, "4.2.7", h.ModelVersion)
			assert.Equal(t, "dat-token", h.Token())
			assert.Equal(t, int32(1), tokens.calls.Load())
			tt.check(t, h, sender.payload[0])
		})
	}
}

func TestResourceRequiresID(t *testing.T) {
	svc, _ := newService(t, &recordingSender{}, nil)
	_, err := svc.UpdateResource(context.Background(), "https://broker", Resource{})
	assert.Error(t, err)
}

func TestTokenFailureSendsNothing(t *testing.T) {
	sender := &recordingSender{}
	svc, tokens := newService(t, sender, nil)
	tokens.err = &daps.TokenAcquisitionError{Kind: daps.KindTransport, Err: errors.New("offline")}

	_, err := svc.UpdateSelfDescription(context.Background(), "https://broker")
	assert.ErrorIs(t, err, daps.ErrTokenAcquisition)
	assert.Empty(t, sender.headers)
}

func TestRejectionReply(t *testing.T) {
	sender := &recordingSender{reply: infomodel.NewMessage(infomodel.TypeRejectionMessage,
		infomodel.WithRejectionReason(infomodel.ReasonNotAuthorized))}
	svc, _ := newService(t, sender, nil)

	reply, err := svc.UpdateSelfDescription(context.Background(), "https://broker")
	require.NotNil(t, reply)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, infomodel.ReasonNotAuthorized, rejected.Reason)
	assert.ErrorIs(t, err, ErrRejected)
}

type checkerFunc func(ctx context.Context, body []byte, contentType string) error

func (f checkerFunc) CheckResponse(ctx context.Context, body []byte, contentType string) error {
	return f(ctx, body, contentType)
}

func TestReplyTokenChecked(t *testing.T) {
	svc, _ := newService(t, &recordingSender{}, checkerFunc(func(_ context.Context, body []byte, contentType string) error {
		in, err := multipart.Parse(bytes.NewReader(body), contentType)
		require.NoError(t, err)
		header, err := infomodel.UnmarshalMessage(in.Header)
		require.NoError(t, err)
		assert.Equal(t, infomodel.TypeMessageProcessedNotificationMessage, header.Type)
		return daps.ErrNoToken
	}))

	_, err := svc.UpdateSelfDescription(context.Background(), "https://broker")
	assert.ErrorIs(t, err, ErrUntrustedReply)
	assert.ErrorIs(t, err, daps.ErrNoToken)
}

// brokerServer answers every message with a MessageProcessedNotification,
// or with status when it is not 200.
func brokerServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		in, err := multipart.Parse(r.Body, r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) {
			return
		}
		req, err := infomodel.UnmarshalMessage(in.Header)
		if !assert.NoError(t, err) {
			return
		}
		header, _ := infomodel.MarshalMessage(infomodel.NewMessage(infomodel.TypeMessageProcessedNotificationMessage,
			infomodel.WithCorrelation(req.ID)))
		body, contentType, _ := multipart.New(header, nil).Serialize()
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBroadcastSelfDescription(t *testing.T) {
	urls := []string{
		brokerServer(t, http.StatusOK).URL,
		brokerServer(t, http.StatusInternalServerError).URL,
		brokerServer(t, http.StatusOK).URL,
	}
	client := transport.NewHTTPSClient(transport.NewClientProvider(nil, nil, nil), "")
	svc, tokens := newService(t, client, nil)

	var wg sync.WaitGroup
	results := make([][]*transport.Reply, 2)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies, err := svc.BroadcastSelfDescription(context.Background(), urls)
			assert.NoError(t, err)
			results[i] = replies
		}()
	}
	wg.Wait()

	for _, replies := range results {
		require.Len(t, replies, 2)
		for _, r := range replies {
			assert.Equal(t, infomodel.TypeMessageProcessedNotificationMessage, r.Header.Type)
		}
	}
	assert.Equal(t, int32(2), tokens.calls.Load(), "one DAT per broadcast")
}

func TestBroadcastWithoutConnector(t *testing.T) {
	svc, err := New(Config{
		Models: staticModel{m: &infomodel.ConfigurationModel{}},
		Tokens: &countingTokens{},
		Sender: &recordingSender{},
	})
	require.NoError(t, err)
	_, err = svc.BroadcastSelfDescription(context.Background(), []string{"https://broker"})
	assert.ErrorIs(t, err, ErrNoConnector)
}
