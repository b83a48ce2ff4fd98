// Package configmanager implements the configuration manager integration:
// configuration hot updates, broker announcements triggered by the manager
// and registration of the connector at a manager.
package configmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sirosfoundation/go-ids/pkg/infomodel"
	"github.com/sirosfoundation/go-ids/pkg/transport"
)

// BasePath is where the routes are mounted.
const BasePath = "/api/ids/configmanager"

// maxBodySize bounds request bodies.
const maxBodySize = 4 << 20

// Updater applies a new configuration model. [*configuration.Container]
// implements it.
type Updater interface {
	Update(ctx context.Context, model *infomodel.ConfigurationModel) error
}

// BrokerService announces the connector at brokers. [*broker.Service]
// implements it.
type BrokerService interface {
	UpdateSelfDescription(ctx context.Context, brokerURL string) (*transport.Reply, error)
	Unregister(ctx context.Context, brokerURL string) (*transport.Reply, error)
}

// KeyRefresher reloads the DAPS signing key. [*daps.KeyProvider] implements it.
type KeyRefresher interface {
	Refresh(ctx context.Context) error
}

// UpdateMessage is the body of a configuration update.
type UpdateMessage struct {
	// ConnectorJSONLD is the serialized ConfigurationModel.
	ConnectorJSONLD string `json:"connectorJsonLd"`
	JWT             string `json:"jwt,omitempty"`
}

// Handler serves the configuration manager routes.
type Handler struct {
	updater Updater
	brokers BrokerService
	keys    KeyRefresher
	logger  *slog.Logger
}

// NewHandler creates a handler. brokers and keys may be nil, which disables
// the corresponding routes.
func NewHandler(updater Updater, brokers BrokerService, keys KeyRefresher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{updater: updater, brokers: brokers, keys: keys, logger: logger}
}

// Routes returns the router to mount at [BasePath].
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/config", h.handleConfig)
	r.Post("/update", h.handleBrokerUpdate)
	r.Post("/unregister", h.handleBrokerUnregister)
	r.Post("/keys/refresh", h.handleKeysRefresh)
	return r
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		text(w, "Could not read the request!", http.StatusBadRequest)
		return
	}
	model, err := decodeModel(body)
	if err != nil {
		h.logger.Warn("received configuration could not be decoded", "error", err)
		text(w, "Could not deserialize the received configuration to ConfigurationModel class!", http.StatusBadRequest)
		return
	}
	h.logger.Info("received configuration", "configuration", model.ID, "connector", model.ConnectorID())

	if err := h.updater.Update(r.Context(), model); err != nil {
		h.logger.Error("configuration update rejected", "error", err)
		text(w, "Could not load Key- and Truststore with new configuration, rejected Config!", http.StatusBadRequest)
		return
	}
	text(w, "Received and applied new configuration!", http.StatusOK)
}

// decodeModel accepts an [UpdateMessage] or a bare ConfigurationModel.
func decodeModel(body []byte) (*infomodel.ConfigurationModel, error) {
	var msg UpdateMessage
	if err := json.Unmarshal(body, &msg); err == nil && msg.ConnectorJSONLD != "" {
		body = []byte(msg.ConnectorJSONLD)
	}
	model, err := infomodel.UnmarshalConfigurationModel(body)
	if err != nil {
		return nil, err
	}
	if model.ConnectorDescription == nil {
		return nil, errors.New("configuration has no connector description")
	}
	return model, nil
}

func (h *Handler) handleBrokerUpdate(w http.ResponseWriter, r *http.Request) {
	h.brokerCall(w, r, "update", func(ctx context.Context, url string) (*transport.Reply, error) {
		return h.brokers.UpdateSelfDescription(ctx, url)
	},
		"Connector self declaration is updated successfully", "Update at the broker failed")
}

func (h *Handler) handleBrokerUnregister(w http.ResponseWriter, r *http.Request) {
	h.brokerCall(w, r, "unregister", func(ctx context.Context, url string) (*transport.Reply, error) {
		return h.brokers.Unregister(ctx, url)
	},
		"Connector is unregistered successfully", "Unregistration at the broker failed")
}

func (h *Handler) brokerCall(w http.ResponseWriter, r *http.Request, op string,
	call func(context.Context, string) (*transport.Reply, error), ok, failed string) {
	if h.brokers == nil {
		text(w, "No broker service configured", http.StatusNotImplemented)
		return
	}
	brokerURL, err := brokerID(r)
	if err != nil || brokerURL == "" {
		text(w, "Missing broker id", http.StatusBadRequest)
		return
	}
	if _, err := call(r.Context(), brokerURL); err != nil {
		h.logger.Error("broker request failed", "op", op, "url", brokerURL, "error", err)
		text(w, failed, http.StatusInternalServerError)
		return
	}
	text(w, ok, http.StatusOK)
}

// brokerID takes the broker from the brokerId query parameter or, failing
// that, from the request body.
func brokerID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("brokerId"); id != "" {
		return id, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (h *Handler) handleKeysRefresh(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		text(w, "No key provider configured", http.StatusNotImplemented)
		return
	}
	if err := h.keys.Refresh(r.Context()); err != nil {
		h.logger.Error("DAPS key refresh failed", "error", err)
		text(w, "Refreshing the DAPS key failed", http.StatusBadGateway)
		return
	}
	text(w, "DAPS key refreshed", http.StatusOK)
}

func text(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// RegisterRequest is sent to a configuration manager to register the connector.
type RegisterRequest struct {
	Endpoint string `json:"endpoint"`
}

// Sender posts raw request bodies. [*transport.HTTPSClient] implements it.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte, contentType string, headers http.Header) (*transport.Response, error)
}

// Register announces ownEndpoint to the configuration manager at managerURL
// and returns the manager's answer.
func Register(ctx context.Context, sender Sender, managerURL, ownEndpoint string) (string, error) {
	body, err := json.Marshal(RegisterRequest{Endpoint: ownEndpoint})
	if err != nil {
		return "", err
	}
	resp, err := sender.Send(ctx, managerURL, body, "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("registering at configuration manager: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("registering at configuration manager: %w", &transport.StatusError{StatusCode: resp.StatusCode, Body: resp.Body})
	}
	return string(resp.Body), nil
}
