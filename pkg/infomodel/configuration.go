package infomodel

import (
	"encoding/json"
	"fmt"
)

// DeployMode is the deployment mode of a connector.
type DeployMode string

// Deployment modes. Token verification is skipped in TEST_DEPLOYMENT.
const (
	DeployModeTest       DeployMode = "idsc:TEST_DEPLOYMENT"
	DeployModeProductive DeployMode = "idsc:PRODUCTIVE_DEPLOYMENT"
)

func (d DeployMode) MarshalJSON() ([]byte, error) { return marshalRef(string(d)) }

func (d *DeployMode) UnmarshalJSON(data []byte) error {
	s, err := unmarshalRef(data)
	*d = DeployMode(s)
	return err
}

// PlainLiteral is a language tagged string.
type PlainLiteral struct {
	Value    string `json:"@value"`
	Language string `json:"@language,omitempty"`
}

// Endpoint is a connector endpoint.
type Endpoint struct {
	Type      string    `json:"@type,omitempty"`
	ID        string    `json:"@id,omitempty"`
	AccessURL Reference `json:"ids:accessURL,omitempty"`
}

// Connector is the self-description of a connector.
//
// Resource catalogs are kept as raw JSON and passed through unchanged.
type Connector struct {
	Context              map[string]string `json:"@context,omitempty"`
	Type                 string            `json:"@type"`
	ID                   string            `json:"@id" validate:"required"`
	Title                []PlainLiteral    `json:"ids:title,omitempty"`
	Description          []PlainLiteral    `json:"ids:description,omitempty"`
	Curator              Reference         `json:"ids:curator,omitempty"`
	Maintainer           Reference         `json:"ids:maintainer,omitempty"`
	OutboundModelVersion string            `json:"ids:outboundModelVersion" validate:"required"`
	InboundModelVersions []string          `json:"ids:inboundModelVersion,omitempty"`
	SecurityProfile      Reference         `json:"ids:securityProfile,omitempty"`
	HasDefaultEndpoint   *Endpoint         `json:"ids:hasDefaultEndpoint,omitempty"`
	ResourceCatalog      []json.RawMessage `json:"ids:resourceCatalog,omitempty"`
}

// ConfigurationModel is the configuration of the local connector.
type ConfigurationModel struct {
	Context              map[string]string `json:"@context,omitempty"`
	Type                 string            `json:"@type"`
	ID                   string            `json:"@id,omitempty"`
	ConnectorDeployMode  DeployMode        `json:"ids:connectorDeployMode" validate:"required,oneof=idsc:TEST_DEPLOYMENT idsc:PRODUCTIVE_DEPLOYMENT"`
	ConnectorStatus      Reference         `json:"ids:connectorStatus,omitempty"`
	LogLevel             Reference         `json:"ids:configurationModelLogLevel,omitempty"`
	KeyStore             Reference         `json:"ids:keyStore" validate:"required"`
	TrustStore           Reference         `json:"ids:trustStore" validate:"required"`
	ConnectorDescription *Connector        `json:"ids:connectorDescription" validate:"required"`
}

// IsTestDeployment reports whether the connector runs in test mode.
func (c *ConfigurationModel) IsTestDeployment() bool {
	return c != nil && c.ConnectorDeployMode == DeployModeTest
}

// ConnectorID returns the id of the connector description.
func (c *ConfigurationModel) ConnectorID() string {
	if c == nil || c.ConnectorDescription == nil {
		return ""
	}
	return c.ConnectorDescription.ID
}

// ModelVersion returns the outbound information model version.
func (c *ConfigurationModel) ModelVersion() string {
	if c == nil || c.ConnectorDescription == nil {
		return ""
	}
	return c.ConnectorDescription.OutboundModelVersion
}

// Clone returns a deep copy of the model.
func (c *ConfigurationModel) Clone() (*ConfigurationModel, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("cloning configuration model: %w", err)
	}
	var out ConfigurationModel
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cloning configuration model: %w", err)
	}
	return &out, nil
}

// UnmarshalConfigurationModel decodes a configuration model document.
func UnmarshalConfigurationModel(data []byte) (*ConfigurationModel, error) {
	var m ConfigurationModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding configuration model: %w", err)
	}
	return &m, nil
}

// SelfDescription serializes the connector description with a JSON-LD context.
func SelfDescription(c *Connector) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("no connector description")
	}
	desc := *c
	if desc.Context == nil {
		desc.Context = DefaultContext
	}
	if desc.Type == "" {
		desc.Type = "ids:BaseConnector"
	}
	return json.Marshal(&desc)
}
