// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goids implements the core of an International Data Spaces (IDS)
connector: identity, configuration, DAPS authentication and message
dispatch.

# Overview

go-ids lets a Go service take part in an IDS data space. A connector holds a
certificate-backed identity, obtains Dynamic Attribute Tokens (DATs) from a
Dynamic Attribute Provisioning Service (DAPS) for every outbound message,
verifies the DATs of inbound messages, and routes those messages to handlers
by their information model type.

# Specifications Implemented

  - IDS Information Model 4.x message headers (JSON-LD)
  - IDS multipart message transport (header/payload form parts)
  - DAPS v2 token request: OAuth 2.0 client credentials with JWT bearer client assertion (RFC 7523)
  - JSON Web Key Set (RFC 7517) for DAPS signing key discovery

# Package Structure

The library is organized into the following packages:

	github.com/sirosfoundation/go-ids/pkg/infomodel     - IDS message headers, ConfigurationModel, builders
	github.com/sirosfoundation/go-ids/pkg/keystore      - PKCS#12/PEM key and trust store loading
	github.com/sirosfoundation/go-ids/pkg/configuration - Hot-swappable configuration and identity holder
	github.com/sirosfoundation/go-ids/pkg/daps          - DAT acquisition, caching and validation
	github.com/sirosfoundation/go-ids/pkg/multipart     - IDS multipart wire format
	github.com/sirosfoundation/go-ids/pkg/dispatch      - Filter chain, handler registry, rejections
	github.com/sirosfoundation/go-ids/pkg/transport     - HTTPS client bound to the connector identity
	github.com/sirosfoundation/go-ids/pkg/broker        - IDS broker communication

The ids-connector command (cmd/ids-connector) wires these into a server.

# Quick Start

To receive IDS messages:

	container, _ := configuration.New(model, configuration.Config{Credentials: creds})

	validator := daps.NewValidator(daps.ValidatorConfig{
	    Keys: daps.NewKeyProvider(daps.KeyProviderConfig{URL: "https://daps.example.com/jwks.json"}),
	})
	dispatcher, _ := dispatch.New(dispatch.Config{
	    Models:      container,
	    TokenFilter: dispatch.NewTokenFilter(validator, container, nil),
	})
	_ = dispatcher.Registry().Register(infomodel.TypeArtifactRequestMessage, handler)

	http.HandleFunc("/api/ids/data", func(w http.ResponseWriter, r *http.Request) {
	    resp := dispatcher.ProcessWire(r.Context(), r.Body, r.Header.Get("Content-Type"))
	    body, contentType, _ := resp.Serialize()
	    w.Header().Set("Content-Type", contentType)
	    w.WriteHeader(resp.StatusCode)
	    w.Write(body)
	})

# Security Features

## Identity

  - PKCS#12 and PEM key stores, selected by alias
  - Custom trust anchors merged with the platform roots
  - Atomic replacement of model and identity on configuration updates

## Dynamic Attribute Tokens

  - Client assertions signed with RS256, ES256/384/512 or EdDSA depending on the key
  - Client id derived from the certificate's SKI and AKI extensions
  - Signature, key id and validity window verification (instant or date precision)

# References

  - International Data Spaces Association: https://internationaldataspaces.org/
  - IDS Information Model: https://github.com/International-Data-Spaces-Association/InformationModel
  - IDS-G DAPS: https://github.com/International-Data-Spaces-Association/IDS-G

# License

BSD-2-Clause License
*/
package goids
