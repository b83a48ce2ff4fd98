// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package infomodel implements the structural contract of IDS protocol messages.

It does not implement JSON-LD semantics. Messages are mapped to and from the
compact JSON-LD form used on the wire by IDS connectors: typed objects carry an
"@type" and "@id", references are serialized as {"@id": "..."} objects and
timestamps as typed literals.

# Messages

Build a header for an outbound message:

	msg := infomodel.NewMessage(infomodel.TypeDescriptionRequestMessage,
		infomodel.WithIssuer(connector.ID),
		infomodel.WithModelVersion(connector.OutboundModelVersion),
		infomodel.WithSecurityToken(infomodel.NewJWT(dat)),
	)

Parse an inbound header:

	header, err := infomodel.UnmarshalMessage(data)

# Configuration

[ConfigurationModel] describes the local connector: deploy mode, key and trust
store locations and the self-description ([Connector]).

# References

  - IDS Information Model: https://github.com/International-Data-Spaces-Association/InformationModel
*/
package infomodel
