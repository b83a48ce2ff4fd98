// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS transport of the connector.

# TLS Configuration

Clients use TLS 1.2 or 1.3. For TLS 1.2, the following cipher suites are
offered:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

Server certificates are verified against the connector trust store first
and the system roots second. The client presents the connector certificate.

# Client Usage

[ClientProvider] owns the HTTP client and rebuilds it when the connector
configuration changes:

	clients := transport.NewClientProvider(container.Identity(), nil, logger)
	container.Subscribe(clients)

	client := transport.NewHTTPSClient(clients, "")
	reply, err := client.SendMessage(ctx, "https://broker.example.com/infrastructure", header, payload)

# Server Usage

[ServerTLSConfig] resolves the server certificate from the current identity
on every handshake.

# References

  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
  - TLS 1.2 RFC 5246: https://datatracker.ietf.org/doc/html/rfc5246
*/
package transport
