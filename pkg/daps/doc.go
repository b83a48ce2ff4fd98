// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package daps implements the connector side of the Dynamic Attribute
Provisioning Service (DAPS) protocol.

# Token Acquisition

[TokenManager] proves the connector's identity to the DAPS and obtains a
Dynamic Attribute Token (DAT):

 1. The connector id is derived from the certificate's Subject Key Identifier
    and Authority Key Identifier ("<SKI>keyid:<AKI>", see [ConnectorID]).
 2. A client assertion JWT is signed with the connector's private key.
 3. The assertion is exchanged at "<daps>/v2/token" using the OAuth 2.0
    client credentials grant with a jwt-bearer client assertion.

Failures are typed: [ErrMissingCertExtension] is permanent for the
certificate, [*TokenAcquisitionError] classifies transport, status and
response problems. Tokens are not cached and requests are not retried unless
the manager is wrapped:

	var provider daps.TokenProvider = daps.NewTokenManager(daps.AcquirerConfig{
		URL:      "https://daps.example.com",
		Identity: container,
		Clients:  clients,
	})
	provider = daps.NewRetryingProvider(provider, nil)
	provider = daps.NewCachingProvider(provider, time.Minute)

# Token Validation

[Validator] verifies the DAT attached to inbound messages. The DAPS signing
key is fetched from its JWKS endpoint on first use by [KeyProvider] and kept
until [KeyProvider.Refresh] is called. Rejection messages are never
verified.

# References

  - IDS DAPS: https://github.com/International-Data-Spaces-Association/omejdn-daps
  - RFC 7523 JWT Profile for OAuth 2.0 Client Authentication
*/
package daps
