// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package keystore loads the cryptographic identity of a connector.

An identity consists of a key store, holding the connector's private key and
certificate under an alias, and a separate trust store holding the trust
anchors of the data space. Both are referenced by the [infomodel.ConfigurationModel]
and opened with independent passwords.

# Store Formats

  - PKCS#12 (.p12/.pfx), as produced by keytool or openssl
  - PEM bundles (private key plus certificates), mainly for development

# Store Lookup

A store location is looked up in the bundled resources first (see
[WithResources]) and then on the filesystem. Before the resource lookup
backslashes are converted to slashes and leading "/", "\" and "." characters
are stripped, so "file:///conf/keystore.p12" resolves to the resource
"conf/keystore.p12".

# Trust Verification

[TrustVerifier] merges the custom trust anchors with the platform roots:
server certificates are verified against the trust store first and against
the system roots only if that fails. Client certificates are always verified
against the system roots.

	material, err := keystore.Load(model, keystore.Credentials{
		KeyStorePassword:   "password",
		TrustStorePassword: "password",
		KeyAlias:           "1",
	})
	if err != nil {
		// err wraps ErrInitialization
	}
	tlsConfig := material.TrustVerifier().ClientTLSConfig(material.TLSCertificate())

Every failure is returned as an [*InitializationError] carrying the cause.
*/
package keystore
