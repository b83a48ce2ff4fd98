package keystore

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	headerFriendlyName = "friendlyName"
	headerLocalKeyID   = "localKeyId"
)

func pemBlocks(data []byte) []*pem.Block {
	var blocks []*pem.Block
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return blocks
		}
		blocks = append(blocks, block)
	}
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

func isKeyBlock(b *pem.Block) bool {
	return b.Type == "PRIVATE KEY" || b.Type == "RSA PRIVATE KEY" || b.Type == "EC PRIVATE KEY"
}

func pkcs12Error(err error) error {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return fmt.Errorf("%w: %w", ErrIncorrectPassword, err)
	}
	return fmt.Errorf("decoding PKCS#12 store: %w", err)
}

// decodeKeyStore selects the key entry for alias and its certificate chain.
func decodeKeyStore(data []byte, password, alias string) (crypto.Signer, *x509.Certificate, []*x509.Certificate, error) {
	if isPEM(data) {
		return selectEntry(pemBlocks(data), alias)
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err == nil {
		return chainEntry(key, append([]*x509.Certificate{cert}, caCerts...))
	}
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, nil, nil, pkcs12Error(err)
	}

	// Stores with several key entries are resolved by friendlyName.
	blocks, pemErr := pkcs12.ToPEM(data, password) //nolint:staticcheck // only ToPEM exposes bag attributes
	if pemErr != nil {
		return nil, nil, nil, pkcs12Error(err)
	}
	return selectEntry(blocks, alias)
}

func chainEntry(key any, certs []*x509.Certificate) (crypto.Signer, *x509.Certificate, []*x509.Certificate, error) {
	signer, err := asSigner(key)
	if err != nil {
		return nil, nil, nil, err
	}
	for i, cert := range certs {
		if publicKeyMatches(cert, signer) {
			chain := append(append([]*x509.Certificate(nil), certs[:i]...), certs[i+1:]...)
			return signer, cert, chain, nil
		}
	}
	return nil, nil, nil, ErrNoCertificate
}

func selectEntry(blocks []*pem.Block, alias string) (crypto.Signer, *x509.Certificate, []*x509.Certificate, error) {
	var keys []*pem.Block
	for _, b := range blocks {
		if isKeyBlock(b) {
			keys = append(keys, b)
		}
	}
	if len(keys) == 0 {
		return nil, nil, nil, ErrNoPrivateKey
	}

	keyBlock, err := selectKey(keys, alias)
	if err != nil {
		return nil, nil, nil, err
	}

	signer, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, nil, err
	}

	var leaf *x509.Certificate
	var chain []*x509.Certificate
	keyID := keyBlock.Headers[headerLocalKeyID]
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing certificate: %w", err)
		}
		if leaf == nil && matchesKey(cert, b, keyID, signer) {
			leaf = cert
			continue
		}
		chain = append(chain, cert)
	}
	if leaf == nil {
		return nil, nil, nil, ErrNoCertificate
	}

	return signer, leaf, chain, nil
}

func selectKey(keys []*pem.Block, alias string) (*pem.Block, error) {
	if alias != "" {
		for _, k := range keys {
			if strings.EqualFold(k.Headers[headerFriendlyName], alias) {
				return k, nil
			}
		}
	}
	// Stores without aliases (PEM, openssl exports) carry a single key.
	if len(keys) == 1 && (alias == "" || keys[0].Headers[headerFriendlyName] == "") {
		return keys[0], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrAliasNotFound, alias)
}

func matchesKey(cert *x509.Certificate, b *pem.Block, keyID string, signer crypto.Signer) bool {
	if keyID != "" && b.Headers[headerLocalKeyID] == keyID {
		return true
	}
	return publicKeyMatches(cert, signer)
}

func publicKeyMatches(cert *x509.Certificate, signer crypto.Signer) bool {
	pub, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	return ok && pub.Equal(signer.Public())
}

func asSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
}

// parsePrivateKey accepts PKCS#8, PKCS#1 and SEC 1 encodings.
// pkcs12.ToPEM labels PKCS#1 and SEC 1 keys as "PRIVATE KEY".
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return asSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unrecognized key encoding", ErrUnsupportedKey)
}

// decodeTrustStore returns every certificate in the store. PKCS#12 stores
// are read as Java trust stores first, then as key stores whose certificates
// all become anchors.
func decodeTrustStore(data []byte, password string) ([]*x509.Certificate, error) {
	if isPEM(data) {
		var anchors []*x509.Certificate
		for _, b := range pemBlocks(data) {
			if b.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing trust anchor: %w", err)
			}
			anchors = append(anchors, cert)
		}
		return anchors, nil
	}

	anchors, err := pkcs12.DecodeTrustStore(data, password)
	if err == nil {
		return anchors, nil
	}
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, pkcs12Error(err)
	}
	_, cert, caCerts, chainErr := pkcs12.DecodeChain(data, password)
	if chainErr != nil {
		return nil, pkcs12Error(err)
	}
	return append([]*x509.Certificate{cert}, caCerts...), nil
}
