package daps

import (
	"crypto/x509"
	"fmt"
	"strings"
)

// ConnectorID derives the DAPS client id of a connector certificate:
// the upper-case, colon-terminated SKI octets, "keyid:", and the
// colon-separated AKI octets, e.g. "AA:BB:keyid:CC:DD".
func ConnectorID(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("%w: no certificate", ErrMissingCertExtension)
	}
	if len(cert.AuthorityKeyId) == 0 {
		return "", fmt.Errorf("%w: authority key identifier", ErrMissingCertExtension)
	}
	if len(cert.SubjectKeyId) == 0 {
		return "", fmt.Errorf("%w: subject key identifier", ErrMissingCertExtension)
	}
	ski := colonHex(cert.SubjectKeyId)
	aki := colonHex(cert.AuthorityKeyId)
	return ski + "keyid:" + strings.TrimSuffix(aki, ":"), nil
}

func colonHex(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		fmt.Fprintf(&sb, "%02X:", c)
	}
	return sb.String()
}
