package pki

import (
	"crypto/x509"
)

// CASigner signs certificate templates with the root CA key.
// The key stays inside the implementation; callers only see the CA certificate.
type CASigner interface {
	// SignCertificate signs a certificate template and returns the DER-encoded certificate bytes.
	// The template must be fully populated (subject, validity, public key, extensions).
	SignCertificate(template *x509.Certificate) ([]byte, error)

	// GetCACertificate returns the CA certificate used as the issuer of signed certificates.
	GetCACertificate() (*x509.Certificate, error)
}
