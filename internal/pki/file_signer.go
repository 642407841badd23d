package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"os"
)

// FileSigner implements CASigner using a CA private key stored in a file.
type FileSigner struct {
	caKey  crypto.Signer
	caCert *x509.Certificate
}

var _ CASigner = (*FileSigner)(nil)

// NewFileSigner creates a new FileSigner from PEM-encoded key and certificate files.
// The key may be PKCS#1, PKCS#8 or SEC 1 encoded; the certificate must be a CA.
func NewFileSigner(caKeyPath, caCertPath string) (*FileSigner, error) {
	// #nosec G304 - paths come from the resolved configuration
	keyData, err := os.ReadFile(caKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key file: %w", err)
	}

	// #nosec G304
	certData, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert file: %w", err)
	}

	return NewSigner(keyData, certData)
}

// NewSigner creates a FileSigner from PEM bytes already in memory.
func NewSigner(keyPEM, certPEM []byte) (*FileSigner, error) {
	caKey, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}

	caCert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	if !caCert.IsCA {
		return nil, ErrNotCA
	}

	if err := verifyCertKeyPair(caCert, caKey); err != nil {
		return nil, fmt.Errorf("CA key and certificate do not match: %w", err)
	}

	return &FileSigner{
		caKey:  caKey,
		caCert: caCert,
	}, nil
}

// SignCertificate signs a certificate template using the file-based CA private key.
// Returns DER-encoded certificate bytes.
func (s *FileSigner) SignCertificate(template *x509.Certificate) ([]byte, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, s.caCert, template.PublicKey, s.caKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSign, err)
	}
	return der, nil
}

// GetCACertificate returns the CA certificate.
func (s *FileSigner) GetCACertificate() (*x509.Certificate, error) {
	return s.caCert, nil
}

// verifyCertKeyPair checks that a certificate's public key matches a private key
func verifyCertKeyPair(cert *x509.Certificate, key crypto.Signer) error {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported private key type %T", key)
	}

	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}

	return nil
}
