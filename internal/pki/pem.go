package pki

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	blockCertificate = "CERTIFICATE"
	blockRSAKey      = "RSA PRIVATE KEY"
	blockPKCS8Key    = "PRIVATE KEY"
	blockECKey       = "EC PRIVATE KEY"
)

// EncodeCertificate PEM-encodes a DER certificate.
func EncodeCertificate(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  blockCertificate,
		Bytes: der,
	})
}

// EncodePrivateKey PEM-encodes an RSA key in the traditional PKCS#1 form.
func EncodePrivateKey(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  blockRSAKey,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// ParseCertificatePEM decodes the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockCertificate {
		return nil, fmt.Errorf("%w: expected %s block", ErrInvalidPEM, blockCertificate)
	}

	return x509.ParseCertificate(block.Bytes)
}

// ParsePrivateKeyPEM decodes a PKCS#1, PKCS#8 or SEC 1 private key.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no private key block", ErrInvalidPEM)
	}

	switch block.Type {
	case blockRSAKey:
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case blockECKey:
		return x509.ParseECPrivateKey(block.Bytes)
	case blockPKCS8Key:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: unexpected block type %q", ErrInvalidPEM, block.Type)
	}
}

// Fingerprint is the Base58-encoded SHA-256 of the certificate DER.
func Fingerprint(cert *x509.Certificate) string {
	return FingerprintBytes(cert.Raw)
}

// FingerprintBytes is the Base58-encoded SHA-256 of arbitrary content.
func FingerprintBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return base58.Encode(hash[:])
}
