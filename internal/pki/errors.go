package pki

import "errors"

var (
	// ErrInvalidPEM indicates the input holds no PEM block of the expected type
	ErrInvalidPEM = errors.New("invalid PEM data")
	// ErrUnsupportedKey indicates a private key type other than RSA or ECDSA
	ErrUnsupportedKey = errors.New("unsupported private key type")
	// ErrKeyMismatch indicates a certificate does not belong to the private key it was paired with
	ErrKeyMismatch = errors.New("public keys do not match")
	// ErrNotCA indicates the issuer certificate lacks the CA basic constraint
	ErrNotCA = errors.New("certificate is not a CA")
	// ErrKeyGeneration indicates the random source or key generator failed
	ErrKeyGeneration = errors.New("key generation failed")
	// ErrSign indicates certificate creation or signing failed
	ErrSign = errors.New("certificate signing failed")
)
