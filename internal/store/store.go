package store

import (
	"errors"

	"github.com/wolfeidau/localca/internal/pki"
)

// Sentinel errors for common error conditions
var (
	ErrRootNotFound = errors.New("root CA not found")
	ErrLeafNotFound = errors.New("leaf certificate not found")
	ErrInvalidName  = errors.New("invalid domain name for storage")
)

// CertificateStore persists root and leaf key material.
// Private keys are written owner-only; certificates are world-readable.
type CertificateStore interface {
	// EnsureDirs creates the root and certificates directories.
	EnsureDirs() error

	// RootPaths returns where the root key and certificate live.
	RootPaths() RootPaths

	// RootExists reports whether the root private key is on disk.
	RootExists() (bool, error)

	// WriteRoot replaces the root key and certificate. The key is written first.
	WriteRoot(keyPEM, certPEM []byte) (RootPaths, error)

	// ReadRootCertificate returns the PEM-encoded root certificate.
	ReadRootCertificate() ([]byte, error)

	// LoadRootSigner returns a signer holding the root key. The key never leaves the signer.
	LoadRootSigner() (pki.CASigner, error)

	// WriteLeaf replaces the key and certificate for domain. The key is written first.
	WriteLeaf(domain string, keyPEM, certPEM []byte) (LeafPaths, error)

	// ReadLeafCertificate returns the PEM-encoded certificate issued for domain.
	ReadLeafCertificate(domain string) ([]byte, error)

	// List returns the paths of every stored leaf, sorted by directory name.
	List() ([]LeafPaths, error)
}

// RootPaths locates the root key and certificate.
type RootPaths struct {
	Dir  string
	Key  string
	Cert string
}

// LeafPaths locates one leaf's key and certificate.
type LeafPaths struct {
	Name string
	Dir  string
	Key  string
	Cert string
}
