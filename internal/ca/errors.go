package ca

import "errors"

// Error classes. Returned errors wrap one of these so callers can use errors.Is,
// and carry the domain or path that failed in their message.
var (
	// ErrConfiguration indicates unusable settings or directories that cannot be created
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingRoot indicates issuance was attempted without loadable root material
	ErrMissingRoot = errors.New("root CA missing, run init first")
	// ErrCryptoEngine indicates key generation or certificate construction failed
	ErrCryptoEngine = errors.New("certificate engine failure")
	// ErrPersistence indicates a filesystem read or write failed
	ErrPersistence = errors.New("persistence failure")
	// ErrEmptyDomain indicates a blank domain was passed to Issue
	ErrEmptyDomain = errors.New("domain must not be empty")
	// ErrInvalidDomain indicates a domain that cannot be mapped onto the certificate store
	ErrInvalidDomain = errors.New("invalid domain")
)
