package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	DefaultHome             = "/data"
	DefaultRootKeyBits      = 4096
	DefaultLeafKeyBits      = 2048
	DefaultRootValidityDays = 3650
	DefaultLeafValidityDays = 825
	DefaultRootCommonName   = "localca Root"

	// MinKeyBits is the smallest RSA modulus accepted. Tests rely on it being 1024.
	MinKeyBits = 1024
)

// ErrInvalid is returned by Validate when a setting is unusable.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the resolved paths and numbers used by every CA component.
// It is built once at startup; nothing below the CLI reads the environment.
type Config struct {
	RootDir          string
	CertsDir         string
	RootKeyBits      int
	LeafKeyBits      int
	RootValidityDays int
	LeafValidityDays int
	RootCommonName   string
}

// Default returns a Config rooted at home using the default key sizes and validity periods.
func Default(home string) Config {
	if home == "" {
		home = DefaultHome
	}

	return Config{
		RootDir:          filepath.Join(home, "rootCA"),
		CertsDir:         filepath.Join(home, "certificates"),
		RootKeyBits:      DefaultRootKeyBits,
		LeafKeyBits:      DefaultLeafKeyBits,
		RootValidityDays: DefaultRootValidityDays,
		LeafValidityDays: DefaultLeafValidityDays,
		RootCommonName:   DefaultRootCommonName,
	}
}

// Validate checks that every field is set to something usable.
func (c Config) Validate() error {
	switch {
	case c.RootDir == "":
		return fmt.Errorf("%w: root directory is empty", ErrInvalid)
	case c.CertsDir == "":
		return fmt.Errorf("%w: certificates directory is empty", ErrInvalid)
	case c.RootKeyBits < MinKeyBits:
		return fmt.Errorf("%w: root key size %d is below %d bits", ErrInvalid, c.RootKeyBits, MinKeyBits)
	case c.LeafKeyBits < MinKeyBits:
		return fmt.Errorf("%w: leaf key size %d is below %d bits", ErrInvalid, c.LeafKeyBits, MinKeyBits)
	case c.RootValidityDays <= 0:
		return fmt.Errorf("%w: root validity must be positive, got %d days", ErrInvalid, c.RootValidityDays)
	case c.LeafValidityDays <= 0:
		return fmt.Errorf("%w: leaf validity must be positive, got %d days", ErrInvalid, c.LeafValidityDays)
	case c.RootCommonName == "":
		return fmt.Errorf("%w: root common name is empty", ErrInvalid)
	}

	return nil
}

// RootValidity is the root certificate lifetime.
func (c Config) RootValidity() time.Duration {
	return days(c.RootValidityDays)
}

// LeafValidity is the leaf certificate lifetime.
func (c Config) LeafValidity() time.Duration {
	return days(c.LeafValidityDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
