package ca

import (
	"crypto/x509"
	"time"

	"github.com/wolfeidau/localca/internal/pki"
)

// InitStatus describes what Initialize did.
type InitStatus string

const (
	StatusCreated        InitStatus = "created"
	StatusAlreadyPresent InitStatus = "already-present"
	StatusReplaced       InitStatus = "replaced"
)

// RootAuthority is the metadata of the active root CA. It never carries key material.
type RootAuthority struct {
	Status       InitStatus `json:"status" yaml:"status"`
	KeyPath      string     `json:"key_path" yaml:"key_path"`
	CertPath     string     `json:"cert_path" yaml:"cert_path"`
	CommonName   string     `json:"common_name" yaml:"common_name"`
	SerialNumber string     `json:"serial_number" yaml:"serial_number"`
	NotBefore    time.Time  `json:"not_before" yaml:"not_before"`
	NotAfter     time.Time  `json:"not_after" yaml:"not_after"`
	Fingerprint  string     `json:"fingerprint" yaml:"fingerprint"`
}

// LeafCertificate is the metadata of an issued leaf. Key bytes stay on disk.
type LeafCertificate struct {
	CommonName      string    `json:"common_name" yaml:"common_name"`
	SubjectAltNames []string  `json:"subject_alt_names" yaml:"subject_alt_names"`
	Issuer          string    `json:"issuer" yaml:"issuer"`
	SerialNumber    string    `json:"serial_number" yaml:"serial_number"`
	NotBefore       time.Time `json:"not_before" yaml:"not_before"`
	NotAfter        time.Time `json:"not_after" yaml:"not_after"`
	Fingerprint     string    `json:"fingerprint" yaml:"fingerprint"`
	Dir             string    `json:"dir" yaml:"dir"`
	KeyPath         string    `json:"key_path" yaml:"key_path"`
	CertPath        string    `json:"cert_path" yaml:"cert_path"`
}

// DaysRemaining is the whole number of days until NotAfter, negative once expired.
func (l LeafCertificate) DaysRemaining(now time.Time) int {
	return int(l.NotAfter.Sub(now).Hours() / 24)
}

// Expired reports whether the certificate is past NotAfter.
func (l LeafCertificate) Expired(now time.Time) bool {
	return now.After(l.NotAfter)
}

func rootFromCertificate(cert *x509.Certificate, status InitStatus, keyPath, certPath string) *RootAuthority {
	return &RootAuthority{
		Status:       status,
		KeyPath:      keyPath,
		CertPath:     certPath,
		CommonName:   cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		Fingerprint:  pki.Fingerprint(cert),
	}
}

func leafFromCertificate(cert *x509.Certificate, dir, keyPath, certPath string) LeafCertificate {
	return LeafCertificate{
		CommonName:      cert.Subject.CommonName,
		SubjectAltNames: pki.SubjectAltNames(cert),
		Issuer:          cert.Issuer.CommonName,
		SerialNumber:    cert.SerialNumber.Text(16),
		NotBefore:       cert.NotBefore,
		NotAfter:        cert.NotAfter,
		Fingerprint:     pki.Fingerprint(cert),
		Dir:             dir,
		KeyPath:         keyPath,
		CertPath:        certPath,
	}
}
