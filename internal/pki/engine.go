package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

const (
	// RootClockSkew backdates root certificates to tolerate clock drift between hosts.
	RootClockSkew = 5 * time.Minute
	// LeafClockSkew backdates leaf certificates.
	LeafClockSkew = time.Minute

	organization = "localca"
)

// SerialNumberLimit is the upper bound (exclusive) for random serial numbers.
var SerialNumberLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// GenerateKey creates an RSA key of the given size.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa %d bits: %w", ErrKeyGeneration, bits, err)
	}
	return key, nil
}

// RandomSerial draws a serial number from crypto/rand.
func RandomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, SerialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: serial number: %w", ErrKeyGeneration, err)
	}
	return serial, nil
}

// CAOptions are options to build a self-signed root CA.
type CAOptions struct {
	CommonName string
	Key        *rsa.PrivateKey
	Now        time.Time
	Validity   time.Duration
}

// NewSelfSignedCA builds and self-signs a root certificate with no path length constraint.
// NotBefore is backdated by RootClockSkew.
func NewSelfSignedCA(opts CAOptions) (*x509.Certificate, error) {
	serial, err := RandomSerial()
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	name := pkix.Name{
		CommonName:   opts.CommonName,
		Organization: []string{organization},
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		NotBefore:             now.Add(-RootClockSkew),
		NotAfter:              now.Add(opts.Validity),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            -1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, opts.Key.Public(), opts.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: self-sign root: %w", ErrSign, err)
	}

	return x509.ParseCertificate(der)
}

// LeafOptions describe an end-entity certificate to be signed by the root.
type LeafOptions struct {
	CommonName string
	SANs       []string
	PublicKey  crypto.PublicKey
	Now        time.Time
	Validity   time.Duration
}

// NewLeafTemplate builds the template for a server/client leaf certificate.
// SANs that parse as IP addresses are placed in IPAddresses, the rest in DNSNames.
// NotAfter is NotBefore plus Validity.
func NewLeafTemplate(opts LeafOptions) (*x509.Certificate, error) {
	serial, err := RandomSerial()
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	notBefore := now.Add(-LeafClockSkew)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: opts.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(opts.Validity),
		PublicKey:             opts.PublicKey,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	for _, name := range opts.SANs {
		if ip := net.ParseIP(strings.Trim(name, "[]")); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
			continue
		}
		template.DNSNames = append(template.DNSNames, name)
	}

	return template, nil
}

// SubjectAltNames returns the DNS and IP SANs of a certificate in encoded order.
func SubjectAltNames(cert *x509.Certificate) []string {
	names := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses))
	names = append(names, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		names = append(names, ip.String())
	}
	return names
}
