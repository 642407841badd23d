package ca

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/localca/internal/config"
	"github.com/wolfeidau/localca/internal/pki"
	"github.com/wolfeidau/localca/internal/store"
	"github.com/wolfeidau/localca/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Issuer signs leaf certificates with the root CA and persists them per domain.
// It is safe for concurrent use; issuance for the same domain is serialized.
type Issuer struct {
	cfg    config.Config
	store  store.CertificateStore
	logger zerolog.Logger
	now    func() time.Time
	locks  domainLocks
}

// NewIssuer validates cfg and returns an Issuer persisting through st.
func NewIssuer(cfg config.Config, st store.CertificateStore, logger zerolog.Logger) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &Issuer{
		cfg:    cfg,
		store:  st,
		logger: logger.With().Str("component", "issuer").Logger(),
		now:    time.Now,
		locks:  domainLocks{locks: map[string]*domainLock{}},
	}, nil
}

// Issue creates a key and certificate for domain, adding extraSANs to the SAN list,
// and overwrites any previous pair stored for that domain.
//
// The root must already exist; otherwise ErrMissingRoot is returned and nothing is written.
func (i *Issuer) Issue(ctx context.Context, domain string, extraSANs []string) (leaf *LeafCertificate, err error) {
	started := time.Now()

	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}

	name, err := store.DirName(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDomain, err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "ca.Issue", trace.WithAttributes(attribute.String("domain", domain)))
	defer func() {
		i.record(ctx, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock := i.locks.lock(name)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signer, err := i.loadSigner()
	if err != nil {
		return nil, err
	}

	caCert, err := signer.GetCACertificate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingRoot, err)
	}

	sans := BuildSANs(domain, extraSANs)

	key, err := pki.GenerateKey(i.cfg.LeafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCryptoEngine, domain, err)
	}

	template, err := pki.NewLeafTemplate(pki.LeafOptions{
		CommonName: domain,
		SANs:       sans,
		PublicKey:  key.Public(),
		Now:        i.now(),
		Validity:   i.cfg.LeafValidity(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCryptoEngine, domain, err)
	}

	der, err := signer.SignCertificate(template)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCryptoEngine, domain, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCryptoEngine, domain, err)
	}

	paths, err := i.store.WriteLeaf(domain, pki.EncodePrivateKey(key), pki.EncodeCertificate(der))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPersistence, domain, err)
	}

	issued := leafFromCertificate(cert, paths.Dir, paths.Key, paths.Cert)

	i.logger.Info().
		Str("domain", domain).
		Strs("sans", issued.SubjectAltNames).
		Str("issuer", caCert.Subject.CommonName).
		Str("path", paths.Dir).
		Time("not_after", issued.NotAfter).
		Msg("certificate issued")

	return &issued, nil
}

func (i *Issuer) loadSigner() (pki.CASigner, error) {
	signer, err := i.store.LoadRootSigner()
	if errors.Is(err, store.ErrRootNotFound) {
		return nil, fmt.Errorf("%w (%s)", ErrMissingRoot, i.store.RootPaths().Key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: root material unreadable: %w", ErrMissingRoot, err)
	}
	return signer, nil
}

func (i *Issuer) record(ctx context.Context, started time.Time, err error) {
	m := telemetry.GetMetrics()
	outcome := Classify(err)
	m.IssuanceTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.IssuanceDuration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// BuildSANs returns domain followed by extras in input order, trimmed, with blanks and
// case-insensitive duplicates removed. The domain is always first.
func BuildSANs(domain string, extras []string) []string {
	seen := make(map[string]bool, len(extras)+1)
	sans := make([]string, 0, len(extras)+1)

	for _, name := range append([]string{domain}, extras...) {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		sans = append(sans, name)
	}

	return sans
}

// Classify maps an error onto a short label used in logs and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingRoot):
		return "missing_root"
	case errors.Is(err, ErrEmptyDomain), errors.Is(err, ErrInvalidDomain):
		return "invalid_domain"
	case errors.Is(err, ErrCryptoEngine):
		return "crypto"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}

// domainLocks hands out one mutex per domain so concurrent issuance for the same
// domain cannot interleave key and certificate writes.
type domainLocks struct {
	mu    sync.Mutex
	locks map[string]*domainLock
}

type domainLock struct {
	mu   sync.Mutex
	refs int
}

func (d *domainLocks) lock(name string) func() {
	d.mu.Lock()
	l, ok := d.locks[name]
	if !ok {
		l = &domainLock{}
		d.locks[name] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, name)
		}
		d.mu.Unlock()
	}
}
