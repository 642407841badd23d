package ca

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/localca/internal/config"
	"github.com/wolfeidau/localca/internal/pki"
	"github.com/wolfeidau/localca/internal/store"
	"github.com/wolfeidau/localca/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Manager owns the root CA lifecycle. It creates the root when absent and only
// replaces an existing one when explicitly forced.
type Manager struct {
	cfg    config.Config
	store  store.CertificateStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager persisting through st.
func NewManager(cfg config.Config, st store.CertificateStore, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &Manager{
		cfg:    cfg,
		store:  st,
		logger: logger.With().Str("component", "root").Logger(),
		now:    time.Now,
	}, nil
}

// Initialize ensures a root CA exists.
//
// With force false and a root key on disk this is a no-op returning the existing
// metadata with StatusAlreadyPresent; repeated calls never touch the files.
// Otherwise a new key and self-signed certificate are generated and written, replacing
// any previous root. Replacing the root breaks the trust chain of every leaf issued before.
func (m *Manager) Initialize(ctx context.Context, force bool) (*RootAuthority, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "ca.Initialize")
	defer span.End()

	if err := m.store.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	paths := m.store.RootPaths()

	exists, err := m.store.RootExists()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if exists && !force {
		root, err := m.existing(paths)
		if err != nil {
			return nil, err
		}

		m.logger.Info().
			Str("path", paths.Dir).
			Str("fingerprint", root.Fingerprint).
			Msg("root CA already present")
		m.record(ctx, root.Status)

		return root, nil
	}

	status := StatusCreated
	if exists {
		status = StatusReplaced
		m.logger.Warn().
			Str("path", paths.Dir).
			Msg("force flag set, replacing root CA; previously issued certificates will no longer chain to it")
	}

	key, err := pki.GenerateKey(m.cfg.RootKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCryptoEngine, err)
	}

	cert, err := pki.NewSelfSignedCA(pki.CAOptions{
		CommonName: m.cfg.RootCommonName,
		Key:        key,
		Now:        m.now(),
		Validity:   m.cfg.RootValidity(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCryptoEngine, err)
	}

	paths, err = m.store.WriteRoot(pki.EncodePrivateKey(key), pki.EncodeCertificate(cert.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	root := rootFromCertificate(cert, status, paths.Key, paths.Cert)

	m.logger.Info().
		Str("status", string(status)).
		Str("key", paths.Key).
		Str("cert", paths.Cert).
		Str("fingerprint", root.Fingerprint).
		Int("key_bits", m.cfg.RootKeyBits).
		Time("not_after", root.NotAfter).
		Msg("root CA written")
	m.record(ctx, status)

	return root, nil
}

// existing reads metadata for a root that is already on disk. A key without a readable
// certificate is reported rather than repaired; recovering it requires force.
func (m *Manager) existing(paths store.RootPaths) (*RootAuthority, error) {
	certPEM, err := m.store.ReadRootCertificate()
	if err != nil {
		return nil, fmt.Errorf("%w: root key present at %s but certificate unreadable, re-run with force: %w", ErrPersistence, paths.Key, err)
	}

	cert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrPersistence, paths.Cert, err)
	}
	if _, err := m.store.LoadRootSigner(); err != nil {
		return nil, fmt.Errorf("%w: root key %s does not match certificate %s, re-run with force: %w", ErrPersistence, paths.Key, paths.Cert, err)
	}

	return rootFromCertificate(cert, StatusAlreadyPresent, paths.Key, paths.Cert), nil
}

func (m *Manager) record(ctx context.Context, status InitStatus) {
	telemetry.GetMetrics().RootInitTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
