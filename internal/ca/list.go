package ca

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/localca/internal/pki"
	"github.com/wolfeidau/localca/internal/store"
)

// List returns metadata for every leaf in st, sorted by directory name.
// Certificates that cannot be read or parsed are logged and skipped.
func List(st store.CertificateStore) ([]LeafCertificate, error) {
	entries, err := st.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	leaves := make([]LeafCertificate, 0, len(entries))
	for _, paths := range entries {
		certPEM, err := st.ReadLeafCertificate(store.DomainFromDirName(paths.Name))
		if err != nil {
			log.Warn().Err(err).Str("path", paths.Cert).Msg("skipping unreadable certificate")
			continue
		}

		cert, err := pki.ParseCertificatePEM(certPEM)
		if err != nil {
			log.Warn().Err(err).Str("path", paths.Cert).Msg("skipping invalid certificate")
			continue
		}

		leaves = append(leaves, leafFromCertificate(cert, paths.Dir, paths.Key, paths.Cert))
	}

	return leaves, nil
}
