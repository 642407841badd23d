package watcher

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfeidau/localca/internal/pki"
)

// Revision is one observed version of the domain list file.
type Revision struct {
	// ID correlates the log lines of a single revision.
	ID          string
	Path        string
	Exists      bool
	Fingerprint string
	Domains     []string
}

// ReadRevision reads and parses the domain list at path. A missing file is an empty
// revision with Exists false rather than an error.
func ReadRevision(path string) (Revision, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Revision{}, fmt.Errorf("generate revision id: %w", err)
	}

	rev := Revision{ID: id.String(), Path: path}

	// #nosec G304 - the domain list path is operator supplied
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		data = nil
	case err != nil:
		return Revision{}, fmt.Errorf("read domain list %s: %w", path, err)
	default:
		rev.Exists = true
	}

	rev.Fingerprint = pki.FingerprintBytes(data)
	rev.Domains = ParseDomainList(data)

	return rev, nil
}

// ParseDomainList returns the domains in data in file order. Lines are trimmed; blank
// lines and lines starting with '#' are ignored. Later case-insensitive duplicates are dropped.
func ParseDomainList(data []byte) []string {
	var domains []string
	seen := map[string]bool{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		domains = append(domains, line)
	}

	return domains
}
