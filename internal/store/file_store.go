package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/localca/internal/pki"
)

const (
	rootKeyFile  = "rootCA.key"
	rootCertFile = "rootCA.crt"

	privateFileMode = 0600
	publicFileMode  = 0644
	rootDirMode     = 0700
	certsDirMode    = 0755

	wildcardPrefix = "_wildcard"
)

// FileStore keeps key material on the local filesystem:
//
//	<root-dir>/rootCA.key
//	<root-dir>/rootCA.crt
//	<certs-dir>/<domain>/<domain>.key
//	<certs-dir>/<domain>/<domain>.crt
type FileStore struct {
	rootDir  string
	certsDir string
}

var _ CertificateStore = (*FileStore)(nil)

// NewFileStore creates a store over the given directories. Nothing is created until written.
func NewFileStore(rootDir, certsDir string) *FileStore {
	return &FileStore{rootDir: rootDir, certsDir: certsDir}
}

// EnsureDirs creates the root directory (0700) and certificates directory (0755).
func (s *FileStore) EnsureDirs() error {
	if err := os.MkdirAll(s.rootDir, rootDirMode); err != nil {
		return fmt.Errorf("create root directory %s: %w", s.rootDir, err)
	}
	if err := os.MkdirAll(s.certsDir, certsDirMode); err != nil {
		return fmt.Errorf("create certificates directory %s: %w", s.certsDir, err)
	}
	return nil
}

// RootPaths returns where the root material lives.
func (s *FileStore) RootPaths() RootPaths {
	return RootPaths{
		Dir:  s.rootDir,
		Key:  filepath.Join(s.rootDir, rootKeyFile),
		Cert: filepath.Join(s.rootDir, rootCertFile),
	}
}

// RootExists reports whether the root key file is present.
func (s *FileStore) RootExists() (bool, error) {
	return fileExists(s.RootPaths().Key)
}

// WriteRoot atomically replaces the root key then the root certificate.
func (s *FileStore) WriteRoot(keyPEM, certPEM []byte) (RootPaths, error) {
	paths := s.RootPaths()

	if err := os.MkdirAll(paths.Dir, rootDirMode); err != nil {
		return paths, fmt.Errorf("create root directory %s: %w", paths.Dir, err)
	}
	if err := writeFile(paths.Key, keyPEM, privateFileMode); err != nil {
		return paths, err
	}
	if err := writeFile(paths.Cert, certPEM, publicFileMode); err != nil {
		return paths, err
	}

	return paths, nil
}

// ReadRootCertificate returns the PEM root certificate or ErrRootNotFound.
func (s *FileStore) ReadRootCertificate() ([]byte, error) {
	path := s.RootPaths().Cert

	// #nosec G304 - path is derived from the configured root directory
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// LoadRootSigner loads the root key and certificate into a signer.
// Returns ErrRootNotFound when either file is missing.
func (s *FileStore) LoadRootSigner() (pki.CASigner, error) {
	paths := s.RootPaths()

	for _, path := range []string{paths.Key, paths.Cert} {
		ok, err := fileExists(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, path)
		}
	}

	return pki.NewFileSigner(paths.Key, paths.Cert)
}

// LeafPaths maps a domain onto its directory and file names.
func (s *FileStore) LeafPaths(domain string) (LeafPaths, error) {
	name, err := DirName(domain)
	if err != nil {
		return LeafPaths{}, err
	}

	dir := filepath.Join(s.certsDir, name)
	return LeafPaths{
		Name: name,
		Dir:  dir,
		Key:  filepath.Join(dir, name+".key"),
		Cert: filepath.Join(dir, name+".crt"),
	}, nil
}

// WriteLeaf atomically replaces the leaf key, then the leaf certificate.
// If the certificate write fails the new key is left in place; the next successful
// issuance replaces both.
func (s *FileStore) WriteLeaf(domain string, keyPEM, certPEM []byte) (LeafPaths, error) {
	paths, err := s.LeafPaths(domain)
	if err != nil {
		return paths, err
	}

	if err := os.MkdirAll(paths.Dir, certsDirMode); err != nil {
		return paths, fmt.Errorf("create leaf directory %s: %w", paths.Dir, err)
	}
	if err := writeFile(paths.Key, keyPEM, privateFileMode); err != nil {
		return paths, err
	}
	if err := writeFile(paths.Cert, certPEM, publicFileMode); err != nil {
		return paths, err
	}

	return paths, nil
}

// ReadLeafCertificate returns the PEM certificate for domain or ErrLeafNotFound.
func (s *FileStore) ReadLeafCertificate(domain string) ([]byte, error) {
	paths, err := s.LeafPaths(domain)
	if err != nil {
		return nil, err
	}
	return readLeaf(paths)
}

// List scans the certificates directory. Directories without a certificate are skipped.
func (s *FileStore) List() ([]LeafPaths, error) {
	entries, err := os.ReadDir(s.certsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read certificates directory %s: %w", s.certsDir, err)
	}

	var leaves []LeafPaths
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()
		dir := filepath.Join(s.certsDir, name)
		paths := LeafPaths{
			Name: name,
			Dir:  dir,
			Key:  filepath.Join(dir, name+".key"),
			Cert: filepath.Join(dir, name+".crt"),
		}

		ok, err := fileExists(paths.Cert)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debug().Str("dir", dir).Msg("skipping directory without certificate")
			continue
		}

		leaves = append(leaves, paths)
	}

	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Name < leaves[j].Name })

	return leaves, nil
}

// DirName converts a domain into the directory and file stem used on disk.
// A leading "*." becomes "_wildcard."; anything that could escape the certificates
// directory is rejected, as is a literal "_wildcard." label that would share a
// directory with the wildcard domain.
func DirName(domain string) (string, error) {
	name := strings.TrimSpace(domain)
	if strings.HasPrefix(strings.ToLower(name), wildcardPrefix+".") {
		return "", fmt.Errorf("%w: %q uses the reserved %s prefix", ErrInvalidName, domain, wildcardPrefix)
	}
	if rest, ok := strings.CutPrefix(name, "*."); ok {
		name = wildcardPrefix + "." + rest
	}

	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, domain)
	case strings.ContainsAny(name, `/\*`+"\x00"):
		return "", fmt.Errorf("%w: %q", ErrInvalidName, domain)
	case strings.Contains(name, ".."):
		return "", fmt.Errorf("%w: %q", ErrInvalidName, domain)
	}

	return strings.ToLower(name), nil
}

// DomainFromDirName reverses DirName for a name found on disk.
func DomainFromDirName(name string) string {
	if rest, ok := strings.CutPrefix(name, wildcardPrefix+"."); ok {
		return "*." + rest
	}
	return name
}

func readLeaf(paths LeafPaths) ([]byte, error) {
	// #nosec G304 - path is confined to the certificates directory by DirName
	data, err := os.ReadFile(paths.Cert)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, paths.Cert)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", paths.Cert, err)
	}
	return data, nil
}

// writeFile replaces path atomically with the given permissions.
func writeFile(path string, data []byte, perm os.FileMode) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm), renameio.IgnoreUmask())
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer func() {
		// no-op once committed
		if err := pendingFile.Cleanup(); err != nil {
			log.Debug().Err(err).Str("path", path).Msg("cleanup pending file")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}

	return nil
}

// fileExists reports whether path exists as a regular file.
func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}
