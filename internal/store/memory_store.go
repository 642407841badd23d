package store

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/wolfeidau/localca/internal/pki"
)

// MemoryStore is an in-memory implementation of CertificateStore for development and testing.
// Paths are synthetic and nothing touches the filesystem.
type MemoryStore struct {
	mu       sync.RWMutex
	rootKey  []byte
	rootCert []byte
	leaves   map[string]*memoryLeaf // indexed by directory name

	// WriteErr, when set, is returned by every write.
	WriteErr error
}

type memoryLeaf struct {
	key  []byte
	cert []byte
}

const (
	memoryRootDir  = "/memory/rootCA"
	memoryCertsDir = "/memory/certificates"
)

var _ CertificateStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leaves: make(map[string]*memoryLeaf)}
}

func (s *MemoryStore) EnsureDirs() error {
	return nil
}

func (s *MemoryStore) RootPaths() RootPaths {
	return RootPaths{
		Dir:  memoryRootDir,
		Key:  path.Join(memoryRootDir, rootKeyFile),
		Cert: path.Join(memoryRootDir, rootCertFile),
	}
}

func (s *MemoryStore) RootExists() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootKey != nil, nil
}

func (s *MemoryStore) WriteRoot(keyPEM, certPEM []byte) (RootPaths, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return RootPaths{}, s.WriteErr
	}

	s.rootKey = clone(keyPEM)
	s.rootCert = clone(certPEM)

	return s.RootPaths(), nil
}

func (s *MemoryStore) ReadRootCertificate() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rootCert == nil {
		return nil, ErrRootNotFound
	}
	return clone(s.rootCert), nil
}

func (s *MemoryStore) LoadRootSigner() (pki.CASigner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rootKey == nil || s.rootCert == nil {
		return nil, ErrRootNotFound
	}
	return pki.NewSigner(s.rootKey, s.rootCert)
}

func (s *MemoryStore) WriteLeaf(domain string, keyPEM, certPEM []byte) (LeafPaths, error) {
	paths, err := memoryLeafPaths(domain)
	if err != nil {
		return LeafPaths{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return LeafPaths{}, s.WriteErr
	}

	s.leaves[paths.Name] = &memoryLeaf{key: clone(keyPEM), cert: clone(certPEM)}

	return paths, nil
}

func (s *MemoryStore) ReadLeafCertificate(domain string) ([]byte, error) {
	paths, err := memoryLeafPaths(domain)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	leaf, ok := s.leaves[paths.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, domain)
	}
	return clone(leaf.cert), nil
}

func (s *MemoryStore) List() ([]LeafPaths, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]LeafPaths, 0, len(s.leaves))
	for name := range s.leaves {
		paths, err := memoryLeafPaths(DomainFromDirName(name))
		if err != nil {
			return nil, err
		}
		result = append(result, paths)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return result, nil
}

func memoryLeafPaths(domain string) (LeafPaths, error) {
	name, err := DirName(domain)
	if err != nil {
		return LeafPaths{}, err
	}

	dir := path.Join(memoryCertsDir, name)
	return LeafPaths{
		Name: name,
		Dir:  dir,
		Key:  path.Join(dir, name+".key"),
		Cert: path.Join(dir, name+".crt"),
	}, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
