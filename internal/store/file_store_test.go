package store

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/localca/internal/pki"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	tmpDir := t.TempDir()
	return NewFileStore(filepath.Join(tmpDir, "rootCA"), filepath.Join(tmpDir, "certificates"))
}

func testRootPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()

	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	cert, err := pki.NewSelfSignedCA(pki.CAOptions{CommonName: "store root", Key: key, Validity: time.Hour})
	require.NoError(t, err)

	return pki.EncodePrivateKey(key), pki.EncodeCertificate(cert.Raw)
}

func assertMode(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, want, info.Mode().Perm(), path)
}

func TestFileStore_EnsureDirs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EnsureDirs())

	assertMode(t, s.rootDir, 0700)
	assertMode(t, s.certsDir, 0755)
}

func TestFileStore_Root(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		s := newTestStore(t)

		exists, err := s.RootExists()
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = s.LoadRootSigner()
		assert.ErrorIs(t, err, ErrRootNotFound)

		_, err = s.ReadRootCertificate()
		assert.ErrorIs(t, err, ErrRootNotFound)
	})

	t.Run("write and load", func(t *testing.T) {
		s := newTestStore(t)
		keyPEM, certPEM := testRootPEM(t)

		paths, err := s.WriteRoot(keyPEM, certPEM)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(s.rootDir, "rootCA.key"), paths.Key)
		assert.Equal(t, filepath.Join(s.rootDir, "rootCA.crt"), paths.Cert)
		assertMode(t, paths.Key, 0600)
		assertMode(t, paths.Cert, 0644)

		exists, err := s.RootExists()
		require.NoError(t, err)
		assert.True(t, exists)

		signer, err := s.LoadRootSigner()
		require.NoError(t, err)
		caCert, err := signer.GetCACertificate()
		require.NoError(t, err)
		assert.Equal(t, "store root", caCert.Subject.CommonName)

		got, err := s.ReadRootCertificate()
		require.NoError(t, err)
		assert.Equal(t, certPEM, got)
	})

	t.Run("key without certificate", func(t *testing.T) {
		s := newTestStore(t)
		keyPEM, _ := testRootPEM(t)
		require.NoError(t, os.MkdirAll(s.rootDir, 0700))
		require.NoError(t, os.WriteFile(s.RootPaths().Key, keyPEM, 0600))

		_, err := s.LoadRootSigner()
		assert.ErrorIs(t, err, ErrRootNotFound)
	})
}

func TestFileStore_Leaf(t *testing.T) {
	t.Run("write overwrites previous pair", func(t *testing.T) {
		s := newTestStore(t)

		paths, err := s.WriteLeaf("example.com", []byte("key-1"), []byte("cert-1"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(s.certsDir, "example.com", "example.com.key"), paths.Key)
		assert.Equal(t, filepath.Join(s.certsDir, "example.com", "example.com.crt"), paths.Cert)
		assertMode(t, paths.Key, 0600)
		assertMode(t, paths.Cert, 0644)

		_, err = s.WriteLeaf("example.com", []byte("key-2"), []byte("cert-2"))
		require.NoError(t, err)

		entries, err := os.ReadDir(paths.Dir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		got, err := s.ReadLeafCertificate("example.com")
		require.NoError(t, err)
		assert.Equal(t, []byte("cert-2"), got)
	})

	t.Run("missing leaf", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.ReadLeafCertificate("nope.example")
		assert.ErrorIs(t, err, ErrLeafNotFound)
	})

	t.Run("rejects path escapes", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.WriteLeaf("../evil", []byte("k"), []byte("c"))
		assert.ErrorIs(t, err, ErrInvalidName)
	})
}

func TestFileStore_List(t *testing.T) {
	s := newTestStore(t)

	leaves, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, leaves)

	_, err = s.WriteLeaf("b.example", []byte("k"), []byte("c"))
	require.NoError(t, err)
	_, err = s.WriteLeaf("a.example", []byte("k"), []byte("c"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.certsDir, "empty"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.certsDir, "stray.txt"), nil, 0644))

	leaves, err = s.List()
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	assert.Equal(t, "a.example", leaves[0].Name)
	assert.Equal(t, "b.example", leaves[1].Name)
}

func TestDomainFromDirName(t *testing.T) {
	for _, domain := range []string{"example.com", "*.example.com", "localhost"} {
		name, err := DirName(domain)
		require.NoError(t, err)
		assert.Equal(t, domain, DomainFromDirName(name))
	}
}

func TestDirName(t *testing.T) {
	tests := []struct {
		domain  string
		want    string
		wantErr bool
	}{
		{domain: "example.com", want: "example.com"},
		{domain: "  Example.COM ", want: "example.com"},
		{domain: "*.example.com", want: "_wildcard.example.com"},
		{domain: "localhost", want: "localhost"},
		{domain: "", wantErr: true},
		{domain: "..", wantErr: true},
		{domain: "a/b", wantErr: true},
		{domain: `a\b`, wantErr: true},
		{domain: "a..b", wantErr: true},
		{domain: "foo.*.com", wantErr: true},
		{domain: "_wildcard.example.com", wantErr: true},
		{domain: "_WILDCARD.Example.com", wantErr: true},
		{domain: "_wildcard-app.example.com", want: "_wildcard-app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got, err := DirName(tt.domain)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
