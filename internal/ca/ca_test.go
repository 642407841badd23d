package ca

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/localca/internal/config"
	"github.com/wolfeidau/localca/internal/pki"
	"github.com/wolfeidau/localca/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default(t.TempDir())
	cfg.RootKeyBits = config.MinKeyBits
	cfg.LeafKeyBits = config.MinKeyBits
	cfg.RootCommonName = "test root"
	return cfg
}

func newTestCA(t *testing.T) (config.Config, *store.FileStore, *Manager, *Issuer) {
	t.Helper()

	cfg := testConfig(t)
	st := store.NewFileStore(cfg.RootDir, cfg.CertsDir)

	mgr, err := NewManager(cfg, st, zerolog.Nop())
	require.NoError(t, err)

	iss, err := NewIssuer(cfg, st, zerolog.Nop())
	require.NoError(t, err)

	return cfg, st, mgr, iss
}

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cert, err := pki.ParseCertificatePEM(data)
	require.NoError(t, err)
	return cert
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RootKeyBits = 512

	_, err := NewManager(cfg, store.NewFileStore(cfg.RootDir, cfg.CertsDir), zerolog.Nop())
	require.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = NewIssuer(cfg, store.NewFileStore(cfg.RootDir, cfg.CertsDir), zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestInitialize(t *testing.T) {
	t.Run("creates root", func(t *testing.T) {
		cfg, _, mgr, _ := newTestCA(t)

		root, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		assert.Equal(t, StatusCreated, root.Status)
		assert.Equal(t, "test root", root.CommonName)
		assert.Equal(t, filepath.Join(cfg.RootDir, "rootCA.key"), root.KeyPath)
		assert.Equal(t, filepath.Join(cfg.RootDir, "rootCA.crt"), root.CertPath)
		assert.NotEmpty(t, root.Fingerprint)

		cert := readCert(t, root.CertPath)
		assert.True(t, cert.IsCA)
		assert.Equal(t, root.SerialNumber, cert.SerialNumber.Text(16))
		assert.WithinDuration(t, time.Now().Add(cfg.RootValidity()), cert.NotAfter, time.Minute)
	})

	t.Run("idempotent without force", func(t *testing.T) {
		_, _, mgr, _ := newTestCA(t)

		first, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		keyBefore, err := os.ReadFile(first.KeyPath)
		require.NoError(t, err)
		certBefore, err := os.ReadFile(first.CertPath)
		require.NoError(t, err)

		second, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, StatusAlreadyPresent, second.Status)
		assert.Equal(t, first.SerialNumber, second.SerialNumber)
		assert.Equal(t, first.Fingerprint, second.Fingerprint)

		keyAfter, err := os.ReadFile(first.KeyPath)
		require.NoError(t, err)
		certAfter, err := os.ReadFile(first.CertPath)
		require.NoError(t, err)
		assert.Equal(t, keyBefore, keyAfter)
		assert.Equal(t, certBefore, certAfter)
	})

	t.Run("force replaces root", func(t *testing.T) {
		_, _, mgr, _ := newTestCA(t)

		first, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		second, err := mgr.Initialize(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, StatusReplaced, second.Status)
		assert.NotEqual(t, first.SerialNumber, second.SerialNumber)
		assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	})

	t.Run("force on empty store creates", func(t *testing.T) {
		_, _, mgr, _ := newTestCA(t)

		root, err := mgr.Initialize(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, StatusCreated, root.Status)
	})

	t.Run("key without certificate", func(t *testing.T) {
		_, st, mgr, _ := newTestCA(t)

		root, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)
		require.NoError(t, os.Remove(root.CertPath))

		_, err = mgr.Initialize(context.Background(), false)
		require.ErrorIs(t, err, ErrPersistence)
		assert.Contains(t, err.Error(), st.RootPaths().Key)

		root, err = mgr.Initialize(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, StatusReplaced, root.Status)
	})

	t.Run("key not matching certificate", func(t *testing.T) {
		_, _, mgr, iss := newTestCA(t)

		root, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		// a forced re-init that wrote the new key but failed before the certificate
		key, err := pki.GenerateKey(config.MinKeyBits)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(root.KeyPath, pki.EncodePrivateKey(key), 0o600))

		_, err = mgr.Initialize(context.Background(), false)
		require.ErrorIs(t, err, ErrPersistence)
		assert.Contains(t, err.Error(), "re-run with force")

		_, err = iss.Issue(context.Background(), "app.example.test", nil)
		require.ErrorIs(t, err, ErrMissingRoot)

		root, err = mgr.Initialize(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, StatusReplaced, root.Status)

		_, err = iss.Issue(context.Background(), "app.example.test", nil)
		require.NoError(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		_, st, mgr, _ := newTestCA(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := mgr.Initialize(ctx, false)
		require.ErrorIs(t, err, context.Canceled)

		exists, err := st.RootExists()
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestIssue(t *testing.T) {
	t.Run("end to end", func(t *testing.T) {
		cfg, _, mgr, iss := newTestCA(t)

		root, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		leaf, err := iss.Issue(context.Background(), "app.example.test", []string{"www.example.test", "10.0.0.5"})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(cfg.CertsDir, "app.example.test"), leaf.Dir)
		assert.Equal(t, filepath.Join(leaf.Dir, "app.example.test.key"), leaf.KeyPath)
		assert.Equal(t, filepath.Join(leaf.Dir, "app.example.test.crt"), leaf.CertPath)
		assert.Equal(t, "test root", leaf.Issuer)
		assert.Equal(t, []string{"app.example.test", "www.example.test", "10.0.0.5"}, leaf.SubjectAltNames)

		cert := readCert(t, leaf.CertPath)
		assert.Equal(t, "app.example.test", cert.Subject.CommonName)
		assert.Equal(t, []string{"app.example.test", "www.example.test"}, cert.DNSNames)
		require.Len(t, cert.IPAddresses, 1)
		assert.Equal(t, "10.0.0.5", cert.IPAddresses[0].String())
		assert.False(t, cert.IsCA)
		assert.Equal(t, cfg.LeafValidity(), cert.NotAfter.Sub(cert.NotBefore))
		assert.True(t, cert.NotBefore.Before(time.Now()))

		rootCert := readCert(t, root.CertPath)
		pool := x509.NewCertPool()
		pool.AddCert(rootCert)
		_, err = cert.Verify(x509.VerifyOptions{
			DNSName:   "www.example.test",
			Roots:     pool,
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		require.NoError(t, err)

		keyPEM, err := os.ReadFile(leaf.KeyPath)
		require.NoError(t, err)
		key, err := pki.ParsePrivateKeyPEM(keyPEM)
		require.NoError(t, err)
		assert.True(t, key.Public().(*rsa.PublicKey).Equal(cert.PublicKey))
	})

	t.Run("missing root", func(t *testing.T) {
		cfg, _, _, iss := newTestCA(t)

		_, err := iss.Issue(context.Background(), "app.example.test", nil)
		require.ErrorIs(t, err, ErrMissingRoot)

		_, statErr := os.Stat(filepath.Join(cfg.CertsDir, "app.example.test"))
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("empty domain", func(t *testing.T) {
		_, _, _, iss := newTestCA(t)

		_, err := iss.Issue(context.Background(), "   ", nil)
		assert.ErrorIs(t, err, ErrEmptyDomain)
	})

	t.Run("domain escaping store", func(t *testing.T) {
		_, _, mgr, iss := newTestCA(t)

		_, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		_, err = iss.Issue(context.Background(), "../etc", nil)
		assert.ErrorIs(t, err, ErrInvalidDomain)
	})

	t.Run("reissue overwrites", func(t *testing.T) {
		_, _, mgr, iss := newTestCA(t)

		_, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		first, err := iss.Issue(context.Background(), "app.example.test", nil)
		require.NoError(t, err)
		second, err := iss.Issue(context.Background(), "app.example.test", nil)
		require.NoError(t, err)

		assert.Equal(t, first.CertPath, second.CertPath)
		assert.NotEqual(t, first.SerialNumber, second.SerialNumber)

		entries, err := os.ReadDir(second.Dir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("wildcard", func(t *testing.T) {
		cfg, st, mgr, iss := newTestCA(t)

		_, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		leaf, err := iss.Issue(context.Background(), "*.example.test", nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(cfg.CertsDir, "_wildcard.example.test"), leaf.Dir)
		assert.Equal(t, "*.example.test", leaf.CommonName)

		_, err = iss.Issue(context.Background(), "_wildcard.example.test", nil)
		require.ErrorIs(t, err, ErrInvalidDomain)

		leaves, err := List(st)
		require.NoError(t, err)
		require.Len(t, leaves, 1)
		assert.Equal(t, "*.example.test", leaves[0].CommonName)
	})

	t.Run("concurrent same domain", func(t *testing.T) {
		_, _, mgr, iss := newTestCA(t)

		_, err := mgr.Initialize(context.Background(), false)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for n := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[n] = iss.Issue(context.Background(), "app.example.test", nil)
			}()
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		assert.Empty(t, iss.locks.locks)
	})
}

func TestMemoryStore(t *testing.T) {
	cfg := testConfig(t)
	st := store.NewMemoryStore()

	mgr, err := NewManager(cfg, st, zerolog.Nop())
	require.NoError(t, err)
	iss, err := NewIssuer(cfg, st, zerolog.Nop())
	require.NoError(t, err)

	st.WriteErr = errors.New("disk full")
	_, err = mgr.Initialize(context.Background(), false)
	require.ErrorIs(t, err, ErrPersistence)

	st.WriteErr = nil
	root, err := mgr.Initialize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, root.Status)

	leaf, err := iss.Issue(context.Background(), "app.example.test", nil)
	require.NoError(t, err)
	assert.Equal(t, "/memory/certificates/app.example.test", leaf.Dir)

	st.WriteErr = errors.New("disk full")
	_, err = iss.Issue(context.Background(), "other.example.test", nil)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "other.example.test")
	assert.Equal(t, "persistence", Classify(err))

	leaves, err := List(st)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, leaf.SerialNumber, leaves[0].SerialNumber)
}

func TestBuildSANs(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		extras []string
		want   []string
	}{
		{
			name:   "domain only",
			domain: "a.test",
			want:   []string{"a.test"},
		},
		{
			name:   "extras in order",
			domain: "a.test",
			extras: []string{"b.test", "c.test"},
			want:   []string{"a.test", "b.test", "c.test"},
		},
		{
			name:   "duplicates and blanks dropped",
			domain: "a.test",
			extras: []string{" A.TEST ", "", "b.test", "B.test", "  "},
			want:   []string{"a.test", "b.test"},
		},
		{
			name:   "ip address kept",
			domain: "a.test",
			extras: []string{"127.0.0.1", "::1"},
			want:   []string{"a.test", "127.0.0.1", "::1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildSANs(tt.domain, tt.extras))
		})
	}
}

func TestList(t *testing.T) {
	cfg, st, mgr, iss := newTestCA(t)

	leaves, err := List(st)
	require.NoError(t, err)
	assert.Empty(t, leaves)

	_, err = mgr.Initialize(context.Background(), false)
	require.NoError(t, err)

	for _, domain := range []string{"b.example.test", "a.example.test"} {
		_, err := iss.Issue(context.Background(), domain, nil)
		require.NoError(t, err)
	}

	broken := filepath.Join(cfg.CertsDir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "broken.crt"), []byte("not a cert"), 0o644))

	leaves, err = List(st)
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	assert.Equal(t, "a.example.test", leaves[0].CommonName)
	assert.Equal(t, "b.example.test", leaves[1].CommonName)
	assert.Equal(t, "test root", leaves[0].Issuer)
	assert.False(t, leaves[0].Expired(time.Now()))
	assert.Greater(t, leaves[0].DaysRemaining(time.Now()), 800)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "success", Classify(nil))
	assert.Equal(t, "missing_root", Classify(ErrMissingRoot))
	assert.Equal(t, "invalid_domain", Classify(ErrEmptyDomain))
	assert.Equal(t, "crypto", Classify(ErrCryptoEngine))
	assert.Equal(t, "cancelled", Classify(context.Canceled))
	assert.Equal(t, "unknown", Classify(errors.New("boom")))
}
