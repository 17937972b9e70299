package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return parsed
}

func TestGetOrCreateCertificate_GeneratesAndReuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	m := NewFileManager(dir, "192.168.1.20", "till.local")

	first, err := m.GetOrCreateCertificate()
	require.NoError(t, err)

	x := leaf(t, first)
	assert.NoError(t, x.VerifyHostname("localhost"))
	assert.NoError(t, x.VerifyHostname("127.0.0.1"))
	assert.NoError(t, x.VerifyHostname("192.168.1.20"))
	assert.NoError(t, x.VerifyHostname("till.local"))
	assert.Contains(t, x.ExtKeyUsage, x509.ExtKeyUsageServerAuth)

	info, err := os.Stat(m.CertFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	assert.Equal(t, x.SerialNumber, leaf(t, second).SerialNumber)
}

func TestGetOrCreateCertificate_RegeneratesForNewHost(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileManager(dir).GetOrCreateCertificate()
	require.NoError(t, err)

	second, err := NewFileManager(dir, "10.0.0.9").GetOrCreateCertificate()
	require.NoError(t, err)

	assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
	assert.NoError(t, leaf(t, second).VerifyHostname("10.0.0.9"))
}

func TestGetOrCreateCertificate_RenewsNearExpiry(t *testing.T) {
	dir := t.TempDir()
	m := NewFileManager(dir)

	first, err := m.GetOrCreateCertificate()
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(Validity - 24*time.Hour) }
	second, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
}

func TestGetOrCreateCertificate_ReplacesCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewFileManager(dir)
	require.NoError(t, os.WriteFile(m.certFile, []byte("garbage"), 0600))
	require.NoError(t, os.WriteFile(m.keyFile, []byte("garbage"), 0600))

	cert, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	assert.NoError(t, leaf(t, cert).VerifyHostname("localhost"))
}

func TestTLSConfig(t *testing.T) {
	cfg, err := NewFileManager(t.TempDir()).TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}
