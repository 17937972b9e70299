// Package certs keeps the self-signed certificate the API serves HTTPS with
// when the point-of-sale front end requires a secure origin.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Validity is how long a generated certificate lasts.
const Validity = 365 * 24 * time.Hour

// renewBefore regenerates certificates this close to expiry.
const renewBefore = 7 * 24 * time.Hour

// FileManager stores one certificate and key pair in a directory.
type FileManager struct {
	now      func() time.Time
	certDir  string
	certFile string
	keyFile  string
	hosts    []string
}

// NewFileManager creates a manager for certDir. The certificate always
// covers localhost and the loopback addresses; hosts adds names or IPs.
func NewFileManager(certDir string, hosts ...string) *FileManager {
	return &FileManager{
		now:      time.Now,
		certDir:  certDir,
		certFile: filepath.Join(certDir, "till-api.crt"),
		keyFile:  filepath.Join(certDir, "till-api.key"),
		hosts:    hosts,
	}
}

// CertFile returns the certificate path, e.g. for trusting it in a browser.
func (m *FileManager) CertFile() string {
	return m.certFile
}

// GetOrCreateCertificate loads the stored certificate, generating a new one
// when it is missing, unreadable, expiring or does not cover every host.
func (m *FileManager) GetOrCreateCertificate() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err == nil {
		if verr := m.verifyCertificate(cert); verr == nil {
			return cert, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		// Unreadable pair; replace it.
		if rerr := m.removeCertificates(); rerr != nil {
			return tls.Certificate{}, rerr
		}
	}
	return m.generateCertificate()
}

// TLSConfig returns a server config using the managed certificate.
func (m *FileManager) TLSConfig() (*tls.Config, error) {
	cert, err := m.GetOrCreateCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (m *FileManager) generateCertificate() (tls.Certificate, error) {
	if err := os.MkdirAll(m.certDir, 0700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := m.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"tillpoint"}, CommonName: "localhost"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	for _, h := range m.hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := writePEM(m.certFile, "CERTIFICATE", certDER); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(m.keyFile, "EC PRIVATE KEY", keyDER); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(m.certFile, m.keyFile)
}

func writePEM(path, blockType string, der []byte) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return out.Close()
}

func (m *FileManager) verifyCertificate(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return fmt.Errorf("no certificates found")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := m.now()
	if now.Before(x509Cert.NotBefore) {
		return fmt.Errorf("certificate not yet valid")
	}
	if now.Add(renewBefore).After(x509Cert.NotAfter) {
		return fmt.Errorf("certificate expires %s", x509Cert.NotAfter.Format(time.RFC3339))
	}

	for _, h := range append([]string{"localhost"}, m.hosts...) {
		if h == "" {
			continue
		}
		if err := x509Cert.VerifyHostname(h); err != nil {
			return fmt.Errorf("certificate does not cover %s: %w", h, err)
		}
	}
	return nil
}

func (m *FileManager) removeCertificates() error {
	if err := os.Remove(m.certFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove certificate file: %w", err)
	}
	if err := os.Remove(m.keyFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key file: %w", err)
	}
	return nil
}
