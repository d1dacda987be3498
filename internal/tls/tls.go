// Package tls builds the HTTPS configuration of the query server.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/resultset/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

func parseTLSVersion(ver string) (uint16, bool) {
	switch ver {
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	}
	return 0, false
}

// resolveTLSVersions defaults both bounds to TLS 1.3.
func resolveTLSVersions(cfg config.HTTPConfig) (minVer, maxVer uint16) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseTLSVersion(cfg.TLSMinVersion); ok {
		minVer = v
	}
	if v, ok := parseTLSVersion(cfg.TLSMaxVersion); ok {
		maxVer = v
	}
	if minVer > maxVer {
		maxVer = minVer
	}
	return minVer, maxVer
}

// SetupTLS returns nil when TLS is disabled. Explicit cert/key files win over
// a certificate directory; with AutoGenerate a self-signed pair is written to
// the directory when it holds none.
func SetupTLS(server config.HTTPConfig) (*tls.Config, error) {
	if server.TLS == nil || !server.TLS.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveTLSVersions(server)

	certPath, keyPath := server.TLS.CertFile, server.TLS.KeyFile
	if certPath == "" || keyPath == "" {
		if server.TLS.Dir == "" {
			return nil, errors.New("TLS enabled but no certificate configuration found")
		}
		certPath = filepath.Join(server.TLS.Dir, tlsCrt)
		keyPath = filepath.Join(server.TLS.Dir, tlsKey)
		if server.TLS.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(server.TLS, server.TLS.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 min version is configurable down to 1.2 only
	return &tls.Config{
		GetCertificate: reloadingCertificate(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// reloadingCertificate re-reads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func reloadingCertificate(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultSlice(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

func generateCertificate(tc *config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	ag := tc.AutoGen
	if ag == nil {
		ag = &config.AutoGenTLS{}
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   orDefault(ag.CommonName, "localhost"),
		Organization: orDefault(ag.Organization, "resultset"),
		DNSNames:     orDefaultSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefaultSlice(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
