// Package tls builds the server TLS configuration for the panel API,
// generating a self-signed pair for the dev zone when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/hostpanel/internal/config"
)

// File names used inside TLSConfig.Dir.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

const defaultValidDays = 365 * 2

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveVersions defaults both bounds to TLS 1.3.
func resolveVersions(c config.TLSConfig) (minVer, maxVer uint16, err error) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseTLSVersion(c.MinVersion); ok {
		minVer = v
	} else if c.MinVersion != "" && c.MinVersion != "default" {
		return 0, 0, fmt.Errorf("unknown tls min_version %q", c.MinVersion)
	}
	if v, ok := parseTLSVersion(c.MaxVersion); ok {
		maxVer = v
	} else if c.MaxVersion != "" && c.MaxVersion != "default" {
		return 0, 0, fmt.Errorf("unknown tls max_version %q", c.MaxVersion)
	}
	if minVer > maxVer {
		return 0, 0, errors.New("tls min_version is above max_version")
	}
	return minVer, maxVer, nil
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// zoneSuffix adds a wildcard for the dev zone to generated certificates.
func Setup(c config.TLSConfig, zoneSuffix string) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveVersions(c)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, errors.New("TLS enabled but no valid certificate configuration found")
		}
		certPath, keyPath = filepath.Join(c.Dir, CertFile), filepath.Join(c.Dir, KeyFile)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(c, zoneSuffix); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	// load once up front so a bad pair fails at startup
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: reloadingCertificate(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// reloadingCertificate reads the pair on every handshake so renewed files
// take effect without a restart.
func reloadingCertificate(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c config.TLSConfig, zoneSuffix string) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
		if zoneSuffix != "" {
			hosts = append(hosts, "*."+zoneSuffix)
		}
	}
	days := c.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   hosts[0],
		Organization: "hostpanel",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(c.Dir, CertFile),
		KeyPath:      filepath.Join(c.Dir, KeyFile),
		CACertPath:   filepath.Join(c.Dir, CACertFile),
	})
}
