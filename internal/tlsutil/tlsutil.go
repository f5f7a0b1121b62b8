// Package tlsutil loads or generates the certificate material that decides
// whether the HTTPS listener starts.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config selects the certificate source.
type Config struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`

	// AutoGenerate creates a self-signed pair under Dir when no files are
	// configured. Development convenience only.
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// Setup returns a tls.Config for the HTTPS listener, or (nil, nil) when TLS
// is disabled.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" || keyPath == "" {
		if !cfg.AutoGenerate {
			return nil, fmt.Errorf("tls enabled but cert_file/key_file missing and auto_generate is off")
		}
		dir := cfg.Dir
		if dir == "" {
			dir = "certs"
		}
		certPath = filepath.Join(dir, "server.crt")
		keyPath = filepath.Join(dir, "server.key")
		if !filesExist(certPath, keyPath) {
			if err := generate(cfg, dir, certPath, keyPath); err != nil {
				return nil, err
			}
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(cfg Config, dir, certPath, keyPath string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}
	commonName := cfg.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	dnsNames := cfg.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	validDays := cfg.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: "mcpgate",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}
