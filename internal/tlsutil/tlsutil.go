// Package tlsutil builds client TLS configs from PEM files.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Files names the PEM inputs of a client TLS config. All fields are
// optional; an empty CAFile trusts the system pool.
type Files struct {
	Enable     bool   `mapstructure:"enable"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
	// InsecureSkipVerify is for local test clusters only.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// ClientConfig returns nil when TLS is disabled.
func ClientConfig(f Files) (*tls.Config, error) {
	if !f.Enable {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         f.ServerName,
		InsecureSkipVerify: f.InsecureSkipVerify,
	}
	if (f.CertFile == "") != (f.KeyFile == "") {
		return nil, fmt.Errorf("cert_file and key_file must be set together")
	}
	if f.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if f.CAFile != "" {
		caPEM, err := os.ReadFile(f.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("append ca: invalid pem")
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
