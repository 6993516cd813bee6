// Package tls builds crypto/tls configurations from file-based settings
// for the ops HTTP server and for outbound client transports.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig holds TLS settings for the stats/health HTTP server.
type ServerConfig struct {
	Enabled bool

	// CertFile and KeyFile hold the server key pair.
	CertFile string
	KeyFile  string

	// CAFile verifies client certificates when ClientAuth is set.
	CAFile     string
	ClientAuth bool
}

// Build returns the server tls.Config, or nil when TLS is disabled.
func (c ServerConfig) Build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair: %w", err)
	}

	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientAuth && c.CAFile != "" {
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return out, nil
}

// ClientConfig holds TLS settings for outbound clients, such as the
// CloudWatch API transport.
type ClientConfig struct {
	Enabled bool

	// CertFile and KeyFile hold the client key pair for mTLS.
	CertFile string
	KeyFile  string

	// CAFile verifies the server certificate. Empty means the system
	// root pool.
	CAFile string

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool

	// ServerName overrides the expected name on the server certificate.
	ServerName string
}

// Build returns the client tls.Config, or nil when TLS is disabled.
func (c ClientConfig) Build() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
	}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pool, err := loadCertPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}

	return out, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}
