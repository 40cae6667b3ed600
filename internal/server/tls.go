package server

import (
	"crypto/tls"
	"fmt"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/logging"
	"github.com/muurk/wbemd/internal/secure"
	"go.uber.org/zap"
)

// loadTLSConfig returns the HTTPS server configuration: the configured
// certificate files, or a self-signed certificate kept in memory.
func loadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return secure.NewServerTLSConfig(cfg.CertFile, cfg.KeyFile)
	}
	if !cfg.GenerateCert {
		return nil, fmt.Errorf("no certificate configured: set tls.cert_file and tls.key_file")
	}
	return generateAndLoadCert()
}

// generateAndLoadCert creates a self-signed certificate for this host. It is
// kept in memory only, so clients see a new fingerprint on every start.
func generateAndLoadCert() (*tls.Config, error) {
	params := secure.DefaultCertParams()
	cert, err := secure.GenerateServerCert(params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate server certificate: %w", err)
	}

	logging.Info("Generated self-signed certificate",
		zap.String("cn", cert.Certificate.Subject.CommonName),
		zap.Strings("sans", params.Hosts),
		zap.Time("not_after", cert.Certificate.NotAfter),
		zap.String("sha256", cert.Fingerprint()),
	)
	return secure.NewServerTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
}
