package secure

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	"github.com/muurk/wbemd/internal/logging"
	"go.uber.org/zap"
)

// minVersion applies to both directions. CIM clients in the field speak
// at least TLS 1.2.
const minVersion = tls.VersionTLS12

// NewServerTLSConfig loads a PEM certificate and key from disk.
func NewServerTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &CertificateError{Op: CertOpLoad, Path: certPath, Err: err}
	}
	logging.Info("Loaded TLS certificate", zap.String("cert", certPath), zap.String("key", keyPath))
	return serverConfig(pair), nil
}

// NewServerTLSConfigFromMemory builds a server configuration from PEM
// blocks, as returned by GenerateServerCert.
func NewServerTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, &CertificateError{Op: CertOpKeyMatch, Err: err}
	}
	logging.Debug("Using in-memory TLS certificate")
	return serverConfig(pair), nil
}

func serverConfig(pair tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   minVersion,
		NextProtos:   []string{"http/1.1"},
	}
}

// NewClientTLSConfig returns the configuration used by outbound
// connections. A non-empty caFile replaces the system roots with the PEM
// certificates it holds. insecure turns verification off entirely.
func NewClientTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         minVersion,
		InsecureSkipVerify: insecure, //nolint:gosec // explicit opt-in for self-signed servers
	}
	if caFile == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, &CertificateError{Op: CertOpLoad, Path: caFile, Err: err}
	}
	cfg.RootCAs = x509.NewCertPool()
	if !cfg.RootCAs.AppendCertsFromPEM(data) {
		return nil, &CertificateError{Op: CertOpParse, Path: caFile, Err: errors.New("no PEM certificates found")}
	}
	return cfg, nil
}

// LogFields describes cfg for a log line.
func LogFields(cfg *tls.Config) []zap.Field {
	minV := "default"
	if cfg.MinVersion != 0 {
		minV = tls.VersionName(cfg.MinVersion)
	}
	return []zap.Field{
		zap.String("min_version", minV),
		zap.Int("certificates", len(cfg.Certificates)),
		zap.Bool("session_tickets", !cfg.SessionTicketsDisabled),
		zap.Bool("verify_peer", !cfg.InsecureSkipVerify),
	}
}
