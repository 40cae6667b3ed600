package secure

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"strings"
	"time"
)

// CertParams describes a self-signed server certificate.
type CertParams struct {
	CommonName   string
	Organization string
	// Hosts become DNS or IP subject alternative names.
	Hosts     []string
	ValidDays int
}

// DefaultCertParams covers the host name, localhost and both loopback
// addresses for one year.
func DefaultCertParams() CertParams {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return CertParams{
		CommonName:   host,
		Organization: "wbemd",
		Hosts:        []string{host, "localhost", "127.0.0.1", "::1"},
		ValidDays:    365,
	}
}

// ServerCert is a generated certificate with its key, both PEM encoded.
type ServerCert struct {
	CertPEM     []byte
	KeyPEM      []byte
	Certificate *x509.Certificate
}

// Fingerprint returns the SHA-256 digest of the certificate as colon
// separated hex, the form clients show when asked to trust it.
func (c *ServerCert) Fingerprint() string {
	sum := sha256.Sum256(c.Certificate.Raw)
	pairs := make([]string, len(sum))
	for i, b := range sum {
		pairs[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(pairs, ":")
}

// GenerateServerCert creates a self-signed ECDSA P-256 server certificate.
// The key is PKCS #8 encoded.
func GenerateServerCert(params CertParams) (*ServerCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, &CertificateError{Op: CertOpKey, Err: err}
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CertificateError{Op: CertOpSerial, Err: err}
	}

	validDays := params.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	// Backdated to tolerate small clock skew between peers.
	notBefore := time.Now().Add(-5 * time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   params.CommonName,
			Organization: []string{params.Organization},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, validDays),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range params.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
			continue
		}
		template.DNSNames = append(template.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, &CertificateError{Op: CertOpSign, Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CertificateError{Op: CertOpParse, Err: err}
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, &CertificateError{Op: CertOpEncode, Err: err}
	}

	return &ServerCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
		Certificate: cert,
	}, nil
}
