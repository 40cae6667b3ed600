package secure

import "fmt"

// CertOp names the certificate step that failed.
type CertOp string

const (
	CertOpLoad     CertOp = "load"
	CertOpParse    CertOp = "parse"
	CertOpKey      CertOp = "generate key"
	CertOpSerial   CertOp = "generate serial"
	CertOpSign     CertOp = "sign"
	CertOpEncode   CertOp = "encode key"
	CertOpKeyMatch CertOp = "match key"
)

// CertificateError reports a failure while loading, parsing or generating
// a certificate. Path is set for file-based operations.
type CertificateError struct {
	Op   CertOp
	Path string
	Err  error
}

func (e *CertificateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("certificate %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("certificate %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *CertificateError) Unwrap() error { return e.Err }
