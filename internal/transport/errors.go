package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorType classifies a TransportError.
type ErrorType int

const (
	ErrTypeBind ErrorType = iota
	ErrTypeAccept
	ErrTypeConnect
	ErrTypeTimeout
	ErrTypeConnectionRefused
	ErrTypeDNS
	ErrTypeHandshake
	// ErrTypeClosed means the peer went away before a response arrived.
	ErrTypeClosed
	ErrTypeUnknown
)

var errorTypeNames = [...]string{
	ErrTypeBind:              "Bind Error",
	ErrTypeAccept:            "Accept Error",
	ErrTypeConnect:           "Connection Error",
	ErrTypeTimeout:           "Timeout",
	ErrTypeConnectionRefused: "Connection Refused",
	ErrTypeDNS:               "DNS Error",
	ErrTypeHandshake:         "Handshake Error",
	ErrTypeClosed:            "Connection Closed",
	ErrTypeUnknown:           "Unknown Error",
}

func (t ErrorType) String() string {
	if t >= 0 && int(t) < len(errorTypeNames) {
		return errorTypeNames[t]
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

var (
	// ErrSocketWrite wraps every failure to put response bytes on the wire.
	ErrSocketWrite = errors.New("socket write error")
	// ErrConnectionClosed is returned for operations on a destroyed connection.
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotBound         = errors.New("acceptor is not bound")
)

// TransportError is a classified connection failure. Retryable is set when
// a fresh attempt against the same address may succeed.
type TransportError struct {
	Type      ErrorType
	Message   string
	Addr      string
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	msg := e.Type.String() + ": " + e.Message
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// BindError names the listen-socket setup step that failed, e.g. "bind"
// or "listen".
type BindError struct {
	Step string
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to %s for %s: %v", e.Step, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// connectErrnos maps connect(2) failures to their classification. A
// missing local socket file is treated like a refusal.
var connectErrnos = []struct {
	errno   syscall.Errno
	typ     ErrorType
	message string
}{
	{syscall.ECONNREFUSED, ErrTypeConnectionRefused, "Peer refused connection"},
	{syscall.ENOENT, ErrTypeConnectionRefused, "Peer refused connection"},
	{syscall.EHOSTUNREACH, ErrTypeConnect, "Host unreachable"},
	{syscall.ENETUNREACH, ErrTypeConnect, "Network unreachable"},
}

// ClassifyConnectError turns the failure of an outbound connection attempt
// to addr into a TransportError. Errors that are already classified are
// returned unchanged. Only DNS failures are not retryable.
func ClassifyConnectError(err error, addr string) *TransportError {
	if err == nil {
		return nil
	}
	var classified *TransportError
	if errors.As(err, &classified) {
		return classified
	}

	te := &TransportError{Type: ErrTypeConnect, Message: "Connection failed", Addr: addr, Err: err, Retryable: true}

	var dnsErr *net.DNSError
	switch {
	case os.IsTimeout(err) || errors.Is(err, syscall.ETIMEDOUT):
		te.Type, te.Message = ErrTypeTimeout, "Connection attempt timed out"
	case errors.As(err, &dnsErr):
		te.Type, te.Message = ErrTypeDNS, "DNS resolution failed for "+dnsErr.Name
		te.Retryable = false
	default:
		for _, c := range connectErrnos {
			if errors.Is(err, c.errno) {
				te.Type, te.Message = c.typ, c.message
				break
			}
		}
	}
	return te
}

func NewHandshakeError(addr string, err error) *TransportError {
	return &TransportError{Type: ErrTypeHandshake, Message: "TLS handshake failed", Addr: addr, Err: err}
}

func IsBindError(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

func IsTimeoutError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Type == ErrTypeTimeout
}

// IsRetryable reports whether err is a TransportError worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// hint is a one-line diagnosis with optional suggestions.
type hint struct {
	summary string
	tips    []string
}

var bindHints = map[syscall.Errno]hint{
	syscall.EADDRINUSE: {"The address is already in use.", []string{
		"Check whether another CIM server is running",
		"Choose a different port in the configuration",
	}},
	syscall.EACCES: {"Permission denied while binding.", []string{
		"Ports below 1024 need elevated privileges",
		"Check the permissions of the local socket directory",
	}},
}

var connectHints = map[ErrorType]hint{
	ErrTypeTimeout: {"The server did not respond in time.", []string{
		"Check that the server is running",
		"Try increasing the timeout duration",
	}},
	ErrTypeConnectionRefused: {"The server refused the connection.", []string{
		"Verify the port number (5988 for HTTP, 5989 for HTTPS)",
		"Check that the server listens on this address family",
	}},
	ErrTypeDNS: {"Could not resolve the server hostname.", []string{
		"Use the IP address instead of hostname",
		"Check your network DNS settings",
	}},
	ErrTypeHandshake: {"The TLS handshake failed.", []string{
		"Check that the port expects HTTPS",
		"Use --insecure for self-signed certificates",
	}},
}

func hintFor(err error) hint {
	var be *BindError
	if errors.As(err, &be) {
		for errno, h := range bindHints {
			if errors.Is(be.Err, errno) {
				return h
			}
		}
		return hint{summary: "The listening socket could not be set up. Check the error message for details."}
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return hint{summary: "An unexpected error occurred. Please try again."}
	}
	if h, ok := connectHints[te.Type]; ok {
		return h
	}
	return hint{summary: "An error occurred. Please check the error message for details."}
}

// Hints returns the diagnosis for err followed by its suggestions, one
// per element, for display in a result box.
func Hints(err error) []string {
	h := hintFor(err)
	return append([]string{h.summary}, h.tips...)
}

// GetTroubleshootingHint renders the diagnosis for err as text, with any
// suggestions listed under a "Troubleshooting:" heading.
func GetTroubleshootingHint(err error) string {
	h := hintFor(err)
	if len(h.tips) == 0 {
		return h.summary
	}
	var b strings.Builder
	b.WriteString(h.summary)
	b.WriteString("\nTroubleshooting:")
	for _, tip := range h.tips {
		b.WriteString("\n  • " + tip)
	}
	return b.String()
}
