package secure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

// readFull reads from s until n bytes arrived, retrying on ErrWouldBlock.
func readFull(t *testing.T, s Socket, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	buf := make([]byte, 0, n)
	tmp := make([]byte, 1024)
	for len(buf) < n {
		got, err := s.Read(tmp)
		buf = append(buf, tmp[:got]...)
		if errors.Is(err, ErrWouldBlock) {
			require.True(t, time.Now().Before(deadline), "timed out after %d bytes", len(buf))
			time.Sleep(5 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
	}
	return buf
}

func TestPlainSocket_NonBlockingRead(t *testing.T) {
	a, b := socketPair(t)
	s := NewPlainSocket(a, "localhost")
	defer s.Close()

	_, err := s.Read(make([]byte, 16))
	assert.ErrorIs(t, err, ErrWouldBlock)

	_, err = unix.Write(b, []byte("hello"))
	require.NoError(t, err)

	peek := make([]byte, 16)
	n, err := s.Peek(peek)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(peek[:n]))

	buf := make([]byte, 16)
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, unix.Close(b))
	_, err = s.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	assert.False(t, s.IsSecure())
	assert.False(t, s.Incomplete())
	assert.Equal(t, "localhost", s.RemoteAddr())
	state, err := s.Accept()
	assert.NoError(t, err)
	assert.Equal(t, HandshakeComplete, state)
}

func TestPlainSocket_WriteTimeout(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)
	s := NewPlainSocket(a, "localhost")
	defer s.Close()
	s.SetWriteTimeout(50 * time.Millisecond)

	// Nobody reads from b, so the socket buffer fills up.
	start := time.Now()
	n, err := s.Write(make([]byte, 16<<20))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, n, 16<<20)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTLSSocket_Handshake(t *testing.T) {
	cert, err := GenerateServerCert(DefaultCertParams())
	require.NoError(t, err)
	serverConfig, err := NewServerTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	require.NoError(t, err)
	clientConfig := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed test certificate

	a, b := socketPair(t)
	done := make(chan HandshakeState, 1)
	server := NewTLSServerSocket(a, "client", serverConfig,
		WithHandshakeTimeout(5*time.Second),
		WithHandshakeCallback(func(st HandshakeState) { done <- st }),
	)
	defer server.Close()
	client := NewTLSClientSocket(b, "server", clientConfig)
	defer client.Close()

	state, err := server.Accept()
	require.NoError(t, err)
	assert.Equal(t, HandshakePending, state)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	select {
	case st := <-done:
		require.Equal(t, HandshakeComplete, st)
	case <-time.After(5 * time.Second):
		t.Fatal("handshake callback not called")
	}
	state, err = server.Accept()
	require.NoError(t, err)
	assert.Equal(t, HandshakeComplete, state)
	assert.True(t, server.IsSecure())

	_, err = client.Write([]byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(readFull(t, server, 5)))

	_, err = server.Write([]byte("WORLD"))
	require.NoError(t, err)
	assert.Equal(t, "WORLD", string(readFull(t, client, 5)))
}

func TestTLSSocket_HandshakeFailure(t *testing.T) {
	cert, err := GenerateServerCert(DefaultCertParams())
	require.NoError(t, err)
	serverConfig, err := NewServerTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	require.NoError(t, err)

	a, b := socketPair(t)
	done := make(chan HandshakeState, 1)
	server := NewTLSServerSocket(a, "client", serverConfig,
		WithHandshakeCallback(func(st HandshakeState) { done <- st }),
	)
	defer server.Close()

	_, err = server.Accept()
	require.NoError(t, err)

	// A plaintext HTTP request is not a TLS ClientHello.
	_, err = unix.Write(b, []byte("POST /cimom HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	select {
	case st := <-done:
		assert.Equal(t, HandshakeFailed, st)
	case <-time.After(5 * time.Second):
		t.Fatal("handshake callback not called")
	}
	state, err := server.Accept()
	assert.Error(t, err)
	assert.Equal(t, HandshakeFailed, state)
	unix.Close(b)
}

func TestTLSSocket_CloseDuringHandshake(t *testing.T) {
	cert, err := GenerateServerCert(DefaultCertParams())
	require.NoError(t, err)
	serverConfig, err := NewServerTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	require.NoError(t, err)

	a, b := socketPair(t)
	defer unix.Close(b)
	server := NewTLSServerSocket(a, "client", serverConfig)
	_, err = server.Accept()
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		server.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a silent peer")
	}
}

func TestGenerateServerCert(t *testing.T) {
	params := DefaultCertParams()
	cert, err := GenerateServerCert(params)
	require.NoError(t, err)

	assert.Equal(t, params.CommonName, cert.Certificate.Subject.CommonName)
	assert.Contains(t, cert.Certificate.DNSNames, "localhost")
	require.NotEmpty(t, cert.Certificate.IPAddresses)
	assert.True(t, cert.Certificate.IPAddresses[0].IsLoopback())
	assert.Contains(t, string(cert.CertPEM), "BEGIN CERTIFICATE")
	assert.Contains(t, string(cert.KeyPEM), "BEGIN PRIVATE KEY")
	assert.Equal(t, x509.ECDSA, cert.Certificate.PublicKeyAlgorithm)

	fp := cert.Fingerprint()
	assert.Len(t, fp, 32*3-1)
	assert.Equal(t, strings.ToUpper(fp), fp)
}

func TestCertificateError(t *testing.T) {
	_, err := NewServerTLSConfig("/nonexistent/cert.pem", "/nonexistent/key.pem")
	var ce *CertificateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CertOpLoad, ce.Op)
	assert.Contains(t, err.Error(), "/nonexistent/cert.pem")

	_, err = NewServerTLSConfigFromMemory([]byte("junk"), []byte("junk"))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CertOpKeyMatch, ce.Op)
}

func TestNewClientTLSConfig(t *testing.T) {
	cert, err := GenerateServerCert(DefaultCertParams())
	require.NoError(t, err)

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caFile, cert.CertPEM, 0o600))

	tests := []struct {
		name    string
		caFile  string
		wantErr bool
		verify  func(t *testing.T, c *tls.Config)
	}{
		{
			name: "system roots",
			verify: func(t *testing.T, c *tls.Config) {
				assert.Nil(t, c.RootCAs)
			},
		},
		{
			name:   "custom root",
			caFile: caFile,
			verify: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
			},
		},
		{
			name:    "missing file",
			caFile:  filepath.Join(dir, "missing.pem"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClientTLSConfig(tt.caFile, false)
			if tt.wantErr {
				var ce *CertificateError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			tt.verify(t, c)
		})
	}
}

func TestHandshakeStateString(t *testing.T) {
	assert.Equal(t, "failed", HandshakeFailed.String())
	assert.Equal(t, "pending", HandshakePending.String())
	assert.Equal(t, "complete", HandshakeComplete.String())
	assert.Equal(t, "unknown", HandshakeState(9).String())
}
