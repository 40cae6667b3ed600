package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"refused", fmt.Errorf("connect: %w", syscall.ECONNREFUSED), ErrTypeConnectionRefused, true},
		{"missing socket file", fmt.Errorf("connect: %w", syscall.ENOENT), ErrTypeConnectionRefused, true},
		{"timeout", fmt.Errorf("connect: %w", syscall.ETIMEDOUT), ErrTypeTimeout, true},
		{"deadline", os.ErrDeadlineExceeded, ErrTypeTimeout, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, ErrTypeDNS, false},
		{"host unreachable", fmt.Errorf("connect: %w", syscall.EHOSTUNREACH), ErrTypeConnect, true},
		{"other", errors.New("boom"), ErrTypeConnect, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := ClassifyConnectError(tt.err, "host:5988")
			assert.Equal(t, tt.wantType, te.Type)
			assert.Equal(t, tt.retryable, te.Retryable)
			assert.Equal(t, "host:5988", te.Addr)
			assert.ErrorIs(t, te, tt.err)
			assert.Equal(t, tt.retryable, IsRetryable(te))
		})
	}

	assert.Nil(t, ClassifyConnectError(nil, "x"))

	already := NewHandshakeError("x", errors.New("bad cert"))
	assert.Same(t, already, ClassifyConnectError(already, "y"))
}

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want string
	}{
		{ErrTypeBind, "Bind Error"},
		{ErrTypeTimeout, "Timeout"},
		{ErrTypeHandshake, "Handshake Error"},
		{ErrorType(99), "ErrorType(99)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Type: ErrTypeClosed, Message: "Server closed the connection"}
	assert.Equal(t, "Connection Closed: Server closed the connection", err.Error())

	wrapped := &TransportError{Type: ErrTypeTimeout, Message: "slow", Err: syscall.ETIMEDOUT}
	assert.Contains(t, wrapped.Error(), "caused by")
	assert.True(t, IsTimeoutError(wrapped))
	assert.False(t, IsTimeoutError(err))

	be := &BindError{Step: "listen", Addr: ":5988", Err: syscall.EACCES}
	assert.Equal(t, "failed to listen for :5988: permission denied", be.Error())
	assert.Contains(t, GetTroubleshootingHint(be), "Permission denied")
}

func TestGetTroubleshootingHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", &TransportError{Type: ErrTypeTimeout}, "did not respond"},
		{"refused", &TransportError{Type: ErrTypeConnectionRefused}, "5989"},
		{"dns", &TransportError{Type: ErrTypeDNS}, "hostname"},
		{"handshake", &TransportError{Type: ErrTypeHandshake}, "--insecure"},
		{"plain error", errors.New("x"), "unexpected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, GetTroubleshootingHint(tt.err), tt.want)
		})
	}
}

func TestHints(t *testing.T) {
	tips := Hints(&BindError{Step: "bind", Addr: ":5988", Err: syscall.EADDRINUSE})
	assert.Equal(t, "The address is already in use.", tips[0])
	assert.Len(t, tips, 3)
	for _, tip := range tips {
		assert.NotContains(t, tip, "•")
	}

	assert.Equal(t, []string{"An unexpected error occurred. Please try again."}, Hints(errors.New("x")))
	assert.NotContains(t, GetTroubleshootingHint(errors.New("x")), "Troubleshooting:")
}

func TestSettingsStore(t *testing.T) {
	var nilStore *SettingsStore
	assert.Equal(t, DefaultSettings(), nilStore.Load())

	st := NewSettingsStore(Settings{IdleTimeout: time.Minute})
	got := st.Load()
	assert.Equal(t, time.Minute, got.IdleTimeout)
	assert.Equal(t, 20*time.Second, got.HandshakeTimeout, "zero handshake timeout falls back to the default")

	st.Store(Settings{IdleTimeout: 0, WriteTimeout: time.Second, HandshakeTimeout: time.Second})
	got = st.Load()
	assert.Zero(t, got.IdleTimeout)
	assert.Equal(t, time.Second, got.HandshakeTimeout)
}

func TestRefCount(t *testing.T) {
	r := newRefCount()
	assert.True(t, r.acquire())
	assert.Equal(t, 1, r.count())

	drained := make(chan struct{})
	go func() {
		r.drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned while a reference was held")
	case <-time.After(20 * time.Millisecond):
	}

	r.release()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain did not return")
	}
	assert.False(t, r.acquire(), "no references after drain")
	assert.False(t, r.drain())
}
