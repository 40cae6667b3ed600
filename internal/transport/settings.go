package transport

import (
	"sync/atomic"
	"time"

	"github.com/muurk/wbemd/internal/secure"
)

// Settings are the per-connection limits. They are read on every timer
// check, so a reload takes effect without reconnecting.
type Settings struct {
	// IdleTimeout closes connections without traffic for this long.
	// Zero disables the idle check.
	IdleTimeout time.Duration
	// WriteTimeout bounds a single blocking response write.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds a server-side TLS handshake.
	HandshakeTimeout time.Duration
}

// DefaultSettings returns the limits used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		WriteTimeout:     20 * time.Second,
		HandshakeTimeout: secure.DefaultHandshakeTimeout,
	}
}

// SettingsStore holds the current Settings snapshot.
type SettingsStore struct {
	v atomic.Pointer[Settings]
}

// NewSettingsStore creates a store holding s.
func NewSettingsStore(s Settings) *SettingsStore {
	st := &SettingsStore{}
	st.Store(s)
	return st
}

// Load returns the current snapshot.
func (st *SettingsStore) Load() Settings {
	if st == nil {
		return DefaultSettings()
	}
	if p := st.v.Load(); p != nil {
		return *p
	}
	return DefaultSettings()
}

// Store replaces the snapshot.
func (st *SettingsStore) Store(s Settings) {
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = secure.DefaultHandshakeTimeout
	}
	st.v.Store(&s)
}
