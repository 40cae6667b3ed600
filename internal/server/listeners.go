package server

import (
	"crypto/tls"
	"net"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/transport"
)

// listenerPlan returns one acceptor configuration per enabled endpoint:
// the local socket, then IPv4 and IPv6 for HTTP and for HTTPS.
//
// An IPv4 listen_address disables the IPv6 listeners and an IPv6 one
// disables the IPv4 listeners.
func listenerPlan(cfg *config.Config, tlsConfig *tls.Config, settings *transport.SettingsStore) []transport.AcceptorConfig {
	v4Host, v6Host := "", ""
	wantV4, wantV6 := true, cfg.EnableIPv6
	if ip := net.ParseIP(cfg.ListenAddress); ip != nil {
		if ip.To4() != nil {
			v4Host = cfg.ListenAddress
			wantV6 = false
		} else {
			v6Host = cfg.ListenAddress
			wantV4 = false
		}
	} else {
		v4Host = cfg.ListenAddress
	}

	var plan []transport.AcceptorConfig
	add := func(kind transport.AddressKind, host string, port int, tlsCfg *tls.Config) {
		plan = append(plan, transport.AcceptorConfig{
			Kind:      kind,
			Host:      host,
			Port:      port,
			LocalPath: cfg.LocalSocketPath,
			Backlog:   cfg.ListenBacklog,
			TLS:       tlsCfg,
			EnableWeb: cfg.EnableWeb,
			Settings:  settings,
		})
	}

	if cfg.EnableLocal {
		add(transport.AddressLocal, "", 0, nil)
	}
	if cfg.EnableHTTP {
		if wantV4 {
			add(transport.AddressIPv4, v4Host, cfg.HTTPPort, nil)
		}
		if wantV6 {
			add(transport.AddressIPv6, v6Host, cfg.HTTPPort, nil)
		}
	}
	if cfg.EnableHTTPS {
		if wantV4 {
			add(transport.AddressIPv4, v4Host, cfg.HTTPSPort, tlsConfig)
		}
		if wantV6 {
			add(transport.AddressIPv6, v6Host, cfg.HTTPSPort, tlsConfig)
		}
	}
	return plan
}

// settingsFrom extracts the runtime tunables from a configuration.
func settingsFrom(cfg *config.Config) transport.Settings {
	return transport.Settings{
		IdleTimeout:      cfg.IdleConnectionTimeout,
		WriteTimeout:     cfg.SocketWriteTimeout,
		HandshakeTimeout: cfg.SSLAcceptTimeout,
	}
}
