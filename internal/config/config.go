package config

import (
	"errors"
	"fmt"
	"time"
)

// CurrentVersion is the configuration file format version.
const CurrentVersion = 1

// Config represents the daemon configuration file.
type Config struct {
	Version int `yaml:"version"`

	// Listeners
	ListenAddress   string `yaml:"listen_address,omitempty"` // Empty listens on all addresses
	HTTPPort        int    `yaml:"http_port"`
	HTTPSPort       int    `yaml:"https_port"`
	EnableHTTP      bool   `yaml:"enable_http"`
	EnableHTTPS     bool   `yaml:"enable_https"`
	EnableLocal     bool   `yaml:"enable_local"`
	EnableIPv6      bool   `yaml:"enable_ipv6"`
	LocalSocketPath string `yaml:"local_socket_path"`
	ListenBacklog   int    `yaml:"listen_backlog"`
	EnableWeb       bool   `yaml:"enable_web"` // Accept GET and HEAD

	// Connection limits
	SocketWriteTimeout    time.Duration `yaml:"socket_write_timeout"`
	IdleConnectionTimeout time.Duration `yaml:"idle_connection_timeout"` // 0 disables
	SSLAcceptTimeout      time.Duration `yaml:"ssl_accept_timeout"`
	MonitorTimeout        time.Duration `yaml:"monitor_timeout"`

	LogLevel string `yaml:"log_level,omitempty"`

	TLS       TLSConfig       `yaml:"tls"`
	Advertise AdvertiseConfig `yaml:"advertise"`
	Responder ResponderConfig `yaml:"responder"`
}

// TLSConfig locates the HTTPS server certificate.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file,omitempty"`
	KeyFile      string `yaml:"key_file,omitempty"`
	GenerateCert bool   `yaml:"generate_cert"` // Self-signed certificate when no files are set
}

// AdvertiseConfig controls the mDNS service announcement.
type AdvertiseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"` // Defaults to the host name
}

// ResponderConfig tunes the built-in loopback responder.
type ResponderConfig struct {
	Workers   int `yaml:"workers"`
	ChunkSize int `yaml:"chunk_size"` // Response fragment size in bytes
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version:               CurrentVersion,
		HTTPPort:              5988,
		HTTPSPort:             5989,
		EnableHTTP:            true,
		EnableHTTPS:           false,
		EnableLocal:           false,
		EnableIPv6:            false,
		LocalSocketPath:       "/var/run/wbemd/cimxml.socket",
		ListenBacklog:         15,
		SocketWriteTimeout:    20 * time.Second,
		IdleConnectionTimeout: 0,
		SSLAcceptTimeout:      20 * time.Second,
		MonitorTimeout:        500 * time.Millisecond,
		TLS: TLSConfig{
			GenerateCert: true,
		},
		Advertise: AdvertiseConfig{
			Enabled: false,
		},
		Responder: ResponderConfig{
			Workers:   4,
			ChunkSize: 4096,
		},
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion))
	}
	if !c.EnableHTTP && !c.EnableHTTPS && !c.EnableLocal {
		errs = append(errs, errors.New("no listener enabled: set enable_http, enable_https or enable_local"))
	}

	checkPort := func(name string, port int) {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if c.EnableHTTP {
		checkPort("http_port", c.HTTPPort)
	}
	if c.EnableHTTPS {
		checkPort("https_port", c.HTTPSPort)
	}
	if c.EnableHTTP && c.EnableHTTPS && c.HTTPPort == c.HTTPSPort && c.HTTPPort != 0 {
		errs = append(errs, fmt.Errorf("http_port and https_port are both %d", c.HTTPPort))
	}
	if c.EnableLocal && c.LocalSocketPath == "" {
		errs = append(errs, errors.New("enable_local needs local_socket_path"))
	}
	if c.EnableHTTPS && !c.TLS.GenerateCert && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("enable_https needs tls.cert_file and tls.key_file, or tls.generate_cert"))
	}

	if c.ListenBacklog <= 0 {
		errs = append(errs, fmt.Errorf("listen_backlog must be positive, got %d", c.ListenBacklog))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"socket_write_timeout", c.SocketWriteTimeout},
		{"idle_connection_timeout", c.IdleConnectionTimeout},
		{"ssl_accept_timeout", c.SSLAcceptTimeout},
		{"monitor_timeout", c.MonitorTimeout},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.name, d.value))
		}
	}
	if c.Responder.Workers <= 0 {
		errs = append(errs, fmt.Errorf("responder.workers must be positive, got %d", c.Responder.Workers))
	}
	if c.Responder.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("responder.chunk_size must not be negative, got %d", c.Responder.ChunkSize))
	}

	return errors.Join(errs...)
}
