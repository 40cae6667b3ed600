// Package config provides the wbemd daemon configuration.
//
// The configuration is a YAML file. Every key is optional; missing keys
// keep the values returned by Default.
//
// # Configuration File Location
//
// Unless a path is given explicitly, the file is read from:
//   - $XDG_CONFIG_HOME/wbemd/config.yaml, or
//   - $HOME/.config/wbemd/config.yaml
//
// A missing file is not an error.
//
// # Example
//
//	http_port: 5988
//	https_port: 5989
//	enable_https: true
//	enable_local: true
//	idle_connection_timeout: 5m
//	tls:
//	  generate_cert: true
//	advertise:
//	  enabled: true
//
// # Reloading
//
// Watch follows the file and reports every successfully parsed version.
// Only the connection timeouts are applied to a running server; listener
// changes need a restart.
package config
