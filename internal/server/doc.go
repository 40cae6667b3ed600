// Package server runs the wbemd daemon: it binds one acceptor per
// configured endpoint, drives the readiness monitor and answers requests
// with a pool of responder workers.
//
// # Endpoints
//
// Depending on the configuration the server listens on:
//   - a local (unix domain) socket, for clients on the same host
//   - IPv4 and optionally IPv6 on http_port (5988)
//   - IPv4 and optionally IPv6 on https_port (5989), with TLS
//
// HTTPS uses the configured certificate files or, with tls.generate_cert,
// a self-signed certificate generated in memory at start-up.
//
// # Request Flow
//
//  1. The monitor reports a readable socket to its acceptor or connection
//  2. The connection reads and decodes a complete request
//  3. The request is queued on the shared request queue
//  4. A responder worker builds the response fragments
//  5. The fragments are queued on the connection, which writes them
//
// The built-in Responder echoes POST and M-POST bodies and answers OPTIONS
// with the CIM capability headers, so the transport can be exercised
// without a CIM object manager behind it.
//
// # Usage Example
//
//	func serve(ctx context.Context, path string) error {
//		cfg, err := config.Load(path)
//		if err != nil {
//			return err
//		}
//		srv, err := server.New(cfg, path)
//		if err != nil {
//			return err
//		}
//		defer srv.Close()
//		if err := srv.Bind(); err != nil {
//			return err
//		}
//		return srv.Run(ctx)
//	}
//
// # Graceful Shutdown
//
// When the Run context ends the server:
//  1. Stops accepting new connections
//  2. Waits up to ten seconds for outstanding responses
//  3. Destroys the remaining connections
//  4. Withdraws its service advertisements
//
// # Runtime Reload
//
// With a configuration path set, changes to idle_connection_timeout and
// socket_write_timeout apply to open connections without a restart.
package server
