// Package logging provides structured logging for the wbemd daemon and tools.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used by the transport engine: connection lifecycle, TLS handshakes,
// request/response summaries and raw wire dumps.
//
// # Log Levels
//
//   - Debug: wire dumps, readiness passes, per-request summaries
//   - Info: acceptor binds, connection accept/close, handshakes
//   - Warn: dropped connections, protocol violations, timeouts
//   - Error: bind failures, internal errors that force a connection closed
//
// # Structured Logging
//
//	logging.Info("Acceptor bound",
//	    zap.String("addr", "0.0.0.0:5988"),
//	    zap.Int("backlog", 15),
//	)
//
// Connection events:
//
//	logging.LogConnection(remoteAddr, "accepted")
//	logging.LogConnection(remoteAddr, "idle_timeout")
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//		return err
//	}
//	defer logging.Sync()
//
// With an empty level the WBEMD_LOG_LEVEL environment variable is consulted;
// when that is unset as well the logger is a no-op, which keeps CLI output clean.
//
// SetLevel changes the level of a running logger; the server calls it when
// log_level changes in a reloaded configuration.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and SetLogger
// are expected to run once during start-up.
package logging
