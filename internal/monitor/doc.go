// Package monitor implements the connection-readiness table.
//
// A Monitor owns one entry per watched socket. A single goroutine calls Run
// in a loop; each pass retires dying connections, polls every idle entry
// and dispatches readiness:
//   - the tickler is drained
//   - connections run their read handler, or are closed when a handshake
//     or idle deadline passed
//   - other kinds receive a message.SocketMessage on their queue
//
// Lock order is monitor before connection. Connection methods invoked by
// Run execute under the monitor lock and report what should happen to
// their entry through an Outcome instead of calling back.
package monitor
