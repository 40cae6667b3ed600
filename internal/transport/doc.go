// Package transport moves CIM-over-HTTP messages between sockets and
// message queues.
//
// An Acceptor owns a listening socket (IPv4, IPv6 or a local socket file)
// and every Connection accepted on it. A Connector establishes outbound
// connections. Both register their sockets with a monitor.Monitor, which
// drives all reads from a single goroutine:
//
//	monitor ──readable──▶ Connection.HandleReadable ──message──▶ sink queue
//	worker  ──fragment──▶ Connection.Enqueue ──bytes──▶ socket
//
// A server connection is BUSY in the monitor from the moment a complete
// request was handed to the sink until the last response fragment was
// written. Response fragments are either buffered and sent with a fixed
// content length, or streamed as chunks when the request's TE field allowed
// it, with the CIM status of the response carried in the chunk trailer.
//
// Connections are never destroyed by the goroutine that notices they must
// go. The monitor asks the owner through a buffered channel; the owner's
// Run loop unregisters the socket, waits for in-flight writers and closes
// it.
package transport
