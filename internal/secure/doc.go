// Package secure provides the socket abstraction used by the transport:
// a uniform Socket interface with a plaintext and a TLS implementation,
// TLS configuration builders and self-signed certificate generation.
//
// Sockets wrap raw non-blocking descriptors so the readiness monitor can
// poll them directly. Reads never block. The TLS server handshake runs on
// a goroutine of its own and reports completion through a callback, so a
// slow or silent peer cannot stall the monitor loop.
package secure
