// Package protocol implements the HTTP/1.1 message layer carried by the
// CIM-over-HTTP transport.
//
// The package is byte oriented: it works on the accumulation buffers owned
// by a transport connection and never performs I/O itself.
//
// # Message Model
//
// A Message is a header block followed by an opaque body. Response messages
// may be split into fragments; the First and Complete flags together with
// Index describe where a fragment sits in the sequence:
//   - First: the fragment starts a new wire message (it carries the header)
//   - Complete: the fragment ends the wire message
//   - Index: increases by one per fragment of the same wire message
//
// # Header Handling
//
// Parse splits a header block into a start line and an ordered header list.
// Duplicate names are merged into one entry with the values joined by ", ".
// Header names may carry a two-digit "NN-" prefix (as used by M-POST);
// Headers.Lookup matches such names case-insensitively when asked to, and
// Headers.Prefix returns the prefix in use for a given CIM field.
//
// ScanHeaderBlock is the incremental counterpart used while bytes arrive.
// It locates the header terminator and extracts Content-Length,
// Transfer-Encoding, TE and Content-Language, raising a *StatusError for
// violations:
//   - 400 for duplicate Content-Length, Transfer-Encoding or TE fields
//   - 400 for an unparseable Content-Length
//   - 413 for more header lines than MaxHeaders
//   - 501 for a transfer coding other than chunked or identity
//
// # Chunked Transfer-Encoding
//
// ChunkDecoder strips chunk framing in place. It is restartable: calling
// Decode again after more bytes were appended continues where the previous
// call stopped, so the decoded result never depends on how the peer split
// its writes.
//
// The encoder side produces chunk-size lines, the trailer name line and the
// terminating zero-size chunk with its optional trailer:
//
//	header (content-length overlaid with transfer-encoding: chunked)
//	Trailer: CIMStatusCode, CIMStatusCodeDescription, Content-Language
//	<hex size>\r\n<bytes>\r\n ...
//	0\r\n[trailer fields]\r\n
//
// # Fixed-Width Fields
//
// Response headers reserve a ten digit content-length value:
//
//	content-length: 0000000000
//
// The field is 26 bytes wide, exactly as wide as
//
//	transfer-encoding: chunked
//
// so both SetContentLength and OverlayTransferEncoding rewrite the header
// in place without moving any byte of the message.
//
// # Thread Safety
//
// Functions are stateless and safe for concurrent use. A ChunkDecoder and a
// Message belong to a single connection and must not be shared.
package protocol
