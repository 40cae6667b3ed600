package protocol

// Wire constants
const (
	CRLF = "\r\n"

	// TCPBufferSize bounds a single socket read or write.
	TCPBufferSize = 8192

	// MaxHeaders is the largest number of header lines accepted in one
	// message.
	MaxHeaders = 1000

	// NumberWidth is the number of digits reserved for content-length values.
	NumberWidth = 10

	// MaxChunkSize is the largest chunk size a peer may declare.
	MaxChunkSize = 1<<31 - 1

	// MaxContentLength is the largest body a peer may announce.
	MaxContentLength = 1<<31 - 1
)

// Header names
const (
	HeaderContentLength                 = "Content-Length"
	HeaderTransferEncoding              = "Transfer-Encoding"
	HeaderTE                            = "TE"
	HeaderTrailer                       = "Trailer"
	HeaderContentLanguage               = "Content-Language"
	HeaderContentType                   = "Content-Type"
	HeaderConnection                    = "Connection"
	HeaderServer                        = "Server"
	HeaderUserAgent                     = "User-Agent"
	HeaderHost                          = "Host"
	HeaderCIMOperation                  = "CIMOperation"
	HeaderCIMMethod                     = "CIMMethod"
	HeaderCIMObject                     = "CIMObject"
	HeaderCIMError                      = "CIMError"
	HeaderCIMStatusCode                 = "CIMStatusCode"
	HeaderCIMStatusCodeDescription      = "CIMStatusCodeDescription"
	HeaderCIMProtocolVersion            = "CIMProtocolVersion"
	HeaderCIMSupportedFunctionalGroups  = "CIMSupportedFunctionalGroups"
	HeaderCIMSupportsMultipleOperations = "CIMSupportsMultipleOperations"
	HeaderErrorDetail                   = "PGErrorDetail"
	HeaderMan                           = "Man"
	HeaderOpt                           = "Opt"
)

// Transfer coding tokens
const (
	CodingChunked  = "chunked"
	CodingIdentity = "identity"
	CodingTrailers = "trailers"
)

// Fixed-width header fields. Both lines are exactly the same length.
const (
	contentLengthName    = "content-length"
	contentLengthLine    = "content-length: 0000000000"
	transferEncodingLine = "transfer-encoding: chunked"
)

// CIMError header values
const (
	CIMErrorUnsupportedProtocolVersion  = "unsupported-protocol-version"
	CIMErrorMultipleRequestsUnsupported = "multiple-requests-unsupported"
	CIMErrorUnsupportedCIMVersion       = "unsupported-cim-version"
	CIMErrorUnsupportedDTDVersion       = "unsupported-dtd-version"
	CIMErrorRequestNotValid             = "request-not-valid"
	CIMErrorRequestNotWellFormed        = "request-not-well-formed"
	CIMErrorRequestNotLooselyValid      = "request-not-loosely-valid"
	CIMErrorHeaderMismatch              = "header-mismatch"
	CIMErrorUnsupportedOperation        = "unsupported-operation"
)
