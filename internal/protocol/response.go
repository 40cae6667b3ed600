package protocol

// Version is the protocol version written on start lines.
const Version = "HTTP/1.1"

// ErrorResponse formats a bodyless error response:
//
//	HTTP/1.1 <code> <reason>
//	CIMError: <cimError>           (when set)
//	PGErrorDetail: <uri-encoded>   (when set)
//	content-length: 0000000000
func ErrorResponse(code int, cimError, detail string) []byte {
	b := make([]byte, 0, 128)
	b = append(b, Version+" "+StatusLine(code)+CRLF...)
	if cimError != "" {
		b = AppendField(b, HeaderCIMError, cimError)
	}
	if detail != "" {
		b = AppendField(b, HeaderErrorDetail, URIEncode(detail))
	}
	b = AppendContentLengthField(b)
	return append(b, CRLF...)
}

// ErrorResponseFor formats the error response for err.
func ErrorResponseFor(err error) []byte {
	se := AsStatusError(err)
	return ErrorResponse(se.Code, se.CIMError, se.Detail)
}

// ResponseHeader builds a response header block with a reserved
// content-length field. Body bytes may follow directly; the transport
// fills in the length or switches to chunked framing when it sends the
// response.
func ResponseHeader(code int, fields Headers) []byte {
	b := make([]byte, 0, 256)
	b = append(b, Version+" "+StatusLine(code)+CRLF...)
	for _, f := range fields {
		b = AppendField(b, f.Name, f.Value)
	}
	b = AppendContentLengthField(b)
	return append(b, CRLF...)
}

// BuildRequest builds a complete request with its content length set.
func BuildRequest(method, uri string, fields Headers, body []byte) []byte {
	b := make([]byte, 0, 256+len(body))
	b = append(b, method+" "+uri+" "+Version+CRLF...)
	for _, f := range fields {
		b = AppendField(b, f.Name, f.Value)
	}
	b = AppendContentLengthField(b)
	b = append(b, CRLF...)
	headerLen := len(b)
	b = append(b, body...)
	// The field was appended above, so only the width can fail.
	_, _ = SetContentLength(b, headerLen, len(body))
	return b
}
