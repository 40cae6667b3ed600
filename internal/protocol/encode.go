package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// AppendChunk appends data framed as one chunk.
func AppendChunk(dst, data []byte) []byte {
	dst = strconv.AppendUint(dst, uint64(len(data)), 16)
	dst = append(dst, CRLF...)
	dst = append(dst, data...)
	return append(dst, CRLF...)
}

// TrailerNames returns the Trailer field value announcing the fields that
// may follow the last chunk. prefix is the "NN-" prefix of the response's
// CIMOperation field, or "".
func TrailerNames(prefix string) string {
	return prefix + HeaderCIMStatusCode + ", " +
		prefix + HeaderCIMStatusCodeDescription + ", " +
		HeaderContentLanguage
}

// AppendLastChunk appends the zero-size chunk, the trailer fields for
// status and languages, and the final CRLF.
func AppendLastChunk(dst []byte, prefix string, status *CIMStatus, languages []string) []byte {
	dst = append(dst, '0')
	dst = append(dst, CRLF...)
	dst = AppendStatusFields(dst, prefix, status)
	if len(languages) > 0 {
		dst = AppendField(dst, HeaderContentLanguage, strings.Join(languages, ", "))
	}
	return append(dst, CRLF...)
}

// AppendStatusFields appends CIMStatusCode and CIMStatusCodeDescription
// fields for a non-nil status.
func AppendStatusFields(dst []byte, prefix string, status *CIMStatus) []byte {
	if status == nil {
		return dst
	}
	dst = AppendField(dst, prefix+HeaderCIMStatusCode, strconv.FormatUint(uint64(status.Code), 10))
	if status.Description != "" {
		dst = AppendField(dst, prefix+HeaderCIMStatusCodeDescription, URIEncode(status.Description))
	}
	return dst
}

// AppendField appends "name: value\r\n".
func AppendField(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, CRLF...)
}

// AppendContentLengthField appends the fixed-width content-length field
// with a zero value, to be rewritten by SetContentLength.
func AppendContentLengthField(dst []byte) []byte {
	dst = append(dst, contentLengthLine...)
	return append(dst, CRLF...)
}

// findFixedField locates the fixed-width content-length line inside the
// header block buf[:headerLen]. It returns -1 when the header has none.
func findFixedField(buf []byte, headerLen int) (int, error) {
	header := buf[:headerLen]
	from := 0
	for {
		i := bytes.Index(header[from:], []byte(contentLengthName))
		if i < 0 {
			return -1, nil
		}
		idx := from + i
		if idx > 0 && header[idx-1] == '\n' {
			if bytes.Index(header[idx:], crlf) != len(contentLengthLine) {
				return -1, Internal("content length was incorrectly formatted")
			}
			return idx, nil
		}
		from = idx + 1
	}
}

// SetContentLength rewrites the fixed-width content-length value in place.
// It reports false when the header carries no content-length field.
func SetContentLength(buf []byte, headerLen, length int) (bool, error) {
	idx, err := findFixedField(buf, headerLen)
	if err != nil || idx < 0 {
		return false, err
	}
	digits := fmt.Sprintf("%0*d", NumberWidth, length)
	if len(digits) != NumberWidth {
		return false, Internal("content length exceeds the reserved width")
	}
	copy(buf[idx+len(contentLengthName)+2:], digits)
	return true, nil
}

// OverlayTransferEncoding replaces the fixed-width content-length field by
// "transfer-encoding: chunked" in place.
func OverlayTransferEncoding(buf []byte, headerLen int) (bool, error) {
	idx, err := findFixedField(buf, headerLen)
	if err != nil || idx < 0 {
		return false, err
	}
	copy(buf[idx:], transferEncodingLine)
	return true, nil
}

// InsertField inserts "name: value\r\n" just before the blank line that ends
// the header block of buf. It returns the new buffer and header length.
func InsertField(buf []byte, headerLen int, name, value string) ([]byte, int) {
	at := headerLen - len(crlf)
	if at < 0 || !bytes.Equal(buf[at:headerLen], crlf) {
		at = headerLen - 1
	}
	field := AppendField(nil, name, value)
	out := make([]byte, 0, len(buf)+len(field))
	out = append(out, buf[:at]...)
	out = append(out, field...)
	out = append(out, buf[at:]...)
	return out, headerLen + len(field)
}

const unreserved = "-_.!~*'()"

// URIEncode percent-encodes every byte that is not an unreserved URI
// character.
func URIEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', isDigit(c), strings.IndexByte(unreserved, c) >= 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
