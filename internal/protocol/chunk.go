package protocol

import (
	"bytes"
	"strconv"
)

var crlf = []byte(CRLF)

// ChunkDecoder removes chunked framing from an accumulation buffer in place.
// The zero value is ready for use; Reset prepares it for the next message.
type ChunkDecoder struct {
	started bool
	offset  int // start of the first chunk not yet decoded
}

// Reset forgets the position of the previous message.
func (d *ChunkDecoder) Reset() {
	d.started = false
	d.offset = 0
}

// Offset returns the position of the first chunk not yet decoded.
func (d *ChunkDecoder) Offset() int { return d.offset }

// Decode strips every complete chunk found in *buf after contentOffset.
// It returns complete == true once the terminating zero-size chunk and the
// final CRLF were consumed; *buf then holds the header block followed by
// the decoded body, and trailer holds any trailer fields. Incomplete input
// is not an error: call Decode again after appending more bytes.
func (d *ChunkDecoder) Decode(buf *[]byte, contentOffset int) (complete bool, trailer Headers, err error) {
	if !d.started {
		d.started = true
		d.offset = contentOffset
	}

	for {
		data := *buf
		start := d.offset
		if start >= len(data) {
			return false, nil, nil
		}

		// chunk-size [; extension] CRLF
		i := start
		for i < len(data) && isHexDigit(data[i]) {
			i++
		}
		lineEnd := bytes.Index(data[i:], crlf)
		if lineEnd < 0 {
			return false, nil, nil
		}
		lineEnd += i
		if i == start {
			return false, nil, BadRequest("missing chunk size")
		}
		if i != lineEnd && data[i] != ';' {
			return false, nil, BadRequest("missing chunk extension")
		}
		if i-start > 16 {
			return false, nil, TooLarge("stated chunk length too large")
		}
		size64, perr := strconv.ParseUint(string(data[start:i]), 16, 64)
		if perr != nil || size64 > MaxChunkSize {
			return false, nil, TooLarge("stated chunk length too large")
		}
		size := int(size64)
		lineLen := lineEnd + len(crlf) - start

		if size == 0 {
			return d.decodeLast(buf, start, lineLen)
		}

		if len(data)-start < lineLen+size+len(crlf) {
			return false, nil, nil
		}

		data = cut(data, start, lineLen)
		terminator := start + size
		if !bytes.Equal(data[terminator:terminator+len(crlf)], crlf) {
			*buf = data
			return false, nil, BadRequest("Bad chunk terminator")
		}
		data = cut(data, terminator, len(crlf))
		*buf = data
		d.offset = terminator
	}
}

// decodeLast consumes "0 CRLF [trailer] CRLF" once it has fully arrived.
func (d *ChunkDecoder) decodeLast(buf *[]byte, start, lineLen int) (bool, Headers, error) {
	data := *buf
	rest := data[start+lineLen:]

	trailerLen := 0
	switch {
	case len(rest) < len(crlf):
		return false, nil, nil
	case bytes.HasPrefix(rest, crlf):
	default:
		end := bytes.Index(rest, []byte(CRLF+CRLF))
		if end < 0 {
			return false, nil, nil
		}
		trailerLen = end + len(crlf)
	}

	data = cut(data, start, lineLen)

	var trailer Headers
	if trailerLen > 0 {
		fields := data[start : start+trailerLen]
		if !bytes.HasSuffix(fields, crlf) {
			*buf = data
			return false, nil, BadRequest("No chunk trailer terminator received")
		}
		block := make([]byte, 0, len(fields)+3)
		block = append(block, ' ', '\r', '\n')
		block = append(block, fields...)
		_, parsed, _, err := Parse(block)
		if err != nil {
			*buf = data
			return false, nil, err
		}
		trailer = parsed
		data = cut(data, start, trailerLen)
	}

	if len(data)-start != len(crlf) || !bytes.Equal(data[start:], crlf) {
		*buf = data
		return false, nil, BadRequest("No chunk body terminator received")
	}
	*buf = data[:start]
	d.offset = start
	return true, trailer, nil
}

// cut removes n bytes at off without reallocating.
func cut(data []byte, off, n int) []byte {
	return append(data[:off], data[off+n:]...)
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
