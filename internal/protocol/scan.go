package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// HeaderBlock describes the header section located by ScanHeaderBlock.
type HeaderBlock struct {
	// ContentOffset is the index of the first content byte.
	ContentOffset int
	// ContentLength is the announced body length, or -1 when the body is
	// delimited by chunked framing or by the peer closing.
	ContentLength int
	// Chunked is set for Transfer-Encoding: chunked.
	Chunked bool
	// TE holds the transfer codings the peer accepts in responses.
	TE []string
	// ContentLanguages holds the Content-Language tags of the message.
	ContentLanguages []string
}

// AcceptsChunked reports whether the peer's TE field asked for chunked
// responses or trailers.
func (b *HeaderBlock) AcceptsChunked() bool {
	for _, v := range b.TE {
		token := v
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = token[:i]
		}
		token = strings.TrimSpace(token)
		if strings.EqualFold(token, CodingChunked) || strings.EqualFold(token, CodingTrailers) {
			return true
		}
	}
	return false
}

// ScanHeaderBlock looks for the end of the header section of buf. It
// returns found == false while the terminator has not arrived yet; the scan
// is repeated on the grown buffer by the caller. Protocol violations are
// returned as *StatusError.
func ScanHeaderBlock(buf []byte) (HeaderBlock, bool, error) {
	hb := HeaderBlock{ContentOffset: -1, ContentLength: -1}

	var (
		gotContentLength    bool
		gotTransferEncoding bool
		gotTE               bool
		bodyless            bool
		count               int
	)

	line := 0
	for first := true; ; first = false {
		pos, width := FindSeparator(buf, line)
		if pos < 0 {
			return hb, false, nil
		}
		if pos == line && !first {
			hb.ContentOffset = pos + width
			break
		}

		text := buf[line:pos]
		line = pos + width

		if first {
			bodyless = isBodyless(text)
			continue
		}

		count++
		if count > MaxHeaders {
			return hb, false, TooLarge("too many HTTP headers")
		}

		name, value, ok := splitHeaderLine(text)
		if !ok {
			continue
		}

		switch {
		case strings.EqualFold(name, HeaderContentLength):
			if gotContentLength {
				return hb, false, BadRequest("duplicate Content-Length header")
			}
			gotContentLength = true
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return hb, false, BadRequest(fmt.Sprintf("invalid Content-Length %q", value))
			}
			if n > MaxContentLength {
				return hb, false, TooLarge("content length too large")
			}
			if !gotTransferEncoding {
				hb.ContentLength = int(n)
			}

		case strings.EqualFold(name, HeaderTransferEncoding):
			if gotTransferEncoding {
				return hb, false, BadRequest("duplicate Transfer-Encoding header")
			}
			gotTransferEncoding = true
			hb.ContentLength = -1
			switch {
			case strings.EqualFold(value, CodingChunked):
				hb.Chunked = true
			case strings.EqualFold(value, CodingIdentity):
			default:
				return hb, false, NotImplemented(fmt.Sprintf("unsupported transfer encoding %q", value))
			}

		case strings.EqualFold(name, HeaderTE):
			if gotTE {
				return hb, false, BadRequest("duplicate TE header")
			}
			gotTE = true
			hb.TE = splitList(value)

		case strings.EqualFold(name, HeaderContentLanguage):
			if langs, err := ParseContentLanguages(value); err == nil {
				hb.ContentLanguages = append(hb.ContentLanguages, langs...)
			}
		}
	}

	if bodyless {
		hb.ContentLength = 0
	}
	return hb, true, nil
}

var bodylessMethods = [][]byte{
	[]byte("GET"),
	[]byte("HEAD"),
	[]byte("OPTIONS"),
	[]byte("DELETE"),
}

// isBodyless reports whether a start line belongs to a message that never
// carries content: GET, HEAD, OPTIONS and DELETE requests and 3xx, 4xx and
// 5xx responses.
func isBodyless(startLine []byte) bool {
	for _, m := range bodylessMethods {
		if len(startLine) > len(m) && bytes.HasPrefix(startLine, m) && isSpace(startLine[len(m)]) {
			return true
		}
	}
	if len(startLine) >= 12 && bytes.HasPrefix(startLine, []byte("HTTP/1.")) && startLine[8] == ' ' {
		switch startLine[9] {
		case '3', '4', '5':
			return len(startLine) == 12 || isSpace(startLine[12])
		}
	}
	return false
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseContentLanguages splits a Content-Language value into language tags.
func ParseContentLanguages(value string) ([]string, error) {
	tags := splitList(value)
	for _, tag := range tags {
		if !validLanguageTag(tag) {
			return nil, fmt.Errorf("invalid language tag %q", tag)
		}
	}
	return tags, nil
}

func validLanguageTag(tag string) bool {
	for i, sub := range strings.Split(tag, "-") {
		if len(sub) == 0 || len(sub) > 8 {
			return false
		}
		for j := 0; j < len(sub); j++ {
			c := sub[j]
			alpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
			if !alpha && (i == 0 || !isDigit(c)) {
				return false
			}
		}
	}
	return true
}
