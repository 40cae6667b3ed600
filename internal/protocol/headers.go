package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

// Header is one header field.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Names are unique; Add merges repeated
// names by appending the value after ", ".
type Headers []Header

// Add appends a field, merging it into an existing field of the same name.
func (h *Headers) Add(name, value string) {
	for i := range *h {
		if strings.EqualFold((*h)[i].Name, name) {
			(*h)[i].Value += ", " + value
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Lookup finds a field by name, ignoring case. With allowPrefix set, a
// field named "NN-<name>" where NN are two digits also matches.
func (h Headers) Lookup(name string, allowPrefix bool) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
		if allowPrefix && hasNumericPrefix(f.Name) && strings.EqualFold(f.Name[3:], name) {
			return f.Value, true
		}
	}
	return "", false
}

// Prefix returns the "NN-" prefix used by the field called name, or "" if
// the field is absent or unprefixed.
func (h Headers) Prefix(name string) string {
	for _, f := range h {
		if hasNumericPrefix(f.Name) && strings.EqualFold(f.Name[3:], name) {
			return f.Name[:3]
		}
	}
	return ""
}

func hasNumericPrefix(name string) bool {
	return len(name) > 3 && isDigit(name[0]) && isDigit(name[1]) && name[2] == '-'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// FindSeparator returns the position and width of the first line separator
// at or after from. CRLF and a bare LF are both accepted. It returns -1, 0
// when no separator is present.
func FindSeparator(data []byte, from int) (int, int) {
	if from >= len(data) {
		return -1, 0
	}
	i := bytes.IndexByte(data[from:], '\n')
	if i < 0 {
		return -1, 0
	}
	i += from
	if i > from && data[i-1] == '\r' {
		return i - 1, 2
	}
	return i, 1
}

// Parse splits a message into its start line, its headers and the length of
// the content following the header block. A missing header terminator is
// not an error: every complete line is parsed and the content length is 0.
func Parse(data []byte) (string, Headers, int, error) {
	pos, width := FindSeparator(data, 0)
	if pos < 0 {
		return string(data), nil, 0, nil
	}
	startLine := string(data[:pos])
	line := pos + width

	var headers Headers
	count := 0
	for {
		pos, width = FindSeparator(data, line)
		if pos < 0 {
			return startLine, headers, 0, nil
		}
		if pos == line {
			return startLine, headers, len(data) - (pos + width), nil
		}
		count++
		if count > MaxHeaders {
			return startLine, headers, 0, TooLarge("too many HTTP headers")
		}
		if name, value, ok := splitHeaderLine(data[line:pos]); ok {
			headers.Add(name, value)
		}
		line = pos + width
	}
}

func splitHeaderLine(line []byte) (string, string, bool) {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", false
	}
	name := strings.TrimRight(string(line[:colon]), " \t")
	value := strings.Trim(string(line[colon+1:]), " \t")
	return name, value, name != ""
}

// ParseRequestLine splits "METHOD URI VERSION".
func ParseRequestLine(line string) (method, uri, version string, err error) {
	first := strings.IndexByte(line, ' ')
	last := strings.LastIndexByte(line, ' ')
	if first <= 0 || last <= first {
		return "", "", "", BadRequest("malformed request line")
	}
	return line[:first], strings.TrimSpace(line[first+1 : last]), line[last+1:], nil
}

// ParseStatusLine splits "VERSION CODE [REASON]".
func ParseStatusLine(line string) (version string, code int, reason string, ok bool) {
	sp := strings.IndexByte(line, ' ')
	if sp <= 0 {
		return "", 0, "", false
	}
	version = line[:sp]
	rest := strings.TrimLeft(line[sp+1:], " ")
	codeText := rest
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		codeText = rest[:i]
		reason = strings.TrimSpace(rest[i+1:])
	}
	if len(codeText) != 3 {
		return "", 0, "", false
	}
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return "", 0, "", false
	}
	return version, code, reason, true
}

// IsResponse reports whether a start line is a status line.
func IsResponse(startLine string) bool {
	return strings.HasPrefix(startLine, "HTTP/")
}
