package protocol

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantStart string
		wantLen   int
		wantErr   bool
		verify    func(t *testing.T, h Headers)
	}{
		{
			name:      "merges duplicate names",
			data:      "POST /cimom HTTP/1.1\r\nHost: a\r\nhost: b\r\nContent-Type: text/xml\r\n\r\n<x/>",
			wantStart: "POST /cimom HTTP/1.1",
			wantLen:   4,
			verify: func(t *testing.T, h Headers) {
				if len(h) != 2 {
					t.Fatalf("got %d headers, want 2", len(h))
				}
				if v, _ := h.Lookup("Host", false); v != "a, b" {
					t.Errorf("Host = %q, want %q", v, "a, b")
				}
			},
		},
		{
			name:      "bare LF separators",
			data:      "HTTP/1.1 200 OK\nContent-Length: 2\n\nhi",
			wantStart: "HTTP/1.1 200 OK",
			wantLen:   2,
			verify: func(t *testing.T, h Headers) {
				if v, ok := h.Lookup("content-length", false); !ok || v != "2" {
					t.Errorf("Content-Length = %q, %v", v, ok)
				}
			},
		},
		{
			name:      "unterminated header block",
			data:      "POST / HTTP/1.1\r\nHost: x\r\nCIMOper",
			wantStart: "POST / HTTP/1.1",
			wantLen:   0,
			verify: func(t *testing.T, h Headers) {
				if len(h) != 1 {
					t.Errorf("got %d headers, want 1", len(h))
				}
			},
		},
		{
			name:    "too many headers",
			data:    "POST / HTTP/1.1\r\n" + strings.Repeat("X-A: b\r\n", MaxHeaders+1) + "\r\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, headers, contentLen, err := Parse([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if start != tt.wantStart {
				t.Errorf("start line = %q, want %q", start, tt.wantStart)
			}
			if contentLen != tt.wantLen {
				t.Errorf("content length = %d, want %d", contentLen, tt.wantLen)
			}
			if tt.verify != nil {
				tt.verify(t, headers)
			}
		})
	}
}

func TestHeadersLookupPrefix(t *testing.T) {
	_, h, _, err := Parse([]byte("M-POST /cimom HTTP/1.1\r\nMan: http://www.dmtf.org/cim/mapping/http/v1.0; ns=73\r\n73-CIMOperation: MethodCall\r\n73-CIMMethod: GetClass\r\n\r\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if v, ok := h.Lookup(HeaderCIMOperation, true); !ok || v != "MethodCall" {
		t.Errorf("Lookup(prefixed) = %q, %v", v, ok)
	}
	if _, ok := h.Lookup(HeaderCIMOperation, false); ok {
		t.Error("Lookup without prefix support matched a prefixed field")
	}
	if v, ok := h.Lookup("cimmethod", true); !ok || v != "GetClass" {
		t.Errorf("Lookup is not case-insensitive: %q, %v", v, ok)
	}
	if p := h.Prefix(HeaderCIMOperation); p != "73-" {
		t.Errorf("Prefix() = %q, want %q", p, "73-")
	}
	if p := h.Prefix("Man"); p != "" {
		t.Errorf("Prefix(unprefixed) = %q, want empty", p)
	}
}

func TestFindSeparator(t *testing.T) {
	tests := []struct {
		data      string
		from      int
		wantPos   int
		wantWidth int
	}{
		{"abc\r\ndef", 0, 3, 2},
		{"abc\ndef", 0, 3, 1},
		{"abc\r\ndef\n", 5, 8, 1},
		{"\n", 0, 0, 1},
		{"abc", 0, -1, 0},
		{"abc\r\n", 10, -1, 0},
	}
	for _, tt := range tests {
		pos, width := FindSeparator([]byte(tt.data), tt.from)
		if pos != tt.wantPos || width != tt.wantWidth {
			t.Errorf("FindSeparator(%q, %d) = %d, %d, want %d, %d",
				tt.data, tt.from, pos, width, tt.wantPos, tt.wantWidth)
		}
	}
}

func TestParseRequestLine(t *testing.T) {
	method, uri, version, err := ParseRequestLine("M-POST /cimom HTTP/1.1")
	if err != nil {
		t.Fatalf("ParseRequestLine() error = %v", err)
	}
	if method != "M-POST" || uri != "/cimom" || version != "HTTP/1.1" {
		t.Errorf("got %q %q %q", method, uri, version)
	}

	_, _, _, err = ParseRequestLine("POST")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("malformed line error = %v, want 400", err)
	}
}

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		line       string
		wantCode   int
		wantReason string
		wantOK     bool
	}{
		{"HTTP/1.1 200 OK", 200, "OK", true},
		{"HTTP/1.1 413 Request Entity Too Large", 413, "Request Entity Too Large", true},
		{"HTTP/1.1 404", 404, "", true},
		{"HTTP/1.1 20x OK", 0, "", false},
		{"garbage", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			version, code, reason, ok := ParseStatusLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != "HTTP/1.1" || code != tt.wantCode || reason != tt.wantReason {
				t.Errorf("got %q %d %q", version, code, reason)
			}
		})
	}
}
