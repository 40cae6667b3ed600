package protocol

import (
	"fmt"
	"net/url"
	"strconv"
)

// CIMStatus is the management-level outcome attached to a response.
type CIMStatus struct {
	Code        uint32
	Description string
	Languages   []string
}

// Text returns the description, falling back to the standard text for Code.
func (s *CIMStatus) Text() string {
	if s.Description != "" {
		return s.Description
	}
	return StatusCodeText(s.Code)
}

var statusCodeTexts = map[uint32]string{
	0:  "CIM_ERR_SUCCESS",
	1:  "CIM_ERR_FAILED",
	2:  "CIM_ERR_ACCESS_DENIED",
	3:  "CIM_ERR_INVALID_NAMESPACE",
	4:  "CIM_ERR_INVALID_PARAMETER",
	5:  "CIM_ERR_INVALID_CLASS",
	6:  "CIM_ERR_NOT_FOUND",
	7:  "CIM_ERR_NOT_SUPPORTED",
	8:  "CIM_ERR_CLASS_HAS_CHILDREN",
	9:  "CIM_ERR_CLASS_HAS_INSTANCES",
	10: "CIM_ERR_INVALID_SUPERCLASS",
	11: "CIM_ERR_ALREADY_EXISTS",
	12: "CIM_ERR_NO_SUCH_PROPERTY",
	13: "CIM_ERR_TYPE_MISMATCH",
	14: "CIM_ERR_QUERY_LANGUAGE_NOT_SUPPORTED",
	15: "CIM_ERR_INVALID_QUERY",
	16: "CIM_ERR_METHOD_NOT_AVAILABLE",
	17: "CIM_ERR_METHOD_NOT_FOUND",
	20: "CIM_ERR_NAMESPACE_NOT_EMPTY",
	21: "CIM_ERR_INVALID_ENUMERATION_CONTEXT",
	22: "CIM_ERR_INVALID_OPERATION_TIMEOUT",
	23: "CIM_ERR_PULL_HAS_BEEN_ABANDONED",
	24: "CIM_ERR_PULL_CANNOT_BE_ABANDONED",
	25: "CIM_ERR_FILTERED_ENUMERATION_NOT_SUPPORTED",
	26: "CIM_ERR_CONTINUATION_ON_ERROR_NOT_SUPPORTED",
	27: "CIM_ERR_SERVER_LIMITS_EXCEEDED",
	28: "CIM_ERR_SERVER_IS_SHUTTING_DOWN",
}

// StatusCodeText returns the symbolic name of a CIM status code.
func StatusCodeText(code uint32) string {
	if s, ok := statusCodeTexts[code]; ok {
		return s
	}
	return fmt.Sprintf("CIM_ERR_UNKNOWN(%d)", code)
}

// Trailer is the CIM-relevant content of a chunked message trailer.
type Trailer struct {
	// CIMError is set when the trailer reports an HTTP level failure.
	CIMError string
	// Status is set when the trailer carries a non-zero CIMStatusCode.
	Status *CIMStatus
	// Languages replaces the message languages when LanguagesSet is true.
	Languages    []string
	LanguagesSet bool
}

// InterpretTrailer extracts the CIM fields of a trailer. Prefixed field
// names ("NN-CIMStatusCode") are recognised.
func InterpretTrailer(fields Headers) Trailer {
	var t Trailer
	if v, ok := fields.Lookup(HeaderCIMError, true); ok {
		t.CIMError = v
	}
	if v, ok := fields.Lookup(HeaderCIMStatusCode, true); ok {
		if code, err := strconv.ParseUint(v, 10, 32); err == nil && code > 0 {
			t.Status = &CIMStatus{Code: uint32(code)}
			if d, ok := fields.Lookup(HeaderCIMStatusCodeDescription, true); ok {
				if unescaped, err := url.PathUnescape(d); err == nil {
					d = unescaped
				}
				t.Status.Description = d
			}
		}
	}
	if v, ok := fields.Lookup(HeaderContentLanguage, false); ok {
		if langs, err := ParseContentLanguages(v); err == nil {
			t.Languages = langs
			t.LanguagesSet = true
		}
	}
	return t
}
