// Package version holds the build identity of wbemd and the product token
// it sends in Server and User-Agent fields.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/wbemd/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/wbemd/internal/version.Commit=abc123"
//
// Unset values come from the VCS stamp of the binary, then from a dev
// timestamp.
var (
	Version = ""
	Commit  = ""
)

const (
	// ProductName is the product part of the token.
	ProductName = "wbemd"

	// CIMProtocolVersion is the CIM-XML operations protocol the server
	// implements, as announced in CIMProtocolVersion and TXT records.
	CIMProtocolVersion = "1.0"
)

func init() {
	resolve(debug.ReadBuildInfo)
}

func resolve(readBuildInfo func() (*debug.BuildInfo, bool)) {
	if Version == "" || Commit == "" {
		if info, ok := readBuildInfo(); ok {
			fromBuildInfo(info)
		}
	}
	if Version == "" {
		Version = "dev-" + time.Now().Format("20060102-150405")
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo(info *debug.BuildInfo) {
	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	vcs := make(map[string]string)
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			vcs[strings.TrimPrefix(s.Key, "vcs.")] = s.Value
		}
	}

	if rev := vcs["revision"]; Commit == "" && rev != "" {
		Commit = rev[:min(len(rev), 7)]
		if vcs["modified"] == "true" {
			Commit += "-dirty"
		}
	}
	if Version == "" {
		if t, err := time.Parse(time.RFC3339, vcs["time"]); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}

// Full returns the version with its commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Token returns the product token, e.g. "wbemd/v1.2.3". Characters that
// are not valid in a token are replaced by '-'.
func Token() string {
	return ProductName + "/" + strings.Map(func(r rune) rune {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune("()<>@,;:\\\"/[]?={}", r) {
			return '-'
		}
		return r
	}, Version)
}
