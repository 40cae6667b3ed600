package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/muurk/wbemd/internal/config"
	"github.com/muurk/wbemd/internal/transport"
)

func TestHintLines(t *testing.T) {
	err := &transport.BindError{Step: "bind", Addr: "127.0.0.1:5988", Err: syscall.EADDRINUSE}
	tips := hintLines(err)
	if len(tips) == 0 {
		t.Fatal("hintLines() returned no tips")
	}
	for _, tip := range tips {
		if tip == "Troubleshooting:" || strings.HasPrefix(tip, "•") {
			t.Errorf("tip %q was not cleaned", tip)
		}
	}
}

func TestExecTarget(t *testing.T) {
	defer func() { execLocal, execTLS, execInsecure, execPort = "", false, false, 0 }()

	execHost, execPort = "cimom.example", 0
	target, err := execTarget()
	if err != nil {
		t.Fatal(err)
	}
	if target.Port != 5988 || target.TLS != nil {
		t.Errorf("plain target = %+v", target)
	}

	execTLS, execInsecure = true, true
	target, err = execTarget()
	if err != nil {
		t.Fatal(err)
	}
	if target.Port != 5989 || target.TLS == nil {
		t.Errorf("tls target = %+v", target)
	}

	execLocal = "/tmp/cimxml.socket"
	target, err = execTarget()
	if err != nil {
		t.Fatal(err)
	}
	if target.Host != "" || target.LocalPath != execLocal {
		t.Errorf("local target = %+v", target)
	}
}

func TestApplyServerFlags(t *testing.T) {
	if err := serverCmd.ParseFlags([]string{"--http-port", "15988", "--https", "--local", "--socket", "/tmp/x.socket"}); err != nil {
		t.Fatal(err)
	}
	defer func() { enableHTTPS, enableLocal, socketPath = false, false, "" }()

	cfg := config.Default()
	applyServerFlags(serverCmd, cfg)
	if cfg.HTTPPort != 15988 {
		t.Errorf("HTTPPort = %d, want 15988", cfg.HTTPPort)
	}
	if cfg.HTTPSPort != 5989 {
		t.Errorf("HTTPSPort = %d, unchanged flag should keep 5989", cfg.HTTPSPort)
	}
	if !cfg.EnableHTTPS || !cfg.EnableLocal || cfg.LocalSocketPath != "/tmp/x.socket" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestConfigInitAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wbemd.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "init", "--config", path, "--force"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	out.Reset()
	rootCmd.SetArgs([]string{"config", "path", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out.String()) != path {
		t.Errorf("config path printed %q, want %q", out.String(), path)
	}
}
