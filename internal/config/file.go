package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	dirName  = "wbemd"
	fileName = "config.yaml"
)

// saveMu serializes Save calls within the process.
var saveMu sync.Mutex

// GetConfigDir returns $XDG_CONFIG_HOME/wbemd, falling back to
// ~/.config/wbemd on every platform.
func GetConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, dirName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// ResolvePath returns path unless it is empty, in which case it returns
// the default location.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return GetConfigPath()
	}
	return path, nil
}

// Load reads the file at path, or the default location when path is empty.
// A file that does not exist is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Default(), nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", resolved, err)
	}
	return Parse(data)
}

// Parse overlays YAML onto Default and validates the outcome.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

const fileHeader = `# wbemd configuration file
#
# Durations use Go syntax (20s, 5m). idle_connection_timeout: 0 disables
# the idle check. Only the connection timeouts are reloaded while the
# server runs.
#
# Location: %s

`

// Save writes c to path, or the default location when path is empty. The
// file is written beside its destination and renamed into place, so a
// watcher never observes a partial file.
func (c *Config) Save(path string) error {
	resolved, err := ResolvePath(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, fileHeader, resolved)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	saveMu.Lock()
	defer saveMu.Unlock()

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved)+"-*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), resolved); err != nil {
		return fmt.Errorf("replace %s: %w", resolved, err)
	}
	return nil
}
