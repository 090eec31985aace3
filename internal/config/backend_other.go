//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	return xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "thumbforge")
}

func apiKeyHint() string {
	return " or " + secretsFilePath() + " (thumbforge.api_token)"
}

// fileBackend keeps the non-secret keys as a flat YAML mapping under
// $XDG_CONFIG_HOME/thumbforge/config.yaml.
type fileBackend struct {
	path   string
	values map[string]any
}

func newPlatformBackend() Backend {
	return newFileBackend(xdgPath("XDG_CONFIG_HOME", ".config", "thumbforge", "config.yaml"))
}

// newFileBackend reads path eagerly. A missing or unreadable file yields an
// empty backend so defaults still apply.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]any{}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		slog.Warn("could not read config file, using defaults", "path", path, "error", err)
	default:
		if err := yaml.Unmarshal(raw, &b.values); err != nil {
			slog.Warn("could not parse config file, using defaults", "path", path, "error", err)
			b.values = map[string]any{}
		}
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, true, fmt.Errorf("%s: %v is not an integer", key, n)
		}
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	}
	return 0, true, fmt.Errorf("%s: unexpected %T", key, v)
}

func (b *fileBackend) SetString(key, val string) error {
	b.values[key] = val
	return b.flush()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = val
	return b.flush()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *fileBackend) flush() error {
	return writeYAML(b.path, b.values)
}

// writeYAML marshals v to path with owner-only permissions.
func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0o600)
}
