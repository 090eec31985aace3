package config

import (
	"fmt"
	"strconv"
	"time"
)

// KeyInfo is one row of `config show`.
type KeyInfo struct {
	Key    string `json:"key" yaml:"key"`
	EnvVar string `json:"env" yaml:"env"`
	Value  string `json:"value" yaml:"value"`
}

// public returns the keys that may be shown and written. Secrets live only
// in the environment or the keychain.
func public() []keySpec {
	out := make([]keySpec, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, s)
		}
	}
	return out
}

func lookup(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("%s is a secret; set it with the %s environment variable", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key %q", key)
}

// ShowAll lists the effective value of every non-secret key.
func ShowAll(cfg Config) []KeyInfo {
	ps := public()
	rows := make([]KeyInfo, len(ps))
	for i, s := range ps {
		rows[i] = KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))}
	}
	return rows
}

// ValidKeys returns the names accepted by SetKey and UnsetKey.
func ValidKeys() []string {
	ps := public()
	keys := make([]string, len(ps))
	for i, s := range ps {
		keys[i] = s.key
	}
	return keys
}

// SetKey validates value and writes it to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

// UnsetKey removes key from the platform backend so its default applies.
func UnsetKey(key string) error {
	return unsetKeyWith(newPlatformBackend(), key)
}

func setKeyWith(b Backend, key, value string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Durations and bools are stored in canonical text form.
	switch v := v.(type) {
	case int:
		return b.SetInt(key, v)
	case bool:
		return b.SetString(key, strconv.FormatBool(v))
	case time.Duration:
		return b.SetString(key, v.String())
	}
	return b.SetString(key, value)
}

func unsetKeyWith(b Backend, key string) error {
	if _, err := lookup(key); err != nil {
		return err
	}
	return b.Delete(key)
}
