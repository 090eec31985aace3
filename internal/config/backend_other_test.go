//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thumbforge", "config.yaml")
	b := newFileBackend(path)
	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := setKeyWith(b, "cache.ttl", "2m"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), &mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 || cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFileBackend_HandWrittenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "server.port: 4300\ncache.stale_while_revalidate: false\npoll.interval: 250ms\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), &mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Cache.StaleWhileRevalidate {
		t.Error("StaleWhileRevalidate = true, want false")
	}
	if cfg.Poll.Interval != 250*time.Millisecond {
		t.Errorf("Poll.Interval = %v", cfg.Poll.Interval)
	}
}

func TestFileBackend_CorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server.port: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), &mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != defaults().Server.Port {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestKeychainFile_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet("thumbforge", "api_token"); err == nil {
		t.Fatal("expected error before the secret is stored")
	}
	if err := keychainSet("thumbforge", "api_token", "s3cret"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := keychainGet("thumbforge", "api_token")
	if err != nil || string(got) != "s3cret" {
		t.Errorf("keychainGet = %q, %v", got, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets mode = %v", info.Mode().Perm())
	}
}
