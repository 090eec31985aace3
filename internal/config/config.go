package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	keychainService = "thumbforge"
	tokenAccount    = "api_token"
)

// ErrNoAPIToken is returned by RequireAPIToken when no token is configured.
var ErrNoAPIToken = errors.New("missing required config: API token")

type Config struct {
	Server      ServerConfig
	Backend     BackendConfig
	Storage     StorageConfig
	Poll        PollConfig
	Cache       CacheConfig
	Analytics   AnalyticsConfig
	Log         LogConfig
	Maintenance MaintenanceConfig
	Sandbox     SandboxConfig
}

type ServerConfig struct {
	Port int
}

type BackendConfig struct {
	// BaseURL of the generation and project backends. Empty means the local
	// sandbox on Server.Port.
	BaseURL  string
	OwnerID  string
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type PollConfig struct {
	Interval    time.Duration
	MaxPolls    int
	MaxDuration time.Duration
	MaxFailures int
}

type CacheConfig struct {
	TTL                  time.Duration
	StaleWhileRevalidate bool
}

type AnalyticsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level string
}

type MaintenanceConfig struct {
	Schedule    string
	CacheMaxAge time.Duration
}

type SandboxConfig struct {
	StageDelay time.Duration
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Backend: BackendConfig{OwnerID: "local"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Poll: PollConfig{
			Interval:    2 * time.Second,
			MaxPolls:    600,
			MaxDuration: 15 * time.Minute,
			MaxFailures: 3,
		},
		Cache: CacheConfig{
			TTL:                  5 * time.Minute,
			StaleWhileRevalidate: true,
		},
		Analytics: AnalyticsConfig{Enabled: true},
		Log:       LogConfig{Level: "info"},
		Maintenance: MaintenanceConfig{
			Schedule:    "@hourly",
			CacheMaxAge: 7 * 24 * time.Hour,
		},
		Sandbox: SandboxConfig{StageDelay: 750 * time.Millisecond},
	}
}

// BaseURL returns the backend URL, falling back to the local sandbox.
func (c Config) BaseURL() string {
	if c.Backend.BaseURL != "" {
		return strings.TrimRight(c.Backend.BaseURL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
}

// RequireAPIToken returns the configured token or an error naming every
// place it can be set.
func (c Config) RequireAPIToken() (string, error) {
	if c.Backend.APIToken == "" {
		return "", fmt.Errorf("%w; set it via environment variable THUMBFORGE_API_TOKEN%s, or run `thumbforge serve` once to create a local one",
			ErrNoAPIToken, apiKeyHint())
	}
	return c.Backend.APIToken, nil
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.thumbforge.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/thumbforge/config.yaml
// and secrets fall back to $XDG_DATA_HOME/thumbforge/secrets.yaml.
//
// Environment variables (THUMBFORGE_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b Backend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Backend.APIToken == "" && kc != nil {
		if tok, err := kc.Get(keychainService, tokenAccount); err == nil && tok != "" {
			cfg.Backend.APIToken = tok
		}
	}

	return cfg, nil
}

// EnsureAPIToken returns the token in cfg, or the one in the secret store,
// or generates and stores a new one. Used by the sandbox server, which
// owns the local credential.
func EnsureAPIToken(cfg Config, kc Keychain) (string, error) {
	if cfg.Backend.APIToken != "" {
		return cfg.Backend.APIToken, nil
	}
	if tok, err := kc.Get(keychainService, tokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

type platformKeychain struct{}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
