package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "THUMBFORGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "backend.base_url", typ: kString, env: "THUMBFORGE_BACKEND_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.owner_id", typ: kString, env: "THUMBFORGE_OWNER_ID",
		apply:   func(cfg *Config, v any) { cfg.Backend.OwnerID = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.OwnerID },
	},
	{
		key: "backend.api_token", typ: kString, env: "THUMBFORGE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "THUMBFORGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "poll.interval", typ: kDuration, env: "THUMBFORGE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "poll.max_polls", typ: kInt, env: "THUMBFORGE_POLL_MAX_POLLS",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxPolls = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxPolls },
	},
	{
		key: "poll.max_duration", typ: kDuration, env: "THUMBFORGE_POLL_MAX_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxDuration = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.MaxDuration },
	},
	{
		key: "poll.max_failures", typ: kInt, env: "THUMBFORGE_POLL_MAX_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxFailures = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxFailures },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "THUMBFORGE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.stale_while_revalidate", typ: kBool, env: "THUMBFORGE_CACHE_STALE_WHILE_REVALIDATE",
		apply:   func(cfg *Config, v any) { cfg.Cache.StaleWhileRevalidate = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cache.StaleWhileRevalidate },
	},
	{
		key: "analytics.enabled", typ: kBool, env: "THUMBFORGE_ANALYTICS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Analytics.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Analytics.Enabled },
	},
	{
		key: "log.level", typ: kString, env: "THUMBFORGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "maintenance.schedule", typ: kString, env: "THUMBFORGE_MAINTENANCE_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Maintenance.Schedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Maintenance.Schedule },
	},
	{
		key: "maintenance.cache_max_age", typ: kDuration, env: "THUMBFORGE_MAINTENANCE_CACHE_MAX_AGE",
		apply:   func(cfg *Config, v any) { cfg.Maintenance.CacheMaxAge = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Maintenance.CacheMaxAge },
	},
	{
		key: "sandbox.stage_delay", typ: kDuration, env: "THUMBFORGE_SANDBOX_STAGE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Sandbox.StageDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sandbox.StageDelay },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring invalid config value, using default", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring invalid environment variable, using default", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// parse converts raw to the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative duration")
		}
		return d, err
	}
	return raw, nil
}
