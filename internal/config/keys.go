package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
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
		key: "server.port", typ: kInt, env: "DOCMILL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DOCMILL_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "parse.max_file_bytes", typ: kInt, env: "DOCMILL_PARSE_MAX_FILE_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Parse.MaxFileBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Parse.MaxFileBytes },
	},
	{
		key: "parse.max_files", typ: kInt, env: "DOCMILL_PARSE_MAX_FILES",
		apply:   func(cfg *Config, v any) { cfg.Parse.MaxFiles = v.(int) },
		extract: func(cfg Config) any { return cfg.Parse.MaxFiles },
	},
	{
		key: "parse.max_pages", typ: kInt, env: "DOCMILL_PARSE_MAX_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Parse.MaxPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Parse.MaxPages },
	},
	{
		key: "parse.default_lang", typ: kString, env: "DOCMILL_PARSE_DEFAULT_LANG",
		apply:   func(cfg *Config, v any) { cfg.Parse.DefaultLang = v.(string) },
		extract: func(cfg Config) any { return cfg.Parse.DefaultLang },
	},
	{
		key: "parse.default_backend", typ: kString, env: "DOCMILL_PARSE_DEFAULT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Parse.DefaultBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Parse.DefaultBackend },
	},
	{
		key: "parse.vlm_server_url", typ: kString, env: "DOCMILL_PARSE_VLM_SERVER_URL",
		apply:   func(cfg *Config, v any) { cfg.Parse.VLMServerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Parse.VLMServerURL },
	},
	{
		key: "parse.mlx_base_url", typ: kString, env: "DOCMILL_PARSE_MLX_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Parse.MLXBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Parse.MLXBaseURL },
	},
	{
		key: "jobs.max_concurrent", typ: kInt, env: "DOCMILL_JOBS_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Jobs.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.MaxConcurrent },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DOCMILL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.output_ttl_hours", typ: kInt, env: "DOCMILL_STORAGE_OUTPUT_TTL_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Storage.OutputTTLHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.OutputTTLHours },
	},
	{
		key: "storage.cleanup_interval_minutes", typ: kInt, env: "DOCMILL_STORAGE_CLEANUP_INTERVAL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Storage.CleanupIntervalMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.CleanupIntervalMinutes },
	},
	{
		key: "webhook.timeout_seconds", typ: kInt, env: "DOCMILL_WEBHOOK_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Webhook.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Webhook.TimeoutSeconds },
	},
	{
		key: "log.level", typ: kString, env: "DOCMILL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
