package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // legacy env names, consulted when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "x.base_url", typ: kString, env: "SPREDD_X_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.X.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.X.BaseURL },
	},
	{
		key: "x.user_id", typ: kString, env: "SPREDD_X_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.X.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.X.UserID },
	},
	{
		key: "x.handle", typ: kString, env: "SPREDD_X_HANDLE",
		apply:   func(cfg *Config, v any) { cfg.X.Handle = v.(string) },
		extract: func(cfg Config) any { return cfg.X.Handle },
	},
	{
		key: "x.access_token", typ: kString, env: "SPREDD_X_ACCESS_TOKEN",
		aliases: []string{"TWITTER_ACCESS_TOKEN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.X.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.X.AccessToken },
	},
	{
		key: "x.trigger_keyword", typ: kString, env: "SPREDD_X_TRIGGER_KEYWORD",
		apply:   func(cfg *Config, v any) { cfg.X.TriggerKeyword = v.(string) },
		extract: func(cfg Config) any { return cfg.X.TriggerKeyword },
	},
	{
		key: "x.request_timeout", typ: kDuration, env: "SPREDD_X_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.X.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.X.RequestTimeout },
	},
	{
		key: "markets.backend", typ: kString, env: "SPREDD_MARKETS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Markets.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Markets.Backend },
	},
	{
		key: "markets.url", typ: kString, env: "SPREDD_MARKETS_URL",
		aliases: []string{"SUPABASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.Markets.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Markets.URL },
	},
	{
		key: "markets.api_key", typ: kString, env: "SPREDD_MARKETS_API_KEY",
		aliases: []string{"SUPABASE_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Markets.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Markets.APIKey },
	},
	{
		key: "markets.dsn", typ: kString, env: "SPREDD_MARKETS_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Markets.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Markets.DSN },
	},
	{
		key: "markets.table", typ: kString, env: "SPREDD_MARKETS_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Markets.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Markets.Table },
	},
	{
		key: "markets.limit", typ: kInt, env: "SPREDD_MARKETS_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Markets.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Markets.Limit },
	},
	{
		key: "markets.live_statuses", typ: kList, env: "SPREDD_MARKETS_LIVE_STATUSES",
		apply:   func(cfg *Config, v any) { cfg.Markets.LiveStatuses = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Markets.LiveStatuses, ",") },
	},
	{
		key: "checkpoint.backend", typ: kString, env: "SPREDD_CHECKPOINT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Checkpoint.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Checkpoint.Backend },
	},
	{
		key: "checkpoint.path", typ: kString, env: "SPREDD_CHECKPOINT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Checkpoint.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Checkpoint.Path },
	},
	{
		key: "checkpoint.redis_addr", typ: kString, env: "SPREDD_CHECKPOINT_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Checkpoint.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Checkpoint.RedisAddr },
	},
	{
		key: "checkpoint.redis_password", typ: kString, env: "SPREDD_CHECKPOINT_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Checkpoint.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Checkpoint.RedisPassword },
	},
	{
		key: "checkpoint.redis_key", typ: kString, env: "SPREDD_CHECKPOINT_REDIS_KEY",
		apply:   func(cfg *Config, v any) { cfg.Checkpoint.RedisKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Checkpoint.RedisKey },
	},
	{
		key: "checkpoint.dsn", typ: kString, env: "SPREDD_CHECKPOINT_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Checkpoint.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Checkpoint.DSN },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SPREDD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "thread.site_url", typ: kString, env: "SPREDD_THREAD_SITE_URL",
		apply:   func(cfg *Config, v any) { cfg.Thread.SiteURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Thread.SiteURL },
	},
	{
		key: "thread.hashtag", typ: kString, env: "SPREDD_THREAD_HASHTAG",
		apply:   func(cfg *Config, v any) { cfg.Thread.Hashtag = v.(string) },
		extract: func(cfg Config) any { return cfg.Thread.Hashtag },
	},
	{
		key: "thread.post_limit", typ: kInt, env: "SPREDD_THREAD_POST_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Thread.PostLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Thread.PostLimit },
	},
	{
		key: "thread.post_delay", typ: kDuration, env: "SPREDD_THREAD_POST_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Thread.PostDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Thread.PostDelay },
	},
	{
		key: "thread.mention_delay", typ: kDuration, env: "SPREDD_THREAD_MENTION_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Thread.MentionDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Thread.MentionDelay },
	},
	{
		key: "thread.media_enabled", typ: kBool, env: "SPREDD_THREAD_MEDIA_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Thread.MediaEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Thread.MediaEnabled },
	},
	{
		key: "media.fetch_timeout", typ: kDuration, env: "SPREDD_MEDIA_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Media.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Media.FetchTimeout },
	},
	{
		key: "media.max_bytes", typ: kInt, env: "SPREDD_MEDIA_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Media.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Media.MaxBytes },
	},
	{
		key: "poll.interval", typ: kDuration, env: "SPREDD_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "poll.backoff_base", typ: kDuration, env: "SPREDD_POLL_BACKOFF_BASE",
		apply:   func(cfg *Config, v any) { cfg.Poll.BackoffBase = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.BackoffBase },
	},
	{
		key: "poll.backoff_cap", typ: kDuration, env: "SPREDD_POLL_BACKOFF_CAP",
		apply:   func(cfg *Config, v any) { cfg.Poll.BackoffCap = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.BackoffCap },
	},
	{
		key: "poll.max_failures", typ: kInt, env: "SPREDD_POLL_MAX_FAILURES",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxFailures = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxFailures },
	},
	{
		key: "log.level", typ: kString, env: "SPREDD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "SPREDD_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "telemetry.sentry_dsn", typ: kString, env: "SPREDD_TELEMETRY_SENTRY_DSN",
		aliases: []string{"SENTRY_DSN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telemetry.SentryDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.SentryDSN },
	},
	{
		key: "telemetry.otlp_endpoint", typ: kString, env: "SPREDD_TELEMETRY_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.OTLPEndpoint },
	},
	{
		key: "telemetry.environment", typ: kString, env: "SPREDD_TELEMETRY_ENVIRONMENT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.Environment = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.Environment },
	},
}

// parseValue converts raw text into the Go value the key's apply func expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case kDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	case kList:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown key type %d", typ)
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
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
		if !ok || (s.typ != kString && raw == "") {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func lookupEnv(s keySpec) (string, string) {
	if s.env != "" {
		if raw := os.Getenv(s.env); raw != "" {
			return s.env, raw
		}
	}
	for _, alias := range s.aliases {
		if raw := os.Getenv(alias); raw != "" {
			return alias, raw
		}
	}
	return s.env, ""
}

func envFor(key string) string {
	for _, s := range specs {
		if s.key == key {
			return s.env
		}
	}
	return ""
}
