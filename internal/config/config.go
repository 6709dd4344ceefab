package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	X          XConfig
	Markets    MarketsConfig
	Checkpoint CheckpointConfig
	Storage    StorageConfig
	Thread     ThreadConfig
	Media      MediaConfig
	Poll       PollConfig
	Log        LogConfig
	Telemetry  TelemetryConfig
}

type XConfig struct {
	BaseURL        string
	UserID         string
	Handle         string
	AccessToken    string
	TriggerKeyword string
	RequestTimeout time.Duration
}

type MarketsConfig struct {
	Backend      string // postgrest | postgres
	URL          string
	APIKey       string
	DSN          string
	Table        string
	Limit        int
	LiveStatuses []string
}

type CheckpointConfig struct {
	Backend       string // file | sqlite | redis | postgres
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisKey      string
	DSN           string
}

type StorageConfig struct {
	DataDir string
}

type ThreadConfig struct {
	SiteURL      string
	Hashtag      string
	PostLimit    int
	PostDelay    time.Duration
	MentionDelay time.Duration
	MediaEnabled bool
}

type MediaConfig struct {
	FetchTimeout time.Duration
	MaxBytes     int
}

type PollConfig struct {
	Interval    time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxFailures int
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	SentryDSN    string
	OTLPEndpoint string
	Environment  string
}

func defaults() Config {
	return Config{
		X: XConfig{
			BaseURL:        "https://api.x.com",
			TriggerKeyword: "SpreddDegen",
			RequestTimeout: 30 * time.Second,
		},
		Markets: MarketsConfig{
			Backend:      "postgrest",
			Table:        "markets",
			Limit:        5,
			LiveStatuses: []string{"active", "live"},
		},
		Checkpoint: CheckpointConfig{
			Backend:  "sqlite",
			RedisKey: "spredd-degen:checkpoint:mentions",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Thread: ThreadConfig{
			SiteURL:      "https://spredd.markets",
			Hashtag:      "#SpreddTheWord",
			PostLimit:    280,
			PostDelay:    2 * time.Second,
			MentionDelay: 5 * time.Second,
			MediaEnabled: true,
		},
		Media: MediaConfig{
			FetchTimeout: 30 * time.Second,
			MaxBytes:     5 << 20,
		},
		Poll: PollConfig{
			Interval:    60 * time.Second,
			BackoffBase: 60 * time.Second,
			BackoffCap:  300 * time.Second,
			MaxFailures: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Environment: "production",
		},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/spredd-degen/config.yaml, then applies environment
// variables (SPREDD_*). A .env file in the working directory is loaded into
// the environment first without overriding variables that are already set.
//
// Load does not check that credentials are present; commands call Require
// for the groups they need.
func Load() (Config, error) {
	loadDotEnv(".env")

	b, err := newFileBackend(configFilePath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", p, err)
		}
	}
}

func (c Config) validate() error {
	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"markets.backend", c.Markets.Backend, []string{"postgrest", "postgres"}},
		{"checkpoint.backend", c.Checkpoint.Backend, []string{"file", "sqlite", "redis", "postgres"}},
		{"log.level", c.Log.Level, []string{"debug", "info", "warn", "error"}},
		{"log.format", c.Log.Format, []string{"text", "json"}},
	}
	for _, ch := range checks {
		ok := false
		for _, a := range ch.allowed {
			if ch.value == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("invalid value %q for %s (want one of %s)", ch.value, ch.key, strings.Join(ch.allowed, ", "))
		}
	}
	if c.Markets.Limit <= 0 {
		return fmt.Errorf("markets.limit must be positive, got %d", c.Markets.Limit)
	}
	if c.Poll.MaxFailures <= 0 {
		return fmt.Errorf("poll.max_failures must be positive, got %d", c.Poll.MaxFailures)
	}
	return nil
}

// Requirement names a group of settings a command depends on.
type Requirement int

const (
	NeedX Requirement = iota
	NeedMarkets
	NeedCheckpoint
)

// Require reports a "missing required config" error naming every absent
// key, with the environment variable that can provide it.
func (c Config) Require(reqs ...Requirement) error {
	var missing []string
	need := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	for _, r := range reqs {
		switch r {
		case NeedX:
			need("x.access_token", c.X.AccessToken)
		case NeedMarkets:
			switch c.Markets.Backend {
			case "postgres":
				need("markets.dsn", c.Markets.DSN)
			default:
				need("markets.url", c.Markets.URL)
				need("markets.api_key", c.Markets.APIKey)
			}
		case NeedCheckpoint:
			switch c.Checkpoint.Backend {
			case "redis":
				need("checkpoint.redis_addr", c.Checkpoint.RedisAddr)
			case "postgres":
				need("checkpoint.dsn", c.Checkpoint.DSN)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	hints := make([]string, len(missing))
	for i, key := range missing {
		hints[i] = key
		if env := envFor(key); env != "" {
			hints[i] = fmt.Sprintf("%s (%s)", key, env)
		}
	}
	return fmt.Errorf("missing required config: %s", strings.Join(hints, ", "))
}

// CheckpointPath is the file used by the file checkpoint backend.
func (c Config) CheckpointPath() string {
	if c.Checkpoint.Path != "" {
		return c.Checkpoint.Path
	}
	return filepath.Join(c.Storage.DataDir, "checkpoint")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "spredd-degen-data"
		}
	}
	return filepath.Join(dir, "spredd-degen")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "spredd-degen", "config.yaml")
}
