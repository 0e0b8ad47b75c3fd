package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/martinemde/roast-sub000/internal/provider"
	"github.com/martinemde/roast-sub000/internal/store"
)

// Config holds all roast process configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	StateBackend   string        `json:"state_backend"`
	DBPath         string        `json:"db_path"`
	MySQLDSN       string        `json:"mysql_dsn"`
	RedisURL       string        `json:"redis_url"`
	StateDir       string        `json:"state_dir"`
	LogLevel       string        `json:"log_level"`
	LogFormat      string        `json:"log_format"`
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	BaseURL        string        `json:"base_url"`
	CommandTimeout time.Duration `json:"-"`
	MaxIterations  int           `json:"max_iterations"`
	MetricsAddr    string        `json:"metrics_addr"`

	// Settings files give the command timeout in seconds.
	CommandTimeoutSecs int `json:"command_timeout"`

	AnthropicAPIKey string `json:"-"`
	OpenAIAPIKey    string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		StateBackend:   store.BackendLibSQL,
		DBPath:         filepath.Join(roastDir(), "state.db"),
		StateDir:       filepath.Join(roastDir(), "sessions"),
		LogLevel:       "info",
		LogFormat:      "text",
		Provider:       provider.NameAnthropic,
		CommandTimeout: 10 * time.Minute,
	}
}

func roastDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roast"
	}
	return filepath.Join(home, ".roast")
}

func settingsPath() string {
	return filepath.Join(roastDir(), "settings.json")
}

// loadConfig layers settings.json and the environment over the defaults.
// getenv is os.Getenv outside tests.
func loadConfig(settings string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settings); err == nil {
		_ = json.Unmarshal(data, &cfg)
		if cfg.CommandTimeoutSecs > 0 {
			cfg.CommandTimeout = time.Duration(cfg.CommandTimeoutSecs) * time.Second
		}
	}

	// Layer 3: env vars override.
	if v := getenv("ROAST_STATE_BACKEND"); v != "" {
		cfg.StateBackend = v
	}
	if v := getenv("ROAST_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("ROAST_MYSQL_DSN"); v != "" {
		cfg.MySQLDSN = v
	}
	if v := getenv("ROAST_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := getenv("ROAST_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := getenv("ROAST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("ROAST_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("ROAST_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := getenv("ROAST_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("ROAST_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("ROAST_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CommandTimeout = d
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandTimeout = time.Duration(n) * time.Second
		}
	}
	if v := getenv("ROAST_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := getenv("ROAST_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY")

	return cfg
}

func (c Config) storeConfig() store.Config {
	return store.Config{
		Backend:  c.StateBackend,
		DBPath:   c.DBPath,
		MySQLDSN: c.MySQLDSN,
		RedisURL: c.RedisURL,
		Dir:      c.StateDir,
	}
}

func (c Config) providerConfig() provider.Config {
	key := c.AnthropicAPIKey
	if c.Provider == provider.NameOpenAI {
		key = c.OpenAIAPIKey
	}
	return provider.Config{Name: c.Provider, APIKey: key, Model: c.Model, BaseURL: c.BaseURL}
}
