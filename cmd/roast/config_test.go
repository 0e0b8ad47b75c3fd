package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/internal/provider"
	"github.com/martinemde/roast-sub000/internal/store"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig(filepath.Join(t.TempDir(), "missing.json"), envMap(nil))

	assert.Equal(t, store.BackendLibSQL, cfg.StateBackend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, provider.NameAnthropic, cfg.Provider)
	assert.Equal(t, 10*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, "state.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"state_backend": "redis",
		"redis_url": "redis://localhost:6379/2",
		"log_level": "debug",
		"command_timeout": 30,
		"max_iterations": 7
	}`), 0o644))

	cfg := loadConfig(path, envMap(nil))

	assert.Equal(t, store.BackendRedis, cfg.StateBackend)
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, "text", cfg.LogFormat, "unset keys keep their defaults")
}

func TestLoadConfig_EnvOverridesSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"state_backend":"redis","log_format":"json"}`), 0o644))

	cfg := loadConfig(path, envMap(map[string]string{
		"ROAST_STATE_BACKEND":   "file",
		"ROAST_STATE_DIR":       "/tmp/roast-sessions",
		"ROAST_COMMAND_TIMEOUT": "90s",
		"ROAST_MAX_ITERATIONS":  "12",
		"ROAST_PROVIDER":        "openai",
		"ROAST_MODEL":           "gpt-4o-mini",
		"OPENAI_API_KEY":        "sk-openai",
		"ANTHROPIC_API_KEY":     "sk-ant",
	}))

	assert.Equal(t, store.BackendFile, cfg.StateBackend)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/roast-sessions", cfg.storeConfig().Dir)
	assert.Equal(t, 90*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 12, cfg.MaxIterations)

	pc := cfg.providerConfig()
	assert.Equal(t, provider.NameOpenAI, pc.Name)
	assert.Equal(t, "sk-openai", pc.APIKey)
	assert.Equal(t, "gpt-4o-mini", pc.Model)
}

func TestLoadConfig_CommandTimeoutSeconds(t *testing.T) {
	cfg := loadConfig("", envMap(map[string]string{"ROAST_COMMAND_TIMEOUT": "45"}))
	assert.Equal(t, 45*time.Second, cfg.CommandTimeout)
}

func TestLoadConfig_MalformedEnvIgnored(t *testing.T) {
	cfg := loadConfig("", envMap(map[string]string{
		"ROAST_COMMAND_TIMEOUT": "soon",
		"ROAST_MAX_ITERATIONS":  "many",
	}))
	assert.Equal(t, 10*time.Minute, cfg.CommandTimeout)
	assert.Zero(t, cfg.MaxIterations)
}

func TestProviderConfig_AnthropicKeyByDefault(t *testing.T) {
	cfg := loadConfig("", envMap(map[string]string{"ANTHROPIC_API_KEY": "sk-ant", "OPENAI_API_KEY": "sk-openai"}))
	assert.Equal(t, "sk-ant", cfg.providerConfig().APIKey)
}
