package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MEMORY_CONFIG_FILE", "PORT", "MEMORY_DB_PATH", "API_KEY", "LOG_LEVEL", "LOG_FORMAT",
		"EXTRACTION_PROVIDER", "EXTRACTION_MODEL", "EXTRACTION_MAX_TOKENS", "EXTRACTION_TEMPERATURE",
		"EXTRACTION_TIMEOUT_SECONDS", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "OPENAI_API_KEY",
		"OPENAI_BASE_URL", "OLLAMA_BASE_URL", "TRANSCRIPT_EXCHANGES", "STRIP_PRIVATE",
		"EXTRACT_ON_EXCHANGE", "DEFAULT_CONTEXT_LIMIT", "TAG_CACHE_ENABLED", "MEMORY_SERVER_URL",
		"MEMORY_USER_ID",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8741, cfg.Port)
	assert.Equal(t, "/data/usermemory.db", cfg.DBPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ProviderAnthropic, cfg.Extraction.Provider)
	assert.Equal(t, "sk-test", cfg.Extraction.APIKey())
	assert.Equal(t, 2000, cfg.Extraction.MaxTokens)
	assert.Equal(t, time.Minute, cfg.Extraction.Timeout())
	assert.Equal(t, 10, cfg.TranscriptExchanges)
	assert.Equal(t, 5, cfg.DefaultContextLimit)
	assert.True(t, cfg.StripPrivate)
	assert.True(t, cfg.ExtractOnExchange)
	assert.True(t, cfg.TagCacheEnabled)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "memory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
db_path: /tmp/from-file.db
strip_private: false
extraction:
  provider: ollama
  model: llama3.2
  ollama_base_url: http://ollama:11434
`), 0o644))
	t.Setenv("MEMORY_CONFIG_FILE", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "env wins over file")
	assert.Equal(t, "/tmp/from-file.db", cfg.DBPath)
	assert.False(t, cfg.StripPrivate)
	assert.Equal(t, ProviderOllama, cfg.Extraction.Provider)
	assert.Equal(t, "llama3.2", cfg.Extraction.Model)
	assert.Equal(t, "http://ollama:11434", cfg.Extraction.BaseURL())
	assert.Equal(t, "", cfg.Extraction.APIKey())
	assert.Equal(t, 2000, cfg.Extraction.MaxTokens, "unset keys keep defaults")
}

func TestLoadBadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [nope"), 0o644))
	t.Setenv("MEMORY_CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)

	t.Setenv("MEMORY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "provider none needs no key", mutate: func(c *Config) {
			c.Extraction.Provider = ProviderNone
			c.Extraction.AnthropicAPIKey = ""
		}},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "PORT"},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: "MEMORY_DB_PATH"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "unknown provider", mutate: func(c *Config) { c.Extraction.Provider = "cohere" }, wantErr: "EXTRACTION_PROVIDER"},
		{name: "missing anthropic key", mutate: func(c *Config) { c.Extraction.AnthropicAPIKey = "" }, wantErr: "API key"},
		{name: "missing openai key", mutate: func(c *Config) { c.Extraction.Provider = ProviderOpenAI }, wantErr: "API key"},
		{name: "zero transcript window", mutate: func(c *Config) { c.TranscriptExchanges = 0 }, wantErr: "TRANSCRIPT_EXCHANGES"},
		{name: "context limit too large", mutate: func(c *Config) { c.DefaultContextLimit = 51 }, wantErr: "DEFAULT_CONTEXT_LIMIT"},
		{name: "zero max tokens", mutate: func(c *Config) { c.Extraction.MaxTokens = 0 }, wantErr: "EXTRACTION_MAX_TOKENS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Extraction.AnthropicAPIKey = "sk-test"
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
