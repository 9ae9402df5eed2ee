package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	// Save original env and restore after test
	origEnv := os.Environ()
	t.Cleanup(func() {
		os.Clearenv()
		for _, e := range origEnv {
			for i := 0; i < len(e); i++ {
				if e[i] == '=' {
					os.Setenv(e[:i], e[i+1:])
					break
				}
			}
		}
	})
	os.Clearenv()
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "data/figlang.db", cfg.DatabasePath)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, ProviderGemini, cfg.Primary.Provider)
		assert.Equal(t, "gemini-2.5-flash", cfg.Primary.Model)
		assert.Equal(t, "gemini-2.5-pro", cfg.Escalation.Model)
		assert.Equal(t, 90*time.Second, cfg.Primary.Timeout)
		assert.Equal(t, 180*time.Second, cfg.Escalation.Timeout)
		assert.Equal(t, 10, cfg.MaxAttempts)
		assert.Equal(t, 2, cfg.EscalationRetries)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, 5, cfg.BatchSize)
		assert.Equal(t, SourceSefaria, cfg.Source)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("custom values", func(t *testing.T) {
		clearEnv(t)
		os.Setenv("DATABASE_PATH", "/custom/path.db")
		os.Setenv("ANTHROPIC_API_KEY", "sk-test")
		os.Setenv("ESCALATION_PROVIDER", "anthropic")
		os.Setenv("ESCALATION_MODEL", "claude-sonnet-4-5")
		os.Setenv("ATTEMPT_TIMEOUT", "1m")
		os.Setenv("WORKERS", "8")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "/custom/path.db", cfg.DatabasePath)
		assert.Equal(t, "sk-test", cfg.APIKey(cfg.Escalation))
		assert.Equal(t, "claude-sonnet-4-5", cfg.Escalation.Model)
		assert.Equal(t, time.Minute, cfg.Primary.Timeout)
		assert.Equal(t, 8, cfg.Workers)
	})

	t.Run("invalid duration", func(t *testing.T) {
		clearEnv(t)
		os.Setenv("ATTEMPT_TIMEOUT", "invalid")

		_, err := Load()
		assert.ErrorContains(t, err, "ATTEMPT_TIMEOUT")
	})

	t.Run("invalid integer", func(t *testing.T) {
		clearEnv(t)
		os.Setenv("BATCH_SIZE", "notanumber")

		_, err := Load()
		assert.ErrorContains(t, err, "BATCH_SIZE")
	})

	t.Run("tiers file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "tiers.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
primary:
  model: gemini-2.5-flash-lite
  input_cost_per_mtok: 0.1
escalation:
  provider: anthropic
  model: claude-opus-4-1
  timeout: 5m
  max_tokens: 32000
max_attempts: 12
escalation_retries: 1
`), 0o644))
		os.Setenv("TIERS_FILE", path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ProviderGemini, cfg.Primary.Provider)
		assert.Equal(t, "gemini-2.5-flash-lite", cfg.Primary.Model)
		assert.InDelta(t, 0.1, cfg.Primary.InputCostPerMTok, 1e-9)
		assert.InDelta(t, 2.5, cfg.Primary.OutputCostPerMTok, 1e-9)
		assert.Equal(t, ProviderAnthropic, cfg.Escalation.Provider)
		assert.Equal(t, 5*time.Minute, cfg.Escalation.Timeout)
		assert.Equal(t, 32000, cfg.Escalation.MaxTokens)
		assert.Equal(t, 12, cfg.MaxAttempts)
		assert.Equal(t, 1, cfg.EscalationRetries)
	})

	t.Run("missing tiers file", func(t *testing.T) {
		clearEnv(t)
		os.Setenv("TIERS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "read tiers file")
	})
}

func validConfig() *Config {
	return &Config{
		DatabasePath: "test.db",
		VecLitePath:  "test.veclite",
		GeminiAPIKey: "g-key",
		Primary: TierConfig{
			Provider: ProviderGemini, Model: "flash", Timeout: time.Minute, MaxTokens: 8192,
		},
		Escalation: TierConfig{
			Provider: ProviderGemini, Model: "pro", Timeout: time.Minute, MaxTokens: 8192,
		},
		MaxAttempts:       10,
		EscalationRetries: 2,
		CallRetries:       3,
		Workers:           4,
		BatchSize:         5,
		Source:            SourceSefaria,
		SourceCacheSize:   16,
		LogLevel:          "info",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabasePath = "" }, wantErr: "DatabasePath"},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: "Workers"},
		{name: "unknown provider", mutate: func(c *Config) { c.Primary.Provider = "openai" }, wantErr: "Provider"},
		{name: "unknown source", mutate: func(c *Config) { c.Source = "ftp" }, wantErr: "Source"},
		{name: "bad sefaria url", mutate: func(c *Config) { c.SefariaURL = "not a url" }, wantErr: "SefariaURL"},
		{name: "zero timeout", mutate: func(c *Config) { c.Escalation.Timeout = 0 }, wantErr: "timeouts"},
		{name: "zero escalation retries", mutate: func(c *Config) { c.EscalationRetries = 0 }, wantErr: "EscalationRetries"},
		{name: "escalation retries use the whole budget", mutate: func(c *Config) {
			c.MaxAttempts, c.EscalationRetries = 3, 3
		}, wantErr: "EscalationRetries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ValidateForRun(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().ValidateForRun())
	})

	t.Run("missing escalation key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Escalation.Provider = ProviderAnthropic
		assert.ErrorContains(t, cfg.ValidateForRun(), "ANTHROPIC_API_KEY")
	})

	t.Run("file source needs path", func(t *testing.T) {
		cfg := validConfig()
		cfg.Source = SourceFile
		assert.ErrorContains(t, cfg.ValidateForRun(), "VERSES_FILE")
	})
}

func TestConfig_ValidateForIndex(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.ValidateForIndex())

	cfg.VecLitePath = ""
	assert.ErrorContains(t, cfg.ValidateForIndex(), "VECLITE_PATH")
}
