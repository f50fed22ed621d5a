package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv keeps the developer's shell from leaking into tests
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"REPLICATE_API_TOKEN", "REPLICATE_MODEL_VERSION", "PIXIE_CONFIG", "PIXIE_PROVIDER"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "replicate", cfg.Provider)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Registry.Retention)
	assert.Equal(t, time.Hour, cfg.Registry.AbandonAfter)
	assert.Equal(t, int64(5*1024*1024), cfg.Upload.MaxBytes)
	assert.Equal(t, 5, cfg.Stream.MaxMisses)
	assert.Equal(t, 2*time.Second, cfg.StreamInterval())

	// replicate without credentials cannot start
	assert.ErrorContains(t, cfg.Validate(), "REPLICATE_API_TOKEN")
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLICATE_API_TOKEN", "r8_secret")
	t.Setenv("REPLICATE_MODEL_VERSION", "abc123")
	t.Setenv("PIXIE_SERVER_ADDR", ":9999")
	t.Setenv("PIXIE_STREAM_INTERVAL", "500ms")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "r8_secret", cfg.Replicate.APIToken)
	assert.Equal(t, "abc123", cfg.Replicate.ModelVersion)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.StreamInterval())
	assert.Equal(t, "********", cfg.Redacted().Replicate.APIToken)
	assert.Equal(t, "r8_secret", cfg.Replicate.APIToken)
}

func TestLoadFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	configFile := filepath.Join(dir, "pixie.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
provider: simulated
simulation:
  tick: 200ms
  step_percent: 25
registry:
  backend: sqlite
campaign:
  ends_at: "2026-12-24T00:00:00Z"
`), 0o644))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PIXIE_APP_LOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PIXIE_APP_LOG_LEVEL") })

	cfg, err := Load(Options{ConfigFile: configFile, EnvFile: envFile})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "simulated", cfg.Provider)
	assert.Equal(t, 200*time.Millisecond, cfg.Simulation.Tick)
	assert.Equal(t, 25, cfg.Simulation.StepPercent)
	assert.Equal(t, "sqlite", cfg.Registry.Backend)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, time.Second, cfg.StreamInterval())

	end, err := cfg.CampaignEnd()
	require.NoError(t, err)
	assert.Equal(t, 2026, end.Year())
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "absent.env")})
	assert.NoError(t, err)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		clearEnv(t)
		cfg, err := Load(Options{})
		require.NoError(t, err)
		cfg.Provider = "simulated"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Provider = "dalle" }, "unknown provider"},
		{"missing version", func(c *Config) { c.Provider = "replicate"; c.Replicate.APIToken = "t" }, "REPLICATE_MODEL_VERSION"},
		{"bad step", func(c *Config) { c.Simulation.StepPercent = 0 }, "step_percent"},
		{"bad backend", func(c *Config) { c.Registry.Backend = "postgres" }, "registry backend"},
		{"bad rate limit", func(c *Config) { c.RateLimit.RPS = 0 }, "rate_limit"},
		{"tls without files", func(c *Config) { c.Server.TLS.Enabled = true }, "server.tls"},
		{"bad campaign end", func(c *Config) { c.Campaign.EndsAt = "soon" }, "campaign.ends_at"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
