// Package config loads pixie-server settings from defaults, an optional YAML
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PIXIE_SERVER_ADDR
const EnvPrefix = "PIXIE"

// Config is the full server configuration
type Config struct {
	App        AppConfig        `mapstructure:"app" yaml:"app"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Provider   string           `mapstructure:"provider" yaml:"provider"`
	Replicate  ReplicateConfig  `mapstructure:"replicate" yaml:"replicate"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Stream     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	Registry   RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Upload     UploadConfig     `mapstructure:"upload" yaml:"upload"`
	Campaign   CampaignConfig   `mapstructure:"campaign" yaml:"campaign"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

type AppConfig struct {
	Env      string `mapstructure:"env" yaml:"env"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	Version  string `mapstructure:"version" yaml:"version"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	CertFile   string   `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile    string   `mapstructure:"key_file" yaml:"key_file"`
	CAFile     string   `mapstructure:"ca_file" yaml:"ca_file"`
	SelfSigned bool     `mapstructure:"self_signed" yaml:"self_signed"`
	Hosts      []string `mapstructure:"hosts" yaml:"hosts"`
}

type ReplicateConfig struct {
	APIToken        string        `mapstructure:"api_token" yaml:"api_token"`
	ModelVersion    string        `mapstructure:"model_version" yaml:"model_version"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AverageDuration time.Duration `mapstructure:"average_duration" yaml:"average_duration"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type SimulationConfig struct {
	Tick        time.Duration `mapstructure:"tick" yaml:"tick"`
	StepPercent int           `mapstructure:"step_percent" yaml:"step_percent"`
}

type StreamConfig struct {
	// Interval 0 picks the provider default
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Heartbeat time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	MaxMisses int           `mapstructure:"max_misses" yaml:"max_misses"`
}

type RegistryConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Name          string        `mapstructure:"name" yaml:"name"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	AbandonAfter  time.Duration `mapstructure:"abandon_after" yaml:"abandon_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

type UploadConfig struct {
	MaxBytes      int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
	UploadURL     string `mapstructure:"upload_url" yaml:"upload_url"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

type CampaignConfig struct {
	StatsInterval            time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	BaseGenerations          int           `mapstructure:"base_generations" yaml:"base_generations"`
	DefaultProcessingSeconds int           `mapstructure:"default_processing_seconds" yaml:"default_processing_seconds"`
	SatisfactionRate         int           `mapstructure:"satisfaction_rate" yaml:"satisfaction_rate"`
	FundingGoal              int64         `mapstructure:"funding_goal" yaml:"funding_goal"`
	FundingAmount            int64         `mapstructure:"funding_amount" yaml:"funding_amount"`
	Backers                  int           `mapstructure:"backers" yaml:"backers"`
	DaysLeft                 int           `mapstructure:"days_left" yaml:"days_left"`
	// EndsAt is an RFC 3339 timestamp that overrides DaysLeft
	EndsAt string `mapstructure:"ends_at" yaml:"ends_at"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Options selects the files Load reads
type Options struct {
	// ConfigFile is a YAML file; empty falls back to $PIXIE_CONFIG
	ConfigFile string
	// EnvFile is loaded into the environment when it exists
	EnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.self_signed", false)

	v.SetDefault("provider", "replicate")

	v.SetDefault("replicate.base_url", "https://api.replicate.com")
	v.SetDefault("replicate.request_timeout", 30*time.Second)
	v.SetDefault("replicate.average_duration", 60*time.Second)
	v.SetDefault("replicate.max_retries", 3)

	v.SetDefault("simulation.tick", time.Second)
	v.SetDefault("simulation.step_percent", 10)

	v.SetDefault("stream.interval", time.Duration(0))
	v.SetDefault("stream.heartbeat", 15*time.Second)
	v.SetDefault("stream.max_misses", 5)

	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.name", "pixie-registry")
	v.SetDefault("registry.retention", 15*time.Minute)
	v.SetDefault("registry.abandon_after", time.Hour)
	v.SetDefault("registry.sweep_interval", time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("upload.max_bytes", 5*1024*1024)
	v.SetDefault("upload.upload_url", "https://storage.petpixie.app/presigned-upload-url")
	v.SetDefault("upload.public_base_url", "https://storage.petpixie.app")

	v.SetDefault("campaign.stats_interval", 30*time.Second)
	v.SetDefault("campaign.base_generations", 52)
	v.SetDefault("campaign.default_processing_seconds", 58)
	v.SetDefault("campaign.satisfaction_rate", 92)
	v.SetDefault("campaign.funding_goal", 5000000)
	v.SetDefault("campaign.funding_amount", 4250000)
	v.SetDefault("campaign.backers", 127)
	v.SetDefault("campaign.days_left", 12)
	v.SetDefault("campaign.ends_at", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "pixie-server")
}

// Load builds the configuration. It does not validate it.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The provider credentials keep their conventional names
	if err := v.BindEnv("replicate.api_token", EnvPrefix+"_REPLICATE_API_TOKEN", "REPLICATE_API_TOKEN"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("replicate.model_version", EnvPrefix+"_REPLICATE_MODEL_VERSION", "REPLICATE_MODEL_VERSION"); err != nil {
		return nil, err
	}

	file := opts.ConfigFile
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first setting the server cannot start with
func (c *Config) Validate() error {
	switch c.Provider {
	case "simulated":
		if c.Simulation.Tick <= 0 {
			return errors.New("simulation.tick must be positive")
		}
		if c.Simulation.StepPercent <= 0 || c.Simulation.StepPercent > 100 {
			return fmt.Errorf("simulation.step_percent %d out of range (1-100)", c.Simulation.StepPercent)
		}
	case "replicate":
		if c.Replicate.APIToken == "" {
			return errors.New("REPLICATE_API_TOKEN is required when provider is replicate")
		}
		if c.Replicate.ModelVersion == "" {
			return errors.New("REPLICATE_MODEL_VERSION is required when provider is replicate")
		}
	default:
		return fmt.Errorf("unknown provider %q (want simulated or replicate)", c.Provider)
	}

	switch c.Registry.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown registry backend %q (want memory or sqlite)", c.Registry.Backend)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit.rps and rate_limit.burst must be positive")
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls requires cert_file and key_file")
	}
	if _, err := c.CampaignEnd(); err != nil {
		return err
	}
	return nil
}

// StreamInterval is the configured push period, or 1s for the simulated
// provider and 2s for Replicate
func (c *Config) StreamInterval() time.Duration {
	if c.Stream.Interval > 0 {
		return c.Stream.Interval
	}
	if c.Provider == "simulated" {
		return time.Second
	}
	return 2 * time.Second
}

// CampaignEnd parses campaign.ends_at. The zero time means unset.
func (c *Config) CampaignEnd() (time.Time, error) {
	if c.Campaign.EndsAt == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Campaign.EndsAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("campaign.ends_at: %w", err)
	}
	return t, nil
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Replicate.APIToken != "" {
		cp.Replicate.APIToken = "********"
	}
	return cp
}
