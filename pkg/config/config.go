package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StudioConfig captures runtime settings for the studio web frontend.
type StudioConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	BuilderURL     string        `mapstructure:"builder_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	SubmitRPS      float64       `mapstructure:"submit_rps"`
	SubmitBurst    int           `mapstructure:"submit_burst"`
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl"`
	Tracing        bool          `mapstructure:"tracing"`
	TrustProxy     bool          `mapstructure:"trust_proxy"`
}

// CLIConfig captures settings for the rahl command line client.
type CLIConfig struct {
	BuilderURL     string        `mapstructure:"builder_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// StubConfig captures settings for the contract stub builder.
type StubConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	PublicURL   string        `mapstructure:"public_url"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	ProjectTTL  time.Duration `mapstructure:"project_ttl"`
	BuildDelay  time.Duration `mapstructure:"build_delay"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
}

const defaultBuilderURL = "http://localhost:5000"

// LoadStudio loads studio configuration from defaults, files, and env vars.
func LoadStudio() (StudioConfig, error) {
	v := newViper("studio", "STUDIO")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("builder_url", defaultBuilderURL)
	v.SetDefault("request_timeout", 5*time.Minute)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("submit_rps", 0.5)
	v.SetDefault("submit_burst", 3)
	v.SetDefault("session_idle_ttl", 30*time.Minute)
	v.SetDefault("tracing", false)
	v.SetDefault("trust_proxy", false)

	var cfg StudioConfig
	if err := load(v, &cfg); err != nil {
		return StudioConfig{}, err
	}
	if err := validateBuilder(cfg.BuilderURL, cfg.RequestTimeout); err != nil {
		return StudioConfig{}, err
	}
	if cfg.SessionIdleTTL <= 0 {
		return StudioConfig{}, errors.New("session_idle_ttl must be positive")
	}
	return cfg, nil
}

// LoadCLI loads command line client configuration.
func LoadCLI() (CLIConfig, error) {
	v := newViper("rahl", "RAHL")
	v.SetDefault("builder_url", defaultBuilderURL)
	v.SetDefault("request_timeout", 5*time.Minute)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "console")
	v.SetDefault("poll_interval", 2*time.Second)

	var cfg CLIConfig
	if err := load(v, &cfg); err != nil {
		return CLIConfig{}, err
	}
	if err := validateBuilder(cfg.BuilderURL, cfg.RequestTimeout); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

// LoadStub loads configuration for the contract stub builder.
func LoadStub() (StubConfig, error) {
	v := newViper("builder-stub", "BUILDER")
	v.SetDefault("listen_addr", ":5000")
	v.SetDefault("public_url", "")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("project_ttl", 24*time.Hour)
	v.SetDefault("build_delay", 2*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	var cfg StubConfig
	if err := load(v, &cfg); err != nil {
		return StubConfig{}, err
	}
	if cfg.ProjectTTL <= 0 {
		return StubConfig{}, errors.New("project_ttl must be positive")
	}
	return cfg, nil
}

func newViper(name, prefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.AddConfigPath("./configs")
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	return v
}

func load(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// ValidateBuilderURL checks that raw is an absolute http(s) address.
func ValidateBuilderURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse builder_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("builder_url %q must be an absolute http(s) address", raw)
	}
	return nil
}

func validateBuilder(builderURL string, timeout time.Duration) error {
	if err := ValidateBuilderURL(builderURL); err != nil {
		return err
	}
	if timeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	return nil
}
