// Package config loads service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type OpenAIConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	Model     string  `mapstructure:"model"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type EngineConfig struct {
	// DueParseMode is one of ai-first, rule-first, rule-only.
	DueParseMode string `mapstructure:"due_parse_mode"`
	// DefaultDueTime is applied to date-only due expressions, "HH:MM".
	DefaultDueTime string `mapstructure:"default_due_time"`
	// Tone is one of polite, friendly, concise.
	Tone     string `mapstructure:"tone"`
	Timezone string `mapstructure:"timezone"`
}

type PushConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Push     PushConfig     `mapstructure:"push"`
}

// Load reads config from CONFIG_PATH (default config.yaml if present),
// applies KAIWA_* environment overrides, and validates the result.
// A missing config file is fine; defaults plus env carry a full setup.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "kaiwa")
	v.SetDefault("postgres.database", "kaiwa")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.rate_limit", 2.0)
	v.SetDefault("openai.burst", 4)
	v.SetDefault("engine.due_parse_mode", "rule-first")
	v.SetDefault("engine.default_due_time", "09:00")
	v.SetDefault("engine.tone", "polite")
	v.SetDefault("engine.timezone", "Asia/Tokyo")
	v.SetDefault("push.enabled", true)
	v.SetDefault("push.scan_interval", 30*time.Second)

	v.SetEnvPrefix("KAIWA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			cfgPath = "config.yaml"
		}
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch c.Engine.DueParseMode {
	case "ai-first", "rule-first", "rule-only":
	default:
		return fmt.Errorf("invalid due_parse_mode %q", c.Engine.DueParseMode)
	}
	switch c.Engine.Tone {
	case "polite", "friendly", "concise":
	default:
		return fmt.Errorf("invalid tone %q", c.Engine.Tone)
	}
	if _, err := time.Parse("15:04", c.Engine.DefaultDueTime); err != nil {
		return fmt.Errorf("invalid default_due_time %q", c.Engine.DefaultDueTime)
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Engine.Timezone, err)
	}
	return nil
}
