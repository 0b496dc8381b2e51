// Package config provides YAML-based configuration loading for Sapiens.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Sapiens configuration, loaded from config.yaml.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	DB           DBConfig           `yaml:"db"`
	Backend      BackendConfig      `yaml:"backend"`
	Session      SessionConfig      `yaml:"session"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Notify       NotifyConfig       `yaml:"notify"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DBConfig holds storage settings. Driver selects sqlite (Path) or
// mysql (Host/Port/Name/User/Password).
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// BackendConfig holds connection settings for the AI backend.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SessionConfig holds session-gate flag storage settings.
type SessionConfig struct {
	Store      string      `yaml:"store"` // "memory" or "redis"
	TTLMinutes int         `yaml:"ttl_minutes"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OrchestratorConfig tunes the phase orchestrator.
type OrchestratorConfig struct {
	InitialPhase     string `yaml:"initial_phase"`
	BufferTTLMinutes int    `yaml:"buffer_ttl_minutes"`
	SweepCron        string `yaml:"sweep_cron"` // 5-field cron expression
}

// NotifyConfig holds optional chat-platform notification settings.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord notification settings.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file input,
// suitable for local development against a sqlite database.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "sapiens.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Name == "" {
		c.DB.Name = "sapiens"
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://127.0.0.1:8000"
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 30
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.TTLMinutes == 0 {
		c.Session.TTLMinutes = 720
	}
	if c.Session.Redis.Addr == "" {
		c.Session.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Orchestrator.InitialPhase == "" {
		c.Orchestrator.InitialPhase = "onboarding"
	}
	if c.Orchestrator.BufferTTLMinutes == 0 {
		c.Orchestrator.BufferTTLMinutes = 120
	}
	if c.Orchestrator.SweepCron == "" {
		c.Orchestrator.SweepCron = "*/15 * * * *"
	}
}

// applyEnvOverrides lets secrets come from the environment instead of
// the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SAPIENS_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Session.Redis.Password = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Notify.Slack.BotToken = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Notify.Discord.Token = v
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite, mysql)", c.DB.Driver))
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.store %q is not supported (memory, redis)", c.Session.Store))
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("backend.base_url %q must be an http(s) URL", c.Backend.BaseURL))
	}
	if c.Backend.TimeoutSeconds < 0 {
		errs = append(errs, "backend.timeout_seconds must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
