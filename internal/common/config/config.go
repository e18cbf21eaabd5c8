// Package config provides configuration management for agentdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentdeck.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Git      GitConfig      `mapstructure:"git"`
	Sidecars SidecarConfig  `mapstructure:"sidecars"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds persistence configuration. Driver selects the
// repository backend: "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultImage   string `mapstructure:"defaultImage"`
	VolumeBasePath string `mapstructure:"volumeBasePath"`
}

// GitConfig holds defaults for repository access inside worker containers.
type GitConfig struct {
	DefaultRepoURL string `mapstructure:"defaultRepoUrl"`
	Username       string `mapstructure:"username"`
	Token          string `mapstructure:"token"`
}

// SidecarConfig holds images and the host port range used for sidecar
// containers attached to an agent's private network.
type SidecarConfig struct {
	SSHImage     string `mapstructure:"sshImage"`
	DesktopImage string `mapstructure:"desktopImage"`
	PortMin      int    `mapstructure:"portMin"`
	PortMax      int    `mapstructure:"portMax"`
}

// GatewayConfig holds realtime gateway tuning.
type GatewayConfig struct {
	HistoryLimit  int `mapstructure:"historyLimit"`  // chat messages replayed on login
	StatsInterval int `mapstructure:"statsInterval"` // seconds between stats broadcasts
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// StatsIntervalDuration returns the stats broadcast interval as a time.Duration.
func (g *GatewayConfig) StatsIntervalDuration() time.Duration {
	return time.Duration(g.StatsInterval) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTDECK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "agentdeck.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentdeck")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentdeck")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentdeck")
	v.SetDefault("nats.maxReconnects", 10)

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "")
	v.SetDefault("docker.defaultImage", "agentdeck/worker:latest")
	v.SetDefault("docker.volumeBasePath", "/var/lib/agentdeck/volumes")

	// Git defaults
	v.SetDefault("git.defaultRepoUrl", "")
	v.SetDefault("git.username", "")
	v.SetDefault("git.token", "")

	// Sidecar defaults
	v.SetDefault("sidecars.sshImage", "agentdeck/ssh-sidecar:latest")
	v.SetDefault("sidecars.desktopImage", "agentdeck/desktop-sidecar:latest")
	v.SetDefault("sidecars.portMin", 20000)
	v.SetDefault("sidecars.portMax", 65000)

	// Gateway defaults
	v.SetDefault("gateway.historyLimit", 50)
	v.SetDefault("gateway.statsInterval", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDECK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agentdeck/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase config keys, so bind the ones
	// whose env var naming differs from the config key naming.
	_ = v.BindEnv("git.defaultRepoUrl", "AGENTDECK_GIT_DEFAULT_REPO_URL")
	_ = v.BindEnv("docker.defaultImage", "AGENTDECK_DOCKER_DEFAULT_IMAGE")
	_ = v.BindEnv("docker.volumeBasePath", "AGENTDECK_DOCKER_VOLUME_BASE_PATH")
	_ = v.BindEnv("sidecars.sshImage", "AGENTDECK_SIDECARS_SSH_IMAGE")
	_ = v.BindEnv("sidecars.desktopImage", "AGENTDECK_SIDECARS_DESKTOP_IMAGE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdeck/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.DBName == "" {
			errs = append(errs, "database.host and database.dbName are required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Sidecars.PortMin <= 1024 || cfg.Sidecars.PortMax > 65535 || cfg.Sidecars.PortMin >= cfg.Sidecars.PortMax {
		errs = append(errs, "sidecars.portMin/portMax must describe a valid high port range")
	}

	if cfg.Gateway.HistoryLimit <= 0 {
		errs = append(errs, "gateway.historyLimit must be positive")
	}
	if cfg.Gateway.StatsInterval <= 0 {
		errs = append(errs, "gateway.statsInterval must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
