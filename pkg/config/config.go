// Package config loads server configuration from file, environment, and
// defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FILEHAVEN_* or the short aliases below)
//  2. Configuration file (YAML)
//  3. Default values
//
// Short aliases exist for the settings operators touch most, for example
// FILE_ROOT, SESSION_SECRET and ADMIN_PASSWORD.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"  yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Auth    AuthConfig    `mapstructure:"auth"    yaml:"auth"`
	Files   FilesConfig   `mapstructure:"files"   yaml:"files"`
	S3      S3Config      `mapstructure:"s3"      yaml:"s3"`
	Audit   AuditConfig   `mapstructure:"audit"   yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host is the bind address. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port.
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535" yaml:"port"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// AuthConfig configures sessions and the user registry.
type AuthConfig struct {
	// SessionSecret signs session tokens. At least 32 bytes.
	SessionSecret string `mapstructure:"session_secret" validate:"required,min=32" yaml:"session_secret"`

	// SessionTTL is how long an issued session stays valid.
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"required,gt=0" yaml:"session_ttl"`

	// RotateWindow is the remaining-lifetime threshold under which responses
	// carry a refreshed session cookie.
	RotateWindow time.Duration `mapstructure:"rotate_window" validate:"gte=0" yaml:"rotate_window"`

	// AdminPassword is the fallback single-admin credential, used only when
	// no users file or inline users are configured.
	AdminPassword string `mapstructure:"admin_password" yaml:"admin_password"`

	// UsersFile is a path to a JSON array of user specs.
	UsersFile string `mapstructure:"users_file" yaml:"users_file"`

	// UsersJSON is an inline JSON array of user specs. Takes precedence over
	// UsersFile.
	UsersJSON string `mapstructure:"users_json" yaml:"users_json"`
}

// FilesConfig configures the local file area.
type FilesConfig struct {
	// Root is the host directory all user sandboxes live under.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// SettingsPath is where S3 profiles are persisted.
	SettingsPath string `mapstructure:"settings_path" validate:"required" yaml:"settings_path"`

	// ArchiveLargeMB is the combined download size, in MiB, at which zip
	// archives switch to store mode.
	ArchiveLargeMB int `mapstructure:"archive_large_mb" validate:"required,gt=0" yaml:"archive_large_mb"`

	// SearchMaxBytes caps how many bytes of one file a content search reads.
	SearchMaxBytes int64 `mapstructure:"search_max_bytes" validate:"required,gt=0" yaml:"search_max_bytes"`
}

// S3Config configures object store connections.
type S3Config struct {
	// MaxConnections caps distinct connected S3 configurations across all
	// sessions. Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`
}

// AuditConfig configures the audit event log.
type AuditConfig struct {
	// LogPath is the JSON-lines audit file. Empty disables auditing.
	LogPath string `mapstructure:"log_path" yaml:"log_path"`
}

// ArchiveLargeBytes returns the zip store-mode threshold in bytes.
func (c *FilesConfig) ArchiveLargeBytes() int64 {
	return int64(c.ArchiveLargeMB) * 1024 * 1024
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load loads configuration from the given file (optional), environment, and
// defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 8 * time.Hour
	}
	if cfg.Auth.RotateWindow == 0 {
		cfg.Auth.RotateWindow = 30 * time.Minute
	}
	if cfg.Files.Root == "" {
		cfg.Files.Root = "./data/files"
	}
	if cfg.Files.SettingsPath == "" {
		cfg.Files.SettingsPath = "./data/settings.json"
	}
	if cfg.Files.ArchiveLargeMB == 0 {
		cfg.Files.ArchiveLargeMB = 100
	}
	if cfg.Files.SearchMaxBytes == 0 {
		cfg.Files.SearchMaxBytes = 200 * 1024
	}
	if cfg.S3.MaxConnections == 0 {
		cfg.S3.MaxConnections = 5
	}
}

// Validate checks structural validity via struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// setupViper wires environment variables and the config file location.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FILEHAVEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env values to Unmarshal for keys
	// the config file never mentions, so every key is bound explicitly.
	keys := []string{
		"server.host", "server.port", "server.shutdown_timeout",
		"server.metrics_enabled",
		"logging.level", "logging.format", "logging.output",
		"auth.session_secret", "auth.session_ttl", "auth.rotate_window",
		"auth.admin_password", "auth.users_file", "auth.users_json",
		"files.root", "files.settings_path", "files.archive_large_mb",
		"files.search_max_bytes",
		"s3.max_connections",
		"audit.log_path",
	}

	// Short aliases for the common operational knobs.
	aliases := map[string]string{
		"files.root":             "FILE_ROOT",
		"files.settings_path":    "SETTINGS_PATH",
		"files.archive_large_mb": "ARCHIVE_LARGE_MB",
		"files.search_max_bytes": "SEARCH_MAX_BYTES",
		"auth.session_secret":    "SESSION_SECRET",
		"auth.admin_password":    "ADMIN_PASSWORD",
		"auth.users_file":        "USERS_FILE",
		"auth.users_json":        "USERS_JSON",
		"s3.max_connections":     "MAX_S3_CONNECTIONS",
		"audit.log_path":         "AUDIT_LOG_PATH",
	}

	for _, key := range keys {
		names := []string{key,
			"FILEHAVEN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := aliases[key]; ok {
			names = append(names, alias)
		}
		_ = v.BindEnv(names...)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("filehaven")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if one exists. A missing file
// is not an error; the environment and defaults still apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
