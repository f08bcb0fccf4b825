package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Library     LibraryConfig     `toml:"library"`
	Auth        AuthConfig        `toml:"auth"`
	Playback    PlaybackConfig    `toml:"playback"`
	Persistence PersistenceConfig `toml:"persistence"`
	Logging     LoggingConfig     `toml:"logging"`
	Ngrok       NgrokConfig       `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	StaticDir   string `toml:"static_dir"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// LibraryConfig contains music library configuration
type LibraryConfig struct {
	Path             string   `toml:"path"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
}

// AuthConfig contains API key configuration
type AuthConfig struct {
	KeysFile string `toml:"keys_file"`
}

// PlaybackConfig tunes the command serializer
type PlaybackConfig struct {
	QueueDepth         int    `toml:"queue_depth"`
	DedupWindow        string `toml:"dedup_window"`
	ResumeLastQueue    bool   `toml:"resume_last_queue"`
	parsedDedupWindow  time.Duration
}

// PersistenceConfig locates the queue snapshot database
type PersistenceConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains optional remote-access tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			StaticDir:   "./static",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Library: LibraryConfig{
			Path:             "./music",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a", ".ogg"},
			WatchForChanges:  true,
		},
		Auth: AuthConfig{
			KeysFile: "./keys.toml",
		},
		Playback: PlaybackConfig{
			QueueDepth:      64,
			DedupWindow:     "30s",
			ResumeLastQueue: true,
		},
		Persistence: PersistenceConfig{
			Path: "./andante.db",
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			RequestLogging: true,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with defaults
// when it does not exist yet.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		_ = cfg.Validate()
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Andante Playback Server Configuration
# Edit the values below to customize your server settings.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Library.Path == "" {
		return fmt.Errorf("library path cannot be empty")
	}
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported audio format must be specified")
	}

	if c.Auth.KeysFile == "" {
		return fmt.Errorf("keys file path cannot be empty")
	}

	if c.Playback.QueueDepth < 1 {
		return fmt.Errorf("playback queue depth must be at least 1")
	}
	window, err := time.ParseDuration(c.Playback.DedupWindow)
	if err != nil {
		return fmt.Errorf("invalid dedup window: %w", err)
	}
	if window < 0 {
		return fmt.Errorf("dedup window must not be negative")
	}
	c.Playback.parsedDedupWindow = window

	if c.Playback.ResumeLastQueue && c.Persistence.Path == "" {
		return fmt.Errorf("persistence path cannot be empty when resume_last_queue is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// DedupWindow returns the parsed request-id dedup window.
func (c *Config) DedupWindow() time.Duration {
	if c.Playback.parsedDedupWindow == 0 && c.Playback.DedupWindow != "" {
		if d, err := time.ParseDuration(c.Playback.DedupWindow); err == nil {
			return d
		}
	}
	return c.Playback.parsedDedupWindow
}
