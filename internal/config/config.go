package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Library   LibraryConfig   `toml:"library"`
	Session   SessionConfig   `toml:"session"`
	Transcode TranscodeConfig `toml:"transcode"`
	Logging   LoggingConfig   `toml:"logging"`
	Ngrok     NgrokConfig     `toml:"ngrok"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host        string `toml:"host"`
	Port        string `toml:"port"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// LibraryConfig contains music library settings
type LibraryConfig struct {
	Path              string   `toml:"path"`
	MetadataCacheFile string   `toml:"metadata_cache_file"`
	SupportedFormats  []string `toml:"supported_formats"`
	ScanOnStartup     bool     `toml:"scan_on_startup"`
	WatchForChanges   bool     `toml:"watch_for_changes"`
}

// SessionConfig contains client session settings
type SessionConfig struct {
	TimeoutSeconds       int `toml:"timeout_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// TranscodeConfig contains transcoding cache settings
type TranscodeConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"`
	CacheDir   string `toml:"cache_dir"`
	IndexPath  string `toml:"index_path"`
	MaxCacheMB int64  `toml:"max_cache_mb"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8080",
			ReadTimeout: 30,
		},
		Library: LibraryConfig{
			Path:              "./music",
			MetadataCacheFile: "./data/metadata-cache.json",
			SupportedFormats:  nil, // nil means the built-in allow-list
			ScanOnStartup:     true,
			WatchForChanges:   true,
		},
		Session: SessionConfig{
			TimeoutSeconds:       300,
			SweepIntervalSeconds: 30,
		},
		Transcode: TranscodeConfig{
			FFmpegPath: "ffmpeg",
			CacheDir:   "./data/transcode",
			IndexPath:  "./data/transcode.db",
			MaxCacheMB: 1024,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			RequestLogging: true,
		},
		Ngrok: NgrokConfig{
			Enabled:   false,
			AuthToken: "",
			Domain:    "",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating it with
// defaults when missing.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
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

	header := `# Ariami Media Server Configuration
# Edit the values below to customize your server settings.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
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
	if c.Library.MetadataCacheFile == "" {
		return fmt.Errorf("metadata cache file cannot be empty")
	}

	if c.Session.TimeoutSeconds < 1 {
		return fmt.Errorf("session timeout must be at least 1 second")
	}
	if c.Session.SweepIntervalSeconds < 1 {
		return fmt.Errorf("session sweep interval must be at least 1 second")
	}

	if c.Transcode.MaxCacheMB < 0 {
		return fmt.Errorf("transcode cache size cannot be negative")
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
