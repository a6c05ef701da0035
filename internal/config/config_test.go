package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.GetAddress() != "0.0.0.0:8080" {
		t.Errorf("unexpected default address %s", cfg.GetAddress())
	}
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ariami.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port, got %s", cfg.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file created: %v", err)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ariami.toml")

	cfg := DefaultConfig()
	cfg.Server.Port = "9090"
	cfg.Library.Path = "/srv/music"
	cfg.Transcode.MaxCacheMB = 512
	cfg.Logging.Format = "json"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", loaded.Server.Port)
	}
	if loaded.Library.Path != "/srv/music" {
		t.Errorf("expected library path preserved, got %s", loaded.Library.Path)
	}
	if loaded.Transcode.MaxCacheMB != 512 {
		t.Errorf("expected cache budget preserved, got %d", loaded.Transcode.MaxCacheMB)
	}
	if loaded.Logging.Format != "json" {
		t.Errorf("expected log format preserved, got %s", loaded.Logging.Format)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ariami.toml")
	bad := `[server]
host = "0.0.0.0"
port = ""
`
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "port") {
		t.Fatalf("expected port validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty library path", func(c *Config) { c.Library.Path = "" }, "library path"},
		{"zero session timeout", func(c *Config) { c.Session.TimeoutSeconds = 0 }, "session timeout"},
		{"negative cache size", func(c *Config) { c.Transcode.MaxCacheMB = -1 }, "cache size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
