package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var envVars = []string{
	"STEMPREP_CONFIG", "STEMPREP_CREDENTIALS", "STEMPREP_TOKEN_STORE",
	"STEMPREP_TOKEN_PATH", "STEMPREP_DRIVE_ENDPOINT", "STEMPREP_AUTH_HOST",
	"STEMPREP_AUTH_PORTS", "STEMPREP_LOCAL_WEBSERVER", "STEMPREP_DOWNLOAD_DIR",
	"STEMPREP_CHUNK_SIZE", "STEMPREP_OPUS_BITRATE", "STEMPREP_PLOT_WIDTH",
	"STEMPREP_PLOT_HEIGHT", "STEMPREP_LOG_LEVEL", "STEMPREP_LOG_FORMAT",
	"STEMPREP_LOG_OUTPUT", "STEMPREP_METRICS_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.CredentialsPath != "credentials.json" {
		t.Errorf("CredentialsPath = %q, want default", cfg.CredentialsPath)
	}
	if cfg.TokenStore != "file" {
		t.Errorf("TokenStore = %q, want 'file'", cfg.TokenStore)
	}
	if cfg.TokenPath != "token.json" {
		t.Errorf("TokenPath = %q, want 'token.json'", cfg.TokenPath)
	}
	if cfg.AuthHostName != "localhost" {
		t.Errorf("AuthHostName = %q, want 'localhost'", cfg.AuthHostName)
	}
	if !reflect.DeepEqual(cfg.AuthHostPorts, []int{8080, 8090}) {
		t.Errorf("AuthHostPorts = %v, want [8080 8090]", cfg.AuthHostPorts)
	}
	if !cfg.LocalWebserverEnabled {
		t.Error("LocalWebserverEnabled = false, want true")
	}
	if cfg.ChunkSize != 4<<20 {
		t.Errorf("ChunkSize = %d, want 4MiB", cfg.ChunkSize)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want 'error'", cfg.LogLevel)
	}
	if cfg.MetricsFile != "" {
		t.Errorf("MetricsFile = %q, want empty", cfg.MetricsFile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEMPREP_CREDENTIALS", "/etc/stemprep/client.json")
	t.Setenv("STEMPREP_TOKEN_STORE", "sqlite")
	t.Setenv("STEMPREP_TOKEN_PATH", "/var/lib/stemprep/tokens.db")
	t.Setenv("STEMPREP_AUTH_PORTS", "9000, 9001,9002")
	t.Setenv("STEMPREP_LOCAL_WEBSERVER", "false")
	t.Setenv("STEMPREP_CHUNK_SIZE", "65536")
	t.Setenv("STEMPREP_LOG_LEVEL", "DEBUG")
	t.Setenv("STEMPREP_PLOT_WIDTH", "8.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.CredentialsPath != "/etc/stemprep/client.json" {
		t.Errorf("CredentialsPath = %q", cfg.CredentialsPath)
	}
	if cfg.TokenStore != "sqlite" {
		t.Errorf("TokenStore = %q, want 'sqlite'", cfg.TokenStore)
	}
	if !reflect.DeepEqual(cfg.AuthHostPorts, []int{9000, 9001, 9002}) {
		t.Errorf("AuthHostPorts = %v", cfg.AuthHostPorts)
	}
	if cfg.LocalWebserverEnabled {
		t.Error("LocalWebserverEnabled = true, want false")
	}
	if cfg.ChunkSize != 65536 {
		t.Errorf("ChunkSize = %d, want 65536", cfg.ChunkSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased 'debug'", cfg.LogLevel)
	}
	if cfg.PlotWidthIn != 8.5 {
		t.Errorf("PlotWidthIn = %f, want 8.5", cfg.PlotWidthIn)
	}
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEMPREP_CHUNK_SIZE", "lots")
	t.Setenv("STEMPREP_AUTH_PORTS", "8080,http")
	t.Setenv("STEMPREP_LOCAL_WEBSERVER", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChunkSize != 4<<20 {
		t.Errorf("ChunkSize = %d, want default on bad int", cfg.ChunkSize)
	}
	if !reflect.DeepEqual(cfg.AuthHostPorts, []int{8080, 8090}) {
		t.Errorf("AuthHostPorts = %v, want default on bad list", cfg.AuthHostPorts)
	}
	if !cfg.LocalWebserverEnabled {
		t.Error("LocalWebserverEnabled should keep default on bad bool")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stemprep.yaml")
	yaml := `
credentials_path: secrets/client.json
token_store: sqlite
auth_host_ports: [7000]
log_level: info
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STEMPREP_CONFIG", path)
	t.Setenv("STEMPREP_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CredentialsPath != "secrets/client.json" {
		t.Errorf("CredentialsPath = %q, want value from file", cfg.CredentialsPath)
	}
	if !reflect.DeepEqual(cfg.AuthHostPorts, []int{7000}) {
		t.Errorf("AuthHostPorts = %v, want [7000]", cfg.AuthHostPorts)
	}
	if cfg.TokenPath != "token.json" {
		t.Errorf("TokenPath = %q, want default for key missing in file", cfg.TokenPath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, env should override file", cfg.LogLevel)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad token store", func(c *Config) { c.TokenStore = "redis" }},
		{"empty token path", func(c *Config) { c.TokenPath = "" }},
		{"empty auth host", func(c *Config) { c.AuthHostName = "" }},
		{"port out of range", func(c *Config) { c.AuthHostPorts = []int{70000} }},
		{"tiny chunk", func(c *Config) { c.ChunkSize = 10 }},
		{"opus bitrate", func(c *Config) { c.OpusBitrate = 1 }},
		{"plot size", func(c *Config) { c.PlotHeightIn = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
