package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Values come from an optional YAML
// file, then environment variables, then defaults.
type Config struct {
	// Google Drive access
	CredentialsPath string `yaml:"credentials_path"`
	TokenStore      string `yaml:"token_store"` // file | sqlite
	TokenPath       string `yaml:"token_path"`
	DriveEndpoint   string `yaml:"drive_endpoint"` // empty means Google's default

	// OAuth flow
	AuthHostName          string `yaml:"auth_host_name"`
	AuthHostPorts         []int  `yaml:"auth_host_ports"`
	LocalWebserverEnabled bool   `yaml:"local_webserver_enabled"`

	// Downloads
	DownloadDir string `yaml:"download_dir"`
	ChunkSize   int    `yaml:"chunk_size"` // bytes per read

	// Audio
	OpusBitrate  int     `yaml:"opus_bitrate"` // bits per second
	PlotWidthIn  float64 `yaml:"plot_width_in"`
	PlotHeightIn float64 `yaml:"plot_height_in"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`

	// Prometheus textfile written after each command, empty disables
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		CredentialsPath:       "credentials.json",
		TokenStore:            "file",
		TokenPath:             "token.json",
		AuthHostName:          "localhost",
		AuthHostPorts:         []int{8080, 8090},
		LocalWebserverEnabled: true,
		DownloadDir:           ".",
		ChunkSize:             4 << 20,
		OpusBitrate:           96000,
		PlotWidthIn:           15,
		PlotHeightIn:          10,
		LogLevel:              "error",
		LogFormat:             "text",
		LogOutput:             "stderr",
	}
}

// Load reads configuration from environment variables with sane defaults.
// If STEMPREP_CONFIG names a YAML file it is applied before the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("STEMPREP_CONFIG"); path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults. Keys missing from the file
// keep their default value.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.CredentialsPath = envStr("STEMPREP_CREDENTIALS", c.CredentialsPath)
	c.TokenStore = envStr("STEMPREP_TOKEN_STORE", c.TokenStore)
	c.TokenPath = envStr("STEMPREP_TOKEN_PATH", c.TokenPath)
	c.DriveEndpoint = envStr("STEMPREP_DRIVE_ENDPOINT", c.DriveEndpoint)

	c.AuthHostName = envStr("STEMPREP_AUTH_HOST", c.AuthHostName)
	c.AuthHostPorts = envInts("STEMPREP_AUTH_PORTS", c.AuthHostPorts)
	c.LocalWebserverEnabled = envBool("STEMPREP_LOCAL_WEBSERVER", c.LocalWebserverEnabled)

	c.DownloadDir = envStr("STEMPREP_DOWNLOAD_DIR", c.DownloadDir)
	c.ChunkSize = envInt("STEMPREP_CHUNK_SIZE", c.ChunkSize)

	c.OpusBitrate = envInt("STEMPREP_OPUS_BITRATE", c.OpusBitrate)
	c.PlotWidthIn = envFloat("STEMPREP_PLOT_WIDTH", c.PlotWidthIn)
	c.PlotHeightIn = envFloat("STEMPREP_PLOT_HEIGHT", c.PlotHeightIn)

	c.LogLevel = strings.ToLower(envStr("STEMPREP_LOG_LEVEL", c.LogLevel))
	c.LogFormat = envStr("STEMPREP_LOG_FORMAT", c.LogFormat)
	c.LogOutput = envStr("STEMPREP_LOG_OUTPUT", c.LogOutput)

	c.MetricsFile = envStr("STEMPREP_METRICS_FILE", c.MetricsFile)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.TokenStore {
	case "file", "sqlite":
	default:
		return fmt.Errorf("token_store must be 'file' or 'sqlite', got '%s'", c.TokenStore)
	}
	if c.TokenPath == "" {
		return fmt.Errorf("token_path cannot be empty")
	}
	if c.AuthHostName == "" {
		return fmt.Errorf("auth_host_name cannot be empty")
	}
	for _, p := range c.AuthHostPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("auth port must be between 1 and 65535, got %d", p)
		}
	}
	if c.ChunkSize < 1024 {
		return fmt.Errorf("chunk_size must be at least 1024 bytes, got %d", c.ChunkSize)
	}
	if c.OpusBitrate < 6000 || c.OpusBitrate > 510000 {
		return fmt.Errorf("opus_bitrate must be between 6000 and 510000, got %d", c.OpusBitrate)
	}
	if c.PlotWidthIn <= 0 || c.PlotHeightIn <= 0 {
		return fmt.Errorf("plot size must be positive, got %.1fx%.1f", c.PlotWidthIn, c.PlotHeightIn)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of [debug, info, warn, error], got '%s'", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be 'json' or 'text', got '%s'", c.LogFormat)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envInts parses a comma separated list like "8080,8090". Any bad entry
// discards the whole value.
func envInts(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	return out
}
