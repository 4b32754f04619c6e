package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Client ClientConfig `yaml:"client" json:"client"`
}

type ServerConfig struct {
	Port              int    `yaml:"port" json:"port"`
	CORSOrigin        string `yaml:"cors_origin" json:"cors_origin"`
	DefaultDownloadMB int    `yaml:"default_download_mb" json:"default_download_mb"`
	MaxDownloadMB     int    `yaml:"max_download_mb" json:"max_download_mb"`
	MaxUploadMB       int    `yaml:"max_upload_mb" json:"max_upload_mb"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit    float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst" json:"rate_burst"`
	ReadTimeout  int     `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout int     `yaml:"write_timeout" json:"write_timeout"`
	LogLevel     string  `yaml:"log_level" json:"log_level"`
}

type ClientConfig struct {
	APIURL string `yaml:"api_url" json:"api_url"`
	// Timeout in seconds for a single request; 0 means none.
	Timeout  int  `yaml:"timeout" json:"timeout"`
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              5000,
			CORSOrigin:        "http://localhost:5173",
			DefaultDownloadMB: 5,
			MaxDownloadMB:     50,
			MaxUploadMB:       50,
			RateBurst:         20,
			ReadTimeout:       0,
			WriteTimeout:      0,
			LogLevel:          "info",
		},
		Client: ClientConfig{
			APIURL: "http://localhost:5000/api",
		},
	}
}

// Load reads path (if non-empty), fills unset fields with defaults and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		mergeWithDefaults(cfg)
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeWithDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = defaults.Server.CORSOrigin
	}
	if cfg.Server.DefaultDownloadMB == 0 {
		cfg.Server.DefaultDownloadMB = defaults.Server.DefaultDownloadMB
	}
	if cfg.Server.MaxDownloadMB == 0 {
		cfg.Server.MaxDownloadMB = defaults.Server.MaxDownloadMB
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}
	if cfg.Client.APIURL == "" {
		cfg.Client.APIURL = defaults.Client.APIURL
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("CORS_ORIGIN"); ok && v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v, ok := lookup("SPEEDCHECK_RATE_LIMIT"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SPEEDCHECK_RATE_LIMIT %q: %w", v, err)
		}
		cfg.Server.RateLimit = rps
	}
	if v, ok := lookup("SPEEDCHECK_API_URL"); ok && v != "" {
		cfg.Client.APIURL = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.MaxDownloadMB <= 0 {
		return fmt.Errorf("max_download_mb must be positive")
	}
	if c.Server.DefaultDownloadMB <= 0 || c.Server.DefaultDownloadMB > c.Server.MaxDownloadMB {
		return fmt.Errorf("default_download_mb must be between 1 and %d", c.Server.MaxDownloadMB)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive")
	}
	if o := c.Server.CORSOrigin; o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
		return fmt.Errorf("cors_origin %q must be \"*\" or start with http:// or https://", o)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if !strings.HasPrefix(c.Client.APIURL, "http://") && !strings.HasPrefix(c.Client.APIURL, "https://") {
		return fmt.Errorf("api_url %q must start with http:// or https://", c.Client.APIURL)
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Addr is the listen address for the probe server.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}
