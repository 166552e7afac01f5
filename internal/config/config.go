// Package config loads offgrid-t2i settings from files and the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// Server settings
	ServerPort int    `yaml:"server_port" json:"server_port"`
	ServerHost string `yaml:"server_host" json:"server_host"`
	Env        string `yaml:"env" json:"env"` // "production" hides internal error details

	// Upstream services
	HubURL       string `yaml:"hub_url" json:"hub_url"`
	InferenceURL string `yaml:"inference_url" json:"inference_url"`
	APIKey       string `yaml:"api_key" json:"-"` // never written back to disk

	// Generation defaults
	DefaultModel      string  `yaml:"default_model" json:"default_model"`
	GuidanceScale     float64 `yaml:"guidance_scale" json:"guidance_scale"`
	InferenceSteps    int     `yaml:"inference_steps" json:"inference_steps"`
	DefaultWidth      int     `yaml:"default_width" json:"default_width"`
	DefaultHeight     int     `yaml:"default_height" json:"default_height"`
	RequestTimeoutSec int     `yaml:"request_timeout" json:"request_timeout"`

	// Storage
	DataDir              string `yaml:"data_dir" json:"data_dir"`
	HistoryRetentionDays int    `yaml:"history_retention_days" json:"history_retention_days"`

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogJSON  bool   `yaml:"log_json" json:"log_json"`

	// HTTP surface
	CORSOrigins    string `yaml:"cors_origins" json:"cors_origins"`         // Comma-separated, empty = allow all
	RateLimit      int    `yaml:"rate_limit" json:"rate_limit"`             // Generations per minute per client
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`             // Shared rate limit store, optional
	MonitorSeconds int    `yaml:"monitor_interval" json:"monitor_interval"` // Host stats sampling interval
	MaxConcurrent  int    `yaml:"max_concurrent" json:"max_concurrent"`     // Generations in flight, all clients
	MaxPerClient   int    `yaml:"max_per_client" json:"max_per_client"`     // Generations in flight per client
	HubCacheTTL    int    `yaml:"hub_cache_ttl" json:"hub_cache_ttl"`       // Seconds to reuse hub listings in the API, negative disables
}

const (
	defaultPort          = 5000
	defaultHost          = "localhost"
	defaultHubURL        = "https://huggingface.co"
	defaultInferenceURL  = "https://api-inference.huggingface.co"
	defaultModel         = "flux-schnell"
	defaultGuidance      = 7.5
	defaultSteps         = 50
	defaultDimension     = 1024
	defaultTimeoutSec    = 120
	defaultRetentionDays = 30
	defaultRateLimit     = 30
	defaultMonitorSec    = 5
	defaultMaxConcurrent = 8
	defaultMaxPerClient  = 2
	defaultHubCacheTTL   = 300
)

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	cfg := &Config{
		ServerPort:           getEnvInt("T2I_PORT", getEnvInt("PORT", defaultPort)),
		ServerHost:           getEnv("T2I_HOST", defaultHost),
		Env:                  getEnv("T2I_ENV", ""),
		HubURL:               getEnv("T2I_HUB_URL", defaultHubURL),
		InferenceURL:         getEnv("T2I_INFERENCE_URL", defaultInferenceURL),
		APIKey:               getEnv("HUGGINGFACE_API_KEY", ""),
		DefaultModel:         getEnv("T2I_DEFAULT_MODEL", defaultModel),
		GuidanceScale:        getEnvFloat("T2I_GUIDANCE_SCALE", defaultGuidance),
		InferenceSteps:       getEnvInt("T2I_INFERENCE_STEPS", defaultSteps),
		DefaultWidth:         getEnvInt("T2I_DEFAULT_WIDTH", defaultDimension),
		DefaultHeight:        getEnvInt("T2I_DEFAULT_HEIGHT", defaultDimension),
		RequestTimeoutSec:    getEnvInt("T2I_REQUEST_TIMEOUT", defaultTimeoutSec),
		DataDir:              getEnv("T2I_DATA_DIR", defaultDataDir()),
		HistoryRetentionDays: getEnvInt("T2I_HISTORY_RETENTION_DAYS", defaultRetentionDays),
		LogLevel:             getEnv("T2I_LOG_LEVEL", "info"),
		LogJSON:              getEnvBool("T2I_LOG_JSON", false),
		CORSOrigins:          getEnv("T2I_CORS_ORIGINS", ""),
		RateLimit:            getEnvInt("T2I_RATE_LIMIT", defaultRateLimit),
		RedisAddr:            getEnv("T2I_REDIS_ADDR", ""),
		MonitorSeconds:       getEnvInt("T2I_MONITOR_INTERVAL", defaultMonitorSec),
		MaxConcurrent:        getEnvInt("T2I_MAX_CONCURRENT", defaultMaxConcurrent),
		MaxPerClient:         getEnvInt("T2I_MAX_PER_CLIENT", defaultMaxPerClient),
		HubCacheTTL:          getEnvInt("T2I_HUB_CACHE_TTL", defaultHubCacheTTL),
	}
	return cfg
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return filepath.Join(os.TempDir(), "offgrid-t2i")
	}
	return filepath.Join(homeDir, ".offgrid-t2i")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	if c.DefaultWidth%8 != 0 || c.DefaultHeight%8 != 0 {
		return fmt.Errorf("default dimensions must be divisible by 8 (got %dx%d)", c.DefaultWidth, c.DefaultHeight)
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// IsProduction reports whether internal error details should be hidden.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RequestTimeout returns the upstream generation timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// HistoryPath returns the sqlite file used for generation history.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	ext := filepath.Ext(path)
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	// Apply defaults for any missing values
	cfg.applyDefaults()

	return cfg, nil
}

// SaveToFile saves configuration to a YAML or JSON file
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	ext := filepath.Ext(path)
	switch ext {
	case ".yaml", ".yml":
		saved := *c
		saved.APIKey = ""
		data, err = yaml.Marshal(&saved)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultPath is the per-user config file, checked first by LoadWithPriority.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".offgrid-t2i", "config.yaml")
}

// LoadWithPriority loads config with priority: env > file > defaults.
// An empty configPath falls back to T2I_CONFIG, then the default locations.
func LoadWithPriority(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath == "" {
		configPath = os.Getenv("T2I_CONFIG")
	}

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		homeDir, _ := os.UserHomeDir()
		candidates := []string{
			DefaultPath(),
			filepath.Join(homeDir, ".offgrid-t2i", "config.yml"),
			filepath.Join(homeDir, ".offgrid-t2i", "config.json"),
			"config.yaml",
			"config.yml",
			"config.json",
		}

		for _, path := range candidates {
			if _, statErr := os.Stat(path); statErr == nil {
				cfg, err = LoadFromFile(path)
				if err != nil {
					return nil, err
				}
				break
			}
		}

		if cfg == nil {
			return LoadConfig(), nil
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func (c *Config) applyDefaults() {
	if c.ServerPort == 0 {
		c.ServerPort = defaultPort
	}
	if c.ServerHost == "" {
		c.ServerHost = defaultHost
	}
	if c.HubURL == "" {
		c.HubURL = defaultHubURL
	}
	if c.InferenceURL == "" {
		c.InferenceURL = defaultInferenceURL
	}
	if c.DefaultModel == "" {
		c.DefaultModel = defaultModel
	}
	if c.GuidanceScale == 0 {
		c.GuidanceScale = defaultGuidance
	}
	if c.InferenceSteps == 0 {
		c.InferenceSteps = defaultSteps
	}
	if c.DefaultWidth == 0 {
		c.DefaultWidth = defaultDimension
	}
	if c.DefaultHeight == 0 {
		c.DefaultHeight = defaultDimension
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = defaultTimeoutSec
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = defaultRetentionDays
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.MonitorSeconds == 0 {
		c.MonitorSeconds = defaultMonitorSec
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.MaxPerClient == 0 {
		c.MaxPerClient = defaultMaxPerClient
	}
	if c.HubCacheTTL == 0 {
		c.HubCacheTTL = defaultHubCacheTTL
	}
}

// applyEnvOverrides overrides config with environment variables
func (c *Config) applyEnvOverrides() {
	if port := getEnvInt("PORT", 0); port != 0 {
		c.ServerPort = port
	}
	if port := getEnvInt("T2I_PORT", 0); port != 0 {
		c.ServerPort = port
	}
	if host := getEnv("T2I_HOST", ""); host != "" {
		c.ServerHost = host
	}
	if env := getEnv("T2I_ENV", ""); env != "" {
		c.Env = env
	}
	if u := getEnv("T2I_HUB_URL", ""); u != "" {
		c.HubURL = u
	}
	if u := getEnv("T2I_INFERENCE_URL", ""); u != "" {
		c.InferenceURL = u
	}
	if key := getEnv("HUGGINGFACE_API_KEY", ""); key != "" {
		c.APIKey = key
	}
	if model := getEnv("T2I_DEFAULT_MODEL", ""); model != "" {
		c.DefaultModel = model
	}
	if g := getEnvFloat("T2I_GUIDANCE_SCALE", 0); g != 0 {
		c.GuidanceScale = g
	}
	if steps := getEnvInt("T2I_INFERENCE_STEPS", 0); steps != 0 {
		c.InferenceSteps = steps
	}
	if w := getEnvInt("T2I_DEFAULT_WIDTH", 0); w != 0 {
		c.DefaultWidth = w
	}
	if h := getEnvInt("T2I_DEFAULT_HEIGHT", 0); h != 0 {
		c.DefaultHeight = h
	}
	if timeout := getEnvInt("T2I_REQUEST_TIMEOUT", 0); timeout != 0 {
		c.RequestTimeoutSec = timeout
	}
	if dir := getEnv("T2I_DATA_DIR", ""); dir != "" {
		c.DataDir = dir
	}
	if days := getEnvInt("T2I_HISTORY_RETENTION_DAYS", 0); days != 0 {
		c.HistoryRetentionDays = days
	}
	if level := getEnv("T2I_LOG_LEVEL", ""); level != "" {
		c.LogLevel = level
	}
	if v := os.Getenv("T2I_LOG_JSON"); v != "" {
		c.LogJSON = getEnvBool("T2I_LOG_JSON", false)
	}
	if cors := getEnv("T2I_CORS_ORIGINS", ""); cors != "" {
		c.CORSOrigins = cors
	}
	if rl := getEnvInt("T2I_RATE_LIMIT", 0); rl != 0 {
		c.RateLimit = rl
	}
	if addr := getEnv("T2I_REDIS_ADDR", ""); addr != "" {
		c.RedisAddr = addr
	}
	if sec := getEnvInt("T2I_MONITOR_INTERVAL", 0); sec != 0 {
		c.MonitorSeconds = sec
	}
	if n := getEnvInt("T2I_MAX_CONCURRENT", 0); n != 0 {
		c.MaxConcurrent = n
	}
	if n := getEnvInt("T2I_MAX_PER_CLIENT", 0); n != 0 {
		c.MaxPerClient = n
	}
	if ttl := getEnvInt("T2I_HUB_CACHE_TTL", 0); ttl != 0 {
		c.HubCacheTTL = ttl
	}
}
