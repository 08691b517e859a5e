package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Printers PrintersConfig `yaml:"printers"`
	Queue    QueueConfig    `yaml:"queue"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	APIKeyHash   string        `yaml:"api_key_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	Path             string `yaml:"path"`
	LogRetentionDays int    `yaml:"log_retention_days"`
}

type PrintersConfig struct {
	Endpoints           []string      `yaml:"endpoints"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	BufferSize          int           `yaml:"buffer_size"`
	DotWidth            int           `yaml:"dot_width"`
	MaxImageHeight      int           `yaml:"max_image_height"`
	QRMode              string        `yaml:"qr_mode"`
}

// QueueConfig tunes the dispatch worker. SettleDelay and ListSettleDelay use the
// built-in value when zero and are disabled when negative.
type QueueConfig struct {
	Pacing          map[string]time.Duration `yaml:"pacing"`
	DefaultPacing   time.Duration            `yaml:"default_pacing"`
	SettleDelay     time.Duration            `yaml:"settle_delay"`
	ListSettleDelay time.Duration            `yaml:"list_settle_delay"`
	ErrorCooldown   time.Duration            `yaml:"error_cooldown"`
	ShutdownGrace   time.Duration            `yaml:"shutdown_grace"`
}

type WebhookTarget struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type WebhooksConfig struct {
	Targets     []WebhookTarget `yaml:"targets"`
	RetryCount  int             `yaml:"retry_count"`
	RetryDelay  time.Duration   `yaml:"retry_delay"`
	Timeout     time.Duration   `yaml:"timeout"`
	WorkerCount int             `yaml:"worker_count"`
	QueueSize   int             `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			TokenTTL:     24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:             "./data/spool.db",
			LogRetentionDays: 30,
		},
		Printers: PrintersConfig{
			HealthCheckInterval: 5 * time.Second,
			ConnectionTimeout:   5 * time.Second,
			BufferSize:          64 * 1024,
			DotWidth:            576,
			MaxImageHeight:      1200,
			QRMode:              "native",
		},
		Queue: QueueConfig{
			DefaultPacing:   500 * time.Millisecond,
			SettleDelay:     1000 * time.Millisecond,
			ListSettleDelay: 300 * time.Millisecond,
			ErrorCooldown:   1000 * time.Millisecond,
			ShutdownGrace:   5 * time.Second,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func Default() *Config {
	return defaults()
}

// Load reads the YAML file (missing file means defaults), then applies .env and
// SPOOL_* environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding the real environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SPOOL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SPOOL_API_KEY_HASH"); v != "" {
		cfg.Server.APIKeyHash = v
	}

	if v := os.Getenv("SPOOL_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}

	if v := os.Getenv("SPOOL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SPOOL_LOG_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Database.LogRetentionDays = days
		}
	}

	if v := os.Getenv("SPOOL_DOT_WIDTH"); v != "" {
		if w, err := strconv.Atoi(v); err == nil {
			cfg.Printers.DotWidth = w
		}
	}

	if v := os.Getenv("SPOOL_QR_MODE"); v != "" {
		cfg.Printers.QRMode = v
	}

	if v := os.Getenv("SPOOL_HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Printers.HealthCheckInterval = d
		}
	}

	if v := os.Getenv("SPOOL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SPOOL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("SPOOL_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.TokenTTL < 0 {
		return fmt.Errorf("token ttl must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.LogRetentionDays < 0 {
		return fmt.Errorf("log retention days must be non-negative")
	}

	if c.Printers.HealthCheckInterval < 0 {
		return fmt.Errorf("health check interval must be non-negative")
	}

	if c.Printers.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	if c.Printers.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must be non-negative")
	}

	if c.Printers.BufferSize < 0 {
		return fmt.Errorf("buffer size must be non-negative")
	}

	if c.Printers.DotWidth < 8 || c.Printers.DotWidth > 65535 {
		return fmt.Errorf("dot width must be between 8 and 65535, got %d", c.Printers.DotWidth)
	}

	if c.Printers.MaxImageHeight < 1 || c.Printers.MaxImageHeight > 65535 {
		return fmt.Errorf("max image height must be between 1 and 65535, got %d", c.Printers.MaxImageHeight)
	}

	validQRModes := map[string]bool{
		"native": true,
		"raster": true,
	}

	if !validQRModes[c.Printers.QRMode] {
		return fmt.Errorf("invalid qr mode: %s (valid: native, raster)", c.Printers.QRMode)
	}

	for typ, d := range c.Queue.Pacing {
		if d < 0 {
			return fmt.Errorf("pacing for %s must be non-negative", typ)
		}
	}

	// a negative settle delay switches the settle wait off
	if c.Queue.DefaultPacing < 0 {
		return fmt.Errorf("default pacing must be non-negative")
	}

	if c.Queue.ErrorCooldown < 0 || c.Queue.ShutdownGrace < 0 {
		return fmt.Errorf("queue cooldown and grace must be non-negative")
	}

	for i, t := range c.Webhooks.Targets {
		if t.URL == "" {
			return fmt.Errorf("webhook target %d: url is required", i)
		}
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
