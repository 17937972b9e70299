// Package config loads application settings through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/tillpoint/internal/common"
)

// EnvPrefix prefixes every environment override, e.g. TILL_API_ADDR.
const EnvPrefix = "TILL"

// Config is the full application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	API       APIConfig       `mapstructure:"api"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Transport TransportConfig `mapstructure:"transport"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SecretsConfig holds the base64 key sealing API keys. Empty means
// plaintext mode.
type SecretsConfig struct {
	Key string `mapstructure:"key"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Addr     string   `mapstructure:"addr"`
	CertDir  string   `mapstructure:"cert_dir"`
	TLSHosts []string `mapstructure:"tls_hosts"`
	TLS      bool     `mapstructure:"tls"`
}

// CacheConfig selects Redis when RedisAddr is set, otherwise memory.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// DiscoveryConfig tunes the network scanner.
type DiscoveryConfig struct {
	Range        string        `mapstructure:"range"`
	Ports        []int         `mapstructure:"ports"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// TransportConfig tunes terminal requests.
type TransportConfig struct {
	Retry   RetryConfig   `mapstructure:"retry"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig mirrors common.RetryPolicy.
type RetryConfig struct {
	RetryableCodes []string      `mapstructure:"retryable_codes"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	Jitter         bool          `mapstructure:"jitter"`
}

// MonitorConfig tunes transaction polling.
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SetDefaults registers every key with its default so environment
// overrides apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	policy := common.DefaultRetryPolicy()
	codes := make([]string, 0, len(policy.RetryableCodes))
	for _, c := range policy.RetryableCodes {
		codes = append(codes, string(c))
	}

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "~/.local/share/till/till.db")
	v.SetDefault("secrets.key", "")
	v.SetDefault("api.addr", "127.0.0.1:33480")
	v.SetDefault("api.tls", false)
	v.SetDefault("api.cert_dir", "~/.config/till/certs")
	v.SetDefault("api.tls_hosts", []string{})
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("discovery.range", "")
	v.SetDefault("discovery.ports", []int{8080, 8081, 3000})
	v.SetDefault("discovery.probe_timeout", 5*time.Second)
	v.SetDefault("discovery.batch_size", 10)
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("transport.retry.base_delay", policy.BaseDelay)
	v.SetDefault("transport.retry.max_delay", policy.MaxDelay)
	v.SetDefault("transport.retry.multiplier", policy.Multiplier)
	v.SetDefault("transport.retry.jitter", policy.Jitter)
	v.SetDefault("transport.retry.retryable_codes", codes)
	v.SetDefault("monitor.poll_interval", 500*time.Millisecond)
}

// ConfigureEnv enables TILL_* environment overrides on v.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load applies defaults, decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.API.CertDir = ExpandPath(cfg.API.CertDir)
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and relationships between settings.
func (c *Config) Validate() error {
	var problems []string

	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Transport.Timeout <= 0 {
		problems = append(problems, "transport.timeout must be positive")
	}

	r := c.Transport.Retry
	if r.MaxAttempts < 1 {
		problems = append(problems, "transport.retry.max_attempts must be at least 1")
	}
	if r.BaseDelay < 0 || r.MaxDelay <= 0 {
		problems = append(problems, "transport.retry delays must be positive")
	}
	if r.BaseDelay > r.MaxDelay {
		problems = append(problems, "transport.retry.base_delay must not exceed max_delay")
	}
	if r.Multiplier < 1 {
		problems = append(problems, "transport.retry.multiplier must be at least 1")
	}
	for _, code := range r.RetryableCodes {
		if !common.KnownCode(common.ErrorCode(strings.ToUpper(code))) {
			problems = append(problems, fmt.Sprintf("transport.retry.retryable_codes: unknown code %q", code))
		}
	}

	if len(c.Discovery.Ports) == 0 {
		problems = append(problems, "discovery.ports must list at least one port")
	}
	for _, p := range c.Discovery.Ports {
		if p < 1 || p > 65535 {
			problems = append(problems, fmt.Sprintf("discovery.ports: %d is out of range", p))
		}
	}
	if c.Discovery.ProbeTimeout <= 0 {
		problems = append(problems, "discovery.probe_timeout must be positive")
	}
	if c.Discovery.BatchSize < 1 {
		problems = append(problems, "discovery.batch_size must be at least 1")
	}
	if c.Monitor.PollInterval <= 0 {
		problems = append(problems, "monitor.poll_interval must be positive")
	}
	if c.Cache.TTL < 0 {
		problems = append(problems, "cache.ttl must not be negative")
	}
	if strings.TrimSpace(c.API.Addr) == "" {
		problems = append(problems, "api.addr is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy converts the retry settings.
func (c TransportConfig) RetryPolicy() common.RetryPolicy {
	codes := make([]common.ErrorCode, 0, len(c.Retry.RetryableCodes))
	for _, code := range c.Retry.RetryableCodes {
		codes = append(codes, common.ErrorCode(strings.ToUpper(code)))
	}
	return common.RetryPolicy{
		RetryableCodes: codes,
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseDelay:      c.Retry.BaseDelay,
		MaxDelay:       c.Retry.MaxDelay,
		Multiplier:     c.Retry.Multiplier,
		Jitter:         c.Retry.Jitter,
	}
}

// ExpandPath expands a leading ~ and environment variables in path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}

// DefaultConfigDir is where the config file is looked up.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "till"), nil
}
