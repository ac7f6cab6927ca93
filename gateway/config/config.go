package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig points the gateway at the reward ledger's JSON-RPC endpoint.
// The bearer token for mutation calls is read from the named environment
// variable so secrets stay out of config files.
type NodeConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	TokenEnv string        `yaml:"tokenEnv"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
}

// IdempotencyConfig enables replay protection for mutation routes. An empty
// path disables the store.
type IdempotencyConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	ListenAddress string               `yaml:"listen"`
	ReadTimeout   time.Duration        `yaml:"readTimeout"`
	WriteTimeout  time.Duration        `yaml:"writeTimeout"`
	IdleTimeout   time.Duration        `yaml:"idleTimeout"`
	Node          NodeConfig           `yaml:"node"`
	Auth          AuthConfig           `yaml:"auth"`
	RateLimits    map[string]RateLimit `yaml:"rateLimits"`
	Observability ObservabilityConfig  `yaml:"observability"`
	Idempotency   IdempotencyConfig    `yaml:"idempotency"`
	CORS          CORSConfig           `yaml:"cors"`
}

func defaults() Config {
	return Config{
		ListenAddress: ":8091",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Node: NodeConfig{
			Endpoint: "http://127.0.0.1:8080",
			Timeout:  10 * time.Second,
			TokenEnv: "REWARD_RPC_TOKEN",
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			ServiceName:   "reward-gateway",
			MetricsPrefix: "reward_gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Load reads the gateway configuration. An empty path yields the defaults;
// unknown fields in the file are rejected.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	base := defaults()
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = base.ListenAddress
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = base.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = base.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = base.IdleTimeout
	}
	if strings.TrimSpace(cfg.Node.Endpoint) == "" {
		cfg.Node.Endpoint = base.Node.Endpoint
	}
	if cfg.Node.Timeout <= 0 {
		cfg.Node.Timeout = base.Node.Timeout
	}
	if strings.TrimSpace(cfg.Node.TokenEnv) == "" {
		cfg.Node.TokenEnv = base.Node.TokenEnv
	}
	if strings.TrimSpace(cfg.Auth.ScopeClaim) == "" {
		cfg.Auth.ScopeClaim = base.Auth.ScopeClaim
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = base.Auth.ClockSkew
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = base.Observability.ServiceName
	}
	if strings.TrimSpace(cfg.Observability.MetricsPrefix) == "" {
		cfg.Observability.MetricsPrefix = base.Observability.MetricsPrefix
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = base.Idempotency.TTL
	}
}

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if _, err := cfg.NodeURL(); err != nil {
		return err
	}
	for key, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute < 0 {
			return fmt.Errorf("rateLimits.%s.requestsPerMinute cannot be negative", key)
		}
		if limit.Burst < 0 {
			return fmt.Errorf("rateLimits.%s.burst cannot be negative", key)
		}
	}
	return nil
}

// NodeURL parses the upstream endpoint and rejects non-HTTP schemes.
func (cfg *Config) NodeURL() (*url.URL, error) {
	endpoint := strings.TrimSpace(cfg.Node.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("node.endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse node endpoint: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported node endpoint scheme %q", parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return nil, fmt.Errorf("node endpoint host required")
	}
	return parsed, nil
}

// NodeToken resolves the bearer token the gateway presents to the ledger.
func (cfg *Config) NodeToken() string {
	return strings.TrimSpace(os.Getenv(cfg.Node.TokenEnv))
}
