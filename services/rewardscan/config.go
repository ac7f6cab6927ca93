package rewardscan

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DatabaseConfig selects the SQL backend: an embedded sqlite file by default,
// postgres when a DSN is supplied.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WebhookConfig forwards newly applied frames to an external receiver.
// Deliveries are HMAC-signed with the shared secret; both fields must be set
// for forwarding to activate.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// Enabled reports whether webhook forwarding is configured.
func (w WebhookConfig) Enabled() bool {
	return strings.TrimSpace(w.URL) != "" && strings.TrimSpace(w.Secret) != ""
}

type Config struct {
	NodeWS         string         `yaml:"nodeWS"`
	Database       DatabaseConfig `yaml:"database"`
	Webhook        WebhookConfig  `yaml:"webhook"`
	LogLevel       string         `yaml:"logLevel"`
	LogFile        string         `yaml:"logFile"`
	ReconnectDelay time.Duration  `yaml:"reconnectDelay"`
}

func defaults() Config {
	return Config{
		NodeWS: "ws://127.0.0.1:8080/ws/rewards",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./rewardscan.db",
		},
		ReconnectDelay: 3 * time.Second,
	}
}

// LoadConfig reads the indexer configuration. An empty path yields the
// defaults; unknown fields in the file are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
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
	base := defaults()
	if strings.TrimSpace(cfg.NodeWS) == "" {
		cfg.NodeWS = base.NodeWS
	}
	if strings.TrimSpace(cfg.Database.Driver) == "" {
		cfg.Database.Driver = base.Database.Driver
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = base.Database.DSN
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = base.ReconnectDelay
	}
	return cfg, nil
}

// Open connects to the configured SQL backend and migrates the schema.
func (c DatabaseConfig) Open() (*gorm.DB, error) {
	dsn := strings.TrimSpace(c.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
