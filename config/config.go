package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rewardledger/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress         string   `toml:"ListenAddress"`
	DataDir               string   `toml:"DataDir"`
	NetworkName           string   `toml:"NetworkName"`
	AuthorityAddress      string   `toml:"AuthorityAddress"`
	AuthorityKeystorePath string   `toml:"AuthorityKeystorePath"`
	LogLevel              string   `toml:"LogLevel"`
	LogFile               string   `toml:"LogFile"`
	TrustedProxies        []string `toml:"TrustedProxies"`
	TrustProxyHeaders     bool     `toml:"TrustProxyHeaders"`
	MutationsPerMinute    int      `toml:"MutationsPerMinute"`
}

type loadOptions struct {
	passphrase func() (string, error)
}

// LoadOption adjusts how configuration files are loaded.
type LoadOption func(*loadOptions)

// WithKeystorePassphraseSource supplies the passphrase used when the loader
// creates or opens the authority keystore.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = source
	}
}

func (o loadOptions) resolvePassphrase() (string, error) {
	if o.passphrase == nil {
		return "", nil
	}
	return o.passphrase()
}

// Load reads the configuration at the given path. A missing file is replaced
// with a default configuration and a freshly generated authority keystore.
func Load(path string, opts ...LoadOption) (*Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %q", path, undecoded[0].String())
	}

	if err := ensureAuthority(path, cfg, options); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureAuthority provisions the authority keystore when it is missing and
// backfills AuthorityAddress from the stored key when the operator left it
// unset. Configs that name an external authority keep it untouched.
func ensureAuthority(configPath string, cfg *Config, options loadOptions) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		passphrase, passErr := options.resolvePassphrase()
		if passErr != nil {
			return passErr
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
		if cfg.AuthorityAddress == "" {
			cfg.AuthorityAddress = key.PubKey().Address().String()
		}
	} else if err != nil {
		return err
	} else if cfg.AuthorityAddress == "" {
		passphrase, passErr := options.resolvePassphrase()
		if passErr != nil {
			return passErr
		}
		key, loadErr := crypto.LoadFromKeystore(keystorePath, passphrase)
		if loadErr != nil {
			return fmt.Errorf("derive authority from keystore %s: %w", keystorePath, loadErr)
		}
		cfg.AuthorityAddress = key.PubKey().Address().String()
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./reward-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "rewards-local"
	}
	if cfg.MutationsPerMinute <= 0 {
		cfg.MutationsPerMinute = 120
	}
	if cfg.TrustedProxies == nil {
		cfg.TrustedProxies = []string{}
	}
}

// Validate checks the fields every component depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	if _, err := crypto.DecodeAddress(c.AuthorityAddress); err != nil {
		return fmt.Errorf("invalid AuthorityAddress: %w", err)
	}
	return nil
}

// Authority returns the decoded mint authority address.
func (c *Config) Authority() (crypto.Address, error) {
	return crypto.DecodeAddress(c.AuthorityAddress)
}

// createDefault creates and saves a default configuration file together with a
// fresh authority keystore.
func createDefault(path string, options loadOptions) (*Config, error) {
	passphrase, err := options.resolvePassphrase()
	if err != nil {
		return nil, err
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:         ":8080",
		DataDir:               "./reward-data",
		NetworkName:           "rewards-local",
		AuthorityAddress:      key.PubKey().Address().String(),
		AuthorityKeystorePath: keystorePath,
		TrustedProxies:        []string{},
		MutationsPerMinute:    120,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}
