// Package config loads the swap client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/swapclient/internal/backend"
	"github.com/klingon-exchange/swapclient/internal/chain"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDataDir is the default data directory.
const DefaultDataDir = "~/.swapclient"

// Config holds all configuration for the swap client.
type Config struct {
	// Network is mainnet, testnet or regtest.
	Network chain.Network `yaml:"network"`

	// WalletID scopes keys, secrets and swaps in the local store.
	WalletID string `yaml:"wallet_id"`

	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Claim       ClaimConfig       `yaml:"claim"`
	Quote       QuoteConfig       `yaml:"quote"`
	Keys        KeysConfig        `yaml:"keys"`
	RPC         RPCConfig         `yaml:"rpc"`

	// Bitcoin is the block explorer used to verify locked funds before a
	// refund. An empty URL falls back to the public explorer of the network.
	Bitcoin backend.Config `yaml:"bitcoin"`
}

// CoordinatorConfig holds the coordinator endpoints.
type CoordinatorConfig struct {
	// URL is the HTTP API base URL.
	URL string `yaml:"url"`

	// WSURL is the push stream URL. Empty disables push updates.
	WSURL string `yaml:"ws_url"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// WatcherConfig holds status polling settings.
type WatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ClaimConfig holds auto-claim settings.
type ClaimConfig struct {
	// MaxRetries is the number of consecutive failures after which
	// automatic claiming stops.
	MaxRetries int `yaml:"max_retries"`

	// BackoffUnit is multiplied by 2^retries between attempts.
	BackoffUnit time.Duration `yaml:"backoff_unit"`
}

// QuoteConfig holds quote settings.
type QuoteConfig struct {
	// MaxProtocolFeeRate rejects quotes charging more. Zero disables the check.
	MaxProtocolFeeRate float64 `yaml:"max_protocol_fee_rate"`
}

// KeysConfig holds key material settings.
type KeysConfig struct {
	// PassphraseEnv names an environment variable holding the passphrase
	// used to seal keys and secrets at rest. Empty stores them unsealed.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// RPCConfig holds the local JSON-RPC API settings.
type RPCConfig struct {
	// Listen is the address to bind. Empty disables the API.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network:  chain.Mainnet,
		WalletID: "default",
		Coordinator: CoordinatorConfig{
			URL:     "https://api.swap.klingon.exchange",
			WSURL:   "wss://api.swap.klingon.exchange/v1/ws",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Watcher: WatcherConfig{
			PollInterval: 5 * time.Second,
		},
		Claim: ClaimConfig{
			MaxRetries:  10,
			BackoffUnit: time.Second,
		},
		Quote: QuoteConfig{
			MaxProtocolFeeRate: 0.05,
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8080",
		},
		Bitcoin: backend.Config{
			Type: backend.TypeMempool,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := chain.ParseNetwork(string(c.Network)); err != nil {
		return err
	}
	if c.WalletID == "" {
		return fmt.Errorf("wallet_id must not be empty")
	}
	if c.Coordinator.URL == "" {
		return fmt.Errorf("coordinator.url must not be empty")
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be positive")
	}
	if c.Claim.MaxRetries <= 0 {
		return fmt.Errorf("claim.max_retries must be positive")
	}
	if c.Claim.BackoffUnit <= 0 {
		return fmt.Errorf("claim.backoff_unit must be positive")
	}
	if c.Quote.MaxProtocolFeeRate < 0 || c.Quote.MaxProtocolFeeRate >= 1 {
		return fmt.Errorf("quote.max_protocol_fee_rate must be in [0, 1)")
	}
	switch c.Bitcoin.Type {
	case "", backend.TypeMempool, backend.TypeEsplora:
	default:
		return fmt.Errorf("bitcoin.type must be mempool or esplora, got %q", c.Bitcoin.Type)
	}
	return nil
}

// Passphrase returns the at-rest passphrase, or "" if sealing is off.
func (c *Config) Passphrase() string {
	if c.Keys.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Keys.PassphraseEnv)
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Swap client configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
