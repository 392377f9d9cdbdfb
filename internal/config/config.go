// Package config loads and saves the GhostProtocol node's YAML
// configuration file, following the teacher's node.Config load/save
// idiom.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ghostmesh/ghostnode/internal/store"
)

// Config holds all configuration for the node.
type Config struct {
	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Network
	Network NetworkConfig `yaml:"network"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Fees is the fee schedule the node seeds on first boot.
	Fees map[string]float64 `yaml:"fees"`

	// DevSeedBalance is the balance newly-registered wallets start with.
	// Default 0; the -dev-seed-balance CLI flag overrides it with any
	// non-negative value (see SPEC_FULL.md Part D).
	DevSeedBalance float64 `yaml:"dev_seed_balance"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// NetworkConfig holds peer-API, operator-API, and discovery settings.
type NetworkConfig struct {
	// PeerAPIAddr is the address the peer-facing HTTP API listens on.
	PeerAPIAddr string `yaml:"peer_api_addr"`

	// OperatorAPIAddr is the address the local operator HTTP/WS API
	// listens on.
	OperatorAPIAddr string `yaml:"operator_api_addr"`

	// DiscoveryPort is the UDP port used for presence beacons.
	DiscoveryPort int `yaml:"discovery_port"`

	// BootstrapPeers is the static list unioned into "known peers".
	BootstrapPeers []string `yaml:"bootstrap_peers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.ghostnode",
		},
		Network: NetworkConfig{
			PeerAPIAddr:     "0.0.0.0:5000",
			OperatorAPIAddr: "127.0.0.1:5050",
			DiscoveryPort:   5001,
			BootstrapPeers:  []string{},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Fees:           feeDefaultsAsStrings(),
		DevSeedBalance: 0,
	}
}

func feeDefaultsAsStrings() map[string]float64 {
	out := make(map[string]float64)
	for k, v := range store.DefaultFees() {
		out[string(k)] = v
	}
	return out
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Load loads configuration from a YAML file in dataDir. If the file
// doesn't exist, it creates one with default values.
func Load(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

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

	header := []byte("# GhostProtocol node configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Path returns the full path to the config file for the given data
// directory.
func Path(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
