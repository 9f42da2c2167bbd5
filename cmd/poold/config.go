// config.go - Configuration management for the pool daemon.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"shieldedpool/internal/pool"
)

// Config represents the daemon configuration.
type Config struct {
	// Service
	ListenAddr string `json:"listen_addr"`

	// Pool parameters
	Denomination uint64 `json:"denomination"`
	MinDeposit   uint64 `json:"min_deposit"`
	MaxDeposit   uint64 `json:"max_deposit"`
	RentDeposit  uint64 `json:"rent_deposit"`

	// Fee policy
	ProtocolFeeBps   uint64 `json:"protocol_fee_bps"`
	MinProtocolFee   uint64 `json:"min_protocol_fee"`
	MaxRelayerFeeBps uint64 `json:"max_relayer_fee_bps"`
	Treasury         string `json:"treasury,omitempty"`

	// Absorption circuit batch size; keys are generated per size.
	AbsorptionBatchSize int `json:"absorption_batch_size"`

	// File paths
	DataDir string `json:"data_dir"`
	KeyDir  string `json:"key_dir"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8440",
		Denomination:        1_000_000,
		RentDeposit:         5_000,
		ProtocolFeeBps:      30,
		MinProtocolFee:      1_000,
		MaxRelayerFeeBps:    1_000,
		AbsorptionBatchSize: 16,
		DataDir:             "data",
		KeyDir:              "keys",
		LogLevel:            "info",
		LogFile:             "",
	}
}

// LoadConfig loads configuration from file or creates the default.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(config *Config, configPath string) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// poolConfig translates daemon settings into pool parameters.
func (c *Config) poolConfig() (pool.Config, error) {
	cfg := pool.DefaultConfig()
	cfg.Denomination = c.Denomination
	cfg.MinDeposit = c.MinDeposit
	cfg.MaxDeposit = c.MaxDeposit
	cfg.RentDeposit = c.RentDeposit
	cfg.ProtocolFeeBps = c.ProtocolFeeBps
	cfg.MinProtocolFee = c.MinProtocolFee
	cfg.MaxRelayerFeeBps = c.MaxRelayerFeeBps
	if c.Treasury != "" {
		treasury, ok := new(big.Int).SetString(strings.TrimPrefix(c.Treasury, "0x"), 16)
		if !ok {
			return pool.Config{}, fmt.Errorf("invalid treasury address %q", c.Treasury)
		}
		cfg.Treasury = treasury
	}
	return cfg, nil
}
