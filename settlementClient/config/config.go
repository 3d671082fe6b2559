package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/constant"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Backend
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:3000/api"
	}
	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend url %q is not a valid absolute URL", cfg.BackendURL)
	}
	if cfg.BackendTimeoutSeconds == 0 {
		cfg.BackendTimeoutSeconds = 15
	}

	// Ledger
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("commitment must be 'processed', 'confirmed' or 'finalized'")
	}
	if cfg.ConfirmTimeoutSeconds == 0 {
		cfg.ConfirmTimeoutSeconds = 60
	}

	// Signing
	if cfg.Signing.MaxRetries < 0 {
		return fmt.Errorf("signing max retries cannot be negative")
	}
	if cfg.Signing.MaxRetries == 0 {
		cfg.Signing.MaxRetries = 3
	}
	if cfg.Signing.BaseDelayMs == 0 {
		cfg.Signing.BaseDelayMs = 1000
	}
	if cfg.Signing.MaxDelayMs == 0 {
		cfg.Signing.MaxDelayMs = 30000
	}

	// Fees
	if cfg.Fees.Tolerance == "" {
		cfg.Fees.Tolerance = "0.00001"
	}
	tolerance, err := decimal.NewFromString(cfg.Fees.Tolerance)
	if err != nil {
		return fmt.Errorf("fee tolerance %q is not a decimal: %w", cfg.Fees.Tolerance, err)
	}
	if tolerance.IsNegative() {
		return fmt.Errorf("fee tolerance cannot be negative")
	}
	if cfg.Fees.Precision == 0 {
		cfg.Fees.Precision = 4
	}
	if cfg.Fees.Precision < 0 || cfg.Fees.Precision > 9 {
		return fmt.Errorf("fee precision must be between 1 and 9")
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}

	if cfg.ReportRetryIntervalSeconds == 0 {
		cfg.ReportRetryIntervalSeconds = 30
	}
	if cfg.ReportRetryIntervalSeconds < 0 {
		return fmt.Errorf("report retry interval cannot be negative")
	}

	if cfg.NodeHome == "" {
		cfg.NodeHome = constant.DefaultNodeHome
	}
	if cfg.DatabaseDir == "" {
		cfg.DatabaseDir = filepath.Join(cfg.NodeHome, constant.DatabasesSubdir)
	}

	return nil
}

// Validate applies defaults and checks the config in place.
func (c *Config) Validate() error {
	return validateConfig(c)
}

// Save writes the given config to <NodeDir>/config/settlement_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, constant.ConfigSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, constant.ConfigFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads and returns the config from <BasePath>/config/settlement_config.json.
// Missing fields fall back to the defaults applied by validateConfig.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, constant.ConfigSubdir, constant.ConfigFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = basePath
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return &cfg, nil
}
