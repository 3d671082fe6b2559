package config

import (
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome string `json:"node_home"` // Node home directory (default: ~/.settlementd)

	// Backend configuration
	BackendURL            string `json:"backend_url"`             // REST base URL of the campaign backend
	BackendTimeoutSeconds int    `json:"backend_timeout_seconds"` // Per-request timeout (default: 15)

	// Ledger configuration
	RPCURLs               []string `json:"rpc_urls"`                // Overrides the RPC URL served by the backend when set
	Commitment            string   `json:"commitment"`              // "processed", "confirmed" or "finalized" (default: confirmed)
	ConfirmTimeoutSeconds int      `json:"confirm_timeout_seconds"` // How long to wait for confirmation after broadcast (default: 60)

	Signing SigningConfig `json:"signing"`
	Fees    FeeConfig     `json:"fees"`

	// Query Server Config
	QueryServerPort int `json:"query_server_port"` // Port for HTTP query server (default: 8080)

	// Report retry
	ReportRetryIntervalSeconds int `json:"report_retry_interval_seconds"` // How often unreported settlements are re-sent (default: 30)

	// Persistence
	DatabaseDir string `json:"database_dir"` // Directory of the settlement ledger (default: <home>/databases)

	// Headless wallet
	KeypairPath string `json:"keypair_path"` // Solana keygen JSON file used by the CLI wallet
}

// SigningConfig controls the signing orchestrator retry budget.
type SigningConfig struct {
	MaxRetries  int `json:"max_retries"`   // default: 3
	BaseDelayMs int `json:"base_delay_ms"` // default: 1000
	MaxDelayMs  int `json:"max_delay_ms"`  // default: 30000

	// WalletBroadcast lets the wallet broadcast what it signs instead of the node (default: false)
	WalletBroadcast bool `json:"wallet_broadcast"`
}

// FeeConfig controls goal guard arithmetic.
type FeeConfig struct {
	Tolerance string `json:"tolerance"` // native units, default "0.00001"
	Precision int32  `json:"precision"` // decimals kept by fill-to-goal, default 4
}

// BaseDelay returns the backoff base as a duration
func (s SigningConfig) BaseDelay() time.Duration {
	return time.Duration(s.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a duration
func (s SigningConfig) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelayMs) * time.Millisecond
}

// ToleranceDecimal parses the configured tolerance. validateConfig guarantees it parses.
func (f FeeConfig) ToleranceDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(f.Tolerance)
	if err != nil {
		return decimal.New(1, -5)
	}
	return d
}

// BackendTimeout returns the backend request timeout
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// ConfirmTimeout returns the post-broadcast confirmation timeout
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// ReportRetryInterval returns the period of the unreported settlement retry loop
func (c *Config) ReportRetryInterval() time.Duration {
	return time.Duration(c.ReportRetryIntervalSeconds) * time.Second
}
