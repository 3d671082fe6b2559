package constant

import "os"

// <NodeDir>/                    (e.g., /home/settlement/.settlementd)
// └── config/
//	└── settlement_config.json
// └── databases/
//	└── settlements.db
// └── wallet/
//	└── keypair.json

const (
	NodeDir = ".settlementd"

	ConfigSubdir   = "config"
	ConfigFileName = "settlement_config.json"

	DatabasesSubdir  = "databases"
	DatabaseFileName = "settlements.db"

	WalletSubdir = "wallet"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir

// MaxTransactionSize is the protocol ceiling for a serialized transaction packet.
const MaxTransactionSize = 1232

// LamportsPerSOL is the number of base units in one native token.
const LamportsPerSOL = 1_000_000_000

// Payment paths reported to the backend.
const (
	PaymentPathOnChain        = "on-chain"
	PaymentPathDirectTransfer = "direct-transfer"
)
