// Package store contains GORM-backed SQLite models for the local settlement ledger.
//
// Database Structure (database file: settlements.db):
//
//	databases/
//	└── settlements.db
//	    ├── settlement_records
//	    └── deal_records
//
// The backend remains the system of record; this ledger lets the node
// recognise a signature it has already reported and retry reports that failed.
package store

import (
	"gorm.io/gorm"
)

// SettlementRecord is one contribution settled on the ledger network.
type SettlementRecord struct {
	gorm.Model
	Signature   string `gorm:"uniqueIndex;not null"` // Transaction signature, base58
	ProjectID   string `gorm:"index;not null"`
	Contributor string `gorm:"not null"`
	Amount      string // Gross amount in native units, decimal string
	Lamports    uint64
	PaymentPath string `gorm:"not null"` // "on-chain" or "direct-transfer"
	Confirmed   bool
	Reported    bool   `gorm:"index"`     // Backend acknowledged the contribution
	ErrorMsg    string `gorm:"type:text"` // Last reporting error, if any
}

// DealRecord is one status change of a private deal.
type DealRecord struct {
	gorm.Model
	DealID        string `gorm:"index;not null"`
	Status        string `gorm:"not null"`
	Signature     string `gorm:"index"`
	WalletAddress string
	PaymentPath   string
}
