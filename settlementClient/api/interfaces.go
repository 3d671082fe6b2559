package api

import (
	"context"

	"github.com/crowdfund/settlement-node/settlementClient/registry"
	"github.com/crowdfund/settlement-node/settlementClient/store"
)

// SettlementStore is the read side of the local settlement ledger.
type SettlementStore interface {
	ListSettlements(projectID string, limit int) ([]store.SettlementRecord, error)
	GetSettlement(signature string) (*store.SettlementRecord, error)
	DealHistory(dealID string) ([]store.DealRecord, error)
}

// ProgramSource resolves the deployed program identifiers.
type ProgramSource interface {
	Get(ctx context.Context) (*registry.Programs, error)
}
