package backend

import (
	"encoding/json"
)

// ProgramIdentifiers is the backend's view of the deployed programs and the network they live on.
type ProgramIdentifiers struct {
	CampaignProgramID   string `json:"campaignProgramId"`
	DealEscrowProgramID string `json:"dealEscrowProgramId"`
	TreasuryProgramID   string `json:"treasuryProgramId"`
	RPCURL              string `json:"rpcUrl"`
	Cluster             string `json:"cluster"`
}

// FundingGoalLimits bounds campaign creation.
type FundingGoalLimits struct {
	MinUSD          float64 `json:"minUsd"`
	MaxUSD          float64 `json:"maxUsd"`
	MaxDeadlineDays int     `json:"maxDeadlineDays"`
}

// PaymentSettings holds the platform fee and contribution floor.
// FeePercentage is a fraction (0.019 = 1.9%).
type PaymentSettings struct {
	FeePercentage       float64 `json:"feePercentage"`
	MinimumContribution float64 `json:"minimumContribution"`
}

// PublishRequest is sent once a campaign is published.
type PublishRequest struct {
	CampaignAddress string `json:"campaignAddress,omitempty"`
	Signature       string `json:"transactionSignature,omitempty"`
	OnChain         bool   `json:"onChain"`
}

// ContributionRequest reports one settled contribution.
type ContributionRequest struct {
	Amount             json.Number `json:"amount"`
	ContributorAddress string      `json:"contributorAddress"`
	Signature          string      `json:"signature"`
	PaymentPath        string      `json:"paymentPath"`
}

// CreateDealRequest registers a private deal.
type CreateDealRequest struct {
	ProjectID       string      `json:"projectId"`
	InvestorAddress string      `json:"investorAddress"`
	Amount          json.Number `json:"amount"`
	Milestones      uint32      `json:"milestones"`
	DealAddress     string      `json:"dealAddress,omitempty"`
	Signature       string      `json:"signature"`
	PaymentPath     string      `json:"paymentPath"`
}

// UpdateDealRequest moves a deal to a new status.
type UpdateDealRequest struct {
	Status        string `json:"status"`
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature,omitempty"`
}

// Deal statuses understood by the backend.
const (
	DealStatusPending   = "pending"
	DealStatusAccepted  = "accepted"
	DealStatusRejected  = "rejected"
	DealStatusCancelled = "cancelled"
	DealStatusReleased  = "milestone_released"
	DealStatusCompleted = "completed"
)
