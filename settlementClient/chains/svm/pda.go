package svm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// Seed prefixes shared with the on-chain programs.
const (
	SeedCampaign        = "campaign"
	SeedCampaignVault   = "campaign_vault"
	SeedContribution    = "contribution"
	SeedDeal            = "deal"
	SeedDealEscrowVault = "deal_escrow_vault"
	SeedMilestone       = "milestone"
	SeedTreasury        = "treasury"
	SeedFeeVault        = "fee_vault"
)

// DerivedAddress is a program-derived address with the bump seed that produced it.
type DerivedAddress struct {
	Address solana.PublicKey `json:"address"`
	Bump    uint8            `json:"bump"`
}

// Derive finds the program-derived address for seeds under programID.
func Derive(programID solana.PublicKey, seeds [][]byte) (DerivedAddress, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return DerivedAddress{}, serrors.New(serrors.ErrCodeValidation,
			fmt.Sprintf("failed to derive address under %s", programID), err)
	}
	return DerivedAddress{Address: addr, Bump: bump}, nil
}

// DeriveCampaign hashes the campaign id since it may exceed the 32-byte seed limit.
func DeriveCampaign(programID, creator solana.PublicKey, campaignID string) (DerivedAddress, error) {
	if campaignID == "" {
		return DerivedAddress{}, serrors.NewValidationError("campaign id is required")
	}
	idHash := sha256.Sum256([]byte(campaignID))
	return Derive(programID, [][]byte{[]byte(SeedCampaign), creator.Bytes(), idHash[:]})
}

func DeriveCampaignVault(programID, campaign solana.PublicKey) (DerivedAddress, error) {
	return Derive(programID, [][]byte{[]byte(SeedCampaignVault), campaign.Bytes()})
}

func DeriveContribution(programID, campaign, contributor solana.PublicKey) (DerivedAddress, error) {
	return Derive(programID, [][]byte{[]byte(SeedContribution), campaign.Bytes(), contributor.Bytes()})
}

// DeriveDeal uses at most the first 32 bytes of the project id.
func DeriveDeal(programID, investor solana.PublicKey, projectID string) (DerivedAddress, error) {
	if projectID == "" {
		return DerivedAddress{}, serrors.NewValidationError("project id is required")
	}
	return Derive(programID, [][]byte{[]byte(SeedDeal), investor.Bytes(), ProjectSeed(projectID)})
}

func DeriveDealEscrowVault(programID, deal solana.PublicKey) (DerivedAddress, error) {
	return Derive(programID, [][]byte{[]byte(SeedDealEscrowVault), deal.Bytes()})
}

// DeriveMilestone encodes the index as 4 little-endian bytes.
func DeriveMilestone(programID, deal solana.PublicKey, index uint32) (DerivedAddress, error) {
	var le [4]byte
	binary.LittleEndian.PutUint32(le[:], index)
	return Derive(programID, [][]byte{[]byte(SeedMilestone), deal.Bytes(), le[:]})
}

func DeriveTreasury(programID solana.PublicKey) (DerivedAddress, error) {
	return Derive(programID, [][]byte{[]byte(SeedTreasury), programID.Bytes()})
}

func DeriveFeeVault(programID, treasury solana.PublicKey) (DerivedAddress, error) {
	return Derive(programID, [][]byte{[]byte(SeedFeeVault), treasury.Bytes()})
}

// ProjectSeed returns the first 32 bytes of projectID.
func ProjectSeed(projectID string) []byte {
	raw := []byte(projectID)
	if len(raw) > solana.PublicKeyLength {
		raw = raw[:solana.PublicKeyLength]
	}
	return raw
}
