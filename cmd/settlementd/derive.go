package main

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
)

// AddressOutput is one derived account.
type AddressOutput struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Bump    uint8  `yaml:"bump" json:"bump"`
}

func deriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive settlement program addresses offline",
	}
	cmd.AddCommand(
		deriveCampaignCmd(),
		deriveContributionCmd(),
		deriveDealCmd(),
		deriveTreasuryCmd(),
	)
	return cmd
}

func deriveCampaignCmd() *cobra.Command {
	var program, creator, campaignID, outputFormat string
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Derive the campaign and vault accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, creatorKey, err := parseKeys(program, creator)
			if err != nil {
				return err
			}
			campaign, err := svm.DeriveCampaign(programID, creatorKey, campaignID)
			if err != nil {
				return err
			}
			vault, err := svm.DeriveCampaignVault(programID, campaign.Address)
			if err != nil {
				return err
			}
			return printOutput(cmd, outputFormat, []AddressOutput{
				addressOutput(svm.AccountCampaign, campaign),
				addressOutput(svm.AccountCampaignVault, vault),
			})
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "campaign program id")
	cmd.Flags().StringVar(&creator, "creator", "", "creator address")
	cmd.Flags().StringVar(&campaignID, "campaign-id", "", "campaign id")
	addOutputFlag(cmd, &outputFormat)
	markRequired(cmd, "program", "creator", "campaign-id")
	return cmd
}

func deriveContributionCmd() *cobra.Command {
	var program, campaign, contributor, outputFormat string
	cmd := &cobra.Command{
		Use:   "contribution",
		Short: "Derive a contributor's contribution record account",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeyList(program, campaign, contributor)
			if err != nil {
				return err
			}
			record, err := svm.DeriveContribution(keys[0], keys[1], keys[2])
			if err != nil {
				return err
			}
			return printOutput(cmd, outputFormat, []AddressOutput{addressOutput(svm.AccountContribution, record)})
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "campaign program id")
	cmd.Flags().StringVar(&campaign, "campaign", "", "campaign account")
	cmd.Flags().StringVar(&contributor, "contributor", "", "contributor address")
	addOutputFlag(cmd, &outputFormat)
	markRequired(cmd, "program", "campaign", "contributor")
	return cmd
}

func deriveDealCmd() *cobra.Command {
	var program, investor, projectID, outputFormat string
	var milestones uint32
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Derive the deal, escrow vault and milestone accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			programID, investorKey, err := parseKeys(program, investor)
			if err != nil {
				return err
			}
			deal, err := svm.DeriveDeal(programID, investorKey, projectID)
			if err != nil {
				return err
			}
			vault, err := svm.DeriveDealEscrowVault(programID, deal.Address)
			if err != nil {
				return err
			}
			out := []AddressOutput{
				addressOutput(svm.AccountDeal, deal),
				addressOutput(svm.AccountDealEscrowVault, vault),
			}
			for i := uint32(0); i < milestones; i++ {
				milestone, err := svm.DeriveMilestone(programID, deal.Address, i)
				if err != nil {
					return err
				}
				out = append(out, addressOutput(fmt.Sprintf("%s_%d", svm.AccountMilestone, i), milestone))
			}
			return printOutput(cmd, outputFormat, out)
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "deal escrow program id")
	cmd.Flags().StringVar(&investor, "investor", "", "investor address")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id")
	cmd.Flags().Uint32Var(&milestones, "milestones", 0, "number of milestone accounts to derive")
	addOutputFlag(cmd, &outputFormat)
	markRequired(cmd, "program", "investor", "project-id")
	return cmd
}

func deriveTreasuryCmd() *cobra.Command {
	var program, outputFormat string
	cmd := &cobra.Command{
		Use:   "treasury",
		Short: "Derive the treasury and fee vault accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeyList(program)
			if err != nil {
				return err
			}
			treasury, err := svm.DeriveTreasury(keys[0])
			if err != nil {
				return err
			}
			feeVault, err := svm.DeriveFeeVault(keys[0], treasury.Address)
			if err != nil {
				return err
			}
			return printOutput(cmd, outputFormat, []AddressOutput{
				addressOutput(svm.AccountTreasury, treasury),
				addressOutput(svm.AccountFeeVault, feeVault),
			})
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "treasury program id")
	addOutputFlag(cmd, &outputFormat)
	markRequired(cmd, "program")
	return cmd
}

func addressOutput(name string, d svm.DerivedAddress) AddressOutput {
	return AddressOutput{Name: name, Address: d.Address.String(), Bump: d.Bump}
}

func parseKeys(a, b string) (solana.PublicKey, solana.PublicKey, error) {
	keys, err := parseKeyList(a, b)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return keys[0], keys[1], nil
}

func parseKeyList(values ...string) ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, len(values))
	for i, s := range values {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		keys[i] = key
	}
	return keys, nil
}

func markRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = cmd.MarkFlagRequired(name)
	}
}
