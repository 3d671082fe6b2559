package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/fees"
	"github.com/crowdfund/settlement-node/settlementClient/settlement"
	"github.com/crowdfund/settlement-node/settlementClient/signer"
)

// ContributionOutput summarizes a settled contribution.
type ContributionOutput struct {
	Signature     string `yaml:"signature" json:"signature"`
	Path          string `yaml:"path" json:"path"`
	Confirmed     bool   `yaml:"confirmed" json:"confirmed"`
	Lamports      uint64 `yaml:"lamports" json:"lamports"`
	Reported      bool   `yaml:"reported" json:"reported"`
	Duplicate     bool   `yaml:"duplicate,omitempty" json:"duplicate,omitempty"`
	ReportError   string `yaml:"report_error,omitempty" json:"report_error,omitempty"`
	FallbackCause string `yaml:"fallback_cause,omitempty" json:"fallback_cause,omitempty"`
}

func contributeCmd(v *viper.Viper) *cobra.Command {
	var (
		projectID, amount, goal, raised, campaignAddress string
		onChain, assumeYes                              bool
		outputFormat                                    string
	)

	cmd := &cobra.Command{
		Use:   "contribute",
		Short: "Contribute to a campaign with the configured keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			gross, err := fees.ParseAmount(amount)
			if err != nil {
				return err
			}
			goalAmount, err := fees.ParseAmount(goal)
			if err != nil {
				return err
			}
			raisedAmount, err := fees.ParseAmount(raised)
			if err != nil {
				return err
			}
			var address solana.PublicKey
			if campaignAddress != "" {
				if address, err = solana.PublicKeyFromBase58(campaignAddress); err != nil {
					return fmt.Errorf("invalid campaign address: %w", err)
				}
			}

			client, database, err := buildClient(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer database.Close()

			var opts []signer.KeypairOption
			if !assumeYes {
				opts = append(opts, signer.WithApproval(promptApproval(cmd.InOrStdin(), cmd.ErrOrStderr())))
			}
			wallet, err := client.Wallet(opts...)
			if err != nil {
				return err
			}

			res, err := client.Router().Contribute(cmd.Context(), settlement.ContributionIntent{
				Campaign: settlement.Campaign{
					ProjectID:      projectID,
					Address:        address,
					OnChainEnabled: onChain,
					Goal:           goalAmount,
					Raised:         raisedAmount,
				},
				Amount: gross,
				Wallet: wallet,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", serrors.UserMessage(err), err)
			}

			out := ContributionOutput{
				Signature: res.Signature.String(),
				Path:      res.Path,
				Confirmed: res.Confirmed,
				Lamports:  res.Lamports,
				Reported:  res.Reported,
				Duplicate: res.Duplicate,
			}
			if res.ReportErr != nil {
				out.ReportError = res.ReportErr.Error()
			}
			if res.FallbackCause != nil {
				out.FallbackCause = res.FallbackCause.Error()
			}
			return printOutput(cmd, outputFormat, out)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&amount, "amount", "", "gross contribution, native units")
	cmd.Flags().StringVar(&goal, "goal", "", "campaign funding goal, native units")
	cmd.Flags().StringVar(&raised, "raised", "0", "amount already raised, native units")
	cmd.Flags().StringVar(&campaignAddress, "campaign-address", "", "on-chain campaign account, if initialized")
	cmd.Flags().BoolVar(&onChain, "on-chain", true, "settle through the campaign program when available")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "approve every signature request without prompting")
	addOutputFlag(cmd, &outputFormat)
	markRequired(cmd, "project", "amount", "goal")
	return cmd
}

// promptApproval asks on the terminal before each signature.
func promptApproval(in io.Reader, out io.Writer) signer.ApprovalFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, summary string) (bool, error) {
		fmt.Fprintf(out, "Sign transaction (%s)? [y/N]: ", summary)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
