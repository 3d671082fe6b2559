package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/crowdfund/settlement-node/settlementClient/fees"
)

// QuoteOutput is the result of a fill-to-goal quote.
type QuoteOutput struct {
	Remaining string `yaml:"remaining" json:"remaining"`
	Gross     string `yaml:"gross" json:"gross"`
	Net       string `yaml:"net" json:"net"`
	Fee       string `yaml:"fee" json:"fee"`
	Lamports  uint64 `yaml:"lamports" json:"lamports"`
}

func quoteCmd() *cobra.Command {
	var (
		raised, goal, fee string
		precision         int32
		outputFormat      string
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Largest contribution that fills a campaign without overshooting its goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			raisedAmount, err := fees.ParseAmount(raised)
			if err != nil {
				return err
			}
			goalAmount, err := fees.ParseAmount(goal)
			if err != nil {
				return err
			}
			rate, err := fees.ParseAmount(fee)
			if err != nil {
				return err
			}
			calc, err := fees.NewCalculator(rate, fees.DefaultTolerance, precision)
			if err != nil {
				return err
			}

			gross, err := calc.FillToGoal(raisedAmount, goalAmount)
			if err != nil {
				return err
			}
			lamports, err := fees.ToLamports(gross)
			if err != nil {
				return err
			}
			return printOutput(cmd, outputFormat, QuoteOutput{
				Remaining: decimal.Max(goalAmount.Sub(raisedAmount), decimal.Zero).String(),
				Gross:     gross.String(),
				Net:       calc.NetAmount(gross).String(),
				Fee:       calc.FeeAmount(gross).String(),
				Lamports:  lamports,
			})
		},
	}

	cmd.Flags().StringVar(&raised, "raised", "0", "amount already raised, native units")
	cmd.Flags().StringVar(&goal, "goal", "", "funding goal, native units")
	cmd.Flags().StringVar(&fee, "fee", "0", "platform fee as a fraction (0.019 = 1.9%)")
	cmd.Flags().Int32Var(&precision, "precision", fees.DefaultPrecision, "decimals kept in the quote")
	addOutputFlag(cmd, &outputFormat)
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}
