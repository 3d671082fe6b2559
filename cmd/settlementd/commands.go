package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crowdfund/settlement-node/settlementClient/config"
	"github.com/crowdfund/settlement-node/settlementClient/constant"
	"github.com/crowdfund/settlement-node/settlementClient/core"
	"github.com/crowdfund/settlement-node/settlementClient/db"
	"github.com/crowdfund/settlement-node/settlementClient/logger"
)

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

func InitRootCmd(rootCmd *cobra.Command, v *viper.Viper) {
	rootCmd.AddCommand(initCmd(v))
	rootCmd.AddCommand(startCmd(v))
	rootCmd.AddCommand(contributeCmd(v))
	rootCmd.AddCommand(retryReportsCmd(v))
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(deriveCmd())
	rootCmd.AddCommand(versionCmd())
}

func initCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the node home",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := v.GetString(flagHome)
			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			cfg.DatabaseDir = ""
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s/%s/%s\n", home, constant.ConfigSubdir, constant.ConfigFileName)
			return nil
		},
	}
}

func startCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the settlement daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, _, err := buildClient(ctx, v)
			if err != nil {
				return err
			}
			return client.Start()
		},
	}
}

func retryReportsCmd(v *viper.Viper) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry-reports",
		Short: "Re-send settlements the backend has not acknowledged",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, database, err := buildClient(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer database.Close()

			accepted, err := client.Router().RetryUnreported(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d settlement(s) accepted by the backend\n", accepted)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of settlements to retry")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print settlementd version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "settlementd")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Commit:     %s\n", Commit)
			fmt.Fprintf(out, "Go:         %s\n", runtime.Version())
		},
	}
}

// loadConfig reads the config under the node home and applies environment overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString(flagHome))
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(&cfg, v); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func buildClient(ctx context.Context, v *viper.Viper) (*core.SettlementClient, *db.DB, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Init(*cfg)

	database, err := db.OpenFileDB(cfg.DatabaseDir, constant.DatabaseFileName, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open settlement database: %w", err)
	}
	client, err := core.NewSettlementClient(ctx, log, database, cfg)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return client, database, nil
}
