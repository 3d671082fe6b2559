package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crowdfund/settlement-node/settlementClient/constant"
)

// EnvPrefix namespaces the environment overrides, e.g. SETTLEMENTD_BACKEND_URL.
const EnvPrefix = "SETTLEMENTD"

const flagHome = "home"

func NewRootCmd() *cobra.Command {
	v := newViper()

	rootCmd := &cobra.Command{
		Use:           "settlementd",
		Short:         "Crowdfunding settlement daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(flagHome, constant.DefaultNodeHome, "node home directory")
	_ = v.BindPFlag(flagHome, rootCmd.PersistentFlags().Lookup(flagHome))

	InitRootCmd(rootCmd, v)

	return rootCmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}
