package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/crowdfund/settlement-node/settlementClient/config"
)

// applyOverrides layers SETTLEMENTD_* environment values over the file config and
// validates the result.
func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	textual := map[string]*string{
		"backend_url":  &cfg.BackendURL,
		"commitment":   &cfg.Commitment,
		"keypair_path": &cfg.KeypairPath,
		"log_format":   &cfg.LogFormat,
		"database_dir": &cfg.DatabaseDir,
	}
	for key, dst := range textual {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"log_level":               &cfg.LogLevel,
		"query_server_port":       &cfg.QueryServerPort,
		"confirm_timeout_seconds": &cfg.ConfirmTimeoutSeconds,
		"backend_timeout_seconds": &cfg.BackendTimeoutSeconds,
	}
	for key, dst := range ints {
		if !v.IsSet(key) {
			continue
		}
		n, err := cast.ToIntE(v.Get(key))
		if err != nil {
			return fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
		*dst = n
	}

	if v.IsSet("wallet_broadcast") {
		broadcast, err := cast.ToBoolE(v.Get("wallet_broadcast"))
		if err != nil {
			return fmt.Errorf("%s_WALLET_BROADCAST: %w", EnvPrefix, err)
		}
		cfg.Signing.WalletBroadcast = broadcast
	}

	if v.IsSet("rpc_urls") {
		var urls []string
		for _, u := range strings.Split(cast.ToString(v.Get("rpc_urls")), ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		cfg.RPCURLs = urls
	}

	return cfg.Validate()
}
