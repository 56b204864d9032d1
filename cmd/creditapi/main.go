package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/videocredits/internal/creditapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr         = "listen-addr"
	flagLedgerAddr         = "ledger-addr"
	flagLedgerInsecure     = "ledger-insecure"
	flagLedgerTimeout      = "ledger-timeout"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTCookieName      = "jwt-cookie-name"
	flagServiceTokenKey    = "service-token-key"
	flagServiceTokenIssuer = "service-token-issuer"
	flagHistoryPageSize    = "history-page-size"
	envPrefix              = "CREDITAPI"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditapi: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := creditapi.Config{}
	cmd := &cobra.Command{
		Use:           "creditapi",
		Short:         "HTTP API serving video credits to the web UI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return creditapi.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagLedgerAddr, "", "creditd gRPC address")
	cmd.Flags().Bool(flagLedgerInsecure, false, "connect to creditd without TLS")
	cmd.Flags().Duration(flagLedgerTimeout, 0, "ledger RPC timeout (e.g. 3s)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth session signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected session issuer")
	cmd.Flags().String(flagJWTCookieName, "", "session cookie name")
	cmd.Flags().String(flagServiceTokenKey, "", "HS256 key for calls to creditd; empty sends no token")
	cmd.Flags().String(flagServiceTokenIssuer, "", "service token issuer")
	cmd.Flags().Int(flagHistoryPageSize, 0, "default history page size")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *creditapi.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagListenAddr, flagLedgerAddr, flagLedgerInsecure, flagLedgerTimeout, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagServiceTokenKey, flagServiceTokenIssuer, flagHistoryPageSize} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	if !v.IsSet(flagJWTSigningKey) {
		return fmt.Errorf("%s is required", flagJWTSigningKey)
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.LedgerAddress = strings.TrimSpace(v.GetString(flagLedgerAddr))
	cfg.LedgerInsecure = v.GetBool(flagLedgerInsecure)
	cfg.LedgerTimeout = v.GetDuration(flagLedgerTimeout)
	cfg.AllowedOrigins = creditapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.ServiceTokenKey = v.GetString(flagServiceTokenKey)
	cfg.ServiceTokenIssuer = strings.TrimSpace(v.GetString(flagServiceTokenIssuer))
	cfg.HistoryPageSize = v.GetInt(flagHistoryPageSize)

	return cfg.Validate()
}
