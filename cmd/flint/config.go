package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/flint/internal/web/config"
	"github.com/foxzi/flint/internal/web/server"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	ai := cfg.AI.Provider + " (" + cfg.AI.Model + ")"
	if cfg.AI.Endpoint != "" {
		ai = cfg.AI.Endpoint
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Local auth: %v\n", cfg.Auth.LocalEnabled)
	fmt.Printf("  OIDC auth: %v\n", cfg.Auth.OIDC.Enabled)
	fmt.Printf("  AI: %s\n", ai)
	fmt.Printf("  Session store: %s\n", cfg.Cache.Backend)
	fmt.Printf("  Notifications: %v\n", cfg.Notify.Enabled)
	fmt.Printf("  Events: %v\n", cfg.Events.Enabled)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)
	fmt.Printf("  TLS: %v (acme: %v)\n", cfg.Server.TLS.Enabled, cfg.Server.TLS.ACME.Enabled)

	certs, err := server.Certificates(context.Background(), cfg.Server.TLS)
	if err != nil {
		return err
	}
	for _, c := range certs {
		fmt.Printf("    - %s expires %s (%d days left)\n", c.Domain, c.NotAfter.Format("2006-01-02"), c.DaysLeft)
	}

	return nil
}
