package main

import (
	"github.com/spf13/cobra"

	"github.com/upb/api-gatekeeper/config"
)

var BuildVersion = "dev"

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "gatekeeper",
		Short:        "Bearer token gatekeeper for the demo API",
		Long:         "Serves the demo API behind bearer token authentication and scope authorization.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Load and validate configuration from the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("issuer:   %s\n", cfg.Auth.Issuer())
			cmd.Printf("audience: %s\n", cfg.Auth.Audience)
			if cfg.Auth.Discovery {
				cmd.Printf("jwks:     discovered from %s\n", cfg.Auth.Issuer())
			} else {
				cmd.Printf("jwks:     %s (%s)\n", cfg.Auth.JWKSEndpoint(), cfg.Auth.JWKSMode)
			}
			cmd.Printf("listen:   %s\n", cfg.Server.Address())
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the gatekeeper",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})

	return rootCmd
}
