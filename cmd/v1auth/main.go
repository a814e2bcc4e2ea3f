package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"v1auth/pkg/config"
	"v1auth/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	root := &cobra.Command{
		Use:   "v1auth",
		Short: "Swift v1 legacy auth endpoint backed by a multi-tenant identity service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, log)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "listen address (env V1AUTH_HTTP_ADDR)")
	root.PersistentFlags().StringVar(&cfg.IdentityBackend, "identity", cfg.IdentityBackend, "identity backend: memory|postgres|keystone (env IDENTITY_BACKEND)")
	root.PersistentFlags().StringVar(&cfg.TokenBackend, "tokens", cfg.TokenBackend, "token backend: memory|postgres|redis (env TOKEN_BACKEND)")
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres DSN (env DATABASE_URL)")
	root.PersistentFlags().StringVar(&cfg.SeedFile, "seed", cfg.SeedFile, "identity seed file, YAML or JSON (env V1AUTH_SEED)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP endpoint (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Create the postgres schema and load the seed, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), cfg, log)
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
