package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/voicebook/libs/config"
	"github.com/md-rashed-zaman/voicebook/libs/db"
)

var databaseURL string

var rootCmd = &cobra.Command{
	Use:   "toolctl",
	Short: "Operator commands for the voicebook booking service",
	Long: `toolctl manages what the booking service reads but never writes itself:
the database schema, tenants, tool tokens and business rules. It can also
replay a call-platform webhook against a running service.`,
	SilenceUsage: true,
}

func SetVersion(v string) {
	rootCmd.Version = v
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", config.String("DATABASE_URL", ""), "PostgreSQL connection string (env DATABASE_URL)")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTenantCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newSimulateCallCmd())
}

func openPool(ctx context.Context) (*db.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return db.Open(ctx, databaseURL, db.Options{MaxConns: 2})
}
