package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	cmd.AddCommand(newTenantUpsertCmd())
	return cmd
}

func newTenantUpsertCmd() *cobra.Command {
	var t model.Tenant
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create a tenant, or update it when --id is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if t.ID == "" && t.Name == "" {
				return fmt.Errorf("--name is required when creating a tenant")
			}
			if t.Timezone != "" {
				if _, err := time.LoadLocation(t.Timezone); err != nil {
					return fmt.Errorf("invalid --timezone %q: %w", t.Timezone, err)
				}
			}
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			out, err := storage.NewTenantRepository(pool).Upsert(cmd.Context(), t)
			if err != nil {
				return fmt.Errorf("upsert tenant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s (%s, %s)\n", out.ID, out.Name, out.Timezone)
			return nil
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "tenant id to update")
	cmd.Flags().StringVar(&t.Name, "name", "", "business name")
	cmd.Flags().StringVar(&t.NotifyEmail, "notify-email", "", "address that receives call summaries")
	cmd.Flags().StringVar(&t.Timezone, "timezone", "", "IANA zone (default UTC)")
	return cmd
}
