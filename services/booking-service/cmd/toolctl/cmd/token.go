package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/voicebook/libs/auth"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and revoke tool tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	cmd.AddCommand(newTokenRevokeCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var tenantID, label string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a tool token for a tenant; the raw value is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			tok, err := auth.NewToolToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashSecret(tok.Secret)
			if err != nil {
				return err
			}

			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			repo := storage.NewTenantRepository(pool)
			if _, err := repo.Get(cmd.Context(), tenantID); err != nil {
				return fmt.Errorf("tenant %s: %w", tenantID, err)
			}
			if err := repo.InsertToolToken(cmd.Context(), storage.ToolTokenRecord{
				ID:         tok.ID,
				TenantID:   tenantID,
				SecretHash: hash,
			}, label); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token id: %s\ntoken:    %s\n", tok.ID, tok.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&label, "label", "", "free-form label, e.g. the voice agent name")
	return cmd
}

func newTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Deactivate a tool token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := storage.NewTenantRepository(pool).RevokeToolToken(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, storage.ErrTokenNotFound) {
					return fmt.Errorf("no active token %s", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token %s revoked\n", args[0])
			return nil
		},
	}
}
