package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aixiaozi/go-kids-chat/internal/repo"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-codes",
	Short: "Remove expired verification codes and idempotency records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		ctx := cmd.Context()
		codes, err := a.auth.CleanupCodes(ctx)
		if err != nil {
			return err
		}
		idem, err := repo.PurgeExpiredIdempotency(ctx, a.db, time.Now().UTC())
		if err != nil {
			return err
		}
		log.Info().Int("codes", codes).Int64("idempotency", idem).Msg("cleanup done")
		cmd.Printf("removed %d verification codes, %d idempotency records\n", codes, idem)
		return nil
	},
}
