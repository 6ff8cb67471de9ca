package cmd

import (
	"fmt"

	"mindgarden/backend/internal/repository"
	"mindgarden/backend/internal/subscription"
	"mindgarden/backend/pkg/config"
	"mindgarden/backend/pkg/logger"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire lapsed subscriptions once, against the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.New()
		lcfg := logger.DefaultConfig()
		lcfg.Level = cfg.Logging.Level
		log := logger.New(lcfg)

		db, err := config.NewDB(cfg, log)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		sweeper, err := subscription.NewSweeper(repository.NewGormSubscriptionRepository(db), cfg.Subscription.SweepCron, log)
		if err != nil {
			return err
		}
		n, err := sweeper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("expired %d subscriptions\n", n)
		return nil
	},
}
