package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lvdashuaibi/roundvote/internal/lock"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.close()

		return lock.WithLock(ctx, a.lock, lock.MigrationLock, a.cfg.Lock.Timeout, time.Second, a.repo.Migrate)
	},
}
