package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chronicle/proofread/internal/cache"
	"chronicle/proofread/internal/store"
)

func newCacheCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local analysis cache",
	}

	var path string
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove cached analyses older than the cache TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = g.cfg.CachePath
			}
			bolt, err := cache.OpenBolt(path, g.cfg.CacheTTL)
			if err != nil {
				return err
			}
			defer bolt.Close()

			removed, err := bolt.Prune()
			if err != nil {
				return err
			}
			g.log.Debug("cache pruned", "path", path, "removed", removed)
			printf(cmd.OutOrStdout(), "Removed %d expired entries from %s\n", removed, path)
			return nil
		},
	}
	prune.Flags().StringVar(&path, "cache", "", "analysis cache file (default from config)")

	cmd.AddCommand(prune)
	return cmd
}

func newRunsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage the analysis run history database",
	}

	var dryRun bool
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(cmd.Context(), g.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if dryRun {
				pending, err := store.PendingMigrations(cmd.Context(), db, g.cfg.MigrationsDir)
				if err != nil {
					return err
				}
				printf(out, "%d pending migrations\n", len(pending))
				for _, version := range pending {
					printf(out, "  %s\n", version)
				}
				return nil
			}

			applied, err := store.ApplyMigrations(cmd.Context(), db, g.cfg.MigrationsDir)
			if err != nil {
				return err
			}
			for _, version := range applied {
				printf(out, "Applied %s\n", version)
			}
			printf(out, "%d migrations applied from %s\n", len(applied), g.cfg.MigrationsDir)
			return nil
		},
	}
	migrate.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete analysis runs older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			db, err := store.Open(cmd.Context(), g.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			before := time.Now().Add(-olderThan)
			removed, err := store.NewPostgresStore(db).PruneRuns(cmd.Context(), before)
			if err != nil {
				return err
			}
			g.log.Info("runs pruned", "before", before.Format(time.RFC3339), "removed", removed)
			printf(cmd.OutOrStdout(), "Removed %d runs recorded before %s\n", removed, before.Format(time.RFC3339))
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of runs to delete")

	cmd.AddCommand(migrate, prune)
	return cmd
}
