package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/ledger"
)

func verifyJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-journal",
		Short: "Check the LevelDB ledger's hash-chained journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.LevelDBPath
			}

			l, err := ledger.OpenLevelDB(path)
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.Journal()
			if err != nil {
				return err
			}
			if err := l.VerifyJournal(); err != nil {
				return fmt.Errorf("journal verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Journal intact: %d entries verified in %s\n", len(entries), path)
			return nil
		},
	}
	cmd.Flags().String("path", "", "LevelDB directory (default LEVELDB_PATH)")
	return cmd
}
