package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miethe/skillmeat-sub006/internal/utils"
	"github.com/miethe/skillmeat-sub006/pkg/storage"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent catalog changes (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dbPath, _ := cmd.Flags().GetString("dbpath")
		limit, _ := cmd.Flags().GetInt("limit")
		absPath, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("database not found: %s", absPath)
		}
		db, err := storage.Open(absPath)
		if err != nil {
			return err
		}
		defer db.Close()
		changes, err := db.ListRecentChanges(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, c := range changes {
			ts := c.OccurredAt.Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %-8s  %-12s  %s  %s\n", ts, c.ChangeType, c.ArtifactType, c.SourceID, c.UpstreamURL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().String("dbpath", "", "Path to SQLite catalog DB (default: ~/.config/skillmeat/catalog.sqlite)")
	changesCmd.Flags().Int("limit", 50, "Number of recent changes to show")
}
