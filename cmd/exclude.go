package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miethe/skillmeat-sub006/internal/utils"
	"github.com/miethe/skillmeat-sub006/pkg/storage"
)

// excludeCmd hides a catalog entry from future import consideration. The
// exclusion persists across rescans until restored.
var excludeCmd = &cobra.Command{
	Use:   "exclude --source owner/repo --url <upstream-url>",
	Short: "Exclude a catalog entry (or restore it with --restore)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetString("source")
		upstreamURL, _ := cmd.Flags().GetString("url")
		reason, _ := cmd.Flags().GetString("reason")
		restore, _ := cmd.Flags().GetBool("restore")
		dbPath, _ := cmd.Flags().GetString("dbpath")

		if sourceID == "" || upstreamURL == "" {
			return fmt.Errorf("--source and --url are required")
		}

		absPath, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		db, err := storage.Open(absPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if restore {
			if err := db.ClearExcluded(cmd.Context(), sourceID, upstreamURL); err != nil {
				return err
			}
			fmt.Println("restored")
			return nil
		}
		if err := db.SetExcluded(cmd.Context(), sourceID, upstreamURL, reason); err != nil {
			return err
		}
		fmt.Println("excluded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(excludeCmd)

	excludeCmd.Flags().String("source", "", "Source the entry belongs to (owner/repo)")
	excludeCmd.Flags().String("url", "", "Upstream URL of the entry")
	excludeCmd.Flags().String("reason", "", "Optional reason recorded with the exclusion")
	excludeCmd.Flags().Bool("restore", false, "Restore a previously excluded entry")
	excludeCmd.Flags().String("dbpath", "", "Path to SQLite catalog DB (default: ~/.config/skillmeat/catalog.sqlite)")
}
