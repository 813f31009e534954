package cmd

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/miethe/skillmeat-sub006/internal/utils"
	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/catalog"
	"github.com/miethe/skillmeat-sub006/pkg/collection"
	"github.com/miethe/skillmeat-sub006/pkg/github"
	"github.com/miethe/skillmeat-sub006/pkg/importer"
	"github.com/miethe/skillmeat-sub006/pkg/storage"
)

// importCmd implements: skillmeat import --source owner/repo
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import catalog entries into the local collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetString("source")
		names, _ := cmd.Flags().GetStringSlice("name")
		strategyStr, _ := cmd.Flags().GetString("strategy")
		dbPath, _ := cmd.Flags().GetString("dbpath")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		collectionRoot, _ := cmd.Flags().GetString("collection")

		if sourceID == "" {
			return fmt.Errorf("--source owner/repo is required")
		}
		strategy, err := importer.ParseStrategy(strategyStr)
		if err != nil {
			return err
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

		entries, err := db.EntriesForSource(cmd.Context(), sourceID)
		if err != nil {
			return err
		}
		entries = selectEntries(entries, names)
		if len(entries) == 0 {
			return fmt.Errorf("no matching catalog entries for source %s", sourceID)
		}

		if collectionRoot == "" {
			collectionRoot = viper.GetString("collection.root")
		}
		if collectionRoot == "" {
			collectionRoot, err = collection.DefaultRoot()
			if err != nil {
				return err
			}
		}
		store := collection.New(collectionRoot)

		if dryRun {
			snapshot, err := store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range importer.CheckConflicts(entries, snapshot) {
				marker := " "
				if r.Conflicts {
					marker = "!"
				}
				fmt.Printf("%s %-30s -> %s\n", marker, r.Entry.Name, r.LocalPath)
			}
			return nil
		}

		client := github.NewClient(github.Options{Token: viper.GetString("github.token")})
		coord := &importer.Coordinator{
			Store:  store,
			Fetch:  entryContentFetcher(client),
			Marker: db,
		}

		result, err := coord.ImportEntries(cmd.Context(), entries, strategy)
		if err != nil {
			return err
		}

		for _, ie := range result.Entries {
			switch ie.Status {
			case importer.StatusSuccess:
				fmt.Printf("imported %-30s -> %s\n", ie.Entry.Name, ie.ResolvedLocalPath)
			case importer.StatusSkipped, importer.StatusConflict:
				fmt.Printf("skipped  %-30s (already exists at %s)\n", ie.Entry.Name, ie.ResolvedLocalPath)
			case importer.StatusError:
				fmt.Printf("failed   %-30s: %s\n", ie.Entry.Name, ie.ErrorDetail)
			}
		}
		fmt.Printf("%d imported, %d skipped, %d failed\n", result.SucceededCount, result.SkippedCount, result.FailedCount)
		return nil
	},
}

// selectEntries filters importable entries, optionally by name.
func selectEntries(entries []catalog.Entry, names []string) []catalog.Entry {
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}
	var out []catalog.Entry
	for _, e := range entries {
		if e.Status == catalog.StatusRemoved || e.Status == catalog.StatusExcluded {
			continue
		}
		if len(wanted) > 0 && !wanted[strings.ToLower(e.Name)] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// entryContentFetcher resolves an entry's manifest content from its source
// repository.
func entryContentFetcher(client *github.Client) importer.ContentFetcher {
	return func(ctx context.Context, entry catalog.Entry) ([]byte, error) {
		owner, repo, _, ok := utils.ParseOwnerRepo(entry.SourceID)
		if !ok {
			return nil, fmt.Errorf("bad source id %q", entry.SourceID)
		}
		source := artifact.Source{Owner: owner, Repo: repo}
		sha, err := client.ResolveRef(ctx, source)
		if err != nil {
			return nil, err
		}
		p := entry.Path
		if path.Ext(p) == "" {
			// Directory artifacts are materialized from their manifest.
			p = p + "/" + manifestName(entry.ArtifactType)
		}
		return client.FetchBlob(ctx, source, p, sha)
	}
}

func manifestName(typ artifact.Type) string {
	switch typ {
	case artifact.TypeSkill:
		return "SKILL.md"
	case artifact.TypeCommand:
		return "COMMAND.md"
	case artifact.TypeAgent:
		return "AGENT.md"
	case artifact.TypeToolServer:
		return "server.json"
	case artifact.TypeHook:
		return "hooks.json"
	}
	return "README.md"
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("source", "", "Source to import from (owner/repo)")
	importCmd.Flags().StringSlice("name", nil, "Entry name to import (repeatable; default: all importable entries)")
	importCmd.Flags().String("strategy", "skip", "Conflict strategy: skip, overwrite or rename")
	importCmd.Flags().String("dbpath", "", "Path to SQLite catalog DB (default: ~/.config/skillmeat/catalog.sqlite)")
	importCmd.Flags().String("collection", "", "Collection root directory (default: ~/.skillmeat/collection)")
	importCmd.Flags().Bool("dry-run", false, "Preview conflicts without importing")
}
