package cmd

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/miethe/skillmeat-sub006/internal/utils"
	"github.com/miethe/skillmeat-sub006/pkg/artifact"
	"github.com/miethe/skillmeat-sub006/pkg/catalog"
	"github.com/miethe/skillmeat-sub006/pkg/github"
	"github.com/miethe/skillmeat-sub006/pkg/harvest"
	"github.com/miethe/skillmeat-sub006/pkg/scanner"
	"github.com/miethe/skillmeat-sub006/pkg/storage"
)

// scanCmd implements: skillmeat scan owner/repo [owner/repo...]
var scanCmd = &cobra.Command{
	Use:   "scan owner/repo [owner/repo...]",
	Short: "Scan repositories for artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("at least one owner/repo argument is required")
		}

		refFlag, _ := cmd.Flags().GetString("ref")
		rootHint, _ := cmd.Flags().GetString("root-hint")
		useDB, _ := cmd.Flags().GetBool("db")
		dbPath, _ := cmd.Flags().GetString("dbpath")
		doHarvest, _ := cmd.Flags().GetBool("harvest")
		maxFiles, _ := cmd.Flags().GetInt("max-files")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		var sources []artifact.Source
		for _, arg := range args {
			owner, repo, ref, ok := utils.ParseOwnerRepo(arg)
			if !ok {
				return fmt.Errorf("invalid repository reference: %q (want owner/repo)", arg)
			}
			if ref == "" {
				ref = refFlag
			}
			sources = append(sources, artifact.Source{
				ID:       owner + "/" + repo,
				Owner:    owner,
				Repo:     repo,
				Ref:      ref,
				RootHint: rootHint,
			})
		}

		client := github.NewClient(github.Options{Token: viper.GetString("github.token")})

		cfg := scanner.DefaultConfig()
		if maxFiles > 0 {
			cfg.MaxFiles = maxFiles
		}
		cfg.EnableReadmeHarvesting = doHarvest || viper.GetBool("scan.harvest")
		cfg.Harvest = harvest.DefaultConfig()
		for _, org := range viper.GetStringSlice("scan.trusted_orgs") {
			if cfg.Harvest.TrustedOrgs == nil {
				cfg.Harvest.TrustedOrgs = map[string]bool{}
			}
			cfg.Harvest.TrustedOrgs[org] = true
		}

		s, err := scanner.New(client, nil, cfg, utils.Log)
		if err != nil {
			return err
		}

		var db *storage.DB
		if useDB {
			absPath, err := utils.GetAbsDBPath(dbPath)
			if err != nil {
				return err
			}
			db, err = storage.Open(absPath)
			if err != nil {
				return err
			}
			defer db.Close()
		}

		ctx := cmd.Context()
		var mu sync.Mutex
		var scanErrs int

		s.ScanAll(ctx, sources, concurrency, func(sr scanner.SourceResult) {
			mu.Lock()
			defer mu.Unlock()

			if sr.Err != nil {
				scanErrs++
				utils.Log.Errorf("Scan failed for %s, previous catalog unchanged: %v", sr.Source.ID, sr.Err)
				if db != nil {
					if err := db.RecordScanError(ctx, sr.Source.ID); err != nil {
						utils.Log.Warnf("Could not record scan error for %s: %v", sr.Source.ID, err)
					}
				}
				return
			}

			if sr.Result.Truncated {
				utils.Log.Warnf("Listing for %s was truncated; results are partial", sr.Source.ID)
			}

			if db == nil {
				for _, a := range sr.Result.Artifacts {
					fmt.Printf("%-12s %-3d %s\n", a.ArtifactType, a.ConfidenceScore, a.Path)
				}
			} else {
				if err := db.UpsertSource(ctx, sr.Source); err != nil {
					utils.Log.Errorf("Could not register source %s: %v", sr.Source.ID, err)
					return
				}
				existing, err := db.EntriesForSource(ctx, sr.Source.ID)
				if err != nil {
					utils.Log.Errorf("Could not load catalog for %s: %v", sr.Source.ID, err)
					return
				}
				diff := catalog.ComputeDiff(existing, sr.Result.Artifacts, sr.Source.ID)
				changes, err := db.ApplyDiff(ctx, sr.Source.ID, diff)
				if err != nil {
					utils.Log.Errorf("Could not apply diff for %s, previous catalog unchanged: %v", sr.Source.ID, err)
					return
				}
				if err := db.RecordScanSuccess(ctx, sr.Source.ID, sr.Result.SHA, len(sr.Result.Artifacts)); err != nil {
					utils.Log.Warnf("Could not record scan result for %s: %v", sr.Source.ID, err)
				}
				for _, c := range changes {
					fmt.Printf("%-8s %-12s %s\n", c.ChangeType, c.ArtifactType, c.UpstreamURL)
				}
				if len(changes) == 0 {
					utils.Log.Infof("No catalog changes for %s", sr.Source.ID)
				}
			}

			for _, l := range sr.Result.HarvestedLinks {
				fmt.Printf("harvested %-40s confidence=%.2f (from %s)\n", l.NormalizedURL, l.Confidence, l.SourceReadmeURL)
			}
		})

		if scanErrs > 0 {
			return fmt.Errorf("%d of %d scans failed", scanErrs, len(sources))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("ref", "", "Git ref to scan (default: main)")
	scanCmd.Flags().String("root-hint", "", "Only scan paths under this subdirectory")
	scanCmd.Flags().Bool("db", false, "Apply results to the catalog database and print changes")
	scanCmd.Flags().String("dbpath", "", "Path to SQLite catalog DB (default: ~/.config/skillmeat/catalog.sqlite)")
	scanCmd.Flags().Bool("harvest", false, "Harvest secondary repository links from the root README")
	scanCmd.Flags().Int("max-files", 0, "Cap on tree entries per scan (default 3000)")
	scanCmd.Flags().Int("concurrency", 5, "Number of concurrent source scans")
}
