package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/miethe/skillmeat-sub006/pkg/detect"
)

// detectCmd classifies a single path without any network access, useful for
// checking what the scanner would make of a user-supplied location.
var detectCmd = &cobra.Command{
	Use:   "detect <path>",
	Short: "Classify a single repository path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := detect.DefaultRegistry()
		if err := reg.Validate(); err != nil {
			return err
		}
		m := detect.DetectArtifactType(args[0], reg)
		if m == nil {
			fmt.Println("no artifact detected")
			return nil
		}
		fmt.Printf("type:       %s\n", m.ArtifactType)
		fmt.Printf("name:       %s\n", m.Name)
		fmt.Printf("confidence: %d (raw %d)\n", m.ConfidenceScore, m.RawScore)

		signals := make([]string, 0, len(m.ScoreBreakdown))
		for s := range m.ScoreBreakdown {
			signals = append(signals, s)
		}
		sort.Strings(signals)
		for _, s := range signals {
			fmt.Printf("  %-20s %+d\n", s, m.ScoreBreakdown[s])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
