package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/elevationmap/internal/catalog"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources <catalog-file>",
	Short: "Validate and summarize a source catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("schema %s, %d sources\n", cat.SchemaVersion, len(cat.ElevationSources))
	for _, s := range cat.ElevationSources {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		target := s.Path
		if s.Type == catalog.SourceHTTPAPI {
			target = s.Endpoint
		}
		fmt.Printf("  %-24s %-14s prio=%-3d res=%gm %-8s %s\n",
			s.ID, s.Type, s.Priority, s.ResolutionM, state, target)
	}
	return nil
}
