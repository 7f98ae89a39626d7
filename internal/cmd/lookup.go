package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/elevationmap/internal/engine"
	"github.com/MeKo-Tech/elevationmap/internal/selector"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <lat> <lon>",
	Short: "Resolve a single coordinate from the command line",
	Args:  cobra.ExactArgs(2),
	RunE:  runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)

	lookupCmd.Flags().String("policy", "BALANCED", "Selection policy: FASTEST, CHEAPEST, BALANCED or QUALITY")
	lookupCmd.Flags().String("source-id", "", "Restrict the search to one campaign")
	lookupCmd.Flags().String("sources", "", "Source catalog file (YAML or JSON)")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, lookupCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("lookup.policy", "policy")
	mustBind("lookup.source_id", "source-id")
	mustBind("lookup.sources", "sources")
}

func runLookup(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("parsing latitude %q: %w", args[0], err)
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("parsing longitude %q: %w", args[1], err)
	}
	policy, err := selector.ParsePolicy(viper.GetString("lookup.policy"))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Config{
		IndexPath:     viper.GetString("index"),
		CatalogPath:   viper.GetString("lookup.sources"),
		Store:         store,
		RateLimitMode: "local",
		QueryDeadline: 30 * time.Second,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Query(ctx, lat, lon, policy, viper.GetString("lookup.source_id"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"elevation_m": res.Elevation,
		"source":      res.Source,
		"dataset_id":  res.DatasetID,
		"tile_key":    res.TileKey,
		"crs":         res.CRS,
		"method":      res.Method,
		"message":     res.Reason,
	})
}
