package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/elevationmap/internal/builder"
	"github.com/MeKo-Tech/elevationmap/internal/index"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build, update and validate the spatial index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the spatial index from a full bucket listing",
	Long: `Build enumerates every raster object under the configured prefix,
extracts per-tile metadata in parallel, and writes a new spatial index.
Interrupted builds resume from the most recent checkpoint.`,
	RunE: runIndexBuild,
}

var indexUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Incrementally update an existing index from modified objects",
	RunE:  runIndexUpdate,
}

var indexValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run structural checks against an index file",
	RunE:  runIndexValidate,
}

var indexSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Extract a stratified per-region sample to validate recognition rules",
	RunE:  runIndexSample,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd, indexUpdateCmd, indexValidateCmd, indexSampleCmd)

	for _, c := range []*cobra.Command{indexBuildCmd, indexUpdateCmd, indexSampleCmd} {
		c.Flags().String("country", "AU", "Corpus grouping rules (AU or NZ)")
		c.Flags().String("provider", "Geoscience Australia", "Provider name recorded on new campaigns")
		c.Flags().String("prefix", "", "Restrict enumeration to one key prefix")
		c.Flags().IntP("workers", "w", 32, "Number of parallel extraction workers")
		c.Flags().Int("checkpoint-every", 10000, "Tiles between checkpoints")
		c.Flags().Bool("progress", true, "Show a progress bar")
	}
	indexSampleCmd.Flags().Int("per-region", 50, "Sample quota per detected region")

	mustBind := func(cmd *cobra.Command, key, name string) {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	for _, c := range []*cobra.Command{indexBuildCmd, indexUpdateCmd, indexSampleCmd} {
		prefix := "index." + c.Name()
		mustBind(c, prefix+".country", "country")
		mustBind(c, prefix+".provider", "provider")
		mustBind(c, prefix+".prefix", "prefix")
		mustBind(c, prefix+".workers", "workers")
		mustBind(c, prefix+".checkpoint_every", "checkpoint-every")
		mustBind(c, prefix+".progress", "progress")
	}
	mustBind(indexSampleCmd, "index.sample.per_region", "per-region")
}

// buildConfig assembles the builder config shared by build/update/
// sample from the subcommand's bound viper keys.
func buildConfig(ctx context.Context, sub string) (builder.Config, error) {
	store, err := openStore(ctx)
	if err != nil {
		return builder.Config{}, err
	}
	prefix := "index." + sub
	return builder.Config{
		Store:           store,
		Bucket:          viper.GetString("bucket"),
		Country:         viper.GetString(prefix + ".country"),
		Provider:        viper.GetString(prefix + ".provider"),
		Prefix:          viper.GetString(prefix + ".prefix"),
		IndexPath:       viper.GetString("index"),
		Workers:         viper.GetInt(prefix + ".workers"),
		CheckpointEvery: viper.GetInt(prefix + ".checkpoint_every"),
		ShowProgress:    viper.GetBool(prefix + ".progress"),
		Logger:          logger,
	}, nil
}

// signalContext cancels on SIGINT/SIGTERM so in-flight workers finish
// their current object and a final checkpoint is flushed.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := buildConfig(ctx, "build")
	if err != nil {
		return err
	}
	b, err := builder.New(cfg)
	if err != nil {
		return err
	}
	ix, stats, err := b.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("index built: %d tiles (%d extracted, %d failed, %d resumed)\n",
		ix.TotalTileCount, stats.Extracted, stats.Failed, stats.Resumed)
	return nil
}

func runIndexUpdate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := buildConfig(ctx, "update")
	if err != nil {
		return err
	}
	existing, err := index.Load(cfg.IndexPath)
	if err != nil {
		return err
	}
	b, err := builder.New(cfg)
	if err != nil {
		return err
	}
	ix, stats, err := b.Update(ctx, existing)
	if err != nil {
		return err
	}
	fmt.Printf("index updated: %d tiles (%d extracted, %d failed)\n",
		ix.TotalTileCount, stats.Extracted, stats.Failed)
	return nil
}

func runIndexValidate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	path := viper.GetString("index")
	ix, err := index.Load(path)
	if err != nil {
		return err
	}
	if err := ix.Validate(); err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d tiles, %d collections)\n", path, ix.TotalTileCount, len(ix.Collections))
	return nil
}

func runIndexSample(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := buildConfig(ctx, "sample")
	if err != nil {
		return err
	}
	b, err := builder.New(cfg)
	if err != nil {
		return err
	}
	reports, err := b.SampleBuild(ctx, viper.GetInt("index.sample.per_region"))
	for _, rep := range reports {
		fmt.Printf("%-4s sampled=%-4d extracted=%-4d failed=%-3d methods=%v\n",
			rep.Region, rep.Sampled, rep.Extracted, rep.Failed, rep.Methods)
	}
	return err
}
