// Package cmd implements the elevationmap CLI: serving the query API,
// building and validating the spatial index, and one-off lookups.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "elevationmap",
	Short: "Elevation query service over DEM tiles in object storage",
	Long: `Elevationmap answers point and bulk elevation queries against a
corpus of DEM GeoTIFF tiles in cloud object storage, falling back to
external elevation APIs where the corpus has no coverage.

It maintains a hierarchical spatial index (collection, campaign, tile)
built directly from object listings and raster headers.`,
}

// Execute runs the CLI. Builder subcommands use dedicated exit codes;
// everything else exits 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("bucket", "", "Object-storage bucket holding the DEM corpus")
	rootCmd.PersistentFlags().String("region", "ap-southeast-2", "Object-storage region")
	rootCmd.PersistentFlags().Bool("anonymous", false, "Access the bucket without credentials (public buckets)")
	rootCmd.PersistentFlags().String("local-dir", "", "Serve rasters from a local directory instead of a bucket")
	rootCmd.PersistentFlags().String("index", "spatial_index.json", "Path to the spatial index file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	for _, name := range []string{"bucket", "region", "anonymous", "local-dir", "index", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("ELEVATIONMAP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
