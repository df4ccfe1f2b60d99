package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose     bool
	projectName string
	assumeYes   bool
)

var rootCmd = &cobra.Command{
	Use:   "romkitchen",
	Short: "Android firmware unpack/repack kitchen",
	Long: `romkitchen ingests Android firmware containers (OTA zips, payloads,
vendor flashing packages, dynamic-partition super images) and turns each
logical partition into a re-flashable image or an editable directory tree.

Commands:
  project     Create, list and delete firmware projects
  unpack      Decode containers and partitions into editable trees
  pack        Rebuild partition images from edited trees
  convert     Transcode among raw, sparse, dat, brotli and xz encodings
  super       Synthesize or inspect dynamic-partition super images
  estimate    Compute the minimum image size for a directory tree`,
	Version: "1.2.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&projectName, "project", "P", "", "project to operate on")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "accept size adjustments without asking")
}
