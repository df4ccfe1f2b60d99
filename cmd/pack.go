package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/romforge/go-romkitchen/internal/orchestrate"
	"github.com/romforge/go-romkitchen/internal/transfer"
)

var (
	packDroidTools  bool
	packSparse      bool
	packTimestamp   int64
	packTarget      string
	packBrotliLevel int
	packKeepDir     bool
	packErofsAlgo   string
	packErofsLevel  int
	packErofsLegacy bool
)

var packCmd = &cobra.Command{
	Use:   "pack <partitions...>",
	Short: "Rebuild partition images from edited trees",
	Long: `Rebuild the image of every selected partition from its extracted
directory tree, using the filesystem recorded in the partition registry.

The built image is raw by default. --sparse asks the builder for a sparse
image; --target re-encodes into the transfer-list chain (dat, br, xz) to match
the original container encoding. The consumed directory is deleted after a
successful pack unless --keep-dir is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		var target transfer.Format
		switch packTarget {
		case "", "raw":
			target = transfer.FormatRaw
		case "sparse":
			target = transfer.FormatSparse
			packSparse = true
		case "dat":
			target = transfer.FormatDat
		case "br":
			target = transfer.FormatBr
		case "xz":
			target = transfer.FormatXz
		default:
			return fmt.Errorf("unknown target %q, expected raw, sparse, dat, br or xz", packTarget)
		}

		if !cmd.Flags().Changed("brotli-level") {
			packBrotliLevel = viper.GetInt("brotli.level")
		}
		if packErofsAlgo == "" {
			packErofsAlgo = viper.GetString("erofs.algorithm")
		}
		if packErofsLevel == 0 {
			packErofsLevel = viper.GetInt("erofs.level")
		}

		opts := orchestrate.PackOptions{
			UseDroidTools:  packDroidTools,
			Sparse:         packSparse,
			Timestamp:      packTimestamp,
			Target:         target,
			BrotliLevel:    packBrotliLevel,
			KeepDirectory:  packKeepDir,
			ErofsAlgorithm: packErofsAlgo,
			ErofsLevel:     packErofsLevel,
			ErofsLegacy:    packErofsLegacy,
		}
		report, err := s.engine.Pack(cmd.Context(), args, opts)
		if err != nil {
			return err
		}
		return printReport(report)
	},
}

func init() {
	packCmd.Flags().BoolVar(&packDroidTools, "droid-tools", false, "build ext images with mke2fs and e2fsdroid")
	packCmd.Flags().BoolVar(&packSparse, "sparse", false, "produce sparse images")
	packCmd.Flags().Int64Var(&packTimestamp, "timestamp", 0, "pin file times to a unix timestamp (0 means now)")
	packCmd.Flags().StringVar(&packTarget, "target", "raw", "output encoding (raw, sparse, dat, br, xz)")
	packCmd.Flags().IntVar(&packBrotliLevel, "brotli-level", 3, "brotli compression level 0-9 for --target br")
	packCmd.Flags().BoolVar(&packKeepDir, "keep-dir", false, "keep the extracted directory after packing")
	packCmd.Flags().StringVar(&packErofsAlgo, "erofs-algorithm", "", "erofs compression algorithm (default lz4hc)")
	packCmd.Flags().IntVar(&packErofsLevel, "erofs-level", 0, "erofs compression level (default 9)")
	packCmd.Flags().BoolVar(&packErofsLegacy, "erofs-legacy", false, "emit legacy-compatible erofs images")
	rootCmd.AddCommand(packCmd)
}
