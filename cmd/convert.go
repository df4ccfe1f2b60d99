package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/romforge/go-romkitchen/internal/transfer"
)

var (
	convertFrom        string
	convertTo          string
	convertBrotliLevel int
)

var convertCmd = &cobra.Command{
	Use:   "convert <partition>",
	Short: "Transcode a partition artifact among raw, sparse, dat, br and xz",
	Long: `Transcode the named partition's artifact in the project source tree
from one representation to another. The artifact is addressed by its stem: for
partition system the chain works on system.img, system.new.dat,
system.new.dat.br and so on, deleting each consumed input only after the
produced file exists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		from, err := parseFormat(convertFrom)
		if err != nil {
			return err
		}
		to, err := parseFormat(convertTo)
		if err != nil {
			return err
		}

		stem := filepath.Join(s.engine.Project().SourceDir(), args[0])
		if from == transfer.FormatRaw && to == transfer.FormatBr && cmd.Flags().Changed("brotli-level") {
			return s.engine.Pipeline().EncodeBrotli(cmd.Context(), stem, convertBrotliLevel)
		}
		return s.engine.Pipeline().Convert(cmd.Context(), stem, from, to)
	},
}

func parseFormat(name string) (transfer.Format, error) {
	switch name {
	case "raw":
		return transfer.FormatRaw, nil
	case "sparse":
		return transfer.FormatSparse, nil
	case "dat":
		return transfer.FormatDat, nil
	case "br":
		return transfer.FormatBr, nil
	case "xz":
		return transfer.FormatXz, nil
	}
	return "", fmt.Errorf("unknown format %q, expected raw, sparse, dat, br or xz", name)
}

func init() {
	convertCmd.Flags().StringVar(&convertFrom, "from", "", "current representation (required)")
	convertCmd.Flags().StringVar(&convertTo, "to", "", "target representation (required)")
	convertCmd.Flags().IntVar(&convertBrotliLevel, "brotli-level", 0, "brotli level for a raw to br encode")
	convertCmd.MarkFlagRequired("from")
	convertCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(convertCmd)
}
