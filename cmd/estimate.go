package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var estimatePatchList string

var estimateCmd = &cobra.Command{
	Use:   "estimate <partition>",
	Short: "Compute the minimum image size for an extracted tree",
	Long: `Compute the minimum block-aligned image size required to rebuild
the named partition from its extracted directory tree, including inode
overhead and large-image slack.

With --patch-list the matching resize directives inside the given
dynamic-partition op list are rewritten to the computed size. The rewrite is
textual: unrelated lines stay byte-identical.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		name := args[0]
		dir := filepath.Join(s.engine.Project().SourceDir(), name)

		var size uint64
		if estimatePatchList != "" {
			size, err = s.engine.Estimator().EstimateAndPatch(dir, estimatePatchList, name)
		} else {
			size, err = s.engine.Estimator().Estimate(dir)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes\n", name, size)
		return nil
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimatePatchList, "patch-list", "", "rewrite resize directives in this op list")
	rootCmd.AddCommand(estimateCmd)
}
