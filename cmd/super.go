package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/orchestrate"
	"github.com/romforge/go-romkitchen/internal/superimg"
)

var (
	superGroup       string
	superBlockDevice string
	superSize        uint64
	superMode        string
	superReadWrite   bool
	superSparse      bool
	superOutput      string
)

var superCmd = &cobra.Command{
	Use:   "super",
	Short: "Synthesize or inspect dynamic-partition super images",
}

var superPackCmd = &cobra.Command{
	Use:   "pack <partitions...>",
	Short: "Synthesize a flashable super image from partition images",
	Long: `Synthesize a dynamic-partition super image from the selected
partition images in the project output tree.

When the selected content outgrows --size, the total is grown in
quarter-gigabyte steps and the command fails with the adjusted size unless
--yes accepts the growth up front.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		mode, err := parseSlotMode(superMode)
		if err != nil {
			return err
		}
		attrib := superimg.AttrReadonly
		if superReadWrite {
			attrib = superimg.AttrNone
		}

		outPath := superOutput
		if outPath == "" {
			outPath = filepath.Join(s.engine.Project().OutputDir(), "super.img")
		}
		opts := orchestrate.SuperOptions{
			GroupName:      superGroup,
			BlockDevice:    superBlockDevice,
			TotalSize:      superSize,
			Mode:           mode,
			Attrib:         attrib,
			SparseOutput:   superSparse,
			AcceptAdjusted: assumeYes,
		}
		if err := s.engine.PackSuper(cmd.Context(), args, outPath, opts); err != nil {
			var sizeErr *kitchen.SizeError
			if errors.As(err, &sizeErr) {
				return fmt.Errorf("content needs %d bytes, grown total is %d; re-run with --size %d or --yes to accept",
					sizeErr.Content, sizeErr.Adjusted, sizeErr.Adjusted)
			}
			return err
		}
		fmt.Printf("Wrote %s\n", outPath)
		return nil
	},
}

var superRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Show the super layout recorded for this project",
	Long: `Rebuild the super layout from the partition registry, falling back
to the dynamic-partition op list when the registry never saw the metadata.
The printed values pre-fill a later super pack invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		layout, err := s.engine.RestoreSuperLayout()
		if err != nil {
			return err
		}
		fmt.Printf("Block device: %s\n", layout.BlockDevice)
		fmt.Printf("Group:        %s\n", layout.GroupName)
		fmt.Printf("Total size:   %d\n", layout.TotalSize)
		fmt.Printf("Slot mode:    %s\n", layout.Mode)
		for _, e := range layout.Entries {
			fmt.Printf("  %-24s %-16s %d\n", e.Name, e.Group, e.Size)
		}
		return nil
	},
}

func parseSlotMode(name string) (superimg.SlotMode, error) {
	switch name {
	case "a-only", "A-only":
		return superimg.SlotAOnly, nil
	case "vab", "Virtual-AB":
		return superimg.SlotVirtualAB, nil
	case "ab", "A/B":
		return superimg.SlotAB, nil
	}
	return "", fmt.Errorf("unknown slot mode %q, expected a-only, vab or ab", name)
}

func init() {
	superPackCmd.Flags().StringVar(&superGroup, "group", "qti_dynamic_partitions", "partition group name")
	superPackCmd.Flags().StringVar(&superBlockDevice, "block-device", "super", "block device name in the metadata table")
	superPackCmd.Flags().Uint64Var(&superSize, "size", 0, "total super size in bytes (required)")
	superPackCmd.Flags().StringVar(&superMode, "mode", "a-only", "slot mode (a-only, vab, ab)")
	superPackCmd.Flags().BoolVar(&superReadWrite, "read-write", false, "mark partitions writable instead of readonly")
	superPackCmd.Flags().BoolVar(&superSparse, "sparse", false, "emit a sparse super image")
	superPackCmd.Flags().StringVar(&superOutput, "output", "", "output path (default <output>/super.img)")
	superPackCmd.MarkFlagRequired("size")

	superCmd.AddCommand(superPackCmd)
	superCmd.AddCommand(superRestoreCmd)
	rootCmd.AddCommand(superCmd)
}
