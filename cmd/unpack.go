package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/romforge/go-romkitchen/internal/format"
	"github.com/romforge/go-romkitchen/internal/orchestrate"
)

var unpackFrom string

var unpackCmd = &cobra.Command{
	Use:   "unpack [partitions...]",
	Short: "Decode containers and partitions into editable trees",
	Long: `Decode the selected partitions of the project into raw images or
extracted directory trees, updating the partition registry as it goes.

The --from flag names the container the selection lives in:

  auto        detect payload.bin, UPDATE.APP or super.img in the project (default)
  payload     stream partitions out of an OTA payload.bin
  super       extract logical partitions from a dynamic super image
  update-app  split a vendor UPDATE.APP container
  none        process loose per-partition artifacts already in the project

With no partitions named, loose mode processes every artifact it can find and
container modes extract everything the container declares.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		kind, err := resolveContainerKind(s, unpackFrom)
		if err != nil {
			return err
		}

		if kind != orchestrate.KindNone {
			report, err := s.engine.Unpack(cmd.Context(), args, kind)
			if err != nil {
				return err
			}
			return printReport(report)
		}

		selection := args
		if len(selection) == 0 {
			selection = discoverLooseArtifacts(s.engine.Project().SourceDir())
		}
		if len(selection) == 0 {
			return fmt.Errorf("nothing to unpack in %s", s.engine.Project().SourceDir())
		}

		bar := progressbar.NewOptions(len(selection),
			progressbar.OptionSetDescription("unpacking"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		merged := &orchestrate.Report{
			Failed:  make(map[string]error),
			Skipped: make(map[string]string),
		}
		for _, name := range selection {
			report, err := s.engine.Unpack(cmd.Context(), []string{name}, orchestrate.KindNone)
			if err != nil {
				return err
			}
			mergeReport(merged, report)
			bar.Add(1)
		}
		bar.Finish()
		return printReport(merged)
	},
}

func resolveContainerKind(s *session, from string) (orchestrate.ContainerKind, error) {
	switch from {
	case "payload":
		return orchestrate.KindPayload, nil
	case "super":
		return orchestrate.KindSuper, nil
	case "update-app":
		return orchestrate.KindUpdateApp, nil
	case "none":
		return orchestrate.KindNone, nil
	case "auto":
		src := s.engine.Project().SourceDir()
		if _, err := os.Stat(filepath.Join(src, "payload.bin")); err == nil {
			return orchestrate.KindPayload, nil
		}
		if _, err := os.Stat(filepath.Join(src, "UPDATE.APP")); err == nil {
			return orchestrate.KindUpdateApp, nil
		}
		if _, err := os.Stat(filepath.Join(src, "super.img")); err == nil {
			return orchestrate.KindSuper, nil
		}
		return orchestrate.KindNone, nil
	default:
		return orchestrate.KindNone, fmt.Errorf("unknown container %q, expected auto, payload, super, update-app or none", from)
	}
}

// discoverLooseArtifacts scans the source tree for per-partition artifacts and
// returns their canonical names in stable order.
func discoverLooseArtifacts(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !looksLikeArtifact(e.Name()) {
			continue
		}
		name := format.GuessName(e.Name())
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func looksLikeArtifact(name string) bool {
	for _, suffix := range []string{".img", ".zst", ".xz", ".br", ".new.dat", ".emmc"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func mergeReport(dst, src *orchestrate.Report) {
	dst.Processed = append(dst.Processed, src.Processed...)
	for name, err := range src.Failed {
		dst.Failed[name] = err
	}
	for name, reason := range src.Skipped {
		dst.Skipped[name] = reason
	}
}

func init() {
	unpackCmd.Flags().StringVar(&unpackFrom, "from", "auto", "container to unpack from (auto, payload, super, update-app, none)")
	rootCmd.AddCommand(unpackCmd)
}
