package estimate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// The overhead constants are empirical tuning values inherited from years of
// kitchen builds. They are kept configurable but never re-derived: nobody
// remembers the device zoo that produced them.
const (
	DefaultInodeChunk   = 16384
	DefaultInodeCost    = 256
	DefaultSlackTrigger = 100 * 1024 * 1024
	DefaultSlack        = 16 * 1024 * 1024
	DefaultBlockSize    = 4096
)

// Estimator computes the minimum block-aligned image size required to hold a
// directory tree, with format-specific overhead margins.
type Estimator struct {
	InodeChunk   uint64
	InodeCost    uint64
	SlackTrigger uint64
	Slack        uint64
	BlockSize    uint64
}

func NewEstimator() *Estimator {
	return &Estimator{
		InodeChunk:   DefaultInodeChunk,
		InodeCost:    DefaultInodeCost,
		SlackTrigger: DefaultSlackTrigger,
		Slack:        DefaultSlack,
		BlockSize:    DefaultBlockSize,
	}
}

// DirSize sums the content bytes of a tree. Entries that are not regular
// files contribute their name length instead, a stand-in for the directory
// metadata they will occupy in the built image.
func (e *Estimator) DirSize(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
			return nil
		}
		total += uint64(len(d.Name()))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return total, nil
}

// Estimate returns the quantized image size for the tree at dir.
func (e *Estimator) Estimate(dir string) (uint64, error) {
	content, err := e.DirSize(dir)
	if err != nil {
		return 0, err
	}
	return e.Quantize(content), nil
}

// Quantize applies inode overhead, large-image slack and block alignment to
// a raw content size.
func (e *Estimator) Quantize(content uint64) uint64 {
	size := content + content/e.InodeChunk*e.InodeCost
	if size > e.SlackTrigger {
		size += e.Slack
	}
	switch {
	case size <= 2*1024*1024:
		return 2 * 1024 * 1024
	case size <= 1024*1024:
		// Unreachable after the 2 MiB rule, kept for parity with the
		// resize scripts that still special-case 1 MiB.
		return 1024 * 1024
	default:
		return (size + e.BlockSize - 1) / e.BlockSize * e.BlockSize
	}
}

// EstimateAndPatch computes the size for dir and rewrites the resize
// directives for partition part inside the op list at listPath. The rewrite
// is textual: only matching resize and grow lines change, everything else
// stays byte-identical, so hand-edited flashing scripts survive.
func (e *Estimator) EstimateAndPatch(dir, listPath, part string) (uint64, error) {
	size, err := e.Estimate(dir)
	if err != nil {
		return 0, err
	}
	if err := PatchResizeList(listPath, part, size); err != nil {
		return 0, err
	}
	return size, nil
}

// PatchResizeList rewrites `resize <part> <N>` and `resize <part>_a <N>`
// directives (plus their matching human-readable grow comments) to size.
func PatchResizeList(listPath, part string, size uint64) error {
	data, err := os.ReadFile(listPath)
	if err != nil {
		return fmt.Errorf("failed to read op list: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		for _, name := range []string{part, part + "_a"} {
			resizePrefix := "resize " + name + " "
			growPrefix := "# Grow partition " + name + " from 0 to "
			if strings.HasPrefix(line, resizePrefix) {
				lines[i] = fmt.Sprintf("resize %s %d", name, size)
			} else if strings.HasPrefix(line, growPrefix) {
				lines[i] = fmt.Sprintf("# Grow partition %s from 0 to %d", name, size)
			}
		}
	}

	out := strings.Join(lines, "\n")
	if err := os.WriteFile(listPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write op list: %w", err)
	}
	return nil
}
