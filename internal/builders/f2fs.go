package builders

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// f2fs needs headroom beyond the content estimate: 54 MiB of fixed metadata
// plus 15%, values lifted from the stock userdata build scripts.
const (
	f2fsBaseOverhead = 54 * 1024 * 1024
	f2fsGrowthNum    = 115
	f2fsGrowthDen    = 100
)

type f2fsBuilder struct {
	deps deps
}

func (b *f2fsBuilder) Filesystem() string { return "f2fs" }

func (b *f2fsBuilder) Build(ctx context.Context, part, srcDir, outDir string, opts Options) error {
	size := opts.ExplicitSize
	if size == 0 {
		content, err := b.deps.estimator.DirSize(srcDir)
		if err != nil {
			return err
		}
		size = (f2fsBaseOverhead+content)*f2fsGrowthNum/f2fsGrowthDen + 1
	}

	out := imagePath(outDir, part)
	if err := preallocate(out, size); err != nil {
		return err
	}

	formatArgs := []string{
		out,
		"-O", "extra_attr",
		"-O", "inode_checksum",
		"-O", "sb_checksum",
		"-O", "compression",
		"-f",
	}
	if err := b.deps.runner.Run(ctx, "mkfs.f2fs", formatArgs...); err != nil {
		os.Remove(out)
		return fmt.Errorf("mkfs.f2fs failed for %s: %w", part, err)
	}

	loadArgs := []string{
		"-f", srcDir,
		"-t", "/" + part,
	}
	if opts.FsConfigPath != "" {
		if _, err := os.Stat(opts.FsConfigPath); err == nil {
			loadArgs = append(loadArgs, "-C", opts.FsConfigPath)
		}
	}
	if contexts, ok := b.deps.contextsArg(part, opts); ok {
		if err := ensureSelfContext(contexts, part); err != nil {
			return err
		}
		loadArgs = append(loadArgs, "-s", contexts)
	}
	loadArgs = append(loadArgs, "-c", out)

	if err := b.deps.runner.Run(ctx, "sload.f2fs", loadArgs...); err != nil {
		os.Remove(out)
		return fmt.Errorf("sload.f2fs failed for %s: %w", part, err)
	}
	return nil
}

// ensureSelfContext appends a label for the partition root when the contexts
// table lacks one; sload refuses trees whose mount point is unlabeled.
func ensureSelfContext(contextsPath, part string) error {
	data, err := os.ReadFile(contextsPath)
	if err != nil {
		return fmt.Errorf("failed to read file_contexts: %w", err)
	}
	root := "/" + part
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && (fields[0] == root || fields[0] == root+"(/.*)?") {
			return nil
		}
	}
	entry := fmt.Sprintf("%s(/.*)? u:object_r:%s_file:s0\n", root, part)
	f, err := os.OpenFile(contextsPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to append file_contexts: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return err
	}
	return nil
}
