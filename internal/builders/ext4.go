package builders

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/romforge/go-romkitchen/internal/transfer"
)

// ext4Builder formats and populates in one step with make_ext4fs.
type ext4Builder struct {
	deps deps
}

func (b *ext4Builder) Filesystem() string { return "ext" }

func (b *ext4Builder) Build(ctx context.Context, part, srcDir, outDir string, opts Options) error {
	size, err := b.deps.imageSize(srcDir, opts)
	if err != nil {
		return err
	}
	ts := opts.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	out := imagePath(outDir, part)
	args := []string{
		"-J",
		"-T", strconv.FormatInt(ts, 10),
		"-l", strconv.FormatUint(size, 10),
		"-L", part,
		"-a", "/" + part,
	}
	if contexts, ok := b.deps.contextsArg(part, opts); ok {
		args = append(args, "-S", contexts)
	}
	if opts.Sparse {
		args = append(args, "-s")
	}
	args = append(args, out, srcDir)

	if err := b.deps.runner.Run(ctx, "make_ext4fs", args...); err != nil {
		return fmt.Errorf("make_ext4fs failed for %s: %w", part, err)
	}
	return nil
}

// ext4DroidBuilder formats an empty image with mke2fs, then populates it with
// e2fsdroid. Closer to how AOSP builds system images, and the only option for
// trees that make_ext4fs chokes on.
type ext4DroidBuilder struct {
	deps deps
}

func (b *ext4DroidBuilder) Filesystem() string { return "ext" }

func (b *ext4DroidBuilder) Build(ctx context.Context, part, srcDir, outDir string, opts Options) error {
	size, err := b.deps.imageSize(srcDir, opts)
	if err != nil {
		return err
	}
	ts := opts.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	out := imagePath(outDir, part)
	blocks := (size + 4095) / 4096

	// Journal and metadata checksums stay off: stock kernels reject images
	// that carry them.
	formatArgs := []string{
		"-O", "^has_journal,^metadata_csum",
		"-L", part,
		"-I", "256",
		"-M", "/" + part,
		"-m", "0",
		"-t", "ext4",
		"-b", "4096",
		out, strconv.FormatUint(blocks, 10),
	}
	if err := b.deps.runner.Run(ctx, "mke2fs", formatArgs...); err != nil {
		os.Remove(out)
		return fmt.Errorf("mke2fs failed for %s: %w", part, err)
	}

	populateArgs := []string{
		"-e",
		"-T", strconv.FormatInt(ts, 10),
		"-a", "/" + part,
		"-f", srcDir,
	}
	if opts.FsConfigPath != "" {
		if _, err := os.Stat(opts.FsConfigPath); err == nil {
			populateArgs = append(populateArgs, "-C", opts.FsConfigPath)
		}
	}
	if contexts, ok := b.deps.contextsArg(part, opts); ok {
		populateArgs = append(populateArgs, "-S", contexts)
	}
	populateArgs = append(populateArgs, out)

	if err := b.deps.runner.Run(ctx, "e2fsdroid", populateArgs...); err != nil {
		os.Remove(out)
		return fmt.Errorf("e2fsdroid failed for %s: %w", part, err)
	}

	if opts.Sparse {
		stem := out[:len(out)-len(".img")]
		if err := b.deps.pipeline.Convert(ctx, stem, transfer.FormatRaw, transfer.FormatSparse); err != nil {
			return fmt.Errorf("failed to sparse %s: %w", part, err)
		}
	}
	return nil
}
