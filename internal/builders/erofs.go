package builders

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// erofsBuilder wraps mkfs.erofs. erofs sizes itself, so no estimator pass and
// no preallocation: the formatter decides the final image length.
type erofsBuilder struct {
	deps      deps
	algorithm string
	level     int
	legacy    bool
}

func (b *erofsBuilder) Filesystem() string { return "erofs" }

func (b *erofsBuilder) Build(ctx context.Context, part, srcDir, outDir string, opts Options) error {
	ts := opts.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	args := []string{
		"-z" + b.algorithm + "," + strconv.Itoa(b.level),
		"-T", strconv.FormatInt(ts, 10),
		"--mount-point=/" + part,
	}
	if b.legacy {
		// Old kernels only read the legacy compression layout.
		args = append(args, "-E", "legacy-compress")
	}
	if opts.FsConfigPath != "" {
		args = append(args, "--fs-config-file="+opts.FsConfigPath)
	}
	if contexts, ok := b.deps.contextsArg(part, opts); ok {
		args = append(args, "--file-contexts="+contexts)
	}
	args = append(args, imagePath(outDir, part), srcDir)

	if err := b.deps.runner.Run(ctx, "mkfs.erofs", args...); err != nil {
		return fmt.Errorf("mkfs.erofs failed for %s: %w", part, err)
	}
	return nil
}
