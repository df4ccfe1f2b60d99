package builders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/romforge/go-romkitchen/internal/estimate"
	"github.com/romforge/go-romkitchen/internal/tooling"
	"github.com/romforge/go-romkitchen/internal/transfer"
)

// Options carries the per-build knobs shared by every filesystem builder.
type Options struct {
	// Sparse converts the finished raw image to sparse encoding.
	Sparse bool
	// ExplicitSize overrides the estimator; zero means estimate from srcDir.
	ExplicitSize uint64
	// Timestamp pins file times inside the image for reproducible builds;
	// zero means now.
	Timestamp int64
	// FsConfigPath and ContextsPath point at the per-partition side files.
	// Either may be empty when the project never had them.
	FsConfigPath string
	ContextsPath string
}

// Builder regenerates a partition image from an edited directory tree.
type Builder interface {
	// Build produces <outDir>/<part>.img from srcDir. A non-zero tool exit
	// surfaces as *kitchen.ToolError; sibling partitions keep building.
	Build(ctx context.Context, part, srcDir, outDir string, opts Options) error
	// Filesystem names the target filesystem for registry bookkeeping.
	Filesystem() string
}

// deps bundles what every builder needs. Builders never reach for globals:
// the engine threads one of these through.
type deps struct {
	runner    *tooling.Runner
	estimator *estimate.Estimator
	pipeline  *transfer.Pipeline
	log       zerolog.Logger
}

// Set owns the builder implementations keyed by target filesystem.
type Set struct {
	deps deps
}

func NewSet(runner *tooling.Runner, estimator *estimate.Estimator, pipeline *transfer.Pipeline, log zerolog.Logger) *Set {
	return &Set{deps: deps{runner: runner, estimator: estimator, pipeline: pipeline, log: log}}
}

// Ext4 returns the one-step make_ext4fs builder.
func (s *Set) Ext4() Builder { return &ext4Builder{deps: s.deps} }

// Ext4Droid returns the two-step mke2fs + e2fsdroid builder.
func (s *Set) Ext4Droid() Builder { return &ext4DroidBuilder{deps: s.deps} }

// F2fs returns the mkfs.f2fs + sload.f2fs builder.
func (s *Set) F2fs() Builder { return &f2fsBuilder{deps: s.deps} }

// Erofs returns the mkfs.erofs builder with the given compression settings.
func (s *Set) Erofs(algorithm string, level int, legacy bool) Builder {
	return &erofsBuilder{deps: s.deps, algorithm: algorithm, level: level, legacy: legacy}
}

// ForFilesystem picks a builder from a registry type tag. preferDroid selects
// the mke2fs tool chain for ext images.
func (s *Set) ForFilesystem(fsType string, preferDroid bool) (Builder, error) {
	switch fsType {
	case "ext":
		if preferDroid {
			return s.Ext4Droid(), nil
		}
		return s.Ext4(), nil
	case "f2fs":
		return s.F2fs(), nil
	case "erofs":
		return s.Erofs("lz4hc", 9, false), nil
	default:
		return nil, fmt.Errorf("no builder for filesystem %q", fsType)
	}
}

// imageSize resolves the target size: explicit if given, estimated otherwise.
func (d *deps) imageSize(srcDir string, opts Options) (uint64, error) {
	if opts.ExplicitSize > 0 {
		return opts.ExplicitSize, nil
	}
	return d.estimator.Estimate(srcDir)
}

// contextsArg validates the file_contexts side file. Absence degrades to an
// unlabeled image with a warning, never a failure.
func (d *deps) contextsArg(part string, opts Options) (string, bool) {
	if opts.ContextsPath == "" {
		d.log.Warn().Str("part", part).Msg("no file_contexts, building unlabeled image")
		return "", false
	}
	if _, err := os.Stat(opts.ContextsPath); err != nil {
		d.log.Warn().Str("part", part).Str("path", opts.ContextsPath).
			Msg("file_contexts missing, building unlabeled image")
		return "", false
	}
	return opts.ContextsPath, true
}

func imagePath(outDir, part string) string {
	return filepath.Join(outDir, part+".img")
}

// preallocate creates a sparse file of exactly size bytes at path.
func preallocate(path string, size uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to preallocate %s: %w", path, err)
	}
	return f.Close()
}
