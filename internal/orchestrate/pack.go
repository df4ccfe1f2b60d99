package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/romforge/go-romkitchen/internal/builders"
	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/registry"
	"github.com/romforge/go-romkitchen/internal/superimg"
	"github.com/romforge/go-romkitchen/internal/transfer"
)

// PackOptions steers a repack batch.
type PackOptions struct {
	// UseDroidTools selects the mke2fs/e2fsdroid chain for ext images.
	UseDroidTools bool
	// Sparse asks the builder for a sparse image.
	Sparse bool
	// Timestamp pins file times; zero means now.
	Timestamp int64
	// Target re-encodes the built image to match the original container
	// encoding; empty or raw leaves the raw image as is.
	Target transfer.Format
	// BrotliLevel is the operator-chosen level for a first-time br encode.
	BrotliLevel int
	// KeepDirectory skips the delete-after-pack of the source tree.
	KeepDirectory bool
	// Erofs compression settings.
	ErofsAlgorithm string
	ErofsLevel     int
	ErofsLegacy    bool
}

// Pack regenerates images for every selected partition that has an extracted
// directory, re-encodes them to the requested target representation and
// deletes the consumed directory unless asked otherwise. Per-partition
// failures never abort the batch.
func (e *Engine) Pack(ctx context.Context, selection []string, opts PackOptions) (*Report, error) {
	doc, err := e.loadRegistry()
	if err != nil {
		return nil, err
	}
	report := newReport()
	src := e.project.SourceDir()
	out := e.project.OutputDir()

	for _, name := range selection {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := e.packOne(ctx, name, src, out, doc, opts); err != nil {
			e.log.Error().Str("part", name).Err(err).Msg("pack failed")
			report.fail(name, err)
			continue
		}
		report.ok(name)
	}

	if saveErr := e.saveRegistry(doc); saveErr != nil {
		return report, saveErr
	}
	return report, nil
}

func (e *Engine) packOne(ctx context.Context, name, src, out string, doc *registry.Document, opts PackOptions) error {
	srcDir := filepath.Join(src, name)
	if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
		return fmt.Errorf("no extracted directory for %s", name)
	}

	rec, ok := doc.Get(name)
	if !ok {
		return fmt.Errorf("%s is not in the partition registry", name)
	}

	var builder builders.Builder
	var err error
	if rec.Type == "erofs" {
		algorithm := opts.ErofsAlgorithm
		if algorithm == "" {
			algorithm = "lz4hc"
		}
		level := opts.ErofsLevel
		if level == 0 {
			level = 9
		}
		builder = e.builders.Erofs(algorithm, level, opts.ErofsLegacy)
	} else {
		builder, err = e.builders.ForFilesystem(rec.Type, opts.UseDroidTools)
		if err != nil {
			return err
		}
	}

	configDir := e.project.ConfigDir()
	buildOpts := builders.Options{
		Sparse:       opts.Sparse,
		Timestamp:    opts.Timestamp,
		ExplicitSize: rec.Size,
		FsConfigPath: sideFile(configDir, name, "_fs_config"),
		ContextsPath: sideFile(configDir, name, "_file_contexts"),
	}
	if err := builder.Build(ctx, name, srcDir, out, buildOpts); err != nil {
		return err
	}

	stem := filepath.Join(out, name)
	if img, statErr := os.Stat(stem + ".img"); statErr == nil {
		rec.Size = uint64(img.Size())
		doc.Set(name, rec)
	}

	switch opts.Target {
	case "", transfer.FormatRaw, transfer.FormatSparse:
		// Sparse is the builder's business via opts.Sparse.
	case transfer.FormatBr:
		if err := e.pipeline.EncodeBrotli(ctx, stem, opts.BrotliLevel); err != nil {
			return err
		}
	default:
		if err := e.pipeline.Convert(ctx, stem, transfer.FormatRaw, opts.Target); err != nil {
			return err
		}
	}

	if !opts.KeepDirectory {
		if err := os.RemoveAll(srcDir); err != nil {
			return fmt.Errorf("packed %s but failed to remove its directory: %w", name, err)
		}
	}
	return nil
}

// sideFile returns the per-partition side file path, or empty when absent.
func sideFile(configDir, name, suffix string) string {
	path := filepath.Join(configDir, name+suffix)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// SuperOptions steers a super-image synthesis.
type SuperOptions struct {
	GroupName    string
	BlockDevice  string
	TotalSize    uint64
	Mode         superimg.SlotMode
	Attrib       superimg.Attribute
	SparseOutput bool
	// AcceptAdjusted applies a size-safety growth without asking again.
	AcceptAdjusted bool
}

// PackSuper synthesizes a flashable super image from the selected partition
// images in the output tree. When the content outgrows the requested size
// and AcceptAdjusted is unset, the SizeError surfaces so the operator can
// confirm the grown total.
func (e *Engine) PackSuper(ctx context.Context, selection []string, outPath string, opts SuperOptions) error {
	doc, err := e.loadRegistry()
	if err != nil {
		return err
	}

	layout, err := superimg.BuildLayout(e.project.OutputDir(), opts.BlockDevice, opts.GroupName,
		opts.TotalSize, opts.Mode, opts.Attrib, selection)
	if err != nil {
		return err
	}

	if err := layout.CheckSize(); err != nil {
		var sizeErr *kitchen.SizeError
		if errors.As(err, &sizeErr) && opts.AcceptAdjusted {
			e.log.Warn().Uint64("requested", sizeErr.Requested).
				Uint64("adjusted", sizeErr.Adjusted).Msg("super size grown to fit content")
			layout.TotalSize = sizeErr.Adjusted
		} else {
			return err
		}
	}

	if err := e.synth.Synthesize(ctx, layout, outPath, opts.SparseOutput); err != nil {
		return err
	}

	doc.Super = layout.SuperInfo()
	return e.saveRegistry(doc)
}

// RestoreSuperLayout rebuilds a layout for UI pre-selection from the
// registry, falling back to the resize-operation list when the registry
// never saw the super metadata.
func (e *Engine) RestoreSuperLayout() (*superimg.Layout, error) {
	doc, err := e.loadRegistry()
	if err != nil {
		return nil, err
	}
	if doc.Super != nil {
		return superimg.FromSuperInfo(doc.Super)
	}
	opList := filepath.Join(e.project.SourceDir(), "dynamic_partitions_op_list")
	if _, err := os.Stat(opList); err == nil {
		return superimg.FromOpList(opList)
	}
	return nil, fmt.Errorf("project has no recorded super layout")
}
