package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/romforge/go-romkitchen/internal/format"
	"github.com/romforge/go-romkitchen/internal/registry"
	"github.com/romforge/go-romkitchen/internal/transfer"
)

// unpackLoose runs the normalization chain for one loose partition artifact
// until it becomes a flat raw image, then hands it to type post-processing.
func (e *Engine) unpackLoose(ctx context.Context, name string, doc *registry.Document, report *Report) error {
	src := e.project.SourceDir()
	stem := filepath.Join(src, name)

	// Vendor flashing packages ship images cut into sparse chunks; merge
	// them back before anything else looks at the name.
	if chunks, err := transfer.FindSparseChunks(src); err == nil {
		var mine []string
		for _, c := range chunks {
			// "system." must not claim system_ext's chunks.
			base := filepath.Base(c)
			if strings.HasPrefix(base, name+".") || strings.HasPrefix(base, name+"_sparsechunk") ||
				strings.HasPrefix(base, name+"_sparse_chunk") {
				mine = append(mine, c)
			}
		}
		if len(mine) > 0 {
			if err := e.pipeline.MergeSparseChunks(ctx, mine, stem+".img"); err != nil {
				return err
			}
		}
	}

	// A .zst sidecar is a terminal step: decompress and record.
	if _, err := os.Stat(stem + ".img.zst"); err == nil {
		out, err := transfer.DecompressZst(stem + ".img.zst")
		if err != nil {
			return err
		}
		doc.SetType(name, e.classify(out))
		report.ok(name)
		return nil
	}

	// Compressed transfer sidecars decode down to the .new.dat form.
	if _, err := os.Stat(stem + ".new.dat.xz"); err == nil {
		if err := e.pipeline.Convert(ctx, stem, transfer.FormatXz, transfer.FormatDat); err != nil {
			return err
		}
	}
	if _, err := os.Stat(stem + ".new.dat.br"); err == nil {
		if err := e.pipeline.Convert(ctx, stem, transfer.FormatBr, transfer.FormatDat); err != nil {
			return err
		}
	}

	// Multi-part transfer files reassemble by straight concatenation.
	if parts, err := transfer.FindNumberedParts(stem + ".new.dat"); err == nil && len(parts) > 0 {
		if err := transfer.ConcatNumberedParts(stem+".new.dat", parts); err != nil {
			return err
		}
	}

	// Transfer-list replay turns the .new.dat into the raw image.
	if _, err := os.Stat(stem + ".new.dat"); err == nil {
		version, err := e.pipeline.DatToRaw(stem)
		if err != nil {
			return err
		}
		rec, _ := doc.Get(name)
		rec.TransferVersion = version
		doc.Set(name, rec)
	}

	img := stem + ".img"
	info, err := os.Stat(img)
	if err != nil {
		report.skip(name, "no artifact to unpack")
		return nil
	}
	if info.Size() == 0 {
		report.skip(name, "empty image, left untouched")
		return nil
	}

	tag := e.classify(img)
	if tag == format.Sparse {
		if err := e.pipeline.Convert(ctx, stem, transfer.FormatSparse, transfer.FormatRaw); err != nil {
			return err
		}
		tag = e.classify(img)
	}
	return e.postProcess(ctx, name, img, tag, doc, report)
}

// renameByMountPoint corrects a mis-detected ext partition name using the
// superblock's last-mounted field. Returns the possibly-updated name and
// image path.
func (e *Engine) renameByMountPoint(name, img string) (string, string) {
	mp, err := format.MountPoint(img)
	if err != nil || mp == "" || mp == "/" {
		return name, img
	}
	actual := strings.TrimPrefix(filepath.Clean(mp), "/")
	if actual == "" || actual == name || strings.ContainsRune(actual, '/') {
		return name, img
	}
	target := filepath.Join(filepath.Dir(img), actual+".img")
	if _, err := os.Stat(target); err == nil {
		return name, img
	}
	if err := os.Rename(img, target); err != nil {
		return name, img
	}
	e.log.Info().Str("from", name).Str("to", actual).Msg("renamed partition by mount point")
	return actual, target
}

// extractFilesystem runs an external filesystem codec and applies the
// delete-on-success rule: the source image goes away only when extraction
// produced a non-empty directory.
func (e *Engine) extractFilesystem(ctx context.Context, name, img string, tag format.Tag) error {
	outDir := filepath.Join(filepath.Dir(img), name)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	var err error
	switch tag {
	case format.Ext:
		err = e.runner.Run(ctx, "imgextractor", img, outDir)
	case format.Erofs:
		err = e.runner.Run(ctx, "extract.erofs", "-i", img, "-x", "-o", outDir)
	case format.F2fs:
		err = e.runner.Run(ctx, "extract.f2fs", "-o", outDir, img)
	case format.Romfs:
		err = e.runner.Run(ctx, "romfs_extract", img, outDir)
	default:
		return fmt.Errorf("no filesystem codec for %s", tag)
	}
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%s extraction produced an empty directory, keeping %s", tag, filepath.Base(img))
	}
	return os.Remove(img)
}
