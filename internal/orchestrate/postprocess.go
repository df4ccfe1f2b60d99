package orchestrate

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/romforge/go-romkitchen/internal/format"
	"github.com/romforge/go-romkitchen/internal/registry"
)

// postProcess dispatches on the classified tag of a flat raw image. The
// switch is exhaustive over the tag enum: every format either has a handler
// or is an explicit informational terminal state.
func (e *Engine) postProcess(ctx context.Context, name, img string, tag format.Tag, doc *registry.Document, report *Report) error {
	switch tag {
	case format.Ext:
		name, img = e.renameByMountPoint(name, img)
		if err := e.extractFilesystem(ctx, name, img, tag); err != nil {
			return err
		}
		doc.SetType(name, format.Ext)

	case format.Erofs, format.F2fs, format.Romfs:
		if err := e.extractFilesystem(ctx, name, img, tag); err != nil {
			return err
		}
		doc.SetType(name, tag)

	case format.Boot, format.VendorBoot:
		if err := e.unpackBoot(ctx, name, img); err != nil {
			return err
		}
		doc.SetType(name, tag)

	case format.Dtbo:
		if err := e.unpackDtbo(ctx, name, img); err != nil {
			return err
		}
		doc.SetType(name, format.Dtbo)

	case format.Vbmeta:
		if err := patchVbmetaFlags(img); err != nil {
			return err
		}
		doc.SetType(name, format.Vbmeta)

	case format.Logo:
		outDir := filepath.Join(filepath.Dir(img), name)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		if err := e.runner.Run(ctx, "logo_dumper", img, "-o", outDir); err != nil {
			// Corrupt logo tables are a warning, not a batch failure.
			e.log.Warn().Str("part", name).Err(err).Msg("logo unpack failed, image kept")
			report.skip(name, "logo header rejected by dumper")
			return nil
		}
		doc.SetType(name, format.Logo)

	case format.Super:
		// Nested super: same path as a top-level super container.
		return e.unpackSuper(ctx, img, nil, doc, report)

	case format.Sparse:
		// The caller converts sparse to raw before dispatching; seeing it
		// here means the conversion regressed.
		return fmt.Errorf("sparse image reached post-processing: %s", img)

	case format.Payload, format.TransferList, format.Zip, format.Gzip,
		format.Xz, format.Zstd, format.Lz4:
		report.skip(name, fmt.Sprintf("nested %s container, unpack it explicitly", tag))
		return nil

	case format.Raw, format.Unknown:
		// Terminal and informational, never an error.
		doc.SetType(name, format.Unknown)
		report.skip(name, "unrecognized image, left untouched")
		return nil

	default:
		return fmt.Errorf("unhandled format tag %v", tag)
	}

	report.ok(name)
	return nil
}

// unpackBoot explodes a boot/vendor_boot image with the boot codec, which
// detects ramdisk compression on its own, then parks the source image inside
// the unpack directory so repacking keeps its header template.
func (e *Engine) unpackBoot(ctx context.Context, name, img string) error {
	outDir := filepath.Join(filepath.Dir(img), name)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create boot unpack directory: %w", err)
	}
	if err := e.runner.RunIn(ctx, outDir, "magiskboot", "unpack", "-h", img); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(outDir, "ramdisk.cpio")); err == nil {
		if err := e.runner.RunIn(ctx, outDir, "magiskboot", "cpio", "ramdisk.cpio", "extract"); err != nil {
			return err
		}
	}
	return os.Rename(img, filepath.Join(outDir, filepath.Base(img)))
}

// unpackDtbo expands the overlay table into numbered blobs, then decompiles
// each into a .dts source.
func (e *Engine) unpackDtbo(ctx context.Context, name, img string) error {
	outDir := filepath.Join(filepath.Dir(img), name)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create dtbo unpack directory: %w", err)
	}
	prefix := filepath.Join(outDir, "dtbo")
	if err := e.runner.Run(ctx, "mkdtboimg", "dump", img, "-b", prefix); err != nil {
		return err
	}
	blobs, err := filepath.Glob(prefix + ".*")
	if err != nil {
		return err
	}
	for _, blob := range blobs {
		if strings.HasSuffix(blob, ".dts") {
			continue
		}
		dts := blob + ".dts"
		if err := e.runner.Run(ctx, "dtc", "-I", "dtb", "-O", "dts", "-o", dts, blob); err != nil {
			return err
		}
	}
	return nil
}

// avbFlagsOffset is where the 32-bit flags field sits in an AVB0 header;
// value 3 sets both the verification-disabled and hashtree-disabled bits.
const (
	avbFlagsOffset   = 120
	avbDisabledFlags = 3
)

// patchVbmetaFlags disables verified boot in place so modified partitions
// still boot.
func patchVbmetaFlags(img string) error {
	f, err := os.OpenFile(img, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open vbmeta: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil || string(magic) != "AVB0" {
		return fmt.Errorf("%s is not a vbmeta image", filepath.Base(img))
	}
	flags := make([]byte, 4)
	binary.BigEndian.PutUint32(flags, avbDisabledFlags)
	if _, err := f.WriteAt(flags, avbFlagsOffset); err != nil {
		return fmt.Errorf("failed to patch vbmeta flags: %w", err)
	}
	return nil
}
