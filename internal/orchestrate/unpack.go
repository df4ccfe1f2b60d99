package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/romforge/go-romkitchen/internal/format"
	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/registry"
	"github.com/romforge/go-romkitchen/internal/transfer"
)

// ContainerKind tells the orchestrator what the selection lives in.
type ContainerKind int

const (
	// KindNone processes loose per-partition artifacts already in the
	// project source tree.
	KindNone ContainerKind = iota
	// KindPayload streams partitions out of an OTA payload.bin.
	KindPayload
	// KindSuper extracts logical partitions from a dynamic super image.
	KindSuper
	// KindUpdateApp splits a vendor UPDATE.APP container.
	KindUpdateApp
)

// Unpack decodes the selected partitions into raw images or extracted trees,
// updating the partition registry as it goes. Per-partition failures are
// recorded in the report; only a missing project aborts up front.
func (e *Engine) Unpack(ctx context.Context, selection []string, kind ContainerKind) (*Report, error) {
	doc, err := e.loadRegistry()
	if err != nil {
		return nil, err
	}
	report := newReport()

	switch kind {
	case KindPayload:
		err = e.unpackPayload(ctx, selection, doc, report)
	case KindSuper:
		err = e.unpackSuper(ctx, "", selection, doc, report)
	case KindUpdateApp:
		err = e.unpackUpdateApp(ctx, selection, report)
	case KindNone:
		// Partitions process strictly sequentially so registry writes
		// never race.
		for _, name := range selection {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if procErr := e.unpackLoose(ctx, name, doc, report); procErr != nil {
				e.log.Error().Str("part", name).Err(procErr).Msg("partition failed")
				report.fail(name, procErr)
			}
		}
	default:
		return nil, fmt.Errorf("unknown container kind %d", kind)
	}
	if err != nil {
		return report, err
	}

	if saveErr := e.saveRegistry(doc); saveErr != nil {
		return report, saveErr
	}
	return report, nil
}

// unpackPayload delegates to the payload reader, retrying once without
// concurrency when the optimized pass trips over a malformed manifest.
func (e *Engine) unpackPayload(ctx context.Context, selection []string, doc *registry.Document, report *Report) error {
	src := e.project.SourceDir()
	payload := filepath.Join(src, "payload.bin")
	if _, err := os.Stat(payload); err != nil {
		return fmt.Errorf("payload.bin not found in project: %w", err)
	}

	args := []string{payload, "-o", src}
	if len(selection) > 0 {
		args = append(args, "-p", strings.Join(selection, ","))
	}
	err := e.runner.Run(ctx, "payload_dumper", args...)
	var toolErr *kitchen.ToolError
	if errors.As(err, &toolErr) {
		e.log.Warn().Msg("payload reader failed, retrying in slow mode")
		err = e.runner.Run(ctx, "payload_dumper", append(args, "-c", "1")...)
	}
	if err != nil {
		return fmt.Errorf("payload extraction failed: %w", err)
	}

	for _, name := range selection {
		if _, statErr := os.Stat(filepath.Join(src, name+".img")); statErr != nil {
			report.fail(name, fmt.Errorf("payload reader produced no image for %s", name))
			continue
		}
		doc.SetType(name, format.Raw)
		report.ok(name)
	}
	return nil
}

// unpackUpdateApp delegates to the vendor container splitter.
func (e *Engine) unpackUpdateApp(ctx context.Context, selection []string, report *Report) error {
	src := e.project.SourceDir()
	container := filepath.Join(src, "UPDATE.APP")
	if _, err := os.Stat(container); err != nil {
		return fmt.Errorf("UPDATE.APP not found in project: %w", err)
	}

	args := []string{"-f", container}
	if len(selection) > 0 {
		args = append(args, "-l")
		args = append(args, selection...)
	}
	if err := e.runner.RunIn(ctx, src, "splituapp", args...); err != nil {
		return fmt.Errorf("UPDATE.APP split failed: %w", err)
	}
	for _, name := range selection {
		report.ok(name)
	}
	return nil
}

// unpackSuper extracts a dynamic super image: sparse images convert to raw
// first, the metadata table lands in super_info, and slot-suffixed names
// normalize so the registry only tracks canonical partitions. superPath may
// be empty to mean <source>/super.img.
func (e *Engine) unpackSuper(ctx context.Context, superPath string, selection []string, doc *registry.Document, report *Report) error {
	src := e.project.SourceDir()
	if superPath == "" {
		superPath = filepath.Join(src, "super.img")
	}
	if _, err := os.Stat(superPath); err != nil {
		return fmt.Errorf("super image not found: %w", err)
	}

	if e.classify(superPath) == format.Sparse {
		stem := strings.TrimSuffix(superPath, ".img")
		if err := e.pipeline.Convert(ctx, stem, transfer.FormatSparse, transfer.FormatRaw); err != nil {
			return fmt.Errorf("failed to convert super to raw: %w", err)
		}
	}

	info, err := e.readSuperMetadata(ctx, superPath)
	if err != nil {
		return err
	}
	doc.Super = info

	args := []string{}
	for _, name := range selection {
		args = append(args, "-p", name)
	}
	args = append(args, superPath, src)
	if err := e.runner.Run(ctx, "lpunpack", args...); err != nil {
		return fmt.Errorf("super extraction failed: %w", err)
	}

	extracted := selection
	if len(extracted) == 0 {
		for _, p := range info.PartitionTable {
			extracted = append(extracted, p.Name)
		}
	}
	for _, name := range normalizeSlotNames(src, extracted) {
		tag := e.classify(filepath.Join(src, name+".img"))
		doc.SetType(name, tag)
		report.ok(name)
	}
	return nil
}

// normalizeSlotNames applies the A/B naming convention to extracted images:
// an _a suffix is dropped when no unsuffixed or _b counterpart exists, and a
// zero-length _b counterpart is deleted outright. The returned names are the
// canonical ones the registry tracks.
func normalizeSlotNames(dir string, names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		canonical := name
		switch {
		case strings.HasSuffix(name, "_b"):
			path := filepath.Join(dir, name+".img")
			if info, err := os.Stat(path); err == nil && info.Size() == 0 {
				_ = os.Remove(path)
				continue
			}
		case strings.HasSuffix(name, "_a"):
			base := strings.TrimSuffix(name, "_a")
			_, unsuffixedErr := os.Stat(filepath.Join(dir, base+".img"))
			bInfo, bErr := os.Stat(filepath.Join(dir, base+"_b.img"))
			// A zero-length _b slot does not count as a counterpart.
			noCounterpart := unsuffixedErr != nil && (bErr != nil || bInfo.Size() == 0)
			if noCounterpart {
				if err := os.Rename(filepath.Join(dir, name+".img"), filepath.Join(dir, base+".img")); err == nil {
					canonical = base
				}
			}
		}
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	return out
}
