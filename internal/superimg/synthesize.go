package superimg

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/romforge/go-romkitchen/internal/tooling"
)

// metadataSize is fixed by the flashing stack; lpmake refuses other values on
// most devices.
const metadataSize = 65536

// Synthesizer drives the lpmake-style packaging tool.
type Synthesizer struct {
	runner *tooling.Runner
	log    zerolog.Logger
}

func NewSynthesizer(runner *tooling.Runner, log zerolog.Logger) *Synthesizer {
	return &Synthesizer{runner: runner, log: log}
}

// metadataSlots derives the slot count from the layout mode: two for
// single-slot supers, three when an A/B pair is present.
func metadataSlots(mode SlotMode) int {
	if mode == SlotAOnly {
		return 2
	}
	return 3
}

// Command emits the full packaging invocation for a layout.
func (s *Synthesizer) Command(l *Layout, outPath string, sparseOutput bool) []string {
	args := []string{
		"--metadata-size", strconv.Itoa(metadataSize),
		"--super-name", l.BlockDevice,
		"--metadata-slots", strconv.Itoa(metadataSlots(l.Mode)),
		"--device", fmt.Sprintf("%s:%d", l.BlockDevice, l.TotalSize),
	}
	for _, g := range l.Groups {
		args = append(args, "--group", fmt.Sprintf("%s:%d", g, l.TotalSize))
	}
	for _, e := range l.Entries {
		args = append(args, "--partition",
			fmt.Sprintf("%s:%s:%d:%s", e.Name, l.Attrib, e.Size, e.Group))
		if e.Image != "" && e.Size > 0 {
			args = append(args, "--image", fmt.Sprintf("%s=%s", e.Name, e.Image))
		}
	}
	if l.Mode == SlotVirtualAB {
		args = append(args, "--virtual-ab")
	}
	if sparseOutput {
		args = append(args, "--sparse")
	}
	args = append(args, "--output", outPath)
	return args
}

// Synthesize runs the packaging tool and verifies the declared output exists.
// The tool's own diagnostics are the only failure detail worth surfacing; the
// kitchen adds a generic packaging failure around them.
func (s *Synthesizer) Synthesize(ctx context.Context, l *Layout, outPath string, sparseOutput bool) error {
	if err := l.CheckSize(); err != nil {
		return err
	}
	s.log.Info().Str("device", l.BlockDevice).Uint64("size", l.TotalSize).
		Str("mode", string(l.Mode)).Int("partitions", len(l.Entries)).
		Msg("packing super image")

	if err := s.runner.Run(ctx, "lpmake", s.Command(l, outPath, sparseOutput)...); err != nil {
		return fmt.Errorf("super packaging failed: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("super packaging failed: output image %s was not produced", outPath)
	}
	return nil
}
