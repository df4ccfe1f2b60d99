package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/tooling"
)

// Format names one representation in the compressed-transfer chain.
type Format string

const (
	FormatRaw    Format = "raw"
	FormatSparse Format = "sparse"
	FormatDat    Format = "dat"
	FormatBr     Format = "br"
	FormatXz     Format = "xz"
)

// Pipeline converts partition artifacts among raw, sparse, transfer-list
// ("dat"), brotli and xz representations. Every conversion is keyed by the
// ordered (from, to) pair and deletes its consumed inputs only after the
// produced file exists.
type Pipeline struct {
	runner *tooling.Runner
	log    zerolog.Logger
}

func NewPipeline(runner *tooling.Runner, log zerolog.Logger) *Pipeline {
	return &Pipeline{runner: runner, log: log}
}

// Artifact paths for a partition stem (directory + partition name, no
// extension). The chain only ever works on sidecars next to the stem.
func rawPath(stem string) string   { return stem + ".img" }
func datPath(stem string) string   { return stem + ".new.dat" }
func brPath(stem string) string    { return stem + ".new.dat.br" }
func xzPath(stem string) string    { return stem + ".new.dat.xz" }
func listPath(stem string) string  { return stem + ".transfer.list" }
func patchPath(stem string) string { return stem + ".patch.dat" }

// Convert transcodes the artifact for stem from one representation to
// another. Unsupported pairs are programmer errors and reported as such.
func (p *Pipeline) Convert(ctx context.Context, stem string, from, to Format) error {
	if from == to {
		return nil
	}
	p.log.Info().Str("item", filepath.Base(stem)).
		Str("from", string(from)).Str("to", string(to)).Msg("converting")

	switch from {
	case FormatXz:
		if err := p.runner.Run(ctx, "xz", "-d", "-k", "-f", xzPath(stem)); err != nil {
			return fmt.Errorf("failed to decompress %s: %w", xzPath(stem), err)
		}
		if err := os.Remove(xzPath(stem)); err != nil {
			return err
		}
		return p.Convert(ctx, stem, FormatDat, to)

	case FormatBr:
		if err := p.runner.Run(ctx, "brotli", "-d", "-f", brPath(stem), "-o", datPath(stem)); err != nil {
			return fmt.Errorf("failed to decompress %s: %w", brPath(stem), err)
		}
		if err := os.Remove(brPath(stem)); err != nil {
			return err
		}
		return p.Convert(ctx, stem, FormatDat, to)

	case FormatDat:
		switch to {
		case FormatRaw:
			return p.datToRaw(stem)
		case FormatSparse:
			if err := p.datToRaw(stem); err != nil {
				return err
			}
			return p.Convert(ctx, stem, FormatRaw, FormatSparse)
		case FormatBr:
			// Round-trip re-encode: level 0, speed over size.
			return p.encodeBrotli(ctx, stem, 0)
		case FormatXz:
			if err := p.runner.Run(ctx, "xz", "-z", "-k", "-f", datPath(stem)); err != nil {
				return fmt.Errorf("failed to compress %s: %w", datPath(stem), err)
			}
			return os.Remove(datPath(stem))
		}

	case FormatRaw:
		switch to {
		case FormatSparse:
			return p.sparseCodec(ctx, stem, "img2simg")
		case FormatDat:
			return p.rawToDat(ctx, stem)
		case FormatBr:
			if err := p.rawToDat(ctx, stem); err != nil {
				return err
			}
			return p.encodeBrotli(ctx, stem, 0)
		case FormatXz:
			if err := p.rawToDat(ctx, stem); err != nil {
				return err
			}
			return p.Convert(ctx, stem, FormatDat, FormatXz)
		}

	case FormatSparse:
		switch to {
		case FormatRaw:
			return p.sparseCodec(ctx, stem, "simg2img")
		case FormatDat, FormatBr, FormatXz:
			// dat is never derived from sparse directly.
			if err := p.sparseCodec(ctx, stem, "simg2img"); err != nil {
				return err
			}
			return p.Convert(ctx, stem, FormatRaw, to)
		}
	}
	return fmt.Errorf("unsupported conversion %s -> %s", from, to)
}

// EncodeBrotli is the first-time raw -> br encode used during a full repack,
// where the operator picks the compression level (0-9). Format round trips
// keep using level 0 via Convert.
func (p *Pipeline) EncodeBrotli(ctx context.Context, stem string, level int) error {
	if level < 0 || level > 9 {
		return fmt.Errorf("brotli level %d out of range 0-9", level)
	}
	if err := p.rawToDat(ctx, stem); err != nil {
		return err
	}
	return p.encodeBrotli(ctx, stem, level)
}

func (p *Pipeline) encodeBrotli(ctx context.Context, stem string, level int) error {
	err := p.runner.Run(ctx, "brotli", "-q", strconv.Itoa(level), "-f",
		datPath(stem), "-o", brPath(stem))
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", datPath(stem), err)
	}
	return os.Remove(datPath(stem))
}

func (p *Pipeline) datToRaw(stem string) error {
	_, err := p.DatToRaw(stem)
	return err
}

// DatToRaw replays the transfer list and returns the manifest version for
// registry bookkeeping. The list sidecar is mandatory; without it the
// .new.dat is left untouched and the caller gets a SidecarError.
func (p *Pipeline) DatToRaw(stem string) (int, error) {
	list := listPath(stem)
	if _, err := os.Stat(list); err != nil {
		return 0, &kitchen.SidecarError{Item: filepath.Base(stem), Missing: filepath.Base(list)}
	}
	version, err := ReplayTransferList(list, datPath(stem), rawPath(stem))
	if err != nil {
		return 0, fmt.Errorf("failed to replay transfer list: %w", err)
	}
	p.log.Info().Str("item", filepath.Base(stem)).Int("version", version).Msg("transfer list replayed")

	for _, consumed := range []string{datPath(stem), list} {
		if err := os.Remove(consumed); err != nil {
			return version, err
		}
	}
	// Incremental OTAs ship a patch blob the kitchen cannot use.
	if _, err := os.Stat(patchPath(stem)); err == nil {
		_ = os.Remove(patchPath(stem))
	}
	return version, nil
}

// rawToDat derives the transfer representation from a raw image.
func (p *Pipeline) rawToDat(ctx context.Context, stem string) error {
	dir := filepath.Dir(stem)
	name := filepath.Base(stem)
	err := p.runner.Run(ctx, "img2sdat", rawPath(stem), "-o", dir, "-v", "4", "-p", name)
	if err != nil {
		return fmt.Errorf("failed to derive transfer list: %w", err)
	}
	return os.Remove(rawPath(stem))
}

// sparseCodec runs img2simg/simg2img into a temp file and atomically replaces
// the source image only when the temp output actually materialized.
func (p *Pipeline) sparseCodec(ctx context.Context, stem, tool string) error {
	src := rawPath(stem)
	tmp := filepath.Join(filepath.Dir(stem), "."+uuid.NewString()+".img")
	defer os.Remove(tmp)

	if err := p.runner.Run(ctx, tool, src, tmp); err != nil {
		return fmt.Errorf("%s failed on %s: %w", tool, src, err)
	}
	if _, err := os.Stat(tmp); err != nil {
		return fmt.Errorf("%s produced no output for %s", tool, src)
	}
	if err := os.Rename(tmp, src); err != nil {
		return fmt.Errorf("failed to replace %s: %w", src, err)
	}
	return nil
}
