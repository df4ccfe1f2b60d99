package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// DecompressZst expands a .zst sidecar next to the image it wraps, removing
// the sidecar on success. This is the only compression the kitchen handles
// in-process: zstd-wrapped images are common enough in OTA payloads that
// shelling out for them is not worth a child process.
func DecompressZst(path string) (string, error) {
	if !strings.HasSuffix(path, ".zst") {
		return "", fmt.Errorf("%s is not a .zst sidecar", path)
	}
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("failed to init zstd: %w", err)
	}
	defer dec.Close()

	outPath := strings.TrimSuffix(path, ".zst")
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return outPath, nil
}

// numberedPart matches "<base>.<N>" segment files.
var numberedPart = regexp.MustCompile(`\.(\d+)$`)

// naturalLess orders strings so that segment 10 sorts after segment 2.
func naturalLess(a, b string) bool {
	split := regexp.MustCompile(`(\d+)`)
	as, bs := split.Split(a, -1), split.Split(b, -1)
	an, bn := split.FindAllString(a, -1), split.FindAllString(b, -1)
	for i := 0; i < len(an) && i < len(bn); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
		x, _ := strconv.Atoi(an[i])
		y, _ := strconv.Atoi(bn[i])
		if x != y {
			return x < y
		}
	}
	return a < b
}

// FindNumberedParts returns the "<base>.0".."<base>.N" segments present next
// to base, in natural order. An empty slice means nothing to reassemble.
func FindNumberedParts(base string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(base))
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(base) + "."
	var parts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if numberedPart.MatchString(e.Name()) {
			parts = append(parts, filepath.Join(filepath.Dir(base), e.Name()))
		}
	}
	sort.Slice(parts, func(i, j int) bool { return naturalLess(parts[i], parts[j]) })
	return parts, nil
}

// ConcatNumberedParts reassembles multi-part transfer files by binary
// concatenation into base, removing each segment right after it is appended.
func ConcatNumberedParts(base string, parts []string) error {
	out, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", base, err)
	}
	defer out.Close()

	for _, part := range parts {
		in, err := os.Open(part)
		if err != nil {
			return fmt.Errorf("failed to open segment %s: %w", part, err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("failed to append segment %s: %w", part, err)
		}
		if err := os.Remove(part); err != nil {
			return err
		}
	}
	return nil
}

// sparseChunk matches vendor sparse-chunk naming: rom_sparsechunk.3,
// super.img.7 and friends.
var sparseChunk = regexp.MustCompile(`.*(_sparsechunk|sparse_chunk|\.chunk|\.img)\.\d+$`)

// FindSparseChunks locates a sparse-chunk segment set inside dir, naturally
// sorted.
func FindSparseChunks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var chunks []string
	for _, e := range entries {
		if !e.IsDir() && sparseChunk.MatchString(e.Name()) {
			chunks = append(chunks, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return naturalLess(chunks[i], chunks[j]) })
	return chunks, nil
}

// MergeSparseChunks rebuilds a raw image from a chunk set: the first chunk
// goes through simg2img to shed the sparse header, the rest are straight
// appends. Consumed chunks are deleted as the merge proceeds.
func (p *Pipeline) MergeSparseChunks(ctx context.Context, chunks []string, outPath string) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no sparse chunks to merge")
	}
	if err := p.runner.Run(ctx, "simg2img", chunks[0], outPath); err != nil {
		return fmt.Errorf("failed to convert first chunk %s: %w", chunks[0], err)
	}
	if err := os.Remove(chunks[0]); err != nil {
		return err
	}
	if err := ConcatNumberedParts(outPath, chunks[1:]); err != nil {
		return fmt.Errorf("failed to append sparse chunks: %w", err)
	}
	return nil
}
