package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecompressZst(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("firmware"), 1024)

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	zstPath := filepath.Join(dir, "boot.img.zst")
	require.NoError(t, os.WriteFile(zstPath, compressed.Bytes(), 0o644))

	outPath, err := DecompressZst(zstPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "boot.img"), outPath)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoFileExists(t, zstPath)
}

func TestDecompressZstRejectsWrongSuffix(t *testing.T) {
	_, err := DecompressZst("/tmp/boot.img")
	assert.Error(t, err)
}

func TestFindNumberedPartsNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "system.new.dat")
	for _, n := range []string{"0", "1", "2", "10"} {
		require.NoError(t, os.WriteFile(base+"."+n, []byte(n), 0o644))
	}
	// Unrelated neighbors must not be picked up.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor.new.dat.0"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(base, []byte(""), 0o644))

	parts, err := FindNumberedParts(base)
	require.NoError(t, err)
	assert.Equal(t, []string{base + ".0", base + ".1", base + ".2", base + ".10"}, parts)
}

func TestConcatNumberedPartsRemovesSegments(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "system.new.dat")
	require.NoError(t, os.WriteFile(base+".0", []byte("AA"), 0o644))
	require.NoError(t, os.WriteFile(base+".1", []byte("BB"), 0o644))

	parts, err := FindNumberedParts(base)
	require.NoError(t, err)
	require.NoError(t, ConcatNumberedParts(base, parts))

	got, err := os.ReadFile(base)
	require.NoError(t, err)
	assert.Equal(t, []byte("AABB"), got)
	assert.NoFileExists(t, base+".0")
	assert.NoFileExists(t, base+".1")
}

func TestFindSparseChunks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rom_sparsechunk.0", "rom_sparsechunk.2", "rom_sparsechunk.10", "super.img", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	chunks, err := FindSparseChunks(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "rom_sparsechunk.0"),
		filepath.Join(dir, "rom_sparsechunk.2"),
		filepath.Join(dir, "rom_sparsechunk.10"),
	}, chunks)
}
