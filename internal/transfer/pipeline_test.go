package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/tooling"
)

func newTestPipeline(binDir string) *Pipeline {
	return NewPipeline(tooling.NewRunner(binDir, zerolog.Nop()), zerolog.Nop())
}

// fakeTool drops an executable shell stub into dir so the pipeline can run a
// "codec" without the real Android tool chain.
func fakeTool(t *testing.T, dir, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
}

func TestConvertDatToRaw(t *testing.T) {
	dir := t.TempDir()
	stem, want := buildTransferFixture(t, dir)
	require.NoError(t, os.WriteFile(stem+".patch.dat", []byte("patch"), 0o644))

	p := newTestPipeline("")
	require.NoError(t, p.Convert(context.Background(), stem, FormatDat, FormatRaw))

	got, err := os.ReadFile(stem + ".img")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.NoFileExists(t, stem+".new.dat")
	assert.NoFileExists(t, stem+".transfer.list")
	assert.NoFileExists(t, stem+".patch.dat")
}

func TestConvertDatToRawMissingTransferList(t *testing.T) {
	dir := t.TempDir()
	stem := filepath.Join(dir, "system")
	require.NoError(t, os.WriteFile(stem+".new.dat", make([]byte, blockSize), 0o644))

	p := newTestPipeline("")
	err := p.Convert(context.Background(), stem, FormatDat, FormatRaw)

	var sidecarErr *kitchen.SidecarError
	require.True(t, errors.As(err, &sidecarErr))
	assert.Equal(t, "system", sidecarErr.Item)
	assert.FileExists(t, stem+".new.dat")
}

func TestConvertRawToSparseReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	fakeTool(t, bin, "img2simg", `cp "$1" "$2"`)

	stem := filepath.Join(dir, "vendor")
	require.NoError(t, os.WriteFile(stem+".img", []byte("raw-image"), 0o644))

	p := newTestPipeline(bin)
	require.NoError(t, p.Convert(context.Background(), stem, FormatRaw, FormatSparse))

	got, err := os.ReadFile(stem + ".img")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-image"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp output must not be left behind")
}

func TestConvertSparseCodecNoOutputKeepsSource(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	fakeTool(t, bin, "simg2img", "exit 0")

	stem := filepath.Join(dir, "system")
	require.NoError(t, os.WriteFile(stem+".img", []byte("sparse"), 0o644))

	p := newTestPipeline(bin)
	err := p.Convert(context.Background(), stem, FormatSparse, FormatRaw)
	require.Error(t, err)

	got, readErr := os.ReadFile(stem + ".img")
	require.NoError(t, readErr)
	assert.Equal(t, []byte("sparse"), got)
}

func TestConvertSameFormatIsNoop(t *testing.T) {
	p := newTestPipeline("")
	assert.NoError(t, p.Convert(context.Background(), "/nonexistent/system", FormatRaw, FormatRaw))
}

func TestEncodeBrotliRejectsBadLevel(t *testing.T) {
	p := newTestPipeline("")
	assert.Error(t, p.EncodeBrotli(context.Background(), "/nonexistent/system", -1))
	assert.Error(t, p.EncodeBrotli(context.Background(), "/nonexistent/system", 10))
}
