package estimate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFileOfSize(t *testing.T, path string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, n), 0o644))
}

func TestQuantizeSmallTreeIsTwoMiB(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, uint64(2097152), e.Quantize(1_500_000))
	assert.Equal(t, uint64(2097152), e.Quantize(1))
	assert.Equal(t, uint64(2097152), e.Quantize(0))
}

func TestQuantizeAlignsToBlock(t *testing.T) {
	e := NewEstimator()
	content := uint64(5_000_000)
	withOverhead := content + content/e.InodeChunk*e.InodeCost
	got := e.Quantize(content)
	assert.Zero(t, got%4096)
	assert.GreaterOrEqual(t, got, withOverhead)
	assert.Less(t, got-withOverhead, uint64(4096))
}

func TestQuantizeAddsSlackPastHundredMiB(t *testing.T) {
	e := NewEstimator()
	content := uint64(200 * 1024 * 1024)
	withOverhead := content + content/e.InodeChunk*e.InodeCost + e.Slack
	got := e.Quantize(content)
	assert.GreaterOrEqual(t, got, withOverhead)
	assert.Less(t, got-withOverhead, uint64(4096))
}

func TestEstimateWalksTree(t *testing.T) {
	dir := t.TempDir()
	writeFileOfSize(t, filepath.Join(dir, "bin", "init"), 700_000)
	writeFileOfSize(t, filepath.Join(dir, "etc", "fstab"), 800_000)

	size, err := NewEstimator().Estimate(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(2097152), size)
}

func TestDirSizeCountsNamesOfNonRegularEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "system", "app"), 0o755))
	writeFileOfSize(t, filepath.Join(dir, "system", "build.prop"), 100)

	size, err := NewEstimator().DirSize(dir)
	require.NoError(t, err)
	// 100 content bytes plus name lengths of the root, system and app dirs.
	want := uint64(100 + len(filepath.Base(dir)) + len("system") + len("app"))
	assert.Equal(t, want, size)
}

func TestPatchResizeList(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "dynamic_partitions_op_list")
	original := "remove_all_groups\n" +
		"add_group qti_dynamic_partitions 9122611200\n" +
		"# Grow partition system from 0 to 1234\n" +
		"resize system 1234\n" +
		"resize system_a 1234\n" +
		"resize vendor 999\n"
	require.NoError(t, os.WriteFile(listPath, []byte(original), 0o644))

	require.NoError(t, PatchResizeList(listPath, "system", 2097152))

	data, err := os.ReadFile(listPath)
	require.NoError(t, err)
	want := "remove_all_groups\n" +
		"add_group qti_dynamic_partitions 9122611200\n" +
		"# Grow partition system from 0 to 2097152\n" +
		"resize system 2097152\n" +
		"resize system_a 2097152\n" +
		"resize vendor 999\n"
	assert.Equal(t, want, string(data))
}

func TestPatchResizeListMissingFile(t *testing.T) {
	err := PatchResizeList(filepath.Join(t.TempDir(), "nope"), "system", 1)
	assert.Error(t, err)
}
