package orchestrate

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romforge/go-romkitchen/internal/format"
	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/registry"
	"github.com/romforge/go-romkitchen/internal/superimg"
	"github.com/romforge/go-romkitchen/internal/tooling"
	"github.com/romforge/go-romkitchen/internal/workspace"
)

// testEngine wires an engine around a temp project and a directory of shell
// stub tools.
func testEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}

	manager, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	project, err := manager.Create("test-rom", workspace.LayoutSingle)
	require.NoError(t, err)

	bin := t.TempDir()
	engine, err := NewEngine(project, tooling.NewRunner(bin, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	return engine, bin
}

func stubTool(t *testing.T, bin, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(bin, name),
		[]byte("#!/bin/sh\n"+script+"\n"), 0o755))
}

// extImageBytes returns a minimal buffer that classifies as an ext image.
func extImageBytes() []byte {
	data := make([]byte, 4096)
	binary.LittleEndian.PutUint16(data[1024+0x38:], 0xef53)
	return data
}

func writeExtImage(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, extImageBytes(), 0o644))
}

func TestUnpackRequiresKnownKind(t *testing.T) {
	engine, _ := testEngine(t)
	_, err := engine.Unpack(context.Background(), []string{"system"}, ContainerKind(99))
	assert.Error(t, err)
}

func TestUnpackBatchResilience(t *testing.T) {
	engine, bin := testEngine(t)
	src := engine.Project().SourceDir()

	// The middle partition's codec exits non-zero; its siblings must still
	// process and land in the registry.
	stubTool(t, bin, "imgextractor", `case "$1" in *vendor*) exit 1 ;; esac
mkdir -p "$2" && touch "$2/placeholder"`)

	for _, name := range []string{"system", "vendor", "odm"} {
		writeExtImage(t, filepath.Join(src, name+".img"))
	}

	report, err := engine.Unpack(context.Background(), []string{"system", "vendor", "odm"}, KindNone)
	require.NoError(t, err)

	assert.Equal(t, []string{"system", "odm"}, report.Processed)
	require.Contains(t, report.Failed, "vendor")
	var toolErr *kitchen.ToolError
	assert.True(t, errors.As(report.Failed["vendor"], &toolErr))

	// Failed partition keeps its most recent intermediate artifact.
	assert.FileExists(t, filepath.Join(src, "vendor.img"))
	assert.NoFileExists(t, filepath.Join(src, "system.img"))
	assert.DirExists(t, filepath.Join(src, "system"))

	doc, err := registry.Load(engine.Project().ConfigDir())
	require.NoError(t, err)
	rec, ok := doc.Get("system")
	require.True(t, ok)
	assert.Equal(t, "ext", rec.Type)
	_, ok = doc.Get("vendor")
	assert.False(t, ok)
}

func TestUnpackTransferChainEndToEnd(t *testing.T) {
	engine, bin := testEngine(t)
	src := engine.Project().SourceDir()
	stubTool(t, bin, "imgextractor", `mkdir -p "$2" && touch "$2/placeholder"`)

	// One "new" block carrying an ext superblock, shipped as a split
	// .new.dat plus its transfer list.
	block := extImageBytes()
	list := "4\n1\n0\n0\nnew 2,0,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(src, "system.transfer.list"), []byte(list), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "system.new.dat.0"), block[:2048], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "system.new.dat.1"), block[2048:], 0o644))

	report, err := engine.Unpack(context.Background(), []string{"system"}, KindNone)
	require.NoError(t, err)
	assert.Equal(t, []string{"system"}, report.Processed)

	assert.NoFileExists(t, filepath.Join(src, "system.new.dat"))
	assert.NoFileExists(t, filepath.Join(src, "system.transfer.list"))
	assert.NoFileExists(t, filepath.Join(src, "system.img"))
	assert.DirExists(t, filepath.Join(src, "system"))

	doc, err := registry.Load(engine.Project().ConfigDir())
	require.NoError(t, err)
	rec, ok := doc.Get("system")
	require.True(t, ok)
	assert.Equal(t, "ext", rec.Type)
	assert.Equal(t, 4, rec.TransferVersion)
}

func TestUnpackMissingTransferListFailsThatPartitionOnly(t *testing.T) {
	engine, _ := testEngine(t)
	src := engine.Project().SourceDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "system.new.dat"), make([]byte, 4096), 0o644))

	report, err := engine.Unpack(context.Background(), []string{"system"}, KindNone)
	require.NoError(t, err)

	var sidecarErr *kitchen.SidecarError
	require.Contains(t, report.Failed, "system")
	assert.True(t, errors.As(report.Failed["system"], &sidecarErr))
	assert.FileExists(t, filepath.Join(src, "system.new.dat"))
}

func TestUnpackVbmetaPatchesFlagsInPlace(t *testing.T) {
	engine, _ := testEngine(t)
	src := engine.Project().SourceDir()

	img := make([]byte, 256)
	copy(img, "AVB0")
	require.NoError(t, os.WriteFile(filepath.Join(src, "vbmeta.img"), img, 0o644))

	report, err := engine.Unpack(context.Background(), []string{"vbmeta"}, KindNone)
	require.NoError(t, err)
	assert.True(t, report.OK())

	patched, err := os.ReadFile(filepath.Join(src, "vbmeta.img"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(patched[120:]))
}

func TestUnpackEmptyImageIsInformational(t *testing.T) {
	engine, _ := testEngine(t)
	src := engine.Project().SourceDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "persist.img"), nil, 0o644))

	report, err := engine.Unpack(context.Background(), []string{"persist"}, KindNone)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Contains(t, report.Skipped, "persist")
	assert.FileExists(t, filepath.Join(src, "persist.img"))
}

func TestNormalizeSlotNames(t *testing.T) {
	dir := t.TempDir()
	// system has only an _a slot: it must be canonicalized.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "system_a.img"), []byte("x"), 0o644))
	// vendor has a real _b counterpart: names stay slotted.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor_a.img"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor_b.img"), []byte("x"), 0o644))
	// odm's _b slot is zero-length: it gets deleted, _a canonicalized.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "odm_a.img"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "odm_b.img"), nil, 0o644))

	names := normalizeSlotNames(dir, []string{"system_a", "vendor_a", "vendor_b", "odm_a", "odm_b"})

	assert.Equal(t, []string{"system", "vendor_a", "vendor_b", "odm"}, names)
	assert.FileExists(t, filepath.Join(dir, "system.img"))
	assert.FileExists(t, filepath.Join(dir, "odm.img"))
	assert.NoFileExists(t, filepath.Join(dir, "odm_b.img"))
	assert.FileExists(t, filepath.Join(dir, "vendor_a.img"))
}

func TestPackRebuildsImageAndRemovesTree(t *testing.T) {
	engine, bin := testEngine(t)
	src := engine.Project().SourceDir()

	// make_ext4fs's image path is the second-to-last argument.
	stubTool(t, bin, "make_ext4fs", `for a; do out="$img"; img="$a"; done; touch "$out"`)

	require.NoError(t, os.MkdirAll(filepath.Join(src, "system", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "system", "bin", "init"), []byte("#!"), 0o755))

	doc := registry.NewDocument()
	doc.SetType("system", format.Ext)
	require.NoError(t, registry.Save(engine.Project().ConfigDir(), doc))

	report, err := engine.Pack(context.Background(), []string{"system"}, PackOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK())

	assert.FileExists(t, filepath.Join(src, "system.img"))
	assert.NoDirExists(t, filepath.Join(src, "system"))
}

func TestPackUnknownPartitionFails(t *testing.T) {
	engine, _ := testEngine(t)
	src := engine.Project().SourceDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "mystery"), 0o755))

	report, err := engine.Pack(context.Background(), []string{"mystery"}, PackOptions{})
	require.NoError(t, err)
	assert.Contains(t, report.Failed, "mystery")
}

func TestPackSuperSizeSafety(t *testing.T) {
	engine, _ := testEngine(t)
	out := engine.Project().OutputDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "system.img"), make([]byte, 150*1024*1024), 0o644))

	err := engine.PackSuper(context.Background(), []string{"system"},
		filepath.Join(out, "super.img"), SuperOptions{
			GroupName: "main",
			TotalSize: 100 * 1024 * 1024,
			Mode:      superimg.SlotAOnly,
			Attrib:    superimg.AttrReadonly,
		})

	var sizeErr *kitchen.SizeError
	require.True(t, errors.As(err, &sizeErr))
	assert.GreaterOrEqual(t, sizeErr.Adjusted, uint64(150*1024*1024))
	assert.Equal(t, uint64(100*1024*1024+256*1024*1024), sizeErr.Adjusted)
}

func TestRestoreSuperLayoutFromOpList(t *testing.T) {
	engine, _ := testEngine(t)
	src := engine.Project().SourceDir()
	content := "add_group main 1073741824\nadd system main\nresize system 8192\n"
	require.NoError(t, os.WriteFile(filepath.Join(src, "dynamic_partitions_op_list"), []byte(content), 0o644))

	layout, err := engine.RestoreSuperLayout()
	require.NoError(t, err)
	assert.Equal(t, superimg.SlotAOnly, layout.Mode)
	assert.Equal(t, "main", layout.GroupName)
}

func TestRestoreSuperLayoutPrefersRegistry(t *testing.T) {
	engine, _ := testEngine(t)
	doc := registry.NewDocument()
	doc.Super = &registry.SuperInfo{
		BlockDevices:   []registry.BlockDevice{{Name: "super", Size: 42}},
		GroupTable:     []registry.Group{{Name: "main"}},
		PartitionTable: []registry.SuperPartition{{Name: "system", Group: "main"}},
	}
	require.NoError(t, registry.Save(engine.Project().ConfigDir(), doc))

	layout, err := engine.RestoreSuperLayout()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), layout.TotalSize)
	assert.Equal(t, superimg.SlotAOnly, layout.Mode)
}
