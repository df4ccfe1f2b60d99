package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romforge/go-romkitchen/internal/kitchen"
)

func TestCreateSingleLayout(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	p, err := m.Create("miatoll", LayoutSingle)
	require.NoError(t, err)

	assert.Equal(t, p.Root, p.SourceDir())
	assert.Equal(t, p.Root, p.OutputDir())
	assert.DirExists(t, p.ConfigDir())
}

func TestCreateSplitLayout(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	p, err := m.Create("raphael", LayoutSplit)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(p.Root, "Source"))
	assert.DirExists(t, filepath.Join(p.Root, "Output"))
	assert.DirExists(t, filepath.Join(p.Root, "Origin"))
	assert.NotEqual(t, p.SourceDir(), p.OutputDir())
}

func TestOpenDetectsLayout(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	_, err = m.Create("split-proj", LayoutSplit)
	require.NoError(t, err)
	_, err = m.Create("single-proj", LayoutSingle)
	require.NoError(t, err)

	split, err := m.Open("split-proj")
	require.NoError(t, err)
	assert.Equal(t, LayoutSplit, split.Layout)

	single, err := m.Open("single-proj")
	require.NoError(t, err)
	assert.Equal(t, LayoutSingle, single.Layout)
}

func TestOpenMissingProject(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Open("ghost")
	assert.True(t, errors.Is(err, kitchen.ErrProjectNotFound))
}

func TestDeleteRemovesTree(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	p, err := m.Create("doomed", LayoutSingle)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(p.SourceDir(), "system.img"), []byte("x"), 0o644))

	require.NoError(t, m.Delete("doomed"))
	_, err = m.Open("doomed")
	assert.Error(t, err)
}

func TestMaterializeSource(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	p, err := m.Create("port", LayoutSplit)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(p.OriginDir(), "boot.img"), []byte("ANDROID!"), 0o644))

	require.NoError(t, p.MaterializeSource())
	assert.FileExists(t, filepath.Join(p.SourceDir(), "boot.img"))
	assert.FileExists(t, filepath.Join(p.OriginDir(), "boot.img"))
}
