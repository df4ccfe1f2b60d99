package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romforge/go-romkitchen/internal/format"
)

func TestDocumentKeepsInsertionOrder(t *testing.T) {
	doc := NewDocument()
	doc.SetType("system", format.Ext)
	doc.SetType("vendor", format.Erofs)
	doc.SetType("boot", format.Boot)
	doc.SetType("system", format.Ext) // re-set must not reorder

	assert.Equal(t, []string{"system", "vendor", "boot"}, doc.Names())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	doc := NewDocument()
	doc.Set("system", Record{Type: "ext", Size: 1 << 28, TransferVersion: 4})
	doc.SetType("vendor", format.F2fs)
	doc.Super = &SuperInfo{
		BlockDevices:   []BlockDevice{{Name: "super", Size: 9126805504}},
		GroupTable:     []Group{{Name: "qti_dynamic_partitions"}},
		PartitionTable: []SuperPartition{{Name: "system", Group: "qti_dynamic_partitions"}},
	}
	require.NoError(t, Save(dir, doc))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, doc.Names(), loaded.Names())

	rec, ok := loaded.Get("system")
	require.True(t, ok)
	assert.Equal(t, "ext", rec.Type)
	assert.Equal(t, uint64(1<<28), rec.Size)
	assert.Equal(t, 4, rec.TransferVersion)

	require.NotNil(t, loaded.Super)
	assert.Equal(t, "super", loaded.Super.BlockDevices[0].Name)
	assert.Equal(t, "qti_dynamic_partitions", loaded.Super.PartitionTable[0].Group)
}

func TestLoadMissingFileIsEmptyDocument(t *testing.T) {
	doc, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, doc.Len())
	assert.Nil(t, doc.Super)
}

func TestLoadLegacyStringRecords(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"system":"ext","vendor":"erofs"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts_info"), []byte(legacy), 0o644))

	doc, err := Load(dir)
	require.NoError(t, err)
	rec, ok := doc.Get("system")
	require.True(t, ok)
	assert.Equal(t, "ext", rec.Type)
	assert.Equal(t, []string{"system", "vendor"}, doc.Names())
}

func TestDelete(t *testing.T) {
	doc := NewDocument()
	doc.SetType("a", format.Raw)
	doc.SetType("b", format.Raw)
	doc.Delete("a")
	assert.Equal(t, []string{"b"}, doc.Names())
	_, ok := doc.Get("a")
	assert.False(t, ok)
}

func TestMarshalPutsSuperInfoLast(t *testing.T) {
	doc := NewDocument()
	doc.SetType("system", format.Ext)
	doc.Super = &SuperInfo{}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"system":{"type":"ext"},"super_info":{"block_devices":null,"group_table":null,"partition_table":null}}`, string(data))
}
