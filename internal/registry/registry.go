package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/romforge/go-romkitchen/internal/format"
)

const fileName = "parts_info"

// Record describes one partition the project knows about.
type Record struct {
	Type string `json:"type"`
	// Size is a hint in bytes, zero when unknown.
	Size uint64 `json:"size,omitempty"`
	// TransferVersion is the transfer-list version the partition arrived in,
	// zero when it never went through a transfer list.
	TransferVersion int `json:"transfer_version,omitempty"`
}

// BlockDevice is one entry of the dynamic-partition metadata's device table.
type BlockDevice struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// Group is one entry of the dynamic-partition group table.
type Group struct {
	Name string `json:"name"`
}

// SuperPartition binds a logical partition to its group.
type SuperPartition struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// SuperInfo mirrors the dynamic-partition metadata table so a super layout
// can be reconstructed without re-reading the binary metadata. It is present
// iff the project contains, or contained, a super image.
type SuperInfo struct {
	BlockDevices   []BlockDevice    `json:"block_devices"`
	GroupTable     []Group          `json:"group_table"`
	PartitionTable []SuperPartition `json:"partition_table"`
}

// Document is the persisted parts_info: an ordered partition-name -> Record
// mapping plus the optional super_info block. It is always read, merged in
// memory, and written back whole.
type Document struct {
	order   []string
	records map[string]Record
	Super   *SuperInfo
}

func NewDocument() *Document {
	return &Document{records: make(map[string]Record)}
}

// Set inserts or replaces a record, keeping first-insertion order.
func (d *Document) Set(name string, rec Record) {
	if _, ok := d.records[name]; !ok {
		d.order = append(d.order, name)
	}
	d.records[name] = rec
}

// SetType records just the filesystem type of a partition.
func (d *Document) SetType(name string, tag format.Tag) {
	rec := d.records[name]
	rec.Type = tag.String()
	d.Set(name, rec)
}

func (d *Document) Get(name string) (Record, bool) {
	rec, ok := d.records[name]
	return rec, ok
}

func (d *Document) Delete(name string) {
	if _, ok := d.records[name]; !ok {
		return
	}
	delete(d.records, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Names returns partition names in insertion order.
func (d *Document) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func (d *Document) Len() int { return len(d.order) }

// MarshalJSON writes records in insertion order with super_info last, so the
// file stays diffable across runs.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d.records[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	if d.Super != nil {
		if len(d.order) > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"super_info":`)
		val, err := json.Marshal(d.Super)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	d.order = nil
	d.records = make(map[string]Record)
	d.Super = nil

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("parts_info: expected JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		if key == "super_info" {
			var super SuperInfo
			if err := dec.Decode(&super); err != nil {
				return fmt.Errorf("parts_info: bad super_info: %w", err)
			}
			d.Super = &super
			continue
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return fmt.Errorf("parts_info: partition %q: %w", key, err)
		}
		d.Set(key, rec)
	}
	return nil
}

// decodeRecord accepts both the object form and the legacy bare type string
// older kitchens wrote.
func decodeRecord(raw json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err == nil {
		return rec, nil
	}
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return Record{}, err
	}
	return Record{Type: legacy}, nil
}

// Load reads the document from a project's config directory. A missing file
// yields an empty document: a fresh project simply has no registry yet.
func Load(configDir string) (*Document, error) {
	data, err := os.ReadFile(filepath.Join(configDir, fileName))
	if os.IsNotExist(err) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read parts_info: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save writes the whole document back, creating config/ if needed.
func Save(configDir string, doc *Document) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode parts_info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, fileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write parts_info: %w", err)
	}
	return nil
}
