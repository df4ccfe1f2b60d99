package superimg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/registry"
)

// SlotMode selects how the super image duplicates partitions across slots.
type SlotMode string

const (
	SlotAOnly     SlotMode = "A-only"
	SlotVirtualAB SlotMode = "Virtual-AB"
	SlotAB        SlotMode = "A/B"
)

// Attribute is the per-partition attribute written into the metadata table.
type Attribute string

const (
	AttrReadonly Attribute = "readonly"
	AttrNone     Attribute = "none"
)

// Entry is one partition of a computed layout. Size is the exact byte length
// of the backing image; zero-size entries are slot placeholders with no
// backing image at all.
type Entry struct {
	Name  string
	Group string
	Size  uint64
	Image string
}

// Layout is the full partition/group/device table handed to the packaging
// tool. It is rebuilt from scratch on every pack invocation, never mutated.
type Layout struct {
	BlockDevice string
	GroupName   string
	TotalSize   uint64
	Mode        SlotMode
	Attrib      Attribute
	Groups      []string
	Entries     []Entry
}

// sizeStep is the quarter-gigabyte increment the size-safety check grows a
// too-small super by; growthCap bounds the search.
const (
	sizeStep  = 256 * 1024 * 1024
	growthCap = 20
)

// canonicalName strips an _a/_b slot suffix.
func canonicalName(name string) string {
	name = strings.TrimSuffix(name, "_a")
	return strings.TrimSuffix(name, "_b")
}

// canonicalize de-duplicates a selection by slot suffix, preserving order of
// first appearance.
func canonicalize(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		c := canonicalName(n)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// adoptSlotImage renames <name>_a.img to <name>.img when only the suffixed
// copy exists, so single-slot builds always find a canonical source.
func adoptSlotImage(dir, name string) error {
	canonical := filepath.Join(dir, name+".img")
	if _, err := os.Stat(canonical); err == nil {
		return nil
	}
	slotted := filepath.Join(dir, name+"_a.img")
	if _, err := os.Stat(slotted); err != nil {
		return nil
	}
	return os.Rename(slotted, canonical)
}

func imageSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// BuildLayout computes the group/device/partition table for the selected
// partition images inside imageDir.
func BuildLayout(imageDir, blockDevice, groupName string, totalSize uint64,
	mode SlotMode, attrib Attribute, selection []string) (*Layout, error) {

	if blockDevice == "" {
		blockDevice = "super"
	}
	layout := &Layout{
		BlockDevice: blockDevice,
		GroupName:   groupName,
		TotalSize:   totalSize,
		Mode:        mode,
		Attrib:      attrib,
	}

	names := canonicalize(selection)
	if len(names) == 0 {
		return nil, fmt.Errorf("no partitions selected for super packing")
	}

	switch mode {
	case SlotAOnly:
		layout.Groups = []string{groupName}
		for _, name := range names {
			if err := adoptSlotImage(imageDir, name); err != nil {
				return nil, fmt.Errorf("failed to adopt slot image for %s: %w", name, err)
			}
			img := filepath.Join(imageDir, name+".img")
			layout.Entries = append(layout.Entries, Entry{
				Name: name, Group: groupName, Size: imageSize(img), Image: img,
			})
		}
	case SlotAB, SlotVirtualAB:
		layout.Groups = []string{groupName + "_a", groupName + "_b"}
		for _, name := range names {
			if err := adoptSlotImage(imageDir, name); err != nil {
				return nil, fmt.Errorf("failed to adopt slot image for %s: %w", name, err)
			}
			imgA := filepath.Join(imageDir, name+".img")
			if _, err := os.Stat(imgA); err != nil {
				imgA = filepath.Join(imageDir, name+"_a.img")
			}
			layout.Entries = append(layout.Entries, Entry{
				Name: name + "_a", Group: groupName + "_a", Size: imageSize(imgA), Image: imgA,
			})

			// The _b slot is a placeholder unless a real, non-empty _b
			// image exists.
			imgB := filepath.Join(imageDir, name+"_b.img")
			entry := Entry{Name: name + "_b", Group: groupName + "_b"}
			if size := imageSize(imgB); size > 0 {
				entry.Size = size
				entry.Image = imgB
			}
			layout.Entries = append(layout.Entries, entry)
		}
	default:
		return nil, fmt.Errorf("unknown slot mode %q", mode)
	}
	return layout, nil
}

// ContentSize sums the byte lengths of all backed entries.
func (l *Layout) ContentSize() uint64 {
	var total uint64
	for _, e := range l.Entries {
		total += e.Size
	}
	return total
}

// CheckSize enforces the size-safety rule: when the selected content exceeds
// the requested total, the total is grown in quarter-gigabyte steps until it
// fits and the caller gets a SizeError to confirm instead of a silent bump.
func (l *Layout) CheckSize() error {
	content := l.ContentSize()
	if content <= l.TotalSize {
		return nil
	}
	adjusted := l.TotalSize
	for i := 0; i < growthCap && adjusted < content; i++ {
		adjusted += sizeStep
	}
	if adjusted < content {
		return fmt.Errorf("selected partitions (%d bytes) cannot fit any super size within %d growth steps", content, growthCap)
	}
	return &kitchen.SizeError{Requested: l.TotalSize, Content: content, Adjusted: adjusted}
}

// SuperInfo renders the layout into the registry's super_info shape so the
// next session can rebuild it without touching binary metadata.
func (l *Layout) SuperInfo() *registry.SuperInfo {
	info := &registry.SuperInfo{
		BlockDevices: []registry.BlockDevice{{Name: l.BlockDevice, Size: l.TotalSize}},
	}
	for _, g := range l.Groups {
		info.GroupTable = append(info.GroupTable, registry.Group{Name: g})
	}
	for _, e := range l.Entries {
		info.PartitionTable = append(info.PartitionTable, registry.SuperPartition{
			Name: e.Name, Group: e.Group,
		})
	}
	return info
}
