package superimg

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/romforge/go-romkitchen/internal/registry"
)

// FromSuperInfo reconstructs a layout from a previously recorded super_info
// document, so the registry alone can pre-populate a pack run.
func FromSuperInfo(info *registry.SuperInfo) (*Layout, error) {
	if info == nil || len(info.BlockDevices) == 0 {
		return nil, fmt.Errorf("super_info carries no block device")
	}
	layout := &Layout{
		BlockDevice: info.BlockDevices[0].Name,
		TotalSize:   info.BlockDevices[0].Size,
		Attrib:      AttrReadonly,
	}
	var groups []string
	for _, g := range info.GroupTable {
		if g.Name == "default" {
			continue
		}
		groups = append(groups, g.Name)
	}
	layout.Groups = groups
	layout.GroupName, layout.Mode = classifyGroups(groups)

	for _, p := range info.PartitionTable {
		layout.Entries = append(layout.Entries, Entry{Name: p.Name, Group: p.Group})
	}
	return layout, nil
}

// FromOpList reconstructs a layout by scanning a dynamic_partitions_op_list
// file: add_group fixes groups and sizes, add/resize fix the partitions.
func FromOpList(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open op list: %w", err)
	}
	defer f.Close()

	layout := &Layout{Attrib: AttrReadonly}
	partGroups := make(map[string]string)
	sizes := make(map[string]uint64)
	var order []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "add_group":
			if len(fields) < 2 || fields[1] == "default" {
				continue
			}
			layout.Groups = append(layout.Groups, fields[1])
			if len(fields) >= 3 {
				if size, err := strconv.ParseUint(fields[2], 10, 64); err == nil && size > layout.TotalSize {
					layout.TotalSize = size
				}
			}
		case "add":
			if len(fields) >= 3 && fields[2] != "default" {
				if _, ok := partGroups[fields[1]]; !ok {
					order = append(order, fields[1])
				}
				partGroups[fields[1]] = fields[2]
			}
		case "resize":
			if len(fields) >= 3 {
				if size, err := strconv.ParseUint(fields[2], 10, 64); err == nil {
					sizes[fields[1]] = size
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(layout.Groups) == 0 {
		return nil, fmt.Errorf("op list %s declares no partition group", path)
	}
	layout.GroupName, layout.Mode = classifyGroups(layout.Groups)

	for _, name := range order {
		layout.Entries = append(layout.Entries, Entry{
			Name:  name,
			Group: partGroups[name],
			Size:  sizes[name],
		})
	}
	return layout, nil
}

// classifyGroups pairs <group>_a/<group>_b into an A/B layout; a lone group
// means A-only. Virtual-AB cannot be told apart from plain A/B here, so the
// conservative plain mode wins and the operator can flip the flag.
func classifyGroups(groups []string) (string, SlotMode) {
	bases := make(map[string]int)
	var first string
	for _, g := range groups {
		base := strings.TrimSuffix(strings.TrimSuffix(g, "_a"), "_b")
		if first == "" {
			first = base
		}
		bases[base]++
	}
	if first != "" && bases[first] >= 2 {
		return first, SlotAB
	}
	return first, SlotAOnly
}
