package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/romforge/go-romkitchen/internal/registry"
)

// lpdumpReport is the subset of the metadata dumper's JSON output the
// registry cares about.
type lpdumpReport struct {
	BlockDevices []struct {
		Name string `json:"name"`
		Size uint64 `json:"size"`
	} `json:"block_devices"`
	Groups []struct {
		Name string `json:"name"`
	} `json:"groups"`
	Partitions []struct {
		Name      string `json:"name"`
		GroupName string `json:"group_name"`
	} `json:"partitions"`
}

// readSuperMetadata parses the super image's metadata table into the
// registry's super_info shape via the metadata dumper tool.
func (e *Engine) readSuperMetadata(ctx context.Context, superPath string) (*registry.SuperInfo, error) {
	out, err := e.runner.RunOutput(ctx, "lpdump", "--json", superPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dump super metadata: %w", err)
	}

	// Some dumper builds print a banner before the JSON document.
	if i := strings.IndexByte(out, '{'); i > 0 {
		out = out[i:]
	}
	var report lpdumpReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return nil, fmt.Errorf("failed to parse super metadata: %w", err)
	}

	info := &registry.SuperInfo{}
	for _, d := range report.BlockDevices {
		info.BlockDevices = append(info.BlockDevices, registry.BlockDevice{Name: d.Name, Size: d.Size})
	}
	for _, g := range report.Groups {
		info.GroupTable = append(info.GroupTable, registry.Group{Name: g.Name})
	}
	for _, p := range report.Partitions {
		info.PartitionTable = append(info.PartitionTable, registry.SuperPartition{Name: p.Name, Group: p.GroupName})
	}
	if len(info.BlockDevices) == 0 {
		return nil, fmt.Errorf("super metadata declares no block device")
	}
	return info, nil
}
