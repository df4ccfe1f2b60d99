package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"

	"github.com/romforge/go-romkitchen/internal/kitchen"
)

// LayoutMode selects how a project arranges its artifacts on disk.
type LayoutMode string

const (
	// LayoutSingle keeps everything in one merged tree under the project root.
	LayoutSingle LayoutMode = "single"
	// LayoutSplit separates pristine inputs (Origin), the editable working
	// set (Source) and regenerated images (Output).
	LayoutSplit LayoutMode = "split"
)

// Project maps a project identifier to a directory layout and exposes the
// three path roots every other component works against. Only the workspace
// ever sees raw identifiers; collaborators receive resolved paths.
type Project struct {
	ID     string
	Root   string
	Layout LayoutMode
}

// Manager owns the directory that holds all projects.
type Manager struct {
	baseDir string
}

func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("projects directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects directory: %w", err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// Create sets up a new project directory, including the config/ area the
// registry and builder side files live in.
func (m *Manager) Create(id string, layout LayoutMode) (*Project, error) {
	if id == "" {
		return nil, fmt.Errorf("project id cannot be empty")
	}
	p := &Project{ID: id, Root: filepath.Join(m.baseDir, id), Layout: layout}

	dirs := []string{p.ConfigDir()}
	if layout == LayoutSplit {
		dirs = append(dirs, p.SourceDir(), p.OutputDir(), p.OriginDir())
	} else {
		dirs = append(dirs, p.SourceDir())
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create project layout: %w", err)
		}
	}
	return p, nil
}

// Open resolves an existing project. A missing directory is the
// ProjectNotFound precondition failure, reported before any side effects.
func (m *Manager) Open(id string) (*Project, error) {
	root := filepath.Join(m.baseDir, id)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", kitchen.ErrProjectNotFound, id)
	}
	layout := LayoutSingle
	if fi, err := os.Stat(filepath.Join(root, "Origin")); err == nil && fi.IsDir() {
		layout = LayoutSplit
	}
	return &Project{ID: id, Root: root, Layout: layout}, nil
}

// Delete removes the project tree recursively. There is no undo.
func (m *Manager) Delete(id string) error {
	p, err := m.Open(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(p.Root)
}

// List returns the identifiers of all projects under the base directory.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// SourceDir is the editable working tree; in single layout it is the project
// root itself.
func (p *Project) SourceDir() string {
	if p.Layout == LayoutSplit {
		return filepath.Join(p.Root, "Source")
	}
	return p.Root
}

// OutputDir receives regenerated images; single layout merges it with Source.
func (p *Project) OutputDir() string {
	if p.Layout == LayoutSplit {
		return filepath.Join(p.Root, "Output")
	}
	return p.Root
}

// OriginDir holds the pristine, as-ingested artifacts of a split project.
func (p *Project) OriginDir() string {
	if p.Layout == LayoutSplit {
		return filepath.Join(p.Root, "Origin")
	}
	return p.Root
}

// ConfigDir holds parts_info and the per-partition side files.
func (p *Project) ConfigDir() string {
	return filepath.Join(p.Root, "config")
}

// MaterializeSource copies the pristine Origin tree into Source so edits
// never touch the ingested artifacts. Single-layout projects have nothing to
// materialize.
func (p *Project) MaterializeSource() error {
	if p.Layout != LayoutSplit {
		return nil
	}
	if err := cp.Copy(p.OriginDir(), p.SourceDir()); err != nil {
		return fmt.Errorf("failed to materialize source tree: %w", err)
	}
	return nil
}
