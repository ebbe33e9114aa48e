// Package manifest handles minis.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the project configuration file name.
const FileName = "minis.toml"

// Self-reference policies for `let x = x`.
const (
	SelfReferenceReject = "reject"
	SelfReferenceAllow  = "allow"
)

// Manifest represents a minis.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Build        Build                 `toml:"build"`
	Compiler     Compiler              `toml:"compiler"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the minis.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Build configures inputs, outputs, and search paths.
type Build struct {
	Entry       string   `toml:"entry"`
	Output      string   `toml:"output"`
	ModulePaths []string `toml:"module-paths"`
	PluginPaths []string `toml:"plugin-paths"`
	Report      string   `toml:"report"`
}

// Compiler holds language options.
type Compiler struct {
	SelfReference string `toml:"self-reference"`
}

// Dependency is another Minis project whose compiled modules can be
// imported. Only local paths are supported.
type Dependency struct {
	Path string `toml:"path"`
}

// Load parses a minis.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Build.Entry == "" {
		m.Build.Entry = "main.mi"
	}
	if m.Compiler.SelfReference == "" {
		m.Compiler.SelfReference = SelfReferenceReject
	}
	switch m.Compiler.SelfReference {
	case SelfReferenceReject, SelfReferenceAllow:
	default:
		return nil, fmt.Errorf("%s: compiler.self-reference must be %q or %q, got %q",
			path, SelfReferenceReject, SelfReferenceAllow, m.Compiler.SelfReference)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a minis.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// abs resolves a manifest-relative path.
func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the entry source file.
func (m *Manifest) EntryPath() string {
	return m.abs(m.Build.Entry)
}

// OutputPath returns the absolute output path. Without an explicit
// output, the entry file name with an .avo extension is used.
func (m *Manifest) OutputPath() string {
	if m.Build.Output != "" {
		return m.abs(m.Build.Output)
	}
	entry := m.EntryPath()
	return entry[:len(entry)-len(filepath.Ext(entry))] + ".avo"
}

// ReportPath returns the absolute link-report path, or "" if none.
func (m *Manifest) ReportPath() string {
	if m.Build.Report == "" {
		return ""
	}
	return m.abs(m.Build.Report)
}

// ModulePaths returns absolute module search directories.
func (m *Manifest) ModulePaths() []string {
	var paths []string
	for _, d := range m.Build.ModulePaths {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// PluginPaths returns absolute plugin manifest directories.
func (m *Manifest) PluginPaths() []string {
	var paths []string
	for _, d := range m.Build.PluginPaths {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// AllowSelfReference reports whether `let x = x` may see its own name.
func (m *Manifest) AllowSelfReference() bool {
	return m.Compiler.SelfReference == SelfReferenceAllow
}
