// Package plugin loads native plugin manifests. A manifest exposes a set
// of natively implemented functions under a module name; no bytecode is
// linked for them and the VM resolves them by name at load time.
package plugin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// File name suffixes searched for a module's manifest.
const (
	ManifestExt     = ".plugin"
	TOMLManifestExt = ".plugin.toml"
)

var (
	ErrNoLibrary = errors.New("plugin manifest has no library")
	ErrSyntax    = errors.New("plugin manifest syntax error")
)

// Manifest describes one native module.
type Manifest struct {
	Module    string            // module name used at call sites
	Library   string            // native library path
	Functions []string          // exported function names
	Meta      map[string]string // remaining [plugin] keys
	Path      string            // file the manifest was read from
}

// MangledName returns the call-site name of one exported function.
func MangledName(module, function string) string {
	return module + "_" + function + "_"
}

// MangledNames returns the call-site names of every exported function.
func (m *Manifest) MangledNames() []string {
	names := make([]string, len(m.Functions))
	for i, fn := range m.Functions {
		names[i] = MangledName(m.Module, fn)
	}
	return names
}

// Exports reports whether the manifest exports function.
func (m *Manifest) Exports(function string) bool {
	for _, fn := range m.Functions {
		if fn == function {
			return true
		}
	}
	return false
}

func (m *Manifest) validate() error {
	if m.Library == "" {
		return fmt.Errorf("%w: module %q", ErrNoLibrary, m.Module)
	}
	seen := make(map[string]bool, len(m.Functions))
	for _, fn := range m.Functions {
		if !isIdent(fn) {
			return fmt.Errorf("%w: invalid function name %q", ErrSyntax, fn)
		}
		if seen[fn] {
			return fmt.Errorf("%w: duplicate function %q", ErrSyntax, fn)
		}
		seen[fn] = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// INI-like manifests
// ---------------------------------------------------------------------------

// Parse reads an INI-like manifest:
//
//	# comment
//	[plugin]
//	library = libmath.so
//	[functions]
//	sqrt
//	pow
//
// The module name defaults to module unless [plugin] sets name=.
func Parse(r io.Reader, module string) (*Manifest, error) {
	m := &Manifest{Module: module, Meta: make(map[string]string)}
	section := ""
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: line %d: unterminated section header", ErrSyntax, lineNo)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section != "plugin" && section != "functions" {
				return nil, fmt.Errorf("%w: line %d: unknown section [%s]", ErrSyntax, lineNo, section)
			}
			continue
		}

		switch section {
		case "plugin":
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return nil, fmt.Errorf("%w: line %d: expected key=value", ErrSyntax, lineNo)
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "library":
				m.Library = value
			case "name":
				m.Module = value
			default:
				m.Meta[key] = value
			}
		case "functions":
			m.Functions = append(m.Functions, line)
		default:
			return nil, fmt.Errorf("%w: line %d: entry outside a section", ErrSyntax, lineNo)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// TOML manifests
// ---------------------------------------------------------------------------

type tomlManifest struct {
	Plugin struct {
		Name      string            `toml:"name"`
		Library   string            `toml:"library"`
		Functions []string          `toml:"functions"`
		Meta      map[string]string `toml:"meta"`
	} `toml:"plugin"`
}

// ParseTOML reads the TOML form of a manifest:
//
//	[plugin]
//	library = "libmath.so"
//	functions = ["sqrt", "pow"]
func ParseTOML(data []byte, module string) (*Manifest, error) {
	var tm tomlManifest
	if err := toml.Unmarshal(data, &tm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	m := &Manifest{
		Module:    module,
		Library:   tm.Plugin.Library,
		Functions: tm.Plugin.Functions,
		Meta:      tm.Plugin.Meta,
	}
	if tm.Plugin.Name != "" {
		m.Module = tm.Plugin.Name
	}
	if m.Meta == nil {
		m.Meta = make(map[string]string)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads a manifest file, choosing the format from its suffix. The
// default module name is the file name without the suffix.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	var m *Manifest
	switch {
	case strings.HasSuffix(base, TOMLManifestExt):
		m, err = ParseTOML(data, strings.TrimSuffix(base, TOMLManifestExt))
	default:
		m, err = Parse(strings.NewReader(string(data)), strings.TrimSuffix(base, ManifestExt))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
