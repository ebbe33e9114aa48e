package plugin

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/minis/pkg/bytecode"
)

var log = commonlog.GetLogger("minis.plugin")

// Registry holds the plugin manifests visible to one compilation. It is
// safe for concurrent use; the linker looks up manifests from several
// goroutines.
type Registry struct {
	dirs []string

	mu       sync.Mutex
	order    []string
	byModule map[string]*Manifest
	resolves map[string]bool
}

// NewRegistry creates a registry that searches dirs, in order, for
// manifests.
func NewRegistry(dirs ...string) *Registry {
	return &Registry{
		dirs:     dirs,
		byModule: make(map[string]*Manifest),
		resolves: make(map[string]bool),
	}
}

// Find searches the registry directories for module's manifest. It
// returns nil and no error when none exists.
func (r *Registry) Find(module string) (*Manifest, error) {
	for _, dir := range r.dirs {
		for _, ext := range []string{TOMLManifestExt, ManifestExt} {
			path := filepath.Join(dir, module+ext)
			if _, err := os.Stat(path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, err
			}
			log.Debugf("found manifest for %s at %s", module, path)
			return Load(path)
		}
	}
	return nil, nil
}

// Register makes m's functions resolvable. Registering the same module
// twice keeps the first manifest.
func (r *Registry) Register(m *Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byModule[m.Module]; ok {
		return
	}
	r.order = append(r.order, m.Module)
	r.byModule[m.Module] = m
	for _, name := range m.MangledNames() {
		r.resolves[name] = true
	}
	log.Infof("registered plugin %s (%d functions, library %s)", m.Module, len(m.Functions), m.Library)
}

// Resolves reports whether mangled is a registered plugin function.
func (r *Registry) Resolves(mangled string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves[mangled]
}

// Entries returns the plugin table in registration order.
func (r *Registry) Entries() []bytecode.PluginEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]bytecode.PluginEntry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, bytecode.PluginEntry{Module: name, Library: r.byModule[name].Library})
	}
	return entries
}
