package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // local filesystem path
	Manifest  *Manifest // the dependency's own manifest (may be nil)
}

// SearchPaths returns the directories where the dependency's compiled
// modules live: the directory of its build output and its own module
// paths. A dependency without a manifest contributes its root.
func (d ResolvedDep) SearchPaths() []string {
	if d.Manifest == nil {
		return []string{d.LocalPath}
	}
	paths := []string{filepath.Dir(d.Manifest.OutputPath())}
	return append(paths, d.Manifest.ModulePaths()...)
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in load order
// (topologically sorted: dependencies before dependents).
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	resolved := make(map[string]*ResolvedDep)
	visiting := map[string]bool{r.manifest.Dir: true}
	return r.resolveAll(r.manifest, resolved, visiting)
}

// resolveAll resolves the dependencies of m recursively. Dependencies are
// visited in name order so the result is deterministic.
func (r *Resolver) resolveAll(m *Manifest, resolved map[string]*ResolvedDep, visiting map[string]bool) ([]ResolvedDep, error) {
	var order []ResolvedDep

	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := resolved[name]; ok {
			continue // already resolved
		}

		rd, err := resolveOne(m, name, m.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		if visiting[rd.LocalPath] {
			return nil, fmt.Errorf("dependency cycle through %s (%s)", name, rd.LocalPath)
		}
		resolved[name] = rd

		// Check for transitive dependencies
		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			visiting[rd.LocalPath] = true
			transitive, err := r.resolveAll(rd.Manifest, resolved, visiting)
			delete(visiting, rd.LocalPath)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		order = append(order, *rd)
	}

	return order, nil
}

// resolveOne resolves a single dependency relative to the manifest that
// declares it.
func resolveOne(owner *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if dep.Path == "" {
		return nil, fmt.Errorf("dependency %q must specify path", name)
	}

	localPath := dep.Path
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(owner.Dir, localPath)
	}
	localPath = filepath.Clean(localPath)

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("path %s: %w", localPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path %s is not a directory", localPath)
	}

	var depManifest *Manifest
	if _, err := os.Stat(filepath.Join(localPath, FileName)); err == nil {
		depManifest, err = Load(localPath)
		if err != nil {
			return nil, err
		}
	}

	return &ResolvedDep{Name: name, LocalPath: localPath, Manifest: depManifest}, nil
}

// ModuleSearchPaths returns the project's own module paths followed by
// those of every resolved dependency, without duplicates.
func ModuleSearchPaths(m *Manifest, deps []ResolvedDep) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(paths ...string) {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	add(m.ModulePaths()...)
	for _, d := range deps {
		add(d.SearchPaths()...)
	}
	return out
}
