package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/minis/compiler"
	"github.com/chazu/minis/linker"
	"github.com/chazu/minis/manifest"
	"github.com/chazu/minis/pkg/bytecode"
	"github.com/chazu/minis/plugin"
	"github.com/chazu/minis/server"
)

var log = commonlog.GetLogger("minis.cli")

// config holds the command-line settings. Manifest values fill in
// whatever the flags leave unset.
type config struct {
	source       string
	output       string
	report       string
	modulePaths  pathList
	pluginPaths  pathList
	allowSelfRef bool
	maxSteps     int
	trace        bool
}

// project is a config merged with the nearest minis.toml.
type project struct {
	source string
	output string
	report string
	opts   compiler.Options
}

// resolve locates the manifest and merges it with the flags.
func (cfg *config) resolve() (*project, error) {
	start := "."
	if cfg.source != "" {
		start = filepath.Dir(cfg.source)
	}
	m, err := manifest.FindAndLoad(start)
	if err != nil {
		return nil, err
	}

	p := &project{source: cfg.source, output: cfg.output, report: cfg.report}
	if p.source == "" {
		if m == nil || m.Build.Entry == "" {
			return nil, errors.New("no source file given and no entry in " + manifest.FileName)
		}
		p.source = m.EntryPath()
	}

	searchPaths := append([]string(nil), cfg.modulePaths...)
	pluginPaths := append([]string(nil), cfg.pluginPaths...)
	allowSelfRef := cfg.allowSelfRef
	if m != nil {
		log.Infof("using %s", filepath.Join(m.Dir, manifest.FileName))
		deps, err := manifest.NewResolver(m).Resolve()
		if err != nil {
			return nil, err
		}
		searchPaths = append(searchPaths, manifest.ModuleSearchPaths(m, deps)...)
		pluginPaths = append(pluginPaths, m.PluginPaths()...)
		for _, d := range deps {
			if d.Manifest != nil {
				pluginPaths = append(pluginPaths, d.Manifest.PluginPaths()...)
			}
		}
		allowSelfRef = allowSelfRef || m.AllowSelfReference()

		if p.output == "" && m.Build.Entry != "" && sameFile(p.source, m.EntryPath()) {
			p.output = m.OutputPath()
		}
		if p.report == "" {
			p.report = m.ReportPath()
		}
	}
	if p.output == "" {
		p.output = p.source[:len(p.source)-len(filepath.Ext(p.source))] + ".avo"
	}

	p.opts = compiler.Options{
		SearchPaths:        searchPaths,
		Plugins:            plugin.NewRegistry(pluginPaths...),
		AllowSelfReference: allowSelfRef,
	}
	return p, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// compile compiles the project source and prints its diagnostics.
func (p *project) compile(stderr io.Writer) (*compiler.Result, error) {
	res, err := compiler.CompileFile(context.Background(), p.source, p.opts)
	if res != nil {
		fmt.Fprint(stderr, res.Diagnostics.Summary())
	}
	return res, err
}

// runBuild compiles the source and writes the module, and the link
// report if one was requested. Nothing is written on a fatal error.
func runBuild(cfg *config, stderr io.Writer) error {
	p, err := cfg.resolve()
	if err != nil {
		return err
	}
	res, err := p.compile(stderr)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(p.output, res.Module); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes)", p.output, len(res.Module))

	if p.report != "" && res.Report != nil {
		data, err := linker.MarshalReport(res.Report)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(p.report, data); err != nil {
			return err
		}
		log.Infof("wrote link report %s", p.report)
	}
	return nil
}

// load returns the module named by cfg.source: a compiled .avo is read
// from disk, anything else is compiled in memory.
func load(cfg *config, stderr io.Writer) (*bytecode.Module, error) {
	if cfg.source == "" {
		return nil, errors.New("no input file")
	}
	if filepath.Ext(cfg.source) == ".avo" {
		return bytecode.ReadFile(cfg.source)
	}

	p, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	res, err := p.compile(stderr)
	if err != nil {
		return nil, err
	}
	return bytecode.Decode(res.Module)
}

func runDisasm(cfg *config, stdout, stderr io.Writer) error {
	mod, err := load(cfg, stderr)
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, mod.Disassemble())
	return err
}

func runProgram(cfg *config, stdin io.Reader, stdout, stderr io.Writer) error {
	mod, err := load(cfg, stderr)
	if err != nil {
		return err
	}
	vm := bytecode.NewVM(mod, stdout)
	vm.SetInput(stdin)
	vm.MaxSteps = cfg.maxSteps
	vm.Trace = cfg.trace
	return vm.Run()
}

func runLSP(cfg *config) error {
	srv := server.NewLSP(server.Options{
		SearchPaths:        cfg.modulePaths,
		PluginPaths:        cfg.pluginPaths,
		AllowSelfReference: cfg.allowSelfRef,
	})
	return srv.Run()
}

// printError reports a failed command. Compile errors already carry
// their own file:line:col: error: prefix.
func printError(w io.Writer, err error) {
	var cerr *compiler.Error
	if errors.As(err, &cerr) {
		fmt.Fprintln(w, err)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// writeFileAtomic writes data to a uniquely named temporary file in the
// destination directory and renames it into place, so readers never see
// a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
