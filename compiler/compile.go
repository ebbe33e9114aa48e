package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/minis/linker"
	"github.com/chazu/minis/pkg/bytecode"
	"github.com/chazu/minis/plugin"
)

// Options configures one compilation.
type Options struct {
	// File is the source name used in diagnostics.
	File string

	// SearchPaths lists directories searched for imported modules after
	// the directory of File.
	SearchPaths []string

	// Plugins resolves plugin imports. Nil means no plugin directories.
	Plugins *plugin.Registry

	// AllowSelfReference lets `let x = x` see the x being declared.
	AllowSelfReference bool
}

// Result is the outcome of a compilation. Diagnostics is always set;
// the other fields are set as far as compilation got.
type Result struct {
	Module      []byte
	Program     *Program
	Diagnostics *Diagnostics
	Report      *linker.Report
}

// Compile compiles src into an AVOCADO1 module. A fatal error is
// returned as err and leaves Module nil; warnings and recoverable link
// errors are collected in the result's Diagnostics.
func Compile(ctx context.Context, src string, opts Options) (*Result, error) {
	diags := NewDiagnostics(opts.File)
	res := &Result{Diagnostics: diags}

	prog, err := Parse(opts.File, src)
	if err != nil {
		return res, err
	}
	res.Program = prog

	an, err := NewSemanticAnalyzer(diags).Analyze(prog)
	if err != nil {
		return res, err
	}

	c := NewCompiler(diags, an, opts.AllowSelfReference)
	if err := c.CompileFunctions(prog.Functions); err != nil {
		return res, err
	}

	linked, err := linkImports(ctx, c.Buffer(), an, c.Functions(), opts, diags)
	if err != nil {
		return res, err
	}
	res.Report = linked.Report

	entry, err := c.CompileMain(prog.Main)
	if err != nil {
		return res, err
	}

	funcs := []bytecode.FunctionEntry{{Name: bytecode.MainFunction, Entry: entry, IsVoid: true}}
	funcs = append(funcs, c.Functions()...)
	funcs = append(funcs, linked.Functions...)

	data, err := c.Finish(funcs, linked.Plugins)
	if err != nil {
		return res, fmt.Errorf("%s: emit: %w", opts.File, err)
	}
	res.Module = data
	return res, nil
}

// CompileFile reads and compiles path. Modules are searched in the
// directory of path before opts.SearchPaths.
func CompileFile(ctx context.Context, path string, opts Options) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return &Result{Diagnostics: NewDiagnostics(path)}, err
	}
	if opts.File == "" {
		opts.File = path
	}
	opts.SearchPaths = append([]string{filepath.Dir(path)}, opts.SearchPaths...)
	return Compile(ctx, string(src), opts)
}

// linkImports hands the imports to the linker and turns its issues into
// diagnostics at the corresponding import. The unit's own functions are
// reserved so a linked function cannot take one of their names.
func linkImports(ctx context.Context, buf *bytecode.Buffer, an *Analysis, own []bytecode.FunctionEntry, opts Options, diags *Diagnostics) (*linker.Result, error) {
	imports := make([]linker.Import, len(an.Imports))
	for i, name := range an.Imports {
		imports[i] = linker.Import{Name: name, Refs: an.References[name]}
	}
	reserved := make([]string, len(own))
	for i, fn := range own {
		reserved[i] = fn.Name
	}

	l := linker.New(linker.Options{
		SearchPaths: opts.SearchPaths,
		Plugins:     opts.Plugins,
		Target:      opts.File,
		Reserved:    reserved,
	})
	res, err := l.Link(ctx, buf, imports)
	if err != nil {
		return nil, fmt.Errorf("%s: link: %w", opts.File, err)
	}

	for _, issue := range res.Issues {
		pos := an.ImportPos(issue.Module)
		if issue.Severity == linker.SeverityError {
			diags.Errorf(pos, "import %s: %s", issue.Module, issue.Message)
		} else {
			diags.Warnf(pos, "import %s: %s", issue.Module, issue.Message)
		}
	}
	return res, nil
}
