// Package linker merges previously compiled AVOCADO1 modules and native
// plugins into the module being compiled.
//
// For every import the linker either registers a plugin manifest, which
// contributes no bytecode, or reads a compiled module and copies the
// functions the importer references into the importer's code buffer.
// Functions nothing references are left out, together with their table
// entries. Copied functions are re-encoded one instruction at a time so
// their jumps can be re-targeted and their calls into the same module
// renamed to the importer's mangled names.
package linker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/minis/pkg/bytecode"
	"github.com/chazu/minis/plugin"
)

var log = commonlog.GetLogger("minis.linker")

// ModuleExt is the file extension of compiled modules.
const ModuleExt = ".avo"

// ErrCorruptModule marks a dependency that was found and carries a valid
// magic number but cannot be read. It aborts the whole link.
var ErrCorruptModule = errors.New("corrupt dependency")

// guardSize is the encoded size of the JMP that precedes a function body.
const guardSize = 16

// Severity classifies a link issue.
type Severity int

const (
	SeverityWarning Severity = iota // the import is unavailable or partly unused
	SeverityError                   // the import was skipped; output may be invalid
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Issue is a non-fatal problem found while linking one module.
type Issue struct {
	Severity Severity
	Module   string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: module %s: %s", i.Severity, i.Module, i.Message)
}

// Import is one `import m;` of the compilation unit together with the
// functions called through it as m.f(...).
type Import struct {
	Name string
	Refs []string
}

// Options configures a Linker.
type Options struct {
	// SearchPaths lists directories searched, in order, for m.avo.
	SearchPaths []string
	// Plugins receives manifests of plugin imports. A nil registry
	// searches no plugin directories.
	Plugins *plugin.Registry
	// Target names the module being built, for the report.
	Target string
	// Reserved lists call-site names already defined by the importing
	// unit. A linked function that would take one of them is a collision.
	Reserved []string
}

// Result is the outcome of a link.
type Result struct {
	Functions []bytecode.FunctionEntry // table entries of copied functions
	Plugins   []bytecode.PluginEntry   // plugin table of the linked module
	Issues    []Issue
	Report    *Report
}

// Linker resolves the imports of one compilation unit.
type Linker struct {
	opts Options
}

// New creates a linker.
func New(opts Options) *Linker {
	if opts.Plugins == nil {
		opts.Plugins = plugin.NewRegistry()
	}
	return &Linker{opts: opts}
}

// loaded is one import after it has been located and read.
type loaded struct {
	imp      Import
	kind     string
	path     string
	manifest *plugin.Manifest
	module   *bytecode.Module
	issue    *Issue
}

// Link reads every import, concurrently, and then merges them into buf in
// import order. Copied code is placed behind a single jump so that falling
// through from the preceding code skips it. A dependency that is present
// but corrupt aborts the link with an error wrapping ErrCorruptModule;
// every other problem is reported as an Issue.
func (l *Linker) Link(ctx context.Context, buf *bytecode.Buffer, imports []Import) (*Result, error) {
	imports = dedupe(imports)
	loads := make([]loaded, len(imports))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, imp := range imports {
		i, imp := i, imp
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ld, err := l.load(imp)
			if err != nil {
				return err
			}
			loads[i] = ld
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Report: &Report{Target: l.opts.Target}}
	m := &merger{buf: buf, res: res, names: make(map[string]string), seenPlugins: make(map[string]bool)}
	for _, name := range l.opts.Reserved {
		m.names[name] = ""
	}
	for _, ld := range loads {
		if ld.issue != nil {
			log.Warningf("%s", ld.issue)
			res.Issues = append(res.Issues, *ld.issue)
		}
		var err error
		switch ld.kind {
		case KindPlugin:
			l.mergePlugin(m, ld)
		case KindBytecode:
			err = m.mergeModule(ld)
		default:
			res.Report.Modules = append(res.Report.Modules, ModuleReport{
				Name: ld.imp.Name, Kind: KindMissing, Status: statusOf(ld),
				Message: issueMessage(ld.issue),
			})
		}
		if err != nil {
			return nil, err
		}
	}
	if m.guarded {
		buf.Bind(m.guard)
	}

	res.Plugins = l.opts.Plugins.Entries()
	for _, pe := range m.depPlugins {
		if !slices.ContainsFunc(res.Plugins, func(e bytecode.PluginEntry) bool { return e.Module == pe.Module }) {
			res.Plugins = append(res.Plugins, pe)
		}
	}
	return res, nil
}

// load locates one import: a plugin manifest first, then a compiled
// module in the search paths.
func (l *Linker) load(imp Import) (loaded, error) {
	ld := loaded{imp: imp}

	man, err := l.opts.Plugins.Find(imp.Name)
	if err != nil {
		ld.kind = KindPlugin
		ld.issue = &Issue{SeverityError, imp.Name, fmt.Sprintf("cannot load plugin manifest: %v", err)}
		return ld, nil
	}
	if man != nil {
		ld.kind, ld.path, ld.manifest = KindPlugin, man.Path, man
		return ld, nil
	}

	for _, dir := range l.opts.SearchPaths {
		path := filepath.Join(dir, imp.Name+ModuleExt)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		ld.kind, ld.path = KindBytecode, path
		if err != nil {
			ld.issue = &Issue{SeverityError, imp.Name, fmt.Sprintf("cannot read %s: %v", path, err)}
			return ld, nil
		}
		mod, err := bytecode.Decode(data)
		if errors.Is(err, bytecode.ErrInvalidMagic) {
			ld.issue = &Issue{SeverityError, imp.Name, fmt.Sprintf("%s is not an AVOCADO1 module: %v", path, err)}
			return ld, nil
		}
		if err != nil {
			return ld, fmt.Errorf("%w %s: %s: %w", ErrCorruptModule, imp.Name, path, err)
		}
		log.Debugf("read module %s from %s (%d functions)", imp.Name, path, len(mod.Functions))
		ld.module = mod
		return ld, nil
	}

	ld.kind = KindMissing
	ld.issue = &Issue{SeverityWarning, imp.Name, fmt.Sprintf("module not found in %s; calls into it will fail at run time",
		strings.Join(l.opts.SearchPaths, ", "))}
	return ld, nil
}

func (l *Linker) mergePlugin(m *merger, ld loaded) {
	rep := ModuleReport{Name: ld.imp.Name, Path: ld.path, Kind: KindPlugin, Status: statusOf(ld), Message: issueMessage(ld.issue)}
	defer func() { m.res.Report.Modules = append(m.res.Report.Modules, rep) }()
	if ld.manifest == nil {
		return
	}

	// Call sites are mangled with the imported name, so the manifest
	// must declare that same module.
	if ld.manifest.Module != ld.imp.Name {
		m.skip(&rep, fmt.Sprintf("manifest %s declares module %s", ld.path, ld.manifest.Module))
		return
	}
	for _, name := range ld.manifest.MangledNames() {
		if owner, taken := m.names[name]; taken {
			m.skip(&rep, collision(name, owner))
			return
		}
	}

	l.opts.Plugins.Register(ld.manifest)
	for _, name := range ld.manifest.MangledNames() {
		m.names[name] = ld.imp.Name
	}
	for _, ref := range ld.imp.Refs {
		if !l.opts.Plugins.Resolves(plugin.MangledName(ld.imp.Name, ref)) {
			m.warn(ld.imp.Name, fmt.Sprintf("plugin does not export %s", ref))
			continue
		}
		rep.Linked = append(rep.Linked, ref)
	}
	if len(rep.Linked) > 0 {
		rep.Status = StatusLinked
	}
}

// merger holds the serialized state of one Link call.
type merger struct {
	buf         *bytecode.Buffer
	res         *Result
	guard       bytecode.Label
	guarded     bool
	names       map[string]string // call-site name → module that defines it
	depPlugins  []bytecode.PluginEntry
	seenPlugins map[string]bool
}

func (m *merger) warn(module, msg string) {
	issue := Issue{SeverityWarning, module, msg}
	log.Warningf("%s", issue)
	m.res.Issues = append(m.res.Issues, issue)
}

// skip drops one import with a recoverable error.
func (m *merger) skip(rep *ModuleReport, msg string) {
	rep.Status = StatusSkipped
	rep.Message = msg
	issue := Issue{SeverityError, rep.Name, msg}
	log.Warningf("%s", issue)
	m.res.Issues = append(m.res.Issues, issue)
}

// collision describes name clashing with a function of owner; an empty
// owner is the importing unit itself.
func collision(name, owner string) string {
	if owner == "" {
		return fmt.Sprintf("function %s collides with a function defined in this file", name)
	}
	return fmt.Sprintf("function %s collides with a function of module %s", name, owner)
}

func (m *merger) ensureGuard() {
	if !m.guarded {
		m.guard = m.buf.NewLabel()
		m.buf.EmitJump(bytecode.OpJmp, m.guard)
		m.guarded = true
	}
}

// prepared is a dependency function ready to be re-encoded.
type prepared struct {
	fn      bytecode.FunctionEntry
	end     uint64
	insts   []bytecode.Instruction
	targets map[uint64]bool
}

func (m *merger) mergeModule(ld loaded) error {
	rep := ModuleReport{Name: ld.imp.Name, Path: ld.path, Kind: KindBytecode, Status: statusOf(ld), Message: issueMessage(ld.issue)}
	defer func() { m.res.Report.Modules = append(m.res.Report.Modules, rep) }()
	if ld.module == nil {
		return nil
	}

	mod := ld.module
	prefix := ld.imp.Name + "_"
	byName := make(map[string]bytecode.FunctionEntry)
	for _, fn := range mod.Functions {
		if fn.Name != bytecode.MainFunction {
			byName[fn.Name] = fn
		}
	}
	entries := sortedEntries(mod)

	// Referenced functions and everything they call within the module.
	keep := make(map[string]*prepared)
	var work []string
	for _, ref := range ld.imp.Refs {
		name := ref + "_"
		if _, ok := byName[name]; !ok {
			m.warn(ld.imp.Name, fmt.Sprintf("module has no function %s", ref))
			continue
		}
		work = append(work, name)
	}
	for len(work) > 0 {
		name := work[len(work)-1]
		work = work[:len(work)-1]
		if keep[name] != nil {
			continue
		}
		p, err := prepare(mod, byName[name], entries)
		if err != nil {
			return fmt.Errorf("%w %s: %s: function %s: %w", ErrCorruptModule, ld.imp.Name, ld.path, name, err)
		}
		keep[name] = p
		for _, in := range p.insts {
			if callee, ok := in.CallName(); ok {
				if _, local := byName[callee]; local && keep[callee] == nil {
					work = append(work, callee)
				}
			}
		}
	}

	// Table order is preserved for both linked and dropped functions.
	var order []*prepared
	for _, fn := range mod.Functions {
		if fn.Name == bytecode.MainFunction {
			continue
		}
		if p := keep[fn.Name]; p != nil {
			order = append(order, p)
		} else {
			rep.Dropped = append(rep.Dropped, fn.Name)
		}
	}
	if len(order) == 0 {
		rep.Status = StatusUnused
		log.Infof("module %s: nothing referenced, %d functions dropped", ld.imp.Name, len(rep.Dropped))
		return nil
	}

	for _, p := range order {
		if owner, taken := m.names[prefix+p.fn.Name]; taken {
			m.skip(&rep, collision(prefix+p.fn.Name, owner))
			return nil
		}
	}

	rename := func(name string) string {
		if _, ok := byName[name]; ok {
			return prefix + name
		}
		return name
	}
	m.ensureGuard()
	for _, p := range order {
		start := m.buf.Pos()
		emit(m.buf, p, rename)
		entry := p.fn
		entry.Name = prefix + p.fn.Name
		entry.Entry = start
		m.names[entry.Name] = ld.imp.Name
		m.res.Functions = append(m.res.Functions, entry)
		rep.Linked = append(rep.Linked, p.fn.Name)
		rep.BytesCopied += m.buf.Pos() - start
		log.Debugf("linked %s as %s at %d (%d bytes)", p.fn.Name, entry.Name, start, m.buf.Pos()-start)
	}
	rep.Status = StatusLinked

	for _, pe := range mod.Plugins {
		if !m.seenPlugins[pe.Module] {
			m.seenPlugins[pe.Module] = true
			m.depPlugins = append(m.depPlugins, pe)
		}
	}
	log.Infof("module %s: linked %d functions, dropped %d", ld.imp.Name, len(rep.Linked), len(rep.Dropped))
	return nil
}

// sortedEntries returns every distinct function entry in ascending order.
func sortedEntries(mod *bytecode.Module) []uint64 {
	seen := make(map[uint64]bool)
	var out []uint64
	for _, fn := range mod.Functions {
		if !seen[fn.Entry] {
			seen[fn.Entry] = true
			out = append(out, fn.Entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// extent returns the end offset of fn's body. A compiled function is
// preceded by a JMP over its body; its target is the end. Otherwise the
// body runs to the next entry or to the end of the code.
func extent(mod *bytecode.Module, fn bytecode.FunctionEntry, entries []uint64) uint64 {
	end := mod.CodeEnd()
	for _, e := range entries {
		if e > fn.Entry {
			end = e
			break
		}
	}
	if fn.Entry >= bytecode.HeaderSize+guardSize {
		in, err := bytecode.DecodeInstruction(mod.Code, bytecode.HeaderSize, fn.Entry-guardSize)
		if err == nil && in.Op == bytecode.OpJmp && in.Next() == fn.Entry {
			if t, _ := in.Target(); t > fn.Entry && t <= end {
				end = t
			}
		}
	}
	return end
}

// prepare decodes fn and checks that every jump lands on an instruction
// boundary inside it.
func prepare(mod *bytecode.Module, fn bytecode.FunctionEntry, entries []uint64) (*prepared, error) {
	p := &prepared{fn: fn, end: extent(mod, fn, entries), targets: make(map[uint64]bool)}
	insts, err := mod.DecodeRange(fn.Entry, p.end)
	if err != nil {
		return nil, err
	}
	p.insts = insts

	starts := make(map[uint64]bool, len(insts)+1)
	for _, in := range insts {
		starts[in.Offset] = true
	}
	starts[p.end] = true
	for _, in := range insts {
		if t, ok := in.Target(); ok {
			if !starts[t] {
				return nil, fmt.Errorf("%w: %s at %d jumps to %d", bytecode.ErrBadJumpTarget, in.Op, in.Offset, t)
			}
			p.targets[t] = true
		}
	}
	return p, nil
}

// emit re-encodes p at the end of buf.
func emit(buf *bytecode.Buffer, p *prepared, rename func(string) string) {
	labels := make(map[uint64]bytecode.Label, len(p.targets))
	for t := range p.targets {
		labels[t] = buf.NewLabel()
	}
	relocate := func(old uint64) bytecode.Label { return labels[old] }

	for _, in := range p.insts {
		if l, ok := labels[in.Offset]; ok {
			buf.Bind(l)
		}
		if name, ok := in.CallName(); ok {
			if renamed := rename(name); renamed != name {
				ops := append([]bytecode.Operand(nil), in.Operands...)
				ops[0].S = renamed
				in.Operands = ops
			}
		}
		buf.EmitInstruction(in, relocate)
	}
	if l, ok := labels[p.end]; ok {
		buf.Bind(l)
	}
}

func dedupe(imports []Import) []Import {
	index := make(map[string]int)
	var out []Import
	for _, imp := range imports {
		if i, ok := index[imp.Name]; ok {
			out[i].Refs = append(out[i].Refs, imp.Refs...)
			continue
		}
		index[imp.Name] = len(out)
		out = append(out, Import{Name: imp.Name, Refs: append([]string(nil), imp.Refs...)})
	}
	for i := range out {
		slices.Sort(out[i].Refs)
		out[i].Refs = slices.Compact(out[i].Refs)
	}
	return out
}

func statusOf(ld loaded) string {
	switch {
	case ld.kind == KindMissing:
		return StatusMissing
	case ld.issue != nil:
		return StatusSkipped
	}
	return StatusUnused
}

func issueMessage(issue *Issue) string {
	if issue == nil {
		return ""
	}
	return issue.Message
}
