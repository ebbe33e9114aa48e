package compiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/chazu/minis/linker"
	"github.com/chazu/minis/pkg/bytecode"
	"github.com/chazu/minis/plugin"
)

// buildModule compiles src and writes it to dir/name.avo.
func buildModule(t *testing.T, dir, name, src string) {
	t.Helper()
	res, err := Compile(context.Background(), src, Options{File: name + ".mi", SearchPaths: []string{dir}})
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+linker.ModuleExt), res.Module, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeMain(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "main.mi")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runModule(t *testing.T, data []byte) string {
	t.Helper()
	mod, err := bytecode.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var out bytes.Buffer
	vm := bytecode.NewVM(mod, &out)
	vm.MaxSteps = 100000
	if err := vm.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestLinkReferencedFunctionsOnly(t *testing.T) {
	dir := t.TempDir()
	buildModule(t, dir, "B", `
fn f(x) { return g(x) + 1; }
fn g(x) { return x * 2; }
fn h() { return 0; }
`)
	path := writeMain(t, dir, "import B;\nprint(B.f(3));\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if got := runModule(t, res.Module); got != "7\n" {
		t.Errorf("output = %q, want %q", got, "7\n")
	}

	mod, _ := bytecode.Decode(res.Module)
	var names []string
	for _, fn := range mod.Functions {
		names = append(names, fn.Name)
	}
	if got := strings.Join(names, ","); got != "__main__,B_f_,B_g_" {
		t.Errorf("function table = %s", got)
	}

	rep, ok := res.Report.Module("B")
	if !ok {
		t.Fatal("no report for B")
	}
	if rep.Status != linker.StatusLinked || rep.Kind != linker.KindBytecode {
		t.Errorf("B report = %+v", rep)
	}
	if !slices.Equal(rep.Dropped, []string{"h_"}) {
		t.Errorf("dropped = %v, want [h_]", rep.Dropped)
	}
	if rep.BytesCopied == 0 {
		t.Error("no bytes copied")
	}
}

func TestLinkTransitiveImport(t *testing.T) {
	dir := t.TempDir()
	buildModule(t, dir, "C", `fn twice(x) { return x * 2; }`)
	buildModule(t, dir, "B", "import C;\nfn quad(x) { return C.twice(C.twice(x)); }\n")
	path := writeMain(t, dir, "import B;\nprint(B.quad(5));\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if got := runModule(t, res.Module); got != "20\n" {
		t.Errorf("output = %q, want %q", got, "20\n")
	}
	mod, _ := bytecode.Decode(res.Module)
	if _, ok := mod.Function("B_C_twice_"); !ok {
		t.Error("B_C_twice_ missing from function table")
	}
}

func TestLinkUnusedImportDropsEverything(t *testing.T) {
	dir := t.TempDir()
	buildModule(t, dir, "B", `fn f() { return 1; }`)
	path := writeMain(t, dir, "import B;\nprint(1);\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if rep, ok := res.Report.Module("B"); !ok || rep.Status != linker.StatusUnused {
		t.Errorf("B report = %+v", rep)
	}
	if res.Report.TotalBytes() != 0 {
		t.Errorf("copied %d bytes for an unused import", res.Report.TotalBytes())
	}
	if got := runModule(t, res.Module); got != "1\n" {
		t.Errorf("output = %q", got)
	}
}

func TestLinkMissingModuleWarns(t *testing.T) {
	dir := t.TempDir()
	path := writeMain(t, dir, "import nothere;\nprint(1);\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if res.Diagnostics.MayBeInvalid() {
		t.Errorf("a missing module is only a warning:\n%s", res.Diagnostics.Summary())
	}
	found := false
	for _, d := range res.Diagnostics.Items() {
		if strings.Contains(d.Message, "module not found") {
			found = true
			if d.Pos.Line != 1 {
				t.Errorf("warning at line %d, want 1", d.Pos.Line)
			}
		}
	}
	if !found {
		t.Errorf("no missing-module warning:\n%s", res.Diagnostics.Summary())
	}
	if rep, ok := res.Report.Module("nothere"); !ok || rep.Status != linker.StatusMissing {
		t.Errorf("report = %+v", rep)
	}
}

func TestLinkBadMagicIsRecoverable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "junk.avo"), bytes.Repeat([]byte("x"), 64), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeMain(t, dir, "import junk;\nprint(1);\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if res.Module == nil {
		t.Fatal("module should still be produced")
	}
	if !res.Diagnostics.MayBeInvalid() {
		t.Errorf("bad magic should be a recoverable error:\n%s", res.Diagnostics.Summary())
	}
	if rep, ok := res.Report.Module("junk"); !ok || rep.Status != linker.StatusSkipped {
		t.Errorf("report = %+v", rep)
	}
}

func TestLinkCorruptModuleIsFatal(t *testing.T) {
	dir := t.TempDir()
	data := append([]byte(bytecode.Magic), 1, 2, 3, 4)
	if err := os.WriteFile(filepath.Join(dir, "broken.avo"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeMain(t, dir, "import broken;\nbroken.f();\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if !errors.Is(err, linker.ErrCorruptModule) {
		t.Fatalf("err = %v, want ErrCorruptModule", err)
	}
	if res.Module != nil {
		t.Error("no module may be produced after a fatal link error")
	}
}

func TestLinkPluginImport(t *testing.T) {
	dir := t.TempDir()
	manifest := "[plugin]\nlibrary = libmath.so\n\n[functions]\nsqrt\n"
	if err := os.WriteFile(filepath.Join(dir, "mathx"+plugin.ManifestExt), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeMain(t, dir, "import mathx;\nprint(mathx.sqrt(4));\n")

	res, err := CompileFile(context.Background(), path, Options{Plugins: plugin.NewRegistry(dir)})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	mod, _ := bytecode.Decode(res.Module)
	if len(mod.Plugins) != 1 || mod.Plugins[0].Module != "mathx" {
		t.Errorf("plugin table = %+v", mod.Plugins)
	}
	if rep, ok := res.Report.Module("mathx"); !ok || rep.Kind != linker.KindPlugin || rep.Status != linker.StatusLinked {
		t.Errorf("report = %+v", rep)
	}

	insts, err := mod.DecodeRange(mod.Header.EntryOffset, mod.CodeEnd())
	if err != nil {
		t.Fatal(err)
	}
	var calls []string
	for _, in := range insts {
		if name, ok := in.CallName(); ok {
			calls = append(calls, name)
		}
	}
	if !slices.Contains(calls, "mathx_sqrt_") {
		t.Errorf("calls = %v, want mathx_sqrt_", calls)
	}
}

func TestLinkCollisionWithOwnFunction(t *testing.T) {
	dir := t.TempDir()
	buildModule(t, dir, "B", "fn f() { return 1; }\n")
	path := writeMain(t, dir, "import B;\nfn B_f() { return 99; }\nprint(B.f());\nprint(B_f());\n")

	res, err := CompileFile(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if !res.Diagnostics.MayBeInvalid() {
		t.Fatalf("collision should be a recoverable error:\n%s", res.Diagnostics.Summary())
	}
	found := false
	for _, d := range res.Diagnostics.Items() {
		if d.Severity == SeverityError && strings.Contains(d.Message, "B_f_ collides") {
			found = true
			if d.Pos.Line != 1 {
				t.Errorf("error at line %d, want 1", d.Pos.Line)
			}
		}
	}
	if !found {
		t.Errorf("no collision error:\n%s", res.Diagnostics.Summary())
	}

	mod, err := bytecode.Decode(res.Module)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, fn := range mod.Functions {
		names = append(names, fn.Name)
	}
	if got := strings.Join(names, ","); got != "__main__,B_f_" {
		t.Errorf("function table = %s", got)
	}
	if rep, ok := res.Report.Module("B"); !ok || rep.Status != linker.StatusSkipped {
		t.Errorf("report = %+v", rep)
	}
}

func TestLinkPluginManifestForOtherModule(t *testing.T) {
	dir := t.TempDir()
	manifest := "[plugin]\nname = other\nlibrary = libo.so\n\n[functions]\nf\n"
	if err := os.WriteFile(filepath.Join(dir, "m"+plugin.ManifestExt), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeMain(t, dir, "import m;\nm.f();\n")

	res, err := CompileFile(context.Background(), path, Options{Plugins: plugin.NewRegistry(dir)})
	if err != nil {
		t.Fatalf("CompileFile: %v", err)
	}
	if !res.Diagnostics.MayBeInvalid() || !strings.Contains(res.Diagnostics.Summary(), "declares module other") {
		t.Errorf("diagnostics:\n%s", res.Diagnostics.Summary())
	}
	mod, _ := bytecode.Decode(res.Module)
	if len(mod.Plugins) != 0 {
		t.Errorf("plugin table = %+v, want empty", mod.Plugins)
	}
}
