package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestParseINI(t *testing.T) {
	src := `
# math helpers
[plugin]
library = libmathx.so
version = 2

[functions]
sqrt
pow
`
	m, err := Parse(strings.NewReader(src), "mathx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Module != "mathx" || m.Library != "libmathx.so" {
		t.Errorf("manifest = %+v", m)
	}
	if !slices.Equal(m.Functions, []string{"sqrt", "pow"}) {
		t.Errorf("functions = %v", m.Functions)
	}
	if m.Meta["version"] != "2" {
		t.Errorf("meta = %v", m.Meta)
	}
	if !m.Exports("pow") || m.Exports("cbrt") {
		t.Error("Exports misreports")
	}
	if !slices.Equal(m.MangledNames(), []string{"mathx_sqrt_", "mathx_pow_"}) {
		t.Errorf("mangled = %v", m.MangledNames())
	}
}

func TestParseINIRename(t *testing.T) {
	m, err := Parse(strings.NewReader("[plugin]\nname = m2\nlibrary = x.so\n"), "file")
	if err != nil {
		t.Fatal(err)
	}
	if m.Module != "m2" {
		t.Errorf("module = %q, want m2", m.Module)
	}
}

func TestParseINIErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"no library", "[functions]\nf\n", ErrNoLibrary},
		{"unterminated section", "[plugin\n", ErrSyntax},
		{"unknown section", "[other]\n", ErrSyntax},
		{"missing equals", "[plugin]\nlibrary\n", ErrSyntax},
		{"outside section", "library = x\n", ErrSyntax},
		{"bad function name", "[plugin]\nlibrary = x\n[functions]\n9lives\n", ErrSyntax},
		{"duplicate function", "[plugin]\nlibrary = x\n[functions]\nf\nf\n", ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.src), "m"); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseTOML(t *testing.T) {
	src := `
[plugin]
library = "libnet.so"
functions = ["dial", "close"]

[plugin.meta]
abi = "c"
`
	m, err := ParseTOML([]byte(src), "net")
	if err != nil {
		t.Fatalf("ParseTOML: %v", err)
	}
	if m.Module != "net" || m.Library != "libnet.so" || len(m.Functions) != 2 {
		t.Errorf("manifest = %+v", m)
	}
	if m.Meta["abi"] != "c" {
		t.Errorf("meta = %v", m.Meta)
	}

	if _, err := ParseTOML([]byte("[plugin\n"), "net"); !errors.Is(err, ErrSyntax) {
		t.Errorf("err = %v, want ErrSyntax", err)
	}
	if _, err := ParseTOML([]byte("[plugin]\nfunctions = []\n"), "net"); !errors.Is(err, ErrNoLibrary) {
		t.Errorf("err = %v, want ErrNoLibrary", err)
	}
}

func TestLoadChoosesFormat(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "a"+ManifestExt)
	tml := filepath.Join(dir, "b"+TOMLManifestExt)
	if err := os.WriteFile(ini, []byte("[plugin]\nlibrary = a.so\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tml, []byte("[plugin]\nlibrary = \"b.so\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := Load(ini)
	if err != nil {
		t.Fatal(err)
	}
	if a.Module != "a" || a.Path != ini {
		t.Errorf("a = %+v", a)
	}
	b, err := Load(tml)
	if err != nil {
		t.Fatal(err)
	}
	if b.Module != "b" || b.Library != "b.so" {
		t.Errorf("b = %+v", b)
	}
}
