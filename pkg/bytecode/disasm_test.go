package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleModule(t *testing.T) {
	mod, err := Decode(sampleModule(t))
	if err != nil {
		t.Fatal(err)
	}
	out := mod.Disassemble()

	for _, want := range []string{
		"; AVOCADO1 module",
		"functions: 2",
		"mathx -> libmathx.so",
		"id_",
		"(n) -> float",
		"() -> void",
		"__main__:",
		"GET",
		`"id_"`,
		"; line 3",
		"HALT",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleStopsAtBadCode(t *testing.T) {
	mod := &Module{Code: []byte{1, 0, 0, 0, 0, 0, 0, 0}}
	out := mod.Disassemble()
	if !strings.Contains(out, "decode error") {
		t.Errorf("expected a decode error line:\n%s", out)
	}
}

func TestFormatInstruction(t *testing.T) {
	tests := []struct {
		in   Instruction
		want string
	}{
		{Instruction{Offset: 40, Op: OpHalt}, "000040  HALT"},
		{Instruction{Offset: 48, Op: OpPushB, Operands: []Operand{{Kind: OperandU8, U: 1}}}, "000048  PUSH_B         true"},
		{Instruction{Offset: 56, Op: OpJf, Operands: []Operand{{Kind: OperandTarget, U: 120}}}, "000056  JF             -> 120"},
		{Instruction{Offset: 72, Op: OpDecl, Operands: []Operand{{Kind: OperandStr, S: "x"}, {Kind: OperandU64, U: TypeInferred}}},
			`000072  DECL           "x", inferred`},
		{Instruction{Offset: 90, Op: OpDecl, Operands: []Operand{{Kind: OperandStr, S: "y"}, {Kind: OperandU64, U: uint64(TypeStr)}}},
			`000090  DECL           "y", str`},
	}
	for _, tt := range tests {
		if got := FormatInstruction(tt.in); got != tt.want {
			t.Errorf("got  %q\nwant %q", got, tt.want)
		}
	}
}
