package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info, ok := GetOpcodeInfo(op)
		if !ok || info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("opcode 0x%X has no metadata", uint64(op))
		}
	}
}

func TestOpcodeValues(t *testing.T) {
	tests := []struct {
		op   Opcode
		want uint64
		name string
	}{
		{OpImportedFunc, 0xE0, "IMPORTED_FUNC"},
		{OpNop, 0xE3, "NOP"},
		{OpPushF, 0xE5, "PUSH_F"},
		{OpMakeList, 0xE9, "MAKE_LIST"},
		{OpGet, 0xEA, "GET"},
		{OpDecl, 0xEC, "DECL"},
		{OpPop, 0xED, "POP"},
		{OpAdd, 0xEE, "ADD"},
		{OpOr, 0xF7, "OR"},
		{OpJmp, 0xF8, "JMP"},
		{OpJf, 0xF9, "JF"},
		{OpCall, 0xFA, "CALL"},
		{OpHalt, 0xFD, "HALT"},
		{OpUnset, 0xFF, "UNSET"},
		{OpSlice, 0x100, "SLICE"},
		{OpSetIndex, 0x102, "SET_INDEX"},
		{OpYield, 0x104, "YIELD"},
	}
	for _, tt := range tests {
		if uint64(tt.op) != tt.want {
			t.Errorf("%s = 0x%X, want 0x%X", tt.name, uint64(tt.op), tt.want)
		}
		if tt.op.String() != tt.name {
			t.Errorf("0x%X String() = %q, want %q", tt.want, tt.op.String(), tt.name)
		}
	}
	if TypeInferred != uint64(OpDecl) {
		t.Errorf("TypeInferred = 0x%X", TypeInferred)
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0x42)
	if op.Valid() {
		t.Error("0x42 should be invalid")
	}
	if op.String() != "UNKNOWN(0x42)" {
		t.Errorf("String() = %q", op.String())
	}
}

func TestOpcodeClassification(t *testing.T) {
	for _, op := range AllOpcodes() {
		info, _ := GetOpcodeInfo(op)
		hasTarget := len(info.Operands) > 0 && info.Operands[0] == OperandTarget
		if op.IsJump() != hasTarget {
			t.Errorf("%s: IsJump = %v but target operand = %v", op, op.IsJump(), hasTarget)
		}
		if op.IsCall() && (len(info.Operands) != 2 || info.Operands[0] != OperandStr) {
			t.Errorf("%s: call without <name> <argc> operands", op)
		}
	}
	if !OpRet.IsReturn() || !OpRetVoid.IsReturn() || OpHalt.IsReturn() {
		t.Error("IsReturn misclassifies")
	}
}
