package bytecode

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// sampleModule assembles a module with one function and a small main.
func sampleModule(t *testing.T) []byte {
	t.Helper()
	e := NewEmitter()
	b := e.Code()

	guard := b.NewLabel()
	b.EmitJump(OpJmp, guard)
	fnEntry := b.Pos()
	b.EmitOp(OpGet)
	b.WriteStr("n")
	b.EmitOp(OpRet)
	b.Bind(guard)

	mainEntry := b.Pos()
	e.MarkEntry()
	b.EmitOp(OpPushF)
	b.WriteF64(3)
	b.EmitOp(OpCall)
	b.WriteStr("id_")
	b.WriteU64(1)
	b.EmitOp(OpPop)
	b.EmitOp(OpHalt)

	funcs := []FunctionEntry{
		{Name: MainFunction, Entry: mainEntry, IsVoid: true},
		{Name: "id_", Entry: fnEntry, IsTyped: true, ReturnType: TypeFloat, Params: []string{"n"}},
	}
	lines := []LineEntry{{Offset: fnEntry, Line: 1}, {Offset: mainEntry, Line: 3}}
	plugins := []PluginEntry{{Module: "mathx", Library: "libmathx.so"}}

	data, err := e.Finish(funcs, lines, plugins)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return data
}

func TestModuleRoundTrip(t *testing.T) {
	data := sampleModule(t)
	if string(data[:8]) != Magic {
		t.Fatalf("magic = %q", data[:8])
	}

	mod, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if mod.Header.FuncCount != 2 {
		t.Errorf("func count = %d", mod.Header.FuncCount)
	}
	if mod.Header.EntryOffset != HeaderSize+16+17+8 {
		t.Errorf("entry = %d", mod.Header.EntryOffset)
	}
	if mod.CodeEnd() != mod.Header.FuncTableOffset {
		t.Errorf("code end %d != table offset %d", mod.CodeEnd(), mod.Header.FuncTableOffset)
	}

	id, ok := mod.Function("id_")
	if !ok {
		t.Fatal("id_ missing")
	}
	want := FunctionEntry{Name: "id_", Entry: HeaderSize + 16, IsTyped: true, ReturnType: TypeFloat, Params: []string{"n"}}
	if !reflect.DeepEqual(id, want) {
		t.Errorf("id_ = %+v, want %+v", id, want)
	}
	if len(mod.Lines) != 2 || mod.Lines[1].Line != 3 {
		t.Errorf("lines = %+v", mod.Lines)
	}
	if len(mod.Plugins) != 1 || mod.Plugins[0].Library != "libmathx.so" {
		t.Errorf("plugins = %+v", mod.Plugins)
	}

	again, err := mod.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(again) != string(data) {
		t.Error("re-encoding a decoded module changed it")
	}
}

func TestModuleLineFor(t *testing.T) {
	mod, err := Decode(sampleModule(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mod.LineFor(HeaderSize); ok {
		t.Error("offset before the first entry has a line")
	}
	if line, _ := mod.LineFor(mod.Header.EntryOffset + 16); line != 3 {
		t.Errorf("line = %d, want 3", line)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := sampleModule(t)
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidMagic},
		{"wrong magic", append([]byte("AVOCADO2"), good[8:]...), ErrInvalidMagic},
		{"short header", good[:20], ErrCorruptHeader},
		{"table past end", withU64(good, 8, uint64(len(good)+1)), ErrCorruptHeader},
		{"entry outside code", withU64(good, 24, 8), ErrCorruptHeader},
		{"truncated tables", good[:len(good)-30], ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func withU64(data []byte, at int, v uint64) []byte {
	out := append([]byte(nil), data...)
	for i := 0; i < 8; i++ {
		out[at+i] = byte(v >> (8 * i))
	}
	return out
}

func TestFinishRejectsBadTables(t *testing.T) {
	e := NewEmitter()
	e.MarkEntry()
	e.Code().EmitOp(OpHalt)
	_, err := e.Finish([]FunctionEntry{{Name: "f", Entry: 4}}, nil, nil)
	if !errors.Is(err, ErrCorruptData) {
		t.Errorf("entry in header: err = %v", err)
	}

	e = NewEmitter()
	e.MarkEntry()
	e.Code().EmitOp(OpHalt)
	_, err = e.Finish(nil, []LineEntry{{Offset: 48, Line: 2}, {Offset: 40, Line: 1}}, nil)
	if !errors.Is(err, ErrCorruptData) {
		t.Errorf("unsorted line map: err = %v", err)
	}
}

func TestFinishRequiresEntry(t *testing.T) {
	e := NewEmitter()
	e.Code().EmitOp(OpHalt)
	if _, err := e.Finish(nil, nil, nil); !errors.Is(err, ErrUnresolvedFixup) {
		t.Errorf("err = %v, want ErrUnresolvedFixup", err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.avo")
	if err := os.WriteFile(path, sampleModule(t), 0o644); err != nil {
		t.Fatal(err)
	}
	mod, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(mod.Functions) != 2 {
		t.Errorf("functions = %d", len(mod.Functions))
	}

	if err := os.WriteFile(path, []byte("garbage!"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("err = %v, want ErrInvalidMagic", err)
	}
}

func TestDecodeInstruction(t *testing.T) {
	mod, err := Decode(sampleModule(t))
	if err != nil {
		t.Fatal(err)
	}
	insts, err := mod.DecodeRange(mod.Header.EntryOffset, mod.CodeEnd())
	if err != nil {
		t.Fatal(err)
	}
	ops := make([]Opcode, len(insts))
	for i, in := range insts {
		ops[i] = in.Op
	}
	if !reflect.DeepEqual(ops, []Opcode{OpPushF, OpCall, OpPop, OpHalt}) {
		t.Fatalf("ops = %v", ops)
	}
	if name, ok := insts[1].CallName(); !ok || name != "id_" || insts[1].Operands[1].U != 1 {
		t.Errorf("call = %+v", insts[1])
	}
	if insts[0].Operands[0].F != 3 || insts[0].Size != 16 {
		t.Errorf("push = %+v", insts[0])
	}

	// A range that ends inside an instruction is rejected.
	if _, err := mod.DecodeRange(mod.Header.EntryOffset, mod.Header.EntryOffset+4); !errors.Is(err, ErrCorruptData) {
		t.Errorf("err = %v, want ErrCorruptData", err)
	}

	code := make([]byte, 8)
	code[0] = 0x01
	if _, err := DecodeInstruction(code, HeaderSize, HeaderSize); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("err = %v, want ErrUnknownOpcode", err)
	}
}
