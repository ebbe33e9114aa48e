package bytecode

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestBufferPrimitives(t *testing.T) {
	b := NewBuffer()
	b.WriteU8(7)
	b.WriteBool(true)
	b.WriteU32(0xDEADBEEF)
	b.WriteU64(1 << 40)
	b.WriteF64(2.5)
	b.WriteStr("hi")

	data, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1+1+4+8+8+8+2 {
		t.Fatalf("len = %d", len(data))
	}
	if data[0] != 7 || data[1] != 1 {
		t.Errorf("u8/bool = %v", data[:2])
	}
	if got := binary.LittleEndian.Uint32(data[2:]); got != 0xDEADBEEF {
		t.Errorf("u32 = %x", got)
	}
	if got := binary.LittleEndian.Uint64(data[6:]); got != 1<<40 {
		t.Errorf("u64 = %d", got)
	}
	if got := math.Float64frombits(binary.LittleEndian.Uint64(data[14:])); got != 2.5 {
		t.Errorf("f64 = %v", got)
	}
	if n := binary.LittleEndian.Uint64(data[22:]); n != 2 || string(data[30:]) != "hi" {
		t.Errorf("str = %d %q", n, data[30:])
	}
}

func TestBufferForwardJump(t *testing.T) {
	b := NewBuffer()
	end := b.NewLabel()
	at := b.EmitJump(OpJmp, end)
	b.EmitOp(OpNop)
	b.Bind(end)

	data, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if at != 8 {
		t.Errorf("fixup at %d, want 8", at)
	}
	if got := binary.LittleEndian.Uint64(data[at:]); got != 24 {
		t.Errorf("target = %d, want 24", got)
	}
	for _, f := range b.Fixups() {
		if f.Resolved() != 1 {
			t.Errorf("fixup at %d resolved %d times", f.At, f.Resolved())
		}
	}
}

func TestBufferDefine(t *testing.T) {
	b := NewBuffer()
	count := b.NewLabel()
	b.Reserve(FixupCount, count)
	b.Define(count, 42)

	data, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint64(data); got != 42 {
		t.Errorf("count = %d", got)
	}
	if v, ok := b.LabelValue(count); !ok || v != 42 {
		t.Errorf("LabelValue = %d, %v", v, ok)
	}
}

func TestBufferErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Buffer)
		want  error
	}{
		{"unbound label", func(b *Buffer) {
			b.EmitJump(OpJmp, b.NewLabel())
		}, ErrUnresolvedFixup},
		{"label bound twice", func(b *Buffer) {
			l := b.NewLabel()
			b.Bind(l)
			b.EmitOp(OpNop)
			b.Bind(l)
		}, ErrLabelRebound},
		{"overlapping fixups", func(b *Buffer) {
			l := b.NewLabel()
			b.Bind(l)
			b.Reserve(FixupJumpTarget, l)
			b.fixups = append(b.fixups, &Fixup{Kind: FixupCount, At: 4, Label: l})
		}, ErrFixupOverlap},
		{"slot reserved twice", func(b *Buffer) {
			l := b.NewLabel()
			b.Bind(l)
			b.Reserve(FixupJumpTarget, l)
			b.fixups = append(b.fixups, b.fixups[0])
		}, ErrFixupOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			tt.build(b)
			if _, err := b.Finalize(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBufferFinalizeOnce(t *testing.T) {
	b := NewBuffer()
	l := b.NewLabel()
	b.Reserve(FixupJumpTarget, l)
	b.Bind(l)
	if _, err := b.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Finalize(); !errors.Is(err, ErrBufferSealed) {
		t.Errorf("second Finalize: err = %v, want ErrBufferSealed", err)
	}

	b.WriteU8(1)
	if b.Len() != 8 {
		t.Errorf("write after Finalize changed the buffer")
	}
	if b.Fixups()[0].Resolved() != 1 {
		t.Errorf("fixup resolved %d times", b.Fixups()[0].Resolved())
	}
}

func TestBufferEmitInstructionRelocates(t *testing.T) {
	in := Instruction{Op: OpJf, Operands: []Operand{{Kind: OperandTarget, U: 999}}}

	b := NewBuffer()
	b.EmitOp(OpNop)
	target := b.NewLabel()
	var asked uint64
	b.EmitInstruction(in, func(old uint64) Label { asked = old; return target })
	b.Bind(target)

	data, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if asked != 999 {
		t.Errorf("relocate called with %d", asked)
	}
	if got := binary.LittleEndian.Uint64(data[16:]); got != 24 {
		t.Errorf("relocated target = %d, want 24", got)
	}
}
