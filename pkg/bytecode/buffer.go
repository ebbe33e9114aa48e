package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Errors reported when finalizing a Buffer.
var (
	ErrUnresolvedFixup = errors.New("unresolved fixup")
	ErrFixupResolved   = errors.New("fixup resolved more than once")
	ErrFixupOverlap    = errors.New("overlapping fixups")
	ErrLabelRebound    = errors.New("label bound twice")
	ErrBufferSealed    = errors.New("buffer already finalized")
)

// FixupKind says what a reserved slot will hold.
type FixupKind int

const (
	FixupJumpTarget  FixupKind = iota // absolute code offset of a JMP/JF
	FixupTableOffset                  // header pointer to a later section
	FixupCount                        // header element count
)

func (k FixupKind) String() string {
	switch k {
	case FixupJumpTarget:
		return "jump target"
	case FixupTableOffset:
		return "table offset"
	case FixupCount:
		return "count"
	}
	return fmt.Sprintf("fixup(%d)", int(k))
}

// Label is a symbolic value, usually a code offset, that fixups resolve
// against once it is bound.
type Label int

type labelState struct {
	value uint64
	bound bool
}

// Fixup is a reserved u64 slot at a byte offset whose value is the value
// of Label.
type Fixup struct {
	Kind     FixupKind
	At       uint64
	Label    Label
	resolved int
}

// fixupWidth is the size of every reserved slot.
const fixupWidth = 8

// Buffer is an append-only little-endian byte encoder. Slots reserved with
// Reserve are written once, by Finalize. Positions are absolute offsets
// into the final output.
type Buffer struct {
	data   []byte
	fixups []*Fixup
	labels []labelState
	sealed bool
	err    error
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, 0, 256)}
}

// Pos returns the offset of the next byte to be written.
func (b *Buffer) Pos() uint64 {
	return uint64(len(b.data))
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) writable() bool {
	if b.sealed {
		b.setErr(ErrBufferSealed)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Primitive writers
// ---------------------------------------------------------------------------

// WriteU8 appends one byte.
func (b *Buffer) WriteU8(v uint8) {
	if b.writable() {
		b.data = append(b.data, v)
	}
}

// WriteBool appends a boolean as a u8.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteU8(1)
	} else {
		b.WriteU8(0)
	}
}

// WriteU32 appends a little-endian u32.
func (b *Buffer) WriteU32(v uint32) {
	if b.writable() {
		b.data = binary.LittleEndian.AppendUint32(b.data, v)
	}
}

// WriteU64 appends a little-endian u64.
func (b *Buffer) WriteU64(v uint64) {
	if b.writable() {
		b.data = binary.LittleEndian.AppendUint64(b.data, v)
	}
}

// WriteF64 appends a little-endian IEEE-754 double.
func (b *Buffer) WriteF64(v float64) {
	b.WriteU64(math.Float64bits(v))
}

// WriteStr appends a u64 length followed by the UTF-8 bytes.
func (b *Buffer) WriteStr(s string) {
	b.WriteU64(uint64(len(s)))
	if b.writable() {
		b.data = append(b.data, s...)
	}
}

// WriteBytes appends raw bytes.
func (b *Buffer) WriteBytes(p []byte) {
	if b.writable() {
		b.data = append(b.data, p...)
	}
}

// ---------------------------------------------------------------------------
// Labels and fixups
// ---------------------------------------------------------------------------

// NewLabel allocates an unbound label.
func (b *Buffer) NewLabel() Label {
	b.labels = append(b.labels, labelState{})
	return Label(len(b.labels) - 1)
}

// Bind binds label to the current position.
func (b *Buffer) Bind(l Label) {
	b.Define(l, b.Pos())
}

// Define binds label to an explicit value.
func (b *Buffer) Define(l Label, v uint64) {
	st := &b.labels[l]
	if st.bound {
		b.setErr(fmt.Errorf("%w: label %d", ErrLabelRebound, l))
		return
	}
	st.value = v
	st.bound = true
}

// Bound reports whether label has a value.
func (b *Buffer) Bound(l Label) bool {
	return b.labels[l].bound
}

// LabelValue returns the value of a bound label.
func (b *Buffer) LabelValue(l Label) (uint64, bool) {
	st := b.labels[l]
	return st.value, st.bound
}

// Reserve writes a zeroed u64 slot that Finalize will fill with the value
// of label. It returns the slot's offset.
func (b *Buffer) Reserve(kind FixupKind, l Label) uint64 {
	at := b.Pos()
	b.fixups = append(b.fixups, &Fixup{Kind: kind, At: at, Label: l})
	b.WriteU64(0)
	return at
}

// Fixups returns the recorded fixups in reservation order.
func (b *Buffer) Fixups() []*Fixup {
	return b.fixups
}

// ---------------------------------------------------------------------------
// Instruction helpers
// ---------------------------------------------------------------------------

// EmitOp appends an opcode.
func (b *Buffer) EmitOp(op Opcode) {
	b.WriteU64(uint64(op))
}

// EmitJump appends a JMP or JF whose target is label.
func (b *Buffer) EmitJump(op Opcode, target Label) uint64 {
	b.EmitOp(op)
	return b.Reserve(FixupJumpTarget, target)
}

// EmitInstruction re-encodes a decoded instruction. Jump operands are
// re-targeted through relocate, which maps an old absolute target to a
// label in this buffer.
func (b *Buffer) EmitInstruction(in Instruction, relocate func(old uint64) Label) {
	b.EmitOp(in.Op)
	for _, operand := range in.Operands {
		switch operand.Kind {
		case OperandU8:
			b.WriteU8(uint8(operand.U))
		case OperandU64:
			b.WriteU64(operand.U)
		case OperandF64:
			b.WriteF64(operand.F)
		case OperandStr:
			b.WriteStr(operand.S)
		case OperandTarget:
			b.Reserve(FixupJumpTarget, relocate(operand.U))
		}
	}
}

// ---------------------------------------------------------------------------
// Finalization
// ---------------------------------------------------------------------------

// Finalize resolves every fixup exactly once and seals the buffer. It
// fails if any fixup's label is unbound, if two fixups overlap, or if an
// earlier write or bind was invalid.
func (b *Buffer) Finalize() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.sealed {
		return nil, ErrBufferSealed
	}

	sorted := make([]*Fixup, len(b.fixups))
	copy(sorted, b.fixups)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].At+fixupWidth > sorted[i].At {
			return nil, fmt.Errorf("%w: %s at %d and %s at %d",
				ErrFixupOverlap, sorted[i-1].Kind, sorted[i-1].At, sorted[i].Kind, sorted[i].At)
		}
	}

	for _, f := range b.fixups {
		st := b.labels[f.Label]
		if !st.bound {
			return nil, fmt.Errorf("%w: %s at offset %d (label %d)", ErrUnresolvedFixup, f.Kind, f.At, f.Label)
		}
		if f.resolved > 0 {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrFixupResolved, f.Kind, f.At)
		}
		if f.At+fixupWidth > uint64(len(b.data)) {
			return nil, fmt.Errorf("%w: %s at offset %d past end of buffer", ErrUnresolvedFixup, f.Kind, f.At)
		}
		binary.LittleEndian.PutUint64(b.data[f.At:], st.value)
		f.resolved++
	}

	b.sealed = true
	return b.data, nil
}

// Resolved reports how many times f has been written.
func (f *Fixup) Resolved() int {
	return f.resolved
}
