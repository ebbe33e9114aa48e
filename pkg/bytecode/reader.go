package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// ---------------------------------------------------------------------------
// Module Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic  = errors.New("invalid magic number: expected AVOCADO1")
	ErrUnexpectedEOF = errors.New("unexpected end of module data")
	ErrCorruptHeader = errors.New("corrupt module header")
	ErrCorruptData   = errors.New("corrupt module data")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrBadJumpTarget = errors.New("jump target outside code section")
)

// ---------------------------------------------------------------------------
// Cursor: bounds-checked little-endian reads
// ---------------------------------------------------------------------------

// cursor reads primitives from data starting at off. Every read checks
// bounds and reports ErrUnexpectedEOF instead of panicking.
type cursor struct {
	data []byte
	off  uint64
	what string // section being read, for error messages
}

func (c *cursor) need(n uint64) error {
	if c.off > uint64(len(c.data)) || n > uint64(len(c.data))-c.off {
		return fmt.Errorf("%w: reading %s at offset %d (need %d bytes, have %d)",
			ErrUnexpectedEOF, c.what, c.off, n, uint64(len(c.data))-min(c.off, uint64(len(c.data))))
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.data[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) f64() (float64, error) {
	v, err := c.u64()
	return math.Float64frombits(v), err
}

func (c *cursor) str() (string, error) {
	n, err := c.u64()
	if err != nil {
		return "", err
	}
	if err := c.need(n); err != nil {
		return "", err
	}
	s := string(c.data[c.off : c.off+n])
	c.off += n
	return s, nil
}

// ---------------------------------------------------------------------------
// Header Reading
// ---------------------------------------------------------------------------

// ReadHeader reads and validates the 40-byte header. A file that is too
// short to hold a magic number, or whose magic differs, reports
// ErrInvalidMagic; a valid magic with a short header reports
// ErrCorruptHeader.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		got := data
		if len(got) > len(Magic) {
			got = got[:len(Magic)]
		}
		return h, fmt.Errorf("%w: got %q", ErrInvalidMagic, got)
	}
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes, need %d", ErrCorruptHeader, len(data), HeaderSize)
	}

	c := &cursor{data: data, off: uint64(len(Magic)), what: "header"}
	h.FuncTableOffset, _ = c.u64()
	h.FuncCount, _ = c.u64()
	h.EntryOffset, _ = c.u64()
	h.LineMapOffset, _ = c.u64()

	size := uint64(len(data))
	switch {
	case h.FuncTableOffset < HeaderSize || h.FuncTableOffset > size:
		return h, fmt.Errorf("%w: function table offset %d outside [%d, %d]", ErrCorruptHeader, h.FuncTableOffset, HeaderSize, size)
	case h.EntryOffset < HeaderSize || h.EntryOffset > h.FuncTableOffset:
		return h, fmt.Errorf("%w: entry offset %d outside code section", ErrCorruptHeader, h.EntryOffset)
	case h.LineMapOffset < h.FuncTableOffset || h.LineMapOffset > size:
		return h, fmt.Errorf("%w: line map offset %d outside [%d, %d]", ErrCorruptHeader, h.LineMapOffset, h.FuncTableOffset, size)
	}
	return h, nil
}

// ---------------------------------------------------------------------------
// Module Reading
// ---------------------------------------------------------------------------

// Decode parses a complete module image.
func Decode(data []byte) (*Module, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}

	m := &Module{
		Header: h,
		Code:   data[HeaderSize:h.FuncTableOffset],
	}

	c := &cursor{data: data[:h.LineMapOffset], off: h.FuncTableOffset, what: "function table"}
	for i := uint64(0); i < h.FuncCount; i++ {
		fn, err := readFunction(c)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		if fn.Entry < HeaderSize || fn.Entry > h.FuncTableOffset {
			return nil, fmt.Errorf("%w: function %q entry %d outside code section", ErrCorruptData, fn.Name, fn.Entry)
		}
		m.Functions = append(m.Functions, fn)
	}

	c = &cursor{data: data, off: h.LineMapOffset, what: "line map"}
	n, err := c.u64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		off, err := c.u64()
		if err != nil {
			return nil, err
		}
		line, err := c.u32()
		if err != nil {
			return nil, err
		}
		m.Lines = append(m.Lines, LineEntry{Offset: off, Line: line})
	}

	// Modules written without a plugin table end here.
	if c.off == uint64(len(data)) {
		return m, nil
	}
	c.what = "plugin table"
	n, err = c.u64()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		mod, err := c.str()
		if err != nil {
			return nil, err
		}
		lib, err := c.str()
		if err != nil {
			return nil, err
		}
		m.Plugins = append(m.Plugins, PluginEntry{Module: mod, Library: lib})
	}
	return m, nil
}

func readFunction(c *cursor) (FunctionEntry, error) {
	var fn FunctionEntry
	var err error
	if fn.Name, err = c.str(); err != nil {
		return fn, err
	}
	if fn.Entry, err = c.u64(); err != nil {
		return fn, err
	}
	flags := make([]uint8, 3)
	for i := range flags {
		if flags[i], err = c.u8(); err != nil {
			return fn, err
		}
	}
	fn.IsVoid = flags[0] != 0
	fn.IsTyped = flags[1] != 0
	fn.ReturnType = TypeTag(flags[2])

	params, err := c.u64()
	if err != nil {
		return fn, err
	}
	for j := uint64(0); j < params; j++ {
		p, err := c.str()
		if err != nil {
			return fn, err
		}
		fn.Params = append(fn.Params, p)
	}
	return fn, nil
}

// ReadFile reads and decodes a module from disk.
func ReadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Operand is one decoded instruction operand. U holds integer, boolean,
// and target values; F holds floats; S holds strings.
type Operand struct {
	Kind OperandKind
	U    uint64
	F    float64
	S    string
}

// Instruction is one decoded instruction at an absolute offset.
type Instruction struct {
	Offset   uint64
	Op       Opcode
	Operands []Operand
	Size     uint64
}

// Next returns the offset of the following instruction.
func (in Instruction) Next() uint64 {
	return in.Offset + in.Size
}

// Target returns the jump target of a JMP or JF.
func (in Instruction) Target() (uint64, bool) {
	if !in.Op.IsJump() || len(in.Operands) == 0 {
		return 0, false
	}
	return in.Operands[0].U, true
}

// CallName returns the function name of a call instruction.
func (in Instruction) CallName() (string, bool) {
	if !in.Op.IsCall() || len(in.Operands) == 0 {
		return "", false
	}
	return in.Operands[0].S, true
}

// DecodeInstruction decodes the instruction at absolute offset off of
// code, whose first byte sits at absolute offset base.
func DecodeInstruction(code []byte, base, off uint64) (Instruction, error) {
	if off < base {
		return Instruction{}, fmt.Errorf("%w: offset %d before code base %d", ErrCorruptData, off, base)
	}
	c := &cursor{data: code, off: off - base, what: "instruction"}
	raw, err := c.u64()
	if err != nil {
		return Instruction{}, err
	}
	op := Opcode(raw)
	info, ok := GetOpcodeInfo(op)
	if !ok {
		return Instruction{}, fmt.Errorf("%w: 0x%X at offset %d", ErrUnknownOpcode, raw, off)
	}

	in := Instruction{Offset: off, Op: op}
	for _, kind := range info.Operands {
		operand := Operand{Kind: kind}
		switch kind {
		case OperandU8:
			var v uint8
			v, err = c.u8()
			operand.U = uint64(v)
		case OperandU64, OperandTarget:
			operand.U, err = c.u64()
		case OperandF64:
			operand.F, err = c.f64()
		case OperandStr:
			operand.S, err = c.str()
		}
		if err != nil {
			return Instruction{}, fmt.Errorf("%s operand at offset %d: %w", op, off, err)
		}
		in.Operands = append(in.Operands, operand)
	}
	in.Size = c.off + base - off
	return in, nil
}

// DecodeRange decodes every instruction in [start, end) of a module's code.
func (m *Module) DecodeRange(start, end uint64) ([]Instruction, error) {
	var out []Instruction
	for off := start; off < end; {
		in, err := DecodeInstruction(m.Code, HeaderSize, off)
		if err != nil {
			return nil, err
		}
		if in.Next() > end {
			return nil, fmt.Errorf("%w: instruction at %d crosses end %d", ErrCorruptData, off, end)
		}
		out = append(out, in)
		off = in.Next()
	}
	return out, nil
}
