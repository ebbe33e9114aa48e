package bytecode

import (
	"fmt"
)

// Magic identifies an AVOCADO1 module.
const Magic = "AVOCADO1"

// HeaderSize is the size of the fixed header. Code starts right after it,
// and every offset stored in a module is absolute from byte zero.
const HeaderSize = 40

// MainFunction is the function-table name of the implicit entry sequence.
const MainFunction = "__main__"

// Header is the fixed module header.
type Header struct {
	FuncTableOffset uint64
	FuncCount       uint64
	EntryOffset     uint64
	LineMapOffset   uint64
}

// FunctionEntry is one function-table record.
type FunctionEntry struct {
	Name       string
	Entry      uint64
	IsVoid     bool
	IsTyped    bool
	ReturnType TypeTag
	Params     []string
}

// LineEntry maps a code offset to the source line that produced it.
type LineEntry struct {
	Offset uint64
	Line   uint32
}

// PluginEntry names a native module and the library that implements it.
type PluginEntry struct {
	Module  string
	Library string
}

// Module is a decoded AVOCADO1 image. Code holds the bytes between the
// header and the function table; its first byte is at offset HeaderSize.
type Module struct {
	Header    Header
	Code      []byte
	Functions []FunctionEntry
	Lines     []LineEntry
	Plugins   []PluginEntry
}

// CodeEnd returns the absolute offset just past the code section.
func (m *Module) CodeEnd() uint64 {
	return HeaderSize + uint64(len(m.Code))
}

// Function looks up a function-table entry by name.
func (m *Module) Function(name string) (FunctionEntry, bool) {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return FunctionEntry{}, false
}

// LineFor returns the source line of the closest line-map entry at or
// before offset.
func (m *Module) LineFor(offset uint64) (uint32, bool) {
	var line uint32
	found := false
	for _, e := range m.Lines {
		if e.Offset > offset {
			break
		}
		line, found = e.Line, true
	}
	return line, found
}

// ---------------------------------------------------------------------------
// Emitter: assembles the final module layout
// ---------------------------------------------------------------------------

// Emitter writes a module. The header is reserved first and filled in by
// fixups when Finish resolves the buffer; the caller writes code into
// Code() in between.
type Emitter struct {
	buf        *Buffer
	tableLabel Label
	countLabel Label
	entryLabel Label
	linesLabel Label
}

// NewEmitter creates an emitter with a reserved header.
func NewEmitter() *Emitter {
	buf := NewBuffer()
	e := &Emitter{
		buf:        buf,
		tableLabel: buf.NewLabel(),
		countLabel: buf.NewLabel(),
		entryLabel: buf.NewLabel(),
		linesLabel: buf.NewLabel(),
	}
	buf.WriteBytes([]byte(Magic))
	buf.Reserve(FixupTableOffset, e.tableLabel)
	buf.Reserve(FixupCount, e.countLabel)
	buf.Reserve(FixupTableOffset, e.entryLabel)
	buf.Reserve(FixupTableOffset, e.linesLabel)
	return e
}

// Code returns the buffer that code is emitted into.
func (e *Emitter) Code() *Buffer {
	return e.buf
}

// MarkEntry records the current position as the main entry offset.
func (e *Emitter) MarkEntry() {
	e.buf.Bind(e.entryLabel)
}

// SetEntry records an explicit main entry offset.
func (e *Emitter) SetEntry(offset uint64) {
	e.buf.Define(e.entryLabel, offset)
}

// Finish appends the function table, line map, and plugin table, resolves
// every fixup, and returns the finished image.
func (e *Emitter) Finish(funcs []FunctionEntry, lines []LineEntry, plugins []PluginEntry) ([]byte, error) {
	b := e.buf
	codeEnd := b.Pos()

	for i := 1; i < len(lines); i++ {
		if lines[i].Offset < lines[i-1].Offset {
			return nil, fmt.Errorf("%w: line map offset %d after %d", ErrCorruptData, lines[i].Offset, lines[i-1].Offset)
		}
	}
	for _, fn := range funcs {
		if fn.Entry < HeaderSize || fn.Entry > codeEnd {
			return nil, fmt.Errorf("%w: function %q entry %d outside code section", ErrCorruptData, fn.Name, fn.Entry)
		}
	}

	b.Bind(e.tableLabel)
	b.Define(e.countLabel, uint64(len(funcs)))
	for _, fn := range funcs {
		b.WriteStr(fn.Name)
		b.WriteU64(fn.Entry)
		b.WriteBool(fn.IsVoid)
		b.WriteBool(fn.IsTyped)
		b.WriteU8(uint8(fn.ReturnType))
		b.WriteU64(uint64(len(fn.Params)))
		for _, p := range fn.Params {
			b.WriteStr(p)
		}
	}

	b.Bind(e.linesLabel)
	b.WriteU64(uint64(len(lines)))
	for _, l := range lines {
		b.WriteU64(l.Offset)
		b.WriteU32(l.Line)
	}

	b.WriteU64(uint64(len(plugins)))
	for _, p := range plugins {
		b.WriteStr(p.Module)
		b.WriteStr(p.Library)
	}

	data, err := b.Finalize()
	if err != nil {
		return nil, err
	}

	// Every header offset must land inside the image.
	if _, err := ReadHeader(data); err != nil {
		return nil, fmt.Errorf("emitted header failed validation: %w", err)
	}
	return data, nil
}

// Encode re-assembles a decoded module.
func (m *Module) Encode() ([]byte, error) {
	e := NewEmitter()
	e.Code().WriteBytes(m.Code)
	e.SetEntry(m.Header.EntryOffset)
	return e.Finish(m.Functions, m.Lines, m.Plugins)
}
