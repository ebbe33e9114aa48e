package bytecode

import "fmt"

// Opcode represents an AVOCADO1 instruction. Opcodes are encoded as
// little-endian u64 values in the code section.
type Opcode uint64

const (
	// ========================================================================
	// Imports (0xE0-0xE2)
	// ========================================================================

	OpImportedFunc  Opcode = 0xE0 // Call into an imported module: <name:str> <argc:u64>
	OpImportedLoad  Opcode = 0xE1 // Push an imported global: <name:str>
	OpImportedStore Opcode = 0xE2 // Pop into an imported global: <name:str>

	// ========================================================================
	// Constants and stack (0xE3-0xE9, 0xED)
	// ========================================================================

	OpNop      Opcode = 0xE3 // No operation
	OpPushI    Opcode = 0xE4 // Push integer: <value:f64>
	OpPushF    Opcode = 0xE5 // Push float: <value:f64>
	OpPushB    Opcode = 0xE6 // Push bool: <value:u8>
	OpPushS    Opcode = 0xE7 // Push string: <value:str>
	OpPushC    Opcode = 0xE8 // Push character: <value:u8>
	OpMakeList Opcode = 0xE9 // Pop n values, push list: <n:u64>
	OpPop      Opcode = 0xED // Discard top of stack

	// ========================================================================
	// Variables (0xEA-0xEC, 0xFF)
	// ========================================================================

	OpGet   Opcode = 0xEA // Push variable: <name:str>
	OpSet   Opcode = 0xEB // Pop and rebind: <name:str>
	OpDecl  Opcode = 0xEC // Pop and declare: <name:str> <type:u64>
	OpUnset Opcode = 0xFF // Remove binding: <name:str>

	// ========================================================================
	// Arithmetic and comparison (0xEE-0xF7)
	// ========================================================================

	OpAdd Opcode = 0xEE // Pop two, push a + b
	OpSub Opcode = 0xEF // Pop two, push a - b where b is TOS
	OpMul Opcode = 0xF0 // Pop two, push a * b
	OpDiv Opcode = 0xF1 // Pop two, push a / b
	OpEq  Opcode = 0xF2 // Pop two, push a == b
	OpNe  Opcode = 0xF3 // Pop two, push a != b
	OpLt  Opcode = 0xF4 // Pop two, push a < b
	OpLe  Opcode = 0xF5 // Pop two, push a <= b
	OpAnd Opcode = 0xF6 // Pop two, push a && b
	OpOr  Opcode = 0xF7 // Pop two, push a || b

	// ========================================================================
	// Control flow (0xF8-0xFD, 0x103-0x104)
	// ========================================================================

	OpJmp     Opcode = 0xF8  // Unconditional jump: <target:u64>
	OpJf      Opcode = 0xF9  // Pop, jump if false: <target:u64>
	OpCall    Opcode = 0xFA  // Call: <name:str> <argc:u64>
	OpRet     Opcode = 0xFB  // Return top of stack
	OpRetVoid Opcode = 0xFC  // Return without a value
	OpHalt    Opcode = 0xFD  // Stop the program
	OpTail    Opcode = 0x103 // Tail call: <name:str> <argc:u64>
	OpYield   Opcode = 0x104 // Pause for input

	// ========================================================================
	// Sequences (0x100-0x102)
	// ========================================================================

	OpSlice    Opcode = 0x100 // Pop end, start, base; push slice
	OpIndex    Opcode = 0x101 // Pop index and base; push element (zero-based)
	OpSetIndex Opcode = 0x102 // Pop value and index; store into list: <name:str>
)

// TypeInferred is the DECL type operand meaning "take the value's type".
const TypeInferred uint64 = 0xEC

// TypeTag is the value type recorded for typed function returns and
// explicit declarations.
type TypeTag uint8

const (
	TypeInt TypeTag = iota
	TypeFloat
	TypeBool
	TypeStr
	TypeList
	TypeNull
)

var typeNames = [...]string{"int", "float", "bool", "str", "list", "null"}

func (t TypeTag) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// OperandKind describes the encoding of one operand.
type OperandKind int

const (
	OperandU8     OperandKind = iota // 1 byte
	OperandU64                       // 8 bytes little-endian
	OperandF64                       // IEEE-754 double, 8 bytes little-endian
	OperandStr                       // u64 length then UTF-8 bytes
	OperandTarget                    // u64 absolute code offset
)

// OpcodeInfo provides metadata about each opcode for decoding and
// disassembly.
type OpcodeInfo struct {
	Name      string        // Human-readable name
	StackPop  int           // Values popped (-1 = depends on operand)
	StackPush int           // Values pushed
	Operands  []OperandKind // Operand shapes, in order
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Imports
	OpImportedFunc:  {"IMPORTED_FUNC", -1, 1, []OperandKind{OperandStr, OperandU64}},
	OpImportedLoad:  {"IMPORTED_LOAD", 0, 1, []OperandKind{OperandStr}},
	OpImportedStore: {"IMPORTED_STORE", 1, 0, []OperandKind{OperandStr}},

	// Constants and stack
	OpNop:      {"NOP", 0, 0, nil},
	OpPushI:    {"PUSH_I", 0, 1, []OperandKind{OperandF64}},
	OpPushF:    {"PUSH_F", 0, 1, []OperandKind{OperandF64}},
	OpPushB:    {"PUSH_B", 0, 1, []OperandKind{OperandU8}},
	OpPushS:    {"PUSH_S", 0, 1, []OperandKind{OperandStr}},
	OpPushC:    {"PUSH_C", 0, 1, []OperandKind{OperandU8}},
	OpMakeList: {"MAKE_LIST", -1, 1, []OperandKind{OperandU64}},
	OpPop:      {"POP", 1, 0, nil},

	// Variables
	OpGet:   {"GET", 0, 1, []OperandKind{OperandStr}},
	OpSet:   {"SET", 1, 0, []OperandKind{OperandStr}},
	OpDecl:  {"DECL", 1, 0, []OperandKind{OperandStr, OperandU64}},
	OpUnset: {"UNSET", 0, 0, []OperandKind{OperandStr}},

	// Arithmetic and comparison
	OpAdd: {"ADD", 2, 1, nil},
	OpSub: {"SUB", 2, 1, nil},
	OpMul: {"MUL", 2, 1, nil},
	OpDiv: {"DIV", 2, 1, nil},
	OpEq:  {"EQ", 2, 1, nil},
	OpNe:  {"NE", 2, 1, nil},
	OpLt:  {"LT", 2, 1, nil},
	OpLe:  {"LE", 2, 1, nil},
	OpAnd: {"AND", 2, 1, nil},
	OpOr:  {"OR", 2, 1, nil},

	// Control flow
	OpJmp:     {"JMP", 0, 0, []OperandKind{OperandTarget}},
	OpJf:      {"JF", 1, 0, []OperandKind{OperandTarget}},
	OpCall:    {"CALL", -1, 1, []OperandKind{OperandStr, OperandU64}},
	OpRet:     {"RET", 1, 0, nil},
	OpRetVoid: {"RET_VOID", 0, 0, nil},
	OpHalt:    {"HALT", 0, 0, nil},
	OpTail:    {"TAIL", -1, 1, []OperandKind{OperandStr, OperandU64}},
	OpYield:   {"YIELD", 0, 0, nil},

	// Sequences
	OpSlice:    {"SLICE", 3, 1, nil},
	OpIndex:    {"INDEX", 2, 1, nil},
	OpSetIndex: {"SET_INDEX", 2, 0, []OperandKind{OperandStr}},
}

// GetOpcodeInfo returns metadata for an opcode and whether it is known.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	if !ok {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%X)", uint64(op))}, false
	}
	return info, true
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	info, _ := GetOpcodeInfo(op)
	return info.Name
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump returns true if this opcode carries an absolute code target.
func (op Opcode) IsJump() bool {
	return op == OpJmp || op == OpJf
}

// IsCall returns true if this opcode names a function to invoke.
func (op Opcode) IsCall() bool {
	return op == OpCall || op == OpTail || op == OpImportedFunc
}

// IsReturn returns true if this opcode leaves the current function.
func (op Opcode) IsReturn() bool {
	return op == OpRet || op == OpRetVoid
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
