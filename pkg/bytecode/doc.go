// Package bytecode defines the AVOCADO1 module format produced by the
// Minis compiler and consumed by the Minis VM.
//
// A module is a single little-endian byte image:
//
//	header        40 bytes: "AVOCADO1", u64 function-table offset,
//	              u64 function count, u64 main entry offset,
//	              u64 line-map offset
//	code          u64 opcodes, each followed by its operands
//	function table  per function: str name, u64 entry, u8 is-void,
//	              u8 is-typed, u8 return type, u64 param count, str params
//	line map      u64 count, then (u64 offset, u32 line) pairs
//	plugin table  u64 count, then (str module, str library) pairs
//
// Strings are a u64 byte length followed by UTF-8 bytes. Every offset,
// including jump targets and function entries, is absolute from the first
// byte of the image.
//
// # Components
//
//   - Opcodes: the instruction set and the operand shape of each opcode.
//
//   - Buffer: an append-only encoder. Forward references (jump targets,
//     header pointers) are reserved as typed Fixups against Labels and are
//     written exactly once by Finalize.
//
//   - Emitter: lays out header, code, and tables and back-patches the
//     header through the Buffer's fixups.
//
//   - Decode / ReadHeader / DecodeInstruction: bounds-checked readers used
//     by the linker, the disassembler, and the VM.
//
//   - VM: a small reference interpreter used to check compiled output.
package bytecode
