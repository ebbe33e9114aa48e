package bytecode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of the module: header,
// function table, plugins, and annotated code.
func (m *Module) Disassemble() string {
	var sb strings.Builder

	sb.WriteString("; AVOCADO1 module\n")
	sb.WriteString(fmt.Sprintf("; entry: %d  functions: %d @ %d  line map @ %d\n",
		m.Header.EntryOffset, m.Header.FuncCount, m.Header.FuncTableOffset, m.Header.LineMapOffset))

	if len(m.Plugins) > 0 {
		sb.WriteString("; Plugins:\n")
		for _, p := range m.Plugins {
			sb.WriteString(fmt.Sprintf(";   %s -> %s\n", p.Module, p.Library))
		}
	}

	entries := map[uint64][]string{}
	if len(m.Functions) > 0 {
		sb.WriteString("; Functions:\n")
		for _, fn := range m.Functions {
			entries[fn.Entry] = append(entries[fn.Entry], fn.Name)
			sb.WriteString(fmt.Sprintf(";   %-24s @ %-6d %s\n", fn.Name, fn.Entry, signature(fn)))
		}
	}
	sb.WriteString("\n")

	lines := map[uint64]uint32{}
	for _, l := range m.Lines {
		lines[l.Offset] = l.Line
	}

	for off := uint64(HeaderSize); off < m.CodeEnd(); {
		if names, ok := entries[off]; ok {
			sort.Strings(names)
			sb.WriteString(fmt.Sprintf("%s:\n", strings.Join(names, ", ")))
		}
		in, err := DecodeInstruction(m.Code, HeaderSize, off)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%06d  ; decode error: %v\n", off, err))
			break
		}
		sb.WriteString(FormatInstruction(in))
		if line, ok := lines[off]; ok {
			sb.WriteString(fmt.Sprintf("  ; line %d", line))
		}
		sb.WriteString("\n")
		off = in.Next()
	}

	return sb.String()
}

// FormatInstruction renders one instruction as "offset  NAME operands".
func FormatInstruction(in Instruction) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%06d  %-14s", in.Offset, in.Op))
	for i, operand := range in.Operands {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		sb.WriteString(formatOperand(in.Op, i, operand))
	}
	return strings.TrimRight(sb.String(), " ")
}

func formatOperand(op Opcode, index int, o Operand) string {
	switch o.Kind {
	case OperandU8:
		if op == OpPushB {
			return strconv.FormatBool(o.U != 0)
		}
		return strconv.FormatUint(o.U, 10)
	case OperandU64:
		if op == OpDecl && index == 1 {
			if o.U == TypeInferred {
				return "inferred"
			}
			return TypeTag(o.U).String()
		}
		return strconv.FormatUint(o.U, 10)
	case OperandF64:
		return strconv.FormatFloat(o.F, 'g', -1, 64)
	case OperandStr:
		display := o.S
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		return strconv.Quote(display)
	case OperandTarget:
		return fmt.Sprintf("-> %d", o.U)
	}
	return "?"
}

func signature(fn FunctionEntry) string {
	ret := "any"
	switch {
	case fn.IsVoid:
		ret = "void"
	case fn.IsTyped:
		ret = fn.ReturnType.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(fn.Params, ", "), ret)
}
