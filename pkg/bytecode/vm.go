package bytecode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Value is a runtime value of the reference VM: float64, string, bool,
// *List, or nil for null.
type Value interface{}

// List is a mutable list value. It is shared by reference.
type List struct {
	Items []Value
}

// NativeFunc implements a function resolved by name outside the module,
// such as a plugin function.
type NativeFunc func(args []Value) (Value, error)

// ErrStepLimit is returned when a program runs longer than VM.MaxSteps.
var ErrStepLimit = errors.New("step limit exceeded")

// RuntimeError is a failure while executing a module.
type RuntimeError struct {
	Offset  uint64
	Line    uint32 // 0 when the line map has no entry
	Message string
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("runtime error at offset %d (line %d): %s", e.Offset, e.Line, e.Message)
	}
	return fmt.Sprintf("runtime error at offset %d: %s", e.Offset, e.Message)
}

// env is one variable scope. Function scopes chain to the globals.
type env struct {
	vars   map[string]Value
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]Value), parent: parent}
}

func (e *env) lookup(name string) (*env, bool) {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			return s, true
		}
	}
	return nil, false
}

// frame is an active call.
type frame struct {
	fn    FunctionEntry
	retIP uint64
	env   *env
}

// VM is a reference interpreter for AVOCADO1 modules. It implements the
// opcode contract closely enough to check compiler output end to end.
type VM struct {
	module    *Module
	ip        uint64
	stack     []Value
	frames    []*frame
	globals   *env
	functions map[string]FunctionEntry
	natives   map[string]NativeFunc

	out io.Writer
	in  *bufio.Reader

	// MaxSteps bounds execution; zero means unlimited.
	MaxSteps int
	// Trace writes every executed instruction to the output.
	Trace bool
}

// NewVM creates a VM for m that prints to out.
func NewVM(m *Module, out io.Writer) *VM {
	vm := &VM{
		module:    m,
		globals:   newEnv(nil),
		functions: make(map[string]FunctionEntry, len(m.Functions)),
		natives:   make(map[string]NativeFunc),
		out:       out,
		in:        bufio.NewReader(strings.NewReader("")),
	}
	for _, fn := range m.Functions {
		vm.functions[fn.Name] = fn
	}
	return vm
}

// SetInput sets the reader used by the input() builtin.
func (vm *VM) SetInput(r io.Reader) {
	vm.in = bufio.NewReader(r)
}

// RegisterNative makes fn callable by name.
func (vm *VM) RegisterNative(name string, fn NativeFunc) {
	vm.natives[name] = fn
}

// StackDepth returns the number of values left on the operand stack.
func (vm *VM) StackDepth() int {
	return len(vm.stack)
}

// Global returns the value of a global variable.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals.vars[name]
	return v, ok
}

func (vm *VM) scope() *env {
	if n := len(vm.frames); n > 0 {
		return vm.frames[n-1].env
	}
	return vm.globals
}

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() (Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return nil, errors.New("stack underflow")
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v, nil
}

func (vm *VM) popN(n uint64) ([]Value, error) {
	if n > uint64(len(vm.stack)) {
		return nil, fmt.Errorf("stack underflow: need %d values, have %d", n, len(vm.stack))
	}
	start := uint64(len(vm.stack)) - n
	vals := make([]Value, n)
	copy(vals, vm.stack[start:])
	vm.stack = vm.stack[:start]
	return vals, nil
}

func (vm *VM) fail(off uint64, format string, args ...interface{}) error {
	line, _ := vm.module.LineFor(off)
	return &RuntimeError{Offset: off, Line: line, Message: fmt.Sprintf(format, args...)}
}

// Run executes the module from its main entry until HALT or a return
// from the top level.
func (vm *VM) Run() error {
	vm.ip = vm.module.Header.EntryOffset
	steps := 0
	for {
		if vm.ip >= vm.module.CodeEnd() {
			return vm.fail(vm.ip, "execution ran past the end of code")
		}
		in, err := DecodeInstruction(vm.module.Code, HeaderSize, vm.ip)
		if err != nil {
			return vm.fail(vm.ip, "%v", err)
		}
		if vm.Trace {
			fmt.Fprintf(vm.out, "%s  sp=%d\n", FormatInstruction(in), len(vm.stack))
		}
		steps++
		if vm.MaxSteps > 0 && steps > vm.MaxSteps {
			return fmt.Errorf("%w (%d)", ErrStepLimit, vm.MaxSteps)
		}

		vm.ip = in.Next()
		done, err := vm.step(in)
		if err != nil {
			var rerr *RuntimeError
			if errors.As(err, &rerr) {
				return err
			}
			return vm.fail(in.Offset, "%s: %v", in.Op, err)
		}
		if done {
			return nil
		}
	}
}

// step executes one instruction. It reports true when the program ends.
func (vm *VM) step(in Instruction) (bool, error) {
	ops := in.Operands
	switch in.Op {
	case OpNop, OpYield:

	case OpPushI, OpPushF:
		vm.push(ops[0].F)
	case OpPushB:
		vm.push(ops[0].U != 0)
	case OpPushS:
		vm.push(ops[0].S)
	case OpPushC:
		vm.push(string(rune(ops[0].U)))

	case OpMakeList:
		items, err := vm.popN(ops[0].U)
		if err != nil {
			return false, err
		}
		vm.push(&List{Items: items})

	case OpPop:
		if _, err := vm.pop(); err != nil {
			return false, err
		}

	// ============ Variables ============
	case OpGet:
		s, ok := vm.scope().lookup(ops[0].S)
		if !ok {
			return false, fmt.Errorf("undefined variable %q", ops[0].S)
		}
		vm.push(s.vars[ops[0].S])

	case OpSet:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		if s, ok := vm.scope().lookup(ops[0].S); ok {
			s.vars[ops[0].S] = v
		} else {
			vm.scope().vars[ops[0].S] = v
		}

	case OpDecl:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		if ops[1].U != TypeInferred {
			if v, err = coerce(TypeTag(ops[1].U), v); err != nil {
				return false, err
			}
		}
		vm.scope().vars[ops[0].S] = v

	case OpUnset:
		if s, ok := vm.scope().lookup(ops[0].S); ok {
			delete(s.vars, ops[0].S)
		}

	// ============ Arithmetic and comparison ============
	case OpAdd, OpSub, OpMul, OpDiv, OpEq, OpNe, OpLt, OpLe, OpAnd, OpOr:
		b, err := vm.pop()
		if err != nil {
			return false, err
		}
		a, err := vm.pop()
		if err != nil {
			return false, err
		}
		r, err := binaryOp(in.Op, a, b)
		if err != nil {
			return false, err
		}
		vm.push(r)

	// ============ Control flow ============
	case OpJmp:
		vm.ip = ops[0].U

	case OpJf:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		if !Truthy(v) {
			vm.ip = ops[0].U
		}

	case OpCall, OpTail:
		args, err := vm.popN(ops[1].U)
		if err != nil {
			return false, err
		}
		if in.Op == OpTail && len(vm.frames) > 0 {
			top := vm.frames[len(vm.frames)-1]
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.ip = top.retIP
		}
		return false, vm.call(ops[0].S, args)

	case OpRet, OpRetVoid:
		var rv Value
		if in.Op == OpRet {
			v, err := vm.pop()
			if err != nil {
				return false, err
			}
			rv = v
		}
		if len(vm.frames) == 0 {
			return true, nil
		}
		top := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		if top.fn.IsTyped && in.Op == OpRet {
			v, err := coerce(top.fn.ReturnType, rv)
			if err != nil {
				return false, err
			}
			rv = v
		}
		vm.ip = top.retIP
		vm.push(rv)

	case OpHalt:
		return true, nil

	// ============ Sequences ============
	case OpIndex:
		idx, err := vm.pop()
		if err != nil {
			return false, err
		}
		base, err := vm.pop()
		if err != nil {
			return false, err
		}
		v, err := index(base, idx)
		if err != nil {
			return false, err
		}
		vm.push(v)

	case OpSetIndex:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		idx, err := vm.pop()
		if err != nil {
			return false, err
		}
		s, ok := vm.scope().lookup(ops[0].S)
		if !ok {
			return false, fmt.Errorf("undefined variable %q", ops[0].S)
		}
		list, ok := s.vars[ops[0].S].(*List)
		if !ok {
			return false, fmt.Errorf("%q is not a list", ops[0].S)
		}
		i, err := position(idx, len(list.Items))
		if err != nil {
			return false, err
		}
		list.Items[i] = v

	case OpSlice:
		vals, err := vm.popN(3)
		if err != nil {
			return false, err
		}
		v, err := slice(vals[0], vals[1], vals[2])
		if err != nil {
			return false, err
		}
		vm.push(v)

	default:
		return false, fmt.Errorf("unsupported opcode")
	}
	return false, nil
}

// call invokes a module function, a native, or a builtin.
func (vm *VM) call(name string, args []Value) error {
	if fn, ok := vm.functions[name]; ok {
		fr := &frame{fn: fn, retIP: vm.ip, env: newEnv(vm.globals)}
		for i, p := range fn.Params {
			var v Value
			if i < len(args) {
				v = args[i]
			}
			fr.env.vars[p] = v
		}
		vm.frames = append(vm.frames, fr)
		vm.ip = fn.Entry
		return nil
	}
	if native, ok := vm.natives[name]; ok {
		rv, err := native(args)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		vm.push(rv)
		return nil
	}
	if builtin, ok := builtins[name]; ok {
		rv, err := builtin(vm, args)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		vm.push(rv)
		return nil
	}
	return fmt.Errorf("unresolved function %q", name)
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

var builtins map[string]func(vm *VM, args []Value) (Value, error)

func init() {
	builtins = map[string]func(vm *VM, args []Value) (Value, error){
		"print": func(vm *VM, args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = FormatValue(a)
			}
			_, err := fmt.Fprintln(vm.out, strings.Join(parts, " "))
			return nil, err
		},
		"len": func(_ *VM, args []Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
			}
			switch v := args[0].(type) {
			case string:
				return float64(len(v)), nil
			case *List:
				return float64(len(v.Items)), nil
			}
			return nil, fmt.Errorf("len of %s", typeName(args[0]))
		},
		"str":   convert(TypeStr),
		"int":   convert(TypeInt),
		"float": convert(TypeFloat),
		"bool":  convert(TypeBool),
		"range": func(_ *VM, args []Value) (Value, error) {
			var lo, hi float64
			switch len(args) {
			case 1:
				n, ok := args[0].(float64)
				if !ok {
					return nil, fmt.Errorf("range bound must be a number")
				}
				hi = n
			case 2:
				a, okA := args[0].(float64)
				b, okB := args[1].(float64)
				if !okA || !okB {
					return nil, fmt.Errorf("range bounds must be numbers")
				}
				lo, hi = a, b
			default:
				return nil, fmt.Errorf("expected 1 or 2 arguments, got %d", len(args))
			}
			list := &List{}
			for x := lo; x < hi; x++ {
				list.Items = append(list.Items, x)
			}
			return list, nil
		},
		"input": func(vm *VM, args []Value) (Value, error) {
			if len(args) > 0 {
				fmt.Fprint(vm.out, FormatValue(args[0]))
			}
			line, err := vm.in.ReadString('\n')
			if err != nil && err != io.EOF {
				return nil, err
			}
			return strings.TrimRight(line, "\r\n"), nil
		},
	}
}

func convert(t TypeTag) func(*VM, []Value) (Value, error) {
	return func(_ *VM, args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return coerce(t, args[0])
	}
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

// Truthy reports the boolean interpretation of v.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case *List:
		return len(x.Items) > 0
	}
	return true
}

// FormatValue renders v the way print does. Integral numbers print
// without a fractional part.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case *List:
		parts := make([]string, len(x.Items))
		for i, item := range x.Items {
			if s, ok := item.(string); ok {
				parts[i] = strconv.Quote(s)
			} else {
				parts[i] = FormatValue(item)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}

func typeName(v Value) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "str"
	case *List:
		return "list"
	}
	return fmt.Sprintf("%T", v)
}

func coerce(t TypeTag, v Value) (Value, error) {
	switch t {
	case TypeInt, TypeFloat:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case bool:
			if x {
				f = 1
			}
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to %s", x, t)
			}
			f = parsed
		default:
			return nil, fmt.Errorf("cannot convert %s to %s", typeName(v), t)
		}
		if t == TypeInt {
			f = math.Trunc(f)
		}
		return f, nil
	case TypeBool:
		return Truthy(v), nil
	case TypeStr:
		return FormatValue(v), nil
	case TypeList:
		if l, ok := v.(*List); ok {
			return l, nil
		}
		return nil, fmt.Errorf("cannot convert %s to list", typeName(v))
	case TypeNull:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown type tag %d", uint8(t))
}

func binaryOp(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEq:
		return equal(a, b), nil
	case OpNe:
		return !equal(a, b), nil
	case OpAnd:
		return Truthy(a) && Truthy(b), nil
	case OpOr:
		return Truthy(a) || Truthy(b), nil
	}

	if op == OpAdd {
		if la, ok := a.(*List); ok {
			if lb, ok := b.(*List); ok {
				items := append(append([]Value{}, la.Items...), lb.Items...)
				return &List{Items: items}, nil
			}
		}
		_, sa := a.(string)
		_, sb := b.(string)
		if sa || sb {
			return FormatValue(a) + FormatValue(b), nil
		}
	}

	if op == OpLt || op == OpLe {
		if sa, ok := a.(string); ok {
			if sb, ok := b.(string); ok {
				if op == OpLt {
					return sa < sb, nil
				}
				return sa <= sb, nil
			}
		}
	}

	x, okA := a.(float64)
	y, okB := b.(float64)
	if !okA || !okB {
		return nil, fmt.Errorf("operands must be numbers, got %s and %s", typeName(a), typeName(b))
	}
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		if y == 0 {
			return nil, errors.New("division by zero")
		}
		return x / y, nil
	case OpLt:
		return x < y, nil
	case OpLe:
		return x <= y, nil
	}
	return nil, fmt.Errorf("not a binary operator")
}

func equal(a, b Value) bool {
	la, okA := a.(*List)
	lb, okB := b.(*List)
	if okA || okB {
		if !okA || !okB || len(la.Items) != len(lb.Items) {
			return false
		}
		for i := range la.Items {
			if !equal(la.Items[i], lb.Items[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// position converts a zero-based index value into a bounds-checked int.
func position(idx Value, n int) (int, error) {
	f, ok := idx.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("index must be an integer, got %s", FormatValue(idx))
	}
	if f < 0 || int(f) >= n {
		return 0, fmt.Errorf("index %d out of range [0, %d)", int(f), n)
	}
	return int(f), nil
}

func index(base, idx Value) (Value, error) {
	switch b := base.(type) {
	case *List:
		i, err := position(idx, len(b.Items))
		if err != nil {
			return nil, err
		}
		return b.Items[i], nil
	case string:
		i, err := position(idx, len(b))
		if err != nil {
			return nil, err
		}
		return b[i : i+1], nil
	}
	return nil, fmt.Errorf("cannot index %s", typeName(base))
}

func slice(base, start, end Value) (Value, error) {
	lo, okLo := start.(float64)
	hi, okHi := end.(float64)
	if !okLo || !okHi {
		return nil, errors.New("slice bounds must be numbers")
	}
	var n int
	switch b := base.(type) {
	case *List:
		n = len(b.Items)
	case string:
		n = len(b)
	default:
		return nil, fmt.Errorf("cannot slice %s", typeName(base))
	}
	if lo < 0 || hi > float64(n) || lo > hi {
		return nil, fmt.Errorf("slice [%v:%v] out of range for length %d", lo, hi, n)
	}
	switch b := base.(type) {
	case *List:
		return &List{Items: append([]Value{}, b.Items[int(lo):int(hi)]...)}, nil
	default:
		return base.(string)[int(lo):int(hi)], nil
	}
}
