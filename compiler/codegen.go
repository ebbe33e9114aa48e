package compiler

import (
	"math"

	"github.com/chazu/minis/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to AVOCADO1 bytecode
// ---------------------------------------------------------------------------

// Compiler is the code generation context for one compilation unit. It
// owns the output buffer, the symbol table, the function table being
// built, and the line map. Nothing outlives a single unit.
type Compiler struct {
	file  string
	diags *Diagnostics
	syms  *SymbolTable

	emitter *bytecode.Emitter
	buf     *bytecode.Buffer

	funcs []bytecode.FunctionEntry
	lines []bytecode.LineEntry

	// allowSelfRef makes a `let` name visible to its own initializer.
	allowSelfRef bool
}

// NewCompiler creates a code generator for an analyzed unit.
func NewCompiler(diags *Diagnostics, an *Analysis, allowSelfRef bool) *Compiler {
	e := bytecode.NewEmitter()
	return &Compiler{
		file:         diags.File,
		diags:        diags,
		syms:         an.Symbols,
		emitter:      e,
		buf:          e.Code(),
		allowSelfRef: allowSelfRef,
	}
}

// Buffer returns the code buffer, for the linker to append to.
func (c *Compiler) Buffer() *bytecode.Buffer {
	return c.buf
}

// Lines returns the line map built so far.
func (c *Compiler) Lines() []bytecode.LineEntry {
	return c.lines
}

// Functions returns the user function entries emitted so far.
func (c *Compiler) Functions() []bytecode.FunctionEntry {
	return c.funcs
}

// fail aborts code generation with a fatal error at pos.
func (c *Compiler) fail(pos Position, format string, args ...interface{}) {
	panic(bailout{err: c.diags.Fatal(pos, format, args...)})
}

// guard runs fn and converts a bailout into an error.
func (c *Compiler) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			err = b.err
		}
	}()
	fn()
	return nil
}

// markLine records that the code at the current position comes from pos.
func (c *Compiler) markLine(pos Position) {
	off := c.buf.Pos()
	line := uint32(pos.Line)
	if n := len(c.lines); n > 0 {
		last := &c.lines[n-1]
		if last.Offset == off {
			last.Line = line
			return
		}
		if last.Line == line {
			return
		}
	}
	c.lines = append(c.lines, bytecode.LineEntry{Offset: off, Line: line})
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// CompileFunctions emits every user function, each behind a jump that
// skips its body when execution falls through from above.
func (c *Compiler) CompileFunctions(fns []*FuncDecl) error {
	return c.guard(func() {
		for _, fn := range fns {
			c.compileFunction(fn)
		}
	})
}

func (c *Compiler) compileFunction(fn *FuncDecl) {
	c.markLine(fn.SpanVal.Start)
	skip := c.buf.NewLabel()
	c.buf.EmitJump(bytecode.OpJmp, skip)
	entry := c.buf.Pos()

	c.syms.EnterFunction(fn.Params)
	c.compileBlock(fn.Body)
	if !endsInReturn(fn.Body) {
		c.markLine(fn.Body.SpanVal.End)
		c.buf.EmitOp(bytecode.OpRetVoid)
	}
	c.buf.Bind(skip)

	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Name
	}
	c.funcs = append(c.funcs, bytecode.FunctionEntry{
		Name:       MangleFunction(fn.Name),
		Entry:      entry,
		IsVoid:     fn.IsVoid,
		IsTyped:    fn.IsTyped,
		ReturnType: fn.ReturnType,
		Params:     params,
	})
}

func endsInReturn(b *Block) bool {
	if len(b.Stmts) == 0 {
		return false
	}
	_, ok := b.Stmts[len(b.Stmts)-1].(*ReturnStmt)
	return ok
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

// CompileMain emits the main sequence, terminated by HALT, and returns
// its entry offset.
func (c *Compiler) CompileMain(stmts []Stmt) (entry uint64, err error) {
	err = c.guard(func() {
		c.syms.EnterMain()
		entry = c.buf.Pos()
		c.emitter.MarkEntry()
		for _, stmt := range stmts {
			c.compileStmt(stmt)
		}
		c.buf.EmitOp(bytecode.OpHalt)
	})
	return entry, err
}

// Finish lays out the tables and returns the module image.
func (c *Compiler) Finish(funcs []bytecode.FunctionEntry, plugins []bytecode.PluginEntry) ([]byte, error) {
	return c.emitter.Finish(funcs, c.lines, plugins)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileBlock(b *Block) {
	for _, stmt := range b.Stmts {
		c.compileStmt(stmt)
	}
}

func (c *Compiler) compileStmt(stmt Stmt) {
	pos := stmt.Span().Start
	c.markLine(pos)

	switch st := stmt.(type) {
	case *LetStmt:
		if c.allowSelfRef {
			c.syms.Declare(st.Name)
		}
		if st.Value != nil {
			c.compileExpr(st.Value)
		} else {
			c.pushNumber(0)
		}
		c.syms.Declare(st.Name)
		c.buf.EmitOp(bytecode.OpDecl)
		c.buf.WriteStr(st.Name)
		c.buf.WriteU64(bytecode.TypeInferred)

	case *AssignStmt:
		c.requireVar(pos, st.Name, "assignment to")
		c.compileExpr(st.Value)
		c.buf.EmitOp(bytecode.OpSet)
		c.buf.WriteStr(st.Name)

	case *IndexAssignStmt:
		c.requireVar(pos, st.Name, "assignment to")
		c.compileIndex(st.Index)
		c.compileExpr(st.Value)
		c.buf.EmitOp(bytecode.OpSetIndex)
		c.buf.WriteStr(st.Name)

	case *ReturnStmt:
		if st.Value != nil {
			c.compileExpr(st.Value)
			c.buf.EmitOp(bytecode.OpRet)
		} else {
			c.buf.EmitOp(bytecode.OpRetVoid)
		}

	case *IfStmt:
		c.compileIf(st)

	case *WhileStmt:
		c.compileWhile(st)

	case *CallStmt:
		c.compileCall(st.Call)
		c.buf.EmitOp(bytecode.OpPop)

	case *DelStmt:
		c.requireVar(pos, st.Name, "del of")
		c.buf.EmitOp(bytecode.OpUnset)
		c.buf.WriteStr(st.Name)

	case *ExitStmt:
		c.buf.EmitOp(bytecode.OpHalt)

	default:
		c.fail(pos, "unrecognized statement")
	}
}

// compileIf lowers an if/elif/else chain. Each failed condition jumps to
// the next clause; each taken body jumps to the common end.
func (c *Compiler) compileIf(st *IfStmt) {
	end := c.buf.NewLabel()
	for i, cl := range st.Clauses {
		if i > 0 {
			c.markLine(cl.SpanVal.Start)
		}
		next := c.buf.NewLabel()
		c.compileExpr(cl.Cond)
		c.buf.EmitJump(bytecode.OpJf, next)
		c.compileBlock(cl.Body)

		last := i == len(st.Clauses)-1 && st.Else == nil
		if !last {
			c.buf.EmitJump(bytecode.OpJmp, end)
		}
		c.buf.Bind(next)
	}
	if st.Else != nil {
		c.compileBlock(st.Else)
	}
	c.buf.Bind(end)
}

func (c *Compiler) compileWhile(st *WhileStmt) {
	top := c.buf.NewLabel()
	exit := c.buf.NewLabel()
	c.buf.Bind(top)
	c.compileExpr(st.Cond)
	c.buf.EmitJump(bytecode.OpJf, exit)
	c.compileBlock(st.Body)
	c.buf.EmitJump(bytecode.OpJmp, top)
	c.buf.Bind(exit)
}

func (c *Compiler) requireVar(pos Position, name, what string) {
	if !c.syms.Resolves(name) {
		c.fail(pos, "%s undeclared variable %s%s", what, name, didYouMean(name, c.syms.Visible()))
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// compileExpr emits code that pushes exactly one value.
func (c *Compiler) compileExpr(e Expr) {
	switch ex := e.(type) {
	case *NumberLiteral:
		c.pushNumber(ex.Value)

	case *StringLiteral:
		c.buf.EmitOp(bytecode.OpPushS)
		c.buf.WriteStr(ex.Value)

	case *BoolLiteral:
		c.pushBool(ex.Value)

	case *ListLiteral:
		for _, el := range ex.Elements {
			c.compileExpr(el)
		}
		c.buf.EmitOp(bytecode.OpMakeList)
		c.buf.WriteU64(uint64(len(ex.Elements)))

	case *Identifier:
		if !c.syms.Resolves(ex.Name) {
			c.fail(ex.SpanVal.Start, "use of undeclared variable %s%s", ex.Name, didYouMean(ex.Name, c.syms.Visible()))
		}
		c.buf.EmitOp(bytecode.OpGet)
		c.buf.WriteStr(ex.Name)

	case *IndexExpr:
		c.compileExpr(ex.Base)
		c.compileIndex(ex.Index)
		c.buf.EmitOp(bytecode.OpIndex)

	case *CallExpr:
		c.compileCall(ex)

	case *UnaryExpr:
		switch ex.Op {
		case TokenMinus:
			c.pushNumber(0)
			c.compileExpr(ex.Operand)
			c.buf.EmitOp(bytecode.OpSub)
		case TokenBang:
			c.compileExpr(ex.Operand)
			c.pushBool(false)
			c.buf.EmitOp(bytecode.OpEq)
		default:
			c.fail(ex.SpanVal.Start, "unsupported unary operator %s", ex.Op)
		}

	case *BinaryExpr:
		c.compileBinary(ex)

	default:
		c.fail(e.Span().Start, "unsupported expression")
	}
}

var binaryOps = map[TokenType]bytecode.Opcode{
	TokenPlus:   bytecode.OpAdd,
	TokenMinus:  bytecode.OpSub,
	TokenStar:   bytecode.OpMul,
	TokenSlash:  bytecode.OpDiv,
	TokenEq:     bytecode.OpEq,
	TokenNotEq:  bytecode.OpNe,
	TokenLess:   bytecode.OpLt,
	TokenLessEq: bytecode.OpLe,
	TokenAnd:    bytecode.OpAnd,
	TokenOr:     bytecode.OpOr,
}

// compileBinary emits both operands, then the operator. There are no
// GT and GE opcodes: a > b is !(a <= b) and a >= b is !(a < b).
func (c *Compiler) compileBinary(ex *BinaryExpr) {
	c.compileExpr(ex.Left)
	c.compileExpr(ex.Right)
	switch ex.Op {
	case TokenGreater:
		c.buf.EmitOp(bytecode.OpLe)
		c.negate()
	case TokenGreatEq:
		c.buf.EmitOp(bytecode.OpLt)
		c.negate()
	default:
		op, ok := binaryOps[ex.Op]
		if !ok {
			c.fail(ex.SpanVal.Start, "unsupported binary operator %s", ex.Op)
		}
		c.buf.EmitOp(op)
	}
}

func (c *Compiler) negate() {
	c.pushBool(false)
	c.buf.EmitOp(bytecode.OpEq)
}

// compileIndex pushes the zero-based form of a one-based source index.
// Integral literals are adjusted at compile time.
func (c *Compiler) compileIndex(idx Expr) {
	if lit, ok := idx.(*NumberLiteral); ok && lit.Value == math.Trunc(lit.Value) {
		c.pushNumber(lit.Value - 1)
		return
	}
	c.compileExpr(idx)
	c.pushNumber(1)
	c.buf.EmitOp(bytecode.OpSub)
}

func (c *Compiler) compileCall(call *CallExpr) {
	var name string
	if call.Qualified() {
		name = MangleQualified(call.Module, call.Name)
	} else {
		var ok bool
		if name, ok = c.syms.CallName(call.Name); !ok {
			c.fail(call.SpanVal.Start, "call to undefined function %s", call.Name)
		}
	}
	for _, arg := range call.Args {
		c.compileExpr(arg)
	}
	c.buf.EmitOp(bytecode.OpCall)
	c.buf.WriteStr(name)
	c.buf.WriteU64(uint64(len(call.Args)))
}

func (c *Compiler) pushNumber(v float64) {
	c.buf.EmitOp(bytecode.OpPushF)
	c.buf.WriteF64(v)
}

func (c *Compiler) pushBool(v bool) {
	c.buf.EmitOp(bytecode.OpPushB)
	c.buf.WriteBool(v)
}
