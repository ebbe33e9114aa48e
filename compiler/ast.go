package compiler

import "github.com/chazu/minis/pkg/bytecode"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Minis
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLiteral is a numeric literal. All numbers are 64-bit floats.
type NumberLiteral struct {
	SpanVal Span
	Value   float64
	Text    string
}

func (n *NumberLiteral) Span() Span { return n.SpanVal }
func (n *NumberLiteral) node()      {}
func (n *NumberLiteral) expr()      {}

// StringLiteral represents a quoted string.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// ListLiteral represents [e1, e2, ...].
type ListLiteral struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListLiteral) Span() Span { return n.SpanVal }
func (n *ListLiteral) node()      {}
func (n *ListLiteral) expr()      {}

// Identifier is a variable reference.
type Identifier struct {
	SpanVal Span
	Name    string
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// IndexExpr represents base[index] with one-based source indices.
type IndexExpr struct {
	SpanVal Span
	Base    Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// CallExpr is name(args) or module.name(args).
type CallExpr struct {
	SpanVal Span
	Module  string // empty for unqualified calls
	Name    string
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// Qualified reports whether the call names a function in another module.
func (n *CallExpr) Qualified() bool { return n.Module != "" }

// BinaryExpr is a binary operator application.
type BinaryExpr struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// UnaryExpr is -x or !x.
type UnaryExpr struct {
	SpanVal Span
	Op      TokenType
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// LetStmt declares a variable. Value is nil for a bare `let x;`.
type LetStmt struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *LetStmt) Span() Span { return n.SpanVal }
func (n *LetStmt) node()      {}
func (n *LetStmt) stmt()      {}

// AssignStmt rebinds an existing variable.
type AssignStmt struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *AssignStmt) Span() Span { return n.SpanVal }
func (n *AssignStmt) node()      {}
func (n *AssignStmt) stmt()      {}

// IndexAssignStmt stores into an element of a list variable.
type IndexAssignStmt struct {
	SpanVal Span
	Name    string
	Index   Expr
	Value   Expr
}

func (n *IndexAssignStmt) Span() Span { return n.SpanVal }
func (n *IndexAssignStmt) node()      {}
func (n *IndexAssignStmt) stmt()      {}

// ReturnStmt returns from a function. Value is nil for a void return.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// CondClause is one `if` or `elif` arm.
type CondClause struct {
	SpanVal Span
	Cond    Expr
	Body    *Block
}

// IfStmt is an if/elif/else chain.
type IfStmt struct {
	SpanVal Span
	Clauses []*CondClause // the `if` followed by each `elif`
	Else    *Block        // nil when there is no else clause
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt is a pre-tested loop.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    *Block
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// CallStmt is a call whose result is discarded.
type CallStmt struct {
	SpanVal Span
	Call    *CallExpr
}

func (n *CallStmt) Span() Span { return n.SpanVal }
func (n *CallStmt) node()      {}
func (n *CallStmt) stmt()      {}

// DelStmt unbinds a variable at runtime.
type DelStmt struct {
	SpanVal Span
	Name    string
}

func (n *DelStmt) Span() Span { return n.SpanVal }
func (n *DelStmt) node()      {}
func (n *DelStmt) stmt()      {}

// ExitStmt halts the program.
type ExitStmt struct {
	SpanVal Span
}

func (n *ExitStmt) Span() Span { return n.SpanVal }
func (n *ExitStmt) node()      {}
func (n *ExitStmt) stmt()      {}

// Block is a brace-delimited statement sequence.
type Block struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}

// ---------------------------------------------------------------------------
// Top-level declarations
// ---------------------------------------------------------------------------

// Param is a function parameter.
type Param struct {
	SpanVal Span
	Name    string
}

// FuncDecl is a top-level `fn` definition.
type FuncDecl struct {
	SpanVal    Span
	Name       string
	Params     []Param
	IsVoid     bool // declared `-> void`
	IsTyped    bool // declared with a non-void return type
	ReturnType bytecode.TypeTag
	Body       *Block
}

func (n *FuncDecl) Span() Span { return n.SpanVal }
func (n *FuncDecl) node()      {}

// ImportDecl is `import name;`.
type ImportDecl struct {
	SpanVal Span
	Name    string
}

func (n *ImportDecl) Span() Span { return n.SpanVal }
func (n *ImportDecl) node()      {}

// Program is a parsed compilation unit: imports and functions split out
// from the implicit main statement sequence.
type Program struct {
	Imports   []*ImportDecl
	Functions []*FuncDecl
	Main      []Stmt
}
