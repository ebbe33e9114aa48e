package compiler

import (
	"sort"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: Pre-codegen checks and reference scan
// ---------------------------------------------------------------------------

// Analysis is what code generation needs to know about a program before
// it emits anything.
type Analysis struct {
	Symbols *SymbolTable

	// References maps each imported module to the sorted names of the
	// functions called through it. Every import appears, possibly with
	// no references.
	References map[string][]string

	// Imports lists imported module names in source order, without
	// duplicates.
	Imports []string

	importPos map[string]Position
}

// ImportPos returns where module was first imported.
func (a *Analysis) ImportPos(module string) Position {
	return a.importPos[module]
}

// SemanticAnalyzer collects program-wide facts (hoisted functions, main
// globals, module-qualified call sites) and rejects programs whose calls
// cannot resolve. Undeclared variables are caught during code generation,
// where declaration order is known.
type SemanticAnalyzer struct {
	diags *Diagnostics
	an    *Analysis
	refs  map[string]map[string]bool
}

// NewSemanticAnalyzer creates an analyzer reporting into diags.
func NewSemanticAnalyzer(diags *Diagnostics) *SemanticAnalyzer {
	return &SemanticAnalyzer{diags: diags}
}

// Analyze runs every check. It returns the first fatal error.
func (s *SemanticAnalyzer) Analyze(prog *Program) (an *Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			an, err = nil, b.err
		}
	}()

	s.an = &Analysis{
		Symbols:    NewSymbolTable(),
		References: make(map[string][]string),
		importPos:  make(map[string]Position),
	}
	s.refs = make(map[string]map[string]bool)

	for _, imp := range prog.Imports {
		if _, dup := s.refs[imp.Name]; dup {
			s.diags.Warnf(imp.SpanVal.Start, "module %s imported more than once", imp.Name)
			continue
		}
		s.refs[imp.Name] = make(map[string]bool)
		s.an.Imports = append(s.an.Imports, imp.Name)
		s.an.importPos[imp.Name] = imp.SpanVal.Start
	}

	for _, fn := range prog.Functions {
		if !s.an.Symbols.AddFunction(fn) {
			s.fail(fn.SpanVal.Start, "function %s is already defined", fn.Name)
		}
		if IsBuiltin(fn.Name) {
			s.diags.Warnf(fn.SpanVal.Start, "function %s shadows the builtin of the same name", fn.Name)
		}
	}

	for _, stmt := range prog.Main {
		inspectStmt(stmt, s.collectGlobal)
	}

	for _, fn := range prog.Functions {
		for _, stmt := range fn.Body.Stmts {
			inspectStmt(stmt, s.checkCall)
		}
	}
	for _, stmt := range prog.Main {
		inspectStmt(stmt, s.checkCall)
	}

	for _, name := range s.an.Imports {
		var fns []string
		for fn := range s.refs[name] {
			fns = append(fns, fn)
		}
		sort.Strings(fns)
		s.an.References[name] = fns
		if len(fns) == 0 {
			s.diags.Warnf(s.an.importPos[name], "module %s is imported but never used", name)
		}
	}
	return s.an, nil
}

func (s *SemanticAnalyzer) fail(pos Position, format string, args ...interface{}) {
	panic(bailout{err: s.diags.Fatal(pos, format, args...)})
}

// collectGlobal records main-level lets, at any block depth.
func (s *SemanticAnalyzer) collectGlobal(n Node) {
	if let, ok := n.(*LetStmt); ok {
		s.an.Symbols.AddGlobal(let.Name)
	}
}

func (s *SemanticAnalyzer) checkCall(n Node) {
	call, ok := n.(*CallExpr)
	if !ok {
		return
	}
	pos := call.SpanVal.Start
	if call.Qualified() {
		refs, ok := s.refs[call.Module]
		if !ok {
			s.fail(pos, "call to %s.%s: module %s is not imported%s",
				call.Module, call.Name, call.Module, didYouMean(call.Module, s.an.Imports))
		}
		refs[call.Name] = true
		return
	}
	if _, ok := s.an.Symbols.CallName(call.Name); !ok {
		candidates := append(append([]string(nil), Builtins...), s.an.Symbols.Functions()...)
		s.fail(pos, "call to undefined function %s%s", call.Name, didYouMean(call.Name, candidates))
	}
}

// ---------------------------------------------------------------------------
// Tree walking
// ---------------------------------------------------------------------------

// inspectStmt calls visit for stmt and every statement and expression
// nested in it, parents first.
func inspectStmt(stmt Stmt, visit func(Node)) {
	visit(stmt)
	switch st := stmt.(type) {
	case *LetStmt:
		if st.Value != nil {
			inspectExpr(st.Value, visit)
		}
	case *AssignStmt:
		inspectExpr(st.Value, visit)
	case *IndexAssignStmt:
		inspectExpr(st.Index, visit)
		inspectExpr(st.Value, visit)
	case *ReturnStmt:
		if st.Value != nil {
			inspectExpr(st.Value, visit)
		}
	case *IfStmt:
		for _, cl := range st.Clauses {
			inspectExpr(cl.Cond, visit)
			inspectBlock(cl.Body, visit)
		}
		if st.Else != nil {
			inspectBlock(st.Else, visit)
		}
	case *WhileStmt:
		inspectExpr(st.Cond, visit)
		inspectBlock(st.Body, visit)
	case *CallStmt:
		inspectExpr(st.Call, visit)
	}
}

func inspectBlock(b *Block, visit func(Node)) {
	for _, stmt := range b.Stmts {
		inspectStmt(stmt, visit)
	}
}

func inspectExpr(e Expr, visit func(Node)) {
	visit(e)
	switch ex := e.(type) {
	case *ListLiteral:
		for _, el := range ex.Elements {
			inspectExpr(el, visit)
		}
	case *IndexExpr:
		inspectExpr(ex.Base, visit)
		inspectExpr(ex.Index, visit)
	case *CallExpr:
		for _, arg := range ex.Args {
			inspectExpr(arg, visit)
		}
	case *BinaryExpr:
		inspectExpr(ex.Left, visit)
		inspectExpr(ex.Right, visit)
	case *UnaryExpr:
		inspectExpr(ex.Operand, visit)
	}
}
