package compiler

import "sort"

// Builtins are the functions the VM provides. They resolve without
// declaration and are called by their plain name.
var Builtins = []string{"print", "len", "range", "str", "int", "float", "bool", "input"}

var builtinSet = func() map[string]bool {
	m := make(map[string]bool, len(Builtins))
	for _, b := range Builtins {
		m[b] = true
	}
	return m
}()

// IsBuiltin reports whether name is a builtin function.
func IsBuiltin(name string) bool {
	return builtinSet[name]
}

// MangleFunction returns the call-site name of a user function.
func MangleFunction(name string) string {
	return name + "_"
}

// MangleQualified returns the call-site name of module.function.
func MangleQualified(module, function string) string {
	return module + "_" + function + "_"
}

// SymbolTable tracks the names visible while compiling one unit.
//
// Main-level variables are globals. Main code sees a global only once
// its `let` has been compiled; function bodies, which are emitted before
// main, see every global up front. Declarations never go out of scope
// within a unit: a name declared inside an if or while body stays
// declared for the rest of its function (or of main).
type SymbolTable struct {
	globals   map[string]bool
	functions map[string]*FuncDecl
	order     []string

	declared   map[string]bool
	inFunction bool
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		globals:   make(map[string]bool),
		functions: make(map[string]*FuncDecl),
		declared:  make(map[string]bool),
	}
}

// AddGlobal records a main-level variable.
func (s *SymbolTable) AddGlobal(name string) {
	s.globals[name] = true
}

// AddFunction records a user function. It reports false if the name is
// already taken.
func (s *SymbolTable) AddFunction(fn *FuncDecl) bool {
	if _, ok := s.functions[fn.Name]; ok {
		return false
	}
	s.functions[fn.Name] = fn
	s.order = append(s.order, fn.Name)
	return true
}

// Function looks up a user function.
func (s *SymbolTable) Function(name string) (*FuncDecl, bool) {
	fn, ok := s.functions[name]
	return fn, ok
}

// Functions returns user function names in declaration order.
func (s *SymbolTable) Functions() []string {
	return s.order
}

// EnterFunction starts a function scope holding params.
func (s *SymbolTable) EnterFunction(params []Param) {
	s.inFunction = true
	s.declared = make(map[string]bool, len(params))
	for _, p := range params {
		s.declared[p.Name] = true
	}
}

// EnterMain starts the main scope.
func (s *SymbolTable) EnterMain() {
	s.inFunction = false
	s.declared = make(map[string]bool)
}

// Declare makes name visible in the current scope.
func (s *SymbolTable) Declare(name string) {
	s.declared[name] = true
}

// Resolves reports whether name is a visible variable.
func (s *SymbolTable) Resolves(name string) bool {
	if s.declared[name] {
		return true
	}
	return s.inFunction && s.globals[name]
}

// Visible returns every variable name visible in the current scope,
// sorted.
func (s *SymbolTable) Visible() []string {
	var names []string
	for n := range s.declared {
		names = append(names, n)
	}
	if s.inFunction {
		for n := range s.globals {
			if !s.declared[n] {
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

// CallName resolves an unqualified call. A user function shadows a
// builtin of the same name.
func (s *SymbolTable) CallName(name string) (string, bool) {
	if _, ok := s.functions[name]; ok {
		return MangleFunction(name), true
	}
	if IsBuiltin(name) {
		return name, true
	}
	return "", false
}
